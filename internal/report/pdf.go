package report

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"

	"example.com/paramgate/internal/diag"
	"example.com/paramgate/internal/params"
)

const qrImageName = "set-digest"

// SavePDF renders rep into a PDF document: a summary with a QR code of the
// set digest, a status table, the parameter table and the findings.
func SavePDF(rep ParameterReport, out string) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Parameter Report", false)
	pdf.SetAuthor("paramctl", false)
	pdf.SetCreator("paramctl", false)
	pdf.SetMargins(15, 20, 15)
	pdf.SetAutoPageBreak(true, 20)
	pdf.AddPage()

	addPDFTitle(pdf, "Parameter Report")
	if err := addDigestQR(pdf, rep.SetDigest); err != nil {
		return err
	}
	addSummarySection(pdf, rep)
	addStatusSection(pdf, rep.Acceptance.Statuses)
	addParameterSection(pdf, rep.Parameters)
	addFindingsSection(pdf, rep.Acceptance.Findings)

	if pdf.Err() {
		return pdf.Error()
	}
	return pdf.OutputFileAndClose(out)
}

func addPDFTitle(pdf *gofpdf.Fpdf, title string) {
	pdf.SetFont("Helvetica", "B", 18)
	pdf.Cell(0, 10, title)
	pdf.Ln(12)
}

// addDigestQR places the QR image in the top right corner of the first page.
func addDigestQR(pdf *gofpdf.Fpdf, digest string) error {
	if digest == "" {
		return nil
	}
	png, err := DigestToQR(digest, 256)
	if err != nil {
		return err
	}
	opts := gofpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader(qrImageName, opts, bytes.NewReader(png))
	pageW, _ := pdf.GetPageSize()
	_, _, right, _ := pdf.GetMargins()
	size := 30.0
	pdf.ImageOptions(qrImageName, pageW-right-size, 15, size, size, false, opts, 0, "")
	return nil
}

func addSummarySection(pdf *gofpdf.Fpdf, rep ParameterReport) {
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, "Summary")
	pdf.Ln(8)

	sum := rep.Acceptance.Summary
	pdf.SetFont("Helvetica", "", 10)
	items := []struct {
		label string
		value string
	}{
		{label: "Source", value: emptyFallback(rep.Source, "-")},
		{label: "Format", value: emptyFallback(rep.Mode, "-")},
		{label: "Schema", value: emptyFallback(rep.Schema, "-")},
		{label: "Generated", value: rep.Generated.Format(time.RFC3339)},
		{label: "Parameters", value: strconv.Itoa(sum.Parameters)},
		{label: "Errors", value: strconv.Itoa(sum.Errors)},
		{label: "Warnings", value: strconv.Itoa(sum.Warnings)},
		{label: "Overall", value: passLabel(sum.Pass)},
	}
	for _, item := range items {
		pdf.CellFormat(35, 6, item.label, "", 0, "L", false, 0, "")
		pdf.CellFormat(0, 6, item.value, "", 1, "L", false, 0, "")
	}
	pdf.SetFont("Courier", "", 7)
	pdf.MultiCell(0, 4, "Set digest "+emptyFallback(rep.SetDigest, "-"), "", "L", false)
	if rep.SourceDigest != "" {
		pdf.MultiCell(0, 4, "Source digest "+rep.SourceDigest, "", "L", false)
	}
	pdf.Ln(4)
}

func addStatusSection(pdf *gofpdf.Fpdf, statuses map[string]int) {
	if len(statuses) == 0 {
		return
	}
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, "Status")
	pdf.Ln(9)
	names := make([]string, 0, len(statuses))
	for name := range statuses {
		names = append(names, name)
	}
	sort.Strings(names)
	pdf.SetFont("Helvetica", "", 10)
	for _, name := range names {
		pdf.CellFormat(50, 6, name, "1", 0, "L", false, 0, "")
		pdf.CellFormat(20, 6, strconv.Itoa(statuses[name]), "1", 1, "R", false, 0, "")
	}
	pdf.Ln(4)
}

func addParameterSection(pdf *gofpdf.Fpdf, rows []ParameterRow) {
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, "Parameters")
	pdf.Ln(9)

	headers := []string{"", "Name", "Value", "Bounds", "Group", "Status"}
	widths := []float64{4, 40, 42, 30, 34, 30}

	pdf.SetFillColor(240, 240, 240)
	pdf.SetFont("Helvetica", "B", 9)
	for i, h := range headers {
		pdf.CellFormat(widths[i], 7, h, "1", 0, "L", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 8)
	for _, row := range rows {
		value := row.Value
		if row.Unit != "" {
			value += " " + row.Unit
		}
		if row.Dirty {
			value += " *"
		}
		values := []string{
			"",
			row.Name,
			value,
			emptyFallback(row.Bounds, "-"),
			row.Group,
			row.Status,
		}
		renderTableRow(pdf, widths, values, 4.5, categoryColor(row.Category))
	}
	pdf.Ln(4)
}

func addFindingsSection(pdf *gofpdf.Fpdf, findings diag.List) {
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, "Findings")
	pdf.Ln(9)

	if len(findings) == 0 {
		pdf.SetFont("Helvetica", "", 11)
		pdf.MultiCell(0, 6, "No findings recorded.", "", "L", false)
		return
	}

	for i, d := range findings {
		pdf.SetFont("Helvetica", "B", 10)
		header := fmt.Sprintf("%d. %s (%s)", i+1, d.Code, severityLabel(d.Severity))
		if d.Param != "" {
			header += " " + d.Param
		}
		pdf.MultiCell(0, 5, header, "", "L", false)

		if msg := strings.TrimSpace(d.Message); msg != "" {
			pdf.SetFont("Helvetica", "", 10)
			pdf.MultiCell(0, 5, msg, "", "L", false)
		}
		if d.Offset >= 0 {
			pdf.SetFont("Helvetica", "", 9)
			pdf.MultiCell(0, 4, fmt.Sprintf("Offset 0x%X", d.Offset), "", "L", false)
		}
		pdf.Ln(2)
	}
}

// renderTableRow draws one row of wrapped cells. The first cell is a colour
// swatch filled with swatch.
func renderTableRow(pdf *gofpdf.Fpdf, widths []float64, values []string, lineHeight float64, swatch params.RGB) {
	xStart := pdf.GetX()
	yStart := pdf.GetY()
	maxLines := 1
	splitCols := make([][]string, len(values))
	for i, val := range values {
		text := strings.TrimSpace(val)
		lines := pdf.SplitText(text, widths[i]-2)
		if len(lines) == 0 {
			lines = []string{""}
		}
		splitCols[i] = lines
		if len(lines) > maxLines {
			maxLines = len(lines)
		}
	}
	rowHeight := float64(maxLines) * lineHeight
	_, pageH := pdf.GetPageSize()
	_, _, _, bottom := pdf.GetMargins()
	if yStart+rowHeight > pageH-bottom {
		pdf.AddPage()
		xStart, yStart = pdf.GetX(), pdf.GetY()
	}
	x := xStart
	for i, lines := range splitCols {
		pdf.SetXY(x, yStart)
		if i == 0 {
			pdf.SetFillColor(int(swatch.R), int(swatch.G), int(swatch.B))
			pdf.Rect(x, yStart, widths[i], rowHeight, "FD")
		} else {
			pdf.MultiCell(widths[i], lineHeight, strings.Join(lines, "\n"), "1", "L", false)
		}
		x += widths[i]
	}
	pdf.SetXY(xStart, yStart+rowHeight)
}

func categoryColor(key string) params.RGB {
	c, err := params.ParseCategory(key)
	if err != nil {
		return params.CategoryOther.Color()
	}
	return c.Color()
}

func passLabel(pass bool) string {
	if pass {
		return "PASS"
	}
	return "FAIL"
}

func severityLabel(sev diag.Severity) string {
	if s := strings.TrimSpace(string(sev)); s != "" {
		return s
	}
	return "UNKNOWN"
}

func emptyFallback(val, fallback string) string {
	if strings.TrimSpace(val) == "" {
		return fallback
	}
	return val
}
