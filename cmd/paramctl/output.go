package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/pterm/pterm"

	"example.com/paramgate/internal/diag"
	"example.com/paramgate/internal/params"
	"example.com/paramgate/internal/schema"
)

func renderEntries(w io.Writer, entries []*params.Entry) error {
	data := [][]string{
		{"Name", "Value", "Meaning", "Status", "Group", "Category"},
	}
	for _, e := range entries {
		value := e.FormatValue()
		if e.Dirty {
			value += " *"
		}
		if e.Def != nil && e.Def.Unit != "" {
			value += " " + e.Def.Unit
		}
		c := e.Category.Color()
		data = append(data, []string{
			e.Name,
			value,
			e.Describe(),
			statusStyle(e.Status).Sprint(e.Status.String()),
			e.GroupKey(),
			pterm.NewRGB(c.R, c.G, c.B).Sprint(e.Category.DisplayName()),
		})
	}
	out, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, out)
	return err
}

func statusStyle(st params.Status) *pterm.Style {
	switch st {
	case params.StatusValid:
		return pterm.NewStyle(pterm.FgGreen)
	case params.StatusOutOfRange:
		return pterm.NewStyle(pterm.FgYellow)
	case params.StatusTypeMismatch:
		return pterm.NewStyle(pterm.FgRed)
	default:
		return pterm.NewStyle(pterm.FgGray)
	}
}

func renderDiagnostics(w io.Writer, diags diag.List) {
	for _, d := range diags {
		printer := pterm.Info
		switch d.Severity {
		case diag.ERROR:
			printer = pterm.Error
		case diag.WARN:
			printer = pterm.Warning
		}
		fmt.Fprint(w, printer.Sprintln(d.String()))
	}
}

func renderSchema(w io.Writer, defs []*schema.Definition) error {
	data := [][]string{
		{"Name", "Type", "Range", "Default", "Unit", "Group", "Labels"},
	}
	for _, d := range defs {
		def := "-"
		if d.Default != nil {
			def = params.FormatNumber(*d.Default, d.Type == schema.TypeFloat)
		}
		rng := "-"
		if d.HasMin() || d.HasMax() {
			rng = params.BoundsString(d)
		}
		labels := ""
		switch {
		case len(d.Values) > 0:
			labels = fmt.Sprintf("%d values", len(d.Values))
		case len(d.Bits) > 0:
			labels = fmt.Sprintf("%d bits", len(d.Bits))
		}
		flags := []string{string(d.Type)}
		if d.ReadOnly {
			flags = append(flags, "ro")
		}
		data = append(data, []string{
			d.Name,
			strings.Join(flags, ","),
			rng,
			def,
			d.Unit,
			d.GroupKey(),
			labels,
		})
	}
	out, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, out)
	return err
}

func summaryLine(pass bool, errors, warnings, total int) string {
	line := fmt.Sprintf("PASS=%v, errors=%d, warnings=%d, diagnostics=%d", pass, errors, warnings, total)
	if pass {
		return pterm.Success.Sprintln(line)
	}
	return pterm.Error.Sprintln(line)
}
