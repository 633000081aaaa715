package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"example.com/paramgate/internal/common"
	"example.com/paramgate/internal/diag"
	"example.com/paramgate/internal/params"
	"example.com/paramgate/internal/report"
	"example.com/paramgate/internal/rules"
	"example.com/paramgate/internal/schema"
	"example.com/paramgate/internal/serialize"
)

func validateCmd(ctx context.Context, w io.Writer, args []string) error {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	pf := addPipelineFlags(fs)
	in := fs.String("in", "", "parameter source")
	outDiag := fs.String("out", "diagnostics.jsonl", "diagnostics output")
	outAcc := fs.String("acceptance", "acceptance.json", "acceptance json")
	metricsFlag := fs.Bool("metrics", false, "print extraction throughput metrics")
	progressFlag := fs.Bool("progress", false, "display progress updates")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" {
		return errors.New("required: --in")
	}
	p, err := openPipeline(pf)
	if err != nil {
		return err
	}

	var metrics *common.Metrics
	if *metricsFlag || *progressFlag {
		metrics = common.NewMetrics()
		metrics.Start()
	}
	var stopProgress func()
	if metrics != nil && *progressFlag {
		stopProgress = common.StartProgressPrinter(os.Stderr, metrics, 500*time.Millisecond)
	}
	s, _, diags, err := p.load(ctx, *in, metrics)
	if stopProgress != nil {
		stopProgress()
	}
	if metrics != nil {
		metrics.Stop()
	}
	if err != nil {
		return err
	}

	if err := rules.WriteDiagnosticsNDJSON(*outDiag, diags); err != nil {
		return fmt.Errorf("write diags: %w", err)
	}
	var rep rules.AcceptanceReport
	err = s.View(func(set *params.Set, diags diag.List) error {
		rep = rules.MakeAcceptance(set, diags)
		return nil
	})
	if err != nil {
		return err
	}
	if err := rules.WriteAcceptanceJSON(*outAcc, rep); err != nil {
		return fmt.Errorf("write acceptance: %w", err)
	}
	fmt.Fprint(w, summaryLine(rep.Summary.Pass, rep.Summary.Errors, rep.Summary.Warnings, rep.Summary.Total))
	if metrics != nil && *metricsFlag {
		snap := metrics.Snapshot()
		fmt.Fprintf(w, "Metrics: duration=%s records=%d diagnostics=%d processed=%s throughput=%.2f MB/s\n",
			snap.Duration.Round(time.Millisecond),
			snap.Records,
			snap.Diagnostics,
			common.FormatBytes(snap.Bytes),
			snap.ThroughputBytesPerSecond()/1_000_000,
		)
	}
	return nil
}

// queryFlags bind the filter options shared by show and export.
type queryFlags struct {
	search   *string
	category *string
	status   *string
	group    *string
}

func addQueryFlags(fs *flag.FlagSet) *queryFlags {
	return &queryFlags{
		search:   fs.String("search", "", "case-insensitive name or value substring"),
		category: fs.String("category", "", "comma-separated categories"),
		status:   fs.String("status", "", "comma-separated statuses"),
		group:    fs.String("group", "", "group path, e.g. ATC/RAT"),
	}
}

func (qf *queryFlags) query() (params.Query, error) {
	q := params.Query{Search: *qf.search, Group: *qf.group}
	for _, name := range splitList(*qf.category) {
		c, err := params.ParseCategory(name)
		if err != nil {
			return q, err
		}
		q.Categories = append(q.Categories, c)
	}
	for _, name := range splitList(*qf.status) {
		st, err := params.ParseStatus(name)
		if err != nil {
			return q, err
		}
		q.Statuses = append(q.Statuses, st)
	}
	return q, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func showCmd(ctx context.Context, w io.Writer, args []string) error {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	pf := addPipelineFlags(fs)
	qf := addQueryFlags(fs)
	in := fs.String("in", "", "parameter source")
	sorted := fs.Bool("sorted", false, "order by name")
	showDiags := fs.Bool("diags", false, "print diagnostics after the table")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" {
		return errors.New("required: --in")
	}
	q, err := qf.query()
	if err != nil {
		return err
	}
	p, err := openPipeline(pf)
	if err != nil {
		return err
	}
	s, _, _, err := p.load(ctx, *in, nil)
	if err != nil {
		return err
	}
	return s.View(func(set *params.Set, diags diag.List) error {
		entries := set.Filter(q)
		if *sorted {
			entries = sortEntries(entries)
		}
		if err := renderEntries(w, entries); err != nil {
			return err
		}
		counts := set.Counts()
		fmt.Fprintf(w, "%d of %d parameters; valid=%d out-of-range=%d type-mismatch=%d unknown=%d\n",
			len(entries), set.Len(),
			counts[params.StatusValid], counts[params.StatusOutOfRange],
			counts[params.StatusTypeMismatch], counts[params.StatusUnknown])
		if *showDiags {
			renderDiagnostics(w, diags)
		}
		return nil
	})
}

func sortEntries(entries []*params.Entry) []*params.Entry {
	out := append([]*params.Entry(nil), entries...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func parseValue(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if i, err := strconv.ParseInt(s, 0, 64); err == nil {
		return float64(i), nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("value %q is not a number", s)
	}
	return v, nil
}

func setCmd(ctx context.Context, w io.Writer, args []string) error {
	fs := flag.NewFlagSet("set", flag.ContinueOnError)
	pf := addPipelineFlags(fs)
	in := fs.String("in", "", "parameter source")
	out := fs.String("out", "", "output file")
	format := fs.String("format", "", "output format (default: same as source)")
	audit := fs.String("audit", "", "audit log output (jsonl)")
	var assignments []string
	fs.Func("param", "NAME=VALUE edit (repeatable)", func(s string) error {
		assignments = append(assignments, s)
		return nil
	})
	name := fs.String("name", "", "parameter name (with --value)")
	value := fs.String("value", "", "new value (with --name)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name != "" {
		assignments = append(assignments, *name+"="+*value)
	}
	if *in == "" || *out == "" || len(assignments) == 0 {
		return errors.New("required: --in, --out and at least one --param NAME=VALUE")
	}
	p, err := openPipeline(pf)
	if err != nil {
		return err
	}
	s, src, _, err := p.load(ctx, *in, nil)
	if err != nil {
		return err
	}
	auditPath := *audit
	if auditPath == "" {
		auditPath = *out + ".audit.jsonl"
	}
	s.SetEditLog(common.NewEditLog(auditPath))
	for _, a := range assignments {
		n, raw, ok := strings.Cut(a, "=")
		if !ok {
			return fmt.Errorf("edit %q is not NAME=VALUE", a)
		}
		v, err := parseValue(raw)
		if err != nil {
			return err
		}
		if err := s.SetValue(strings.TrimSpace(n), v); err != nil {
			return err
		}
	}
	f, err := s.OutputFormat(*format)
	if err != nil {
		return err
	}
	diags, err := saveSession(s, src, f, *out)
	if err != nil {
		return err
	}
	renderDiagnostics(w, diags)
	fmt.Fprintf(w, "Applied %d edit(s); wrote %s\nAudit log: %s\n", len(assignments), *out, auditPath)
	return nil
}

func resetCmd(ctx context.Context, w io.Writer, args []string) error {
	fs := flag.NewFlagSet("reset", flag.ContinueOnError)
	pf := addPipelineFlags(fs)
	in := fs.String("in", "", "parameter source")
	out := fs.String("out", "", "output file")
	names := fs.String("param", "", "comma-separated parameter names")
	audit := fs.String("audit", "", "audit log output (jsonl)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	list := splitList(*names)
	if *in == "" || *out == "" || len(list) == 0 {
		return errors.New("required: --in, --out, --param")
	}
	p, err := openPipeline(pf)
	if err != nil {
		return err
	}
	s, src, _, err := p.load(ctx, *in, nil)
	if err != nil {
		return err
	}
	if *audit != "" {
		s.SetEditLog(common.NewEditLog(*audit))
	}
	for _, n := range list {
		if err := s.ResetToDefault(n); err != nil {
			return err
		}
	}
	diags, err := saveSession(s, src, s.Format(), *out)
	if err != nil {
		return err
	}
	renderDiagnostics(w, diags)
	fmt.Fprintf(w, "Reset %d parameter(s); wrote %s\n", len(list), *out)
	return nil
}

func exportCmd(ctx context.Context, w io.Writer, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	pf := addPipelineFlags(fs)
	qf := addQueryFlags(fs)
	in := fs.String("in", "", "parameter source")
	out := fs.String("out", "", "output file")
	format := fs.String("format", "text", "output format: text, csv, qgc, binary or embedded")
	sorted := fs.Bool("sorted", false, "order by name")
	header := fs.String("header", "", "comment header for text formats")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" || *out == "" {
		return errors.New("required: --in, --out")
	}
	q, err := qf.query()
	if err != nil {
		return err
	}
	p, err := openPipeline(pf)
	if err != nil {
		return err
	}
	s, _, _, err := p.load(ctx, *in, nil)
	if err != nil {
		return err
	}
	f, err := s.OutputFormat(*format)
	if err != nil {
		return err
	}
	f.Header = *header
	var data []byte
	var diags diag.List
	err = s.View(func(set *params.Set, _ diag.List) error {
		entries := set.Filter(q)
		if *sorted {
			entries = sortEntries(entries)
		}
		var err error
		data, diags, err = serialize.SerializeEntries(entries, f)
		return err
	})
	if err != nil {
		return err
	}
	if err := common.WriteFileAtomic(*out, data, 0o644); err != nil {
		return err
	}
	renderDiagnostics(w, diags)
	fmt.Fprintf(w, "Exported to %s\n", *out)
	return nil
}

func reportCmd(ctx context.Context, w io.Writer, args []string) error {
	fs := flag.NewFlagSet("report", flag.ContinueOnError)
	pf := addPipelineFlags(fs)
	in := fs.String("in", "", "parameter source")
	jsonPath := fs.String("json", "", "output report JSON")
	pdfPath := fs.String("pdf", "", "output report PDF")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" || (*jsonPath == "" && *pdfPath == "") {
		return errors.New("required: --in and one of --json, --pdf")
	}
	p, err := openPipeline(pf)
	if err != nil {
		return err
	}
	s, _, _, err := p.load(ctx, *in, nil)
	if err != nil {
		return err
	}
	src := s.Source()
	var rep report.ParameterReport
	err = s.View(func(set *params.Set, diags diag.List) error {
		rep = report.Build(set, diags, report.Meta{
			Source:       src.Name,
			SourceDigest: src.Digest,
			Mode:         src.Mode.String(),
			Schema:       p.schemaPath,
		})
		return nil
	})
	if err != nil {
		return err
	}
	if *jsonPath != "" {
		if err := report.SaveJSON(rep, *jsonPath); err != nil {
			return fmt.Errorf("write json: %w", err)
		}
		fmt.Fprintln(w, "Wrote JSON:", *jsonPath)
	}
	if *pdfPath != "" {
		if err := report.SavePDF(rep, *pdfPath); err != nil {
			return fmt.Errorf("write pdf: %w", err)
		}
		fmt.Fprintln(w, "Wrote PDF:", *pdfPath)
	}
	fmt.Fprintf(w, "Set digest: %s\n", rep.SetDigest)
	return nil
}

func undoCmd(ctx context.Context, w io.Writer, args []string) error {
	fs := flag.NewFlagSet("undo", flag.ContinueOnError)
	pf := addPipelineFlags(fs)
	in := fs.String("in", "", "edited parameter file")
	audit := fs.String("audit", "", "audit log (jsonl)")
	out := fs.String("out", "", "restored output file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" || *audit == "" || *out == "" {
		return errors.New("required: --in, --audit, --out")
	}
	entries, err := common.ReadEditLog(*audit)
	if err != nil {
		return fmt.Errorf("read audit: %w", err)
	}
	if len(entries) == 0 {
		return errors.New("audit log is empty")
	}
	p, err := openPipeline(pf)
	if err != nil {
		return err
	}
	s, src, _, err := p.load(ctx, *in, nil)
	if err != nil {
		return err
	}
	reverted, skipped, err := s.Undo(entries)
	if err != nil {
		return err
	}
	if _, err := saveSession(s, src, s.Format(), *out); err != nil {
		return err
	}
	editedHash := common.Sha256Hex(src)
	restoredHash, _, err := common.Sha256OfFile(*out)
	if err != nil {
		return fmt.Errorf("hash restored: %w", err)
	}
	fmt.Fprintf(w, "Reverted %d edit(s) to %s\n", reverted, *out)
	fmt.Fprintf(w, "Edited SHA256: %s\n", editedHash)
	fmt.Fprintf(w, "Restored SHA256: %s\n", restoredHash)
	if skipped > 0 {
		fmt.Fprintf(w, "Warning: %d edit(s) name parameters missing from the input and were skipped.\n", skipped)
	}
	return nil
}

func schemaCmd(_ context.Context, w io.Writer, args []string) error {
	fs := flag.NewFlagSet("schema", flag.ContinueOnError)
	pf := addPipelineFlags(fs)
	group := fs.String("group", "", "only definitions under this group path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	p, err := openPipeline(pf)
	if err != nil {
		return err
	}
	var defs []*schema.Definition
	for _, d := range p.schema.Definitions() {
		key := d.GroupKey()
		if *group == "" || key == *group || strings.HasPrefix(key, *group+"/") {
			defs = append(defs, d)
		}
	}
	if err := renderSchema(w, defs); err != nil {
		return err
	}
	cache := "miss"
	if p.cacheHit {
		cache = "hit"
	}
	fmt.Fprintf(w, "%d definitions in %d groups (cache %s)\n", len(defs), len(p.schema.Groups()), cache)
	return nil
}
