package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"example.com/paramgate/internal/common"
	"example.com/paramgate/internal/diag"
	"example.com/paramgate/internal/params"
	"example.com/paramgate/internal/rules"
)

var batchExtensions = map[string]bool{
	".param":  true,
	".parm":   true,
	".params": true,
	".txt":    true,
	".csv":    true,
	".bin":    true,
	".img":    true,
}

// batchResult is one line of batch_summary.json.
type batchResult struct {
	Input    string `json:"input"`
	Output   string `json:"output,omitempty"`
	Pass     bool   `json:"pass"`
	Errors   int    `json:"errors"`
	Warnings int    `json:"warnings"`
	Params   int    `json:"parameters"`
	Failure  string `json:"failure,omitempty"`
}

func batchCmd(ctx context.Context, w io.Writer, args []string) error {
	fset := flag.NewFlagSet("batch", flag.ContinueOnError)
	pf := addPipelineFlags(fset)
	inDir := fset.String("in", ".", "input directory")
	outDir := fset.String("out-dir", "out", "results directory")
	concurrency := fset.Int("concurrency", 0, "parallel files (default from config or CPU count)")
	if err := fset.Parse(args); err != nil {
		return err
	}
	p, err := openPipeline(pf)
	if err != nil {
		return err
	}
	inputs, err := collectInputs(*inDir)
	if err != nil {
		return err
	}
	if len(inputs) == 0 {
		return fmt.Errorf("no parameter files under %s", *inDir)
	}
	limit := *concurrency
	if limit <= 0 {
		limit = p.cfg.Concurrency
	}

	results := make([]batchResult, len(inputs))
	names := make(map[string]int)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, in := range inputs {
		name := outputName(in, names)
		g.Go(func() error {
			res, err := p.validateInto(gctx, in, filepath.Join(*outDir, name))
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				res.Failure = err.Error()
				common.Logf("batch: %s: %v", in, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	failed := 0
	for _, r := range results {
		status := "PASS"
		switch {
		case r.Failure != "":
			status = "FAILED: " + r.Failure
			failed++
		case !r.Pass:
			status = "FAIL"
		}
		fmt.Fprintf(w, "%-40s %s (errors=%d warnings=%d)\n", r.Input, status, r.Errors, r.Warnings)
	}
	if err := writeJSONFile(filepath.Join(*outDir, "batch_summary.json"), results); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d file(s) could not be read", failed, len(results))
	}
	return nil
}

// validateInto runs validate for one input and writes diagnostics.jsonl and
// acceptance.json under dir.
func (p *pipeline) validateInto(ctx context.Context, in, dir string) (batchResult, error) {
	res := batchResult{Input: in, Output: dir}
	s, _, diags, err := p.load(ctx, in, nil)
	if err != nil {
		return res, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return res, err
	}
	if err := rules.WriteDiagnosticsNDJSON(filepath.Join(dir, "diagnostics.jsonl"), diags); err != nil {
		return res, err
	}
	var rep rules.AcceptanceReport
	_ = s.View(func(set *params.Set, diags diag.List) error {
		rep = rules.MakeAcceptance(set, diags)
		return nil
	})
	if err := rules.WriteAcceptanceJSON(filepath.Join(dir, "acceptance.json"), rep); err != nil {
		return res, err
	}
	res.Pass = rep.Summary.Pass
	res.Errors = rep.Summary.Errors
	res.Warnings = rep.Summary.Warnings
	res.Params = rep.Summary.Parameters
	return res, nil
}

func collectInputs(root string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if batchExtensions[strings.ToLower(filepath.Ext(path))] {
			out = append(out, path)
		}
		return nil
	})
	sort.Strings(out)
	return out, err
}

// outputName derives a per-input directory name from the file's base name,
// adding a numeric suffix when two inputs share one.
func outputName(path string, seen map[string]int) string {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	n := seen[base]
	seen[base] = n + 1
	if n == 0 {
		return base
	}
	return fmt.Sprintf("%s-%d", base, n+1)
}
