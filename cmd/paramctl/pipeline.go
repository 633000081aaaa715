package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"example.com/paramgate/internal/common"
	"example.com/paramgate/internal/diag"
	"example.com/paramgate/internal/extract"
	"example.com/paramgate/internal/rules"
	"example.com/paramgate/internal/schema"
	"example.com/paramgate/internal/serialize"
	"example.com/paramgate/internal/session"
)

// pipelineFlags are shared by every command that loads a parameter source.
type pipelineFlags struct {
	config   *string
	schema   *string
	rules    *string
	mode     *string
	start    *string
	end      *string
	cacheDir *string
}

func addPipelineFlags(fs *flag.FlagSet) *pipelineFlags {
	return &pipelineFlags{
		config:   fs.String("config", "", "configuration file (default ./"+defaultConfigName+" when present)"),
		schema:   fs.String("schema", "", "metadata schema (.yaml or .xml)"),
		rules:    fs.String("rules", "", "rule pack overrides (.yaml or .json)"),
		mode:     fs.String("mode", "", "source mode: auto, binary, text or embedded"),
		start:    fs.String("start-marker", "", "payload start marker (text or hex:...)"),
		end:      fs.String("end-marker", "", "payload end marker (text or hex:...)"),
		cacheDir: fs.String("cache-dir", "", "compiled schema cache directory"),
	}
}

type pipeline struct {
	cfg        config
	schemaPath string
	schema     *schema.Schema
	cacheHit   bool
	engine     *rules.Engine
	opts       extract.Options
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// openPipeline merges flags over the configuration file and loads the
// schema and rule pack.
func openPipeline(pf *pipelineFlags) (*pipeline, error) {
	cfgPath, explicit := defaultConfigName, false
	if *pf.config != "" {
		cfgPath, explicit = *pf.config, true
	}
	cfg, err := loadConfig(cfgPath, explicit)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	p := &pipeline{cfg: cfg}

	p.schemaPath = firstNonEmpty(*pf.schema, cfg.Schema)
	if p.schemaPath == "" {
		return nil, errors.New("required: --schema (or schema: in " + defaultConfigName + ")")
	}
	var cache *schema.Cache
	if dir := firstNonEmpty(*pf.cacheDir, cfg.CacheDir); dir != "" {
		cache, err = schema.OpenCache(dir)
		if err != nil {
			return nil, fmt.Errorf("open schema cache: %w", err)
		}
	}
	p.schema, p.cacheHit, err = schema.LoadFileCached(p.schemaPath, cache)
	if err != nil {
		return nil, err
	}

	rp := rules.DefaultRulePack()
	if path := firstNonEmpty(*pf.rules, cfg.Rules); path != "" {
		overrides, err := rules.LoadRulePack(path)
		if err != nil {
			return nil, err
		}
		rp = rp.WithOverrides(overrides)
		if err := rp.Validate(); err != nil {
			return nil, fmt.Errorf("rule pack %s: %w", path, err)
		}
	}
	p.engine = rules.NewDefaultEngine(rp)

	mode, err := extract.ParseMode(firstNonEmpty(*pf.mode, cfg.Mode))
	if err != nil {
		return nil, err
	}
	p.opts.Mode = mode
	if p.opts.StartMarker, err = extract.ParseMarker(firstNonEmpty(*pf.start, cfg.StartMarker)); err != nil {
		return nil, fmt.Errorf("start marker: %w", err)
	}
	if p.opts.EndMarker, err = extract.ParseMarker(firstNonEmpty(*pf.end, cfg.EndMarker)); err != nil {
		return nil, fmt.Errorf("end marker: %w", err)
	}
	return p, nil
}

// load reads path into a fresh session.
func (p *pipeline) load(ctx context.Context, path string, metrics *common.Metrics) (*session.Session, []byte, diag.List, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, nil, err
	}
	s := session.New(p.engine)
	if metrics != nil {
		s.SetMetrics(metrics)
		p.engine.SetMetrics(metrics)
	}
	diags, err := s.Load(ctx, path, src, p.schema, p.opts)
	if err != nil {
		return nil, nil, nil, err
	}
	common.Logf("loaded %s: mode=%s diagnostics=%d", path, s.Source().Mode, len(diags))
	return s, src, diags, nil
}

// saveSession writes the session to out. For an embedded source written
// back in embedded form, the new payload replaces the old one inside the
// original image. Entries stay dirty unless the write succeeds.
func saveSession(s *session.Session, src []byte, f serialize.Format, out string) (diag.List, error) {
	data, diags, err := s.Save(f)
	if err != nil {
		return diags, err
	}
	if f.Mode == extract.ModeEmbedded && s.Source().Mode == extract.ModeEmbedded {
		data, err = serialize.Splice(src, data, f.StartMarker, f.EndMarker)
		if err != nil {
			return diags, err
		}
	}
	if err := common.WriteFileAtomic(out, data, 0o644); err != nil {
		return diags, err
	}
	if err := s.MarkSaved(); err != nil {
		return diags, err
	}
	common.Logf("wrote %s (%s)", out, common.FormatBytes(int64(len(data))))
	return diags, nil
}
