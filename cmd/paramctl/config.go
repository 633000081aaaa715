package main

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"

	"example.com/paramgate/internal/common"
)

const defaultConfigName = "paramctl.yaml"

type config struct {
	Schema      string           `yaml:"schema"`
	Rules       string           `yaml:"rules"`
	Mode        string           `yaml:"mode"`
	StartMarker string           `yaml:"startMarker"`
	EndMarker   string           `yaml:"endMarker"`
	Concurrency int              `yaml:"concurrency"`
	CacheDir    string           `yaml:"cacheDir"`
	Logs        common.LogConfig `yaml:"logs"`
}

// loadConfig reads path. A missing file at the default location yields the
// defaults; a missing explicit path is an error.
func loadConfig(path string, explicit bool) (config, error) {
	var cfg config
	f, err := os.Open(path)
	switch {
	case err == nil:
		defer f.Close()
		dec := yaml.NewDecoder(f)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return cfg, err
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
		path = ""
	default:
		return cfg, err
	}
	baseDir := "."
	if path != "" {
		baseDir = filepath.Dir(path)
	}
	resolvePath := func(p string) string {
		p = strings.TrimSpace(p)
		if p == "" {
			return ""
		}
		if filepath.IsAbs(p) {
			return filepath.Clean(p)
		}
		candidate := filepath.Clean(filepath.Join(baseDir, p))
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		return filepath.Clean(p)
	}
	cfg.Schema = resolvePath(cfg.Schema)
	cfg.Rules = resolvePath(cfg.Rules)
	if cfg.CacheDir != "" && !filepath.IsAbs(cfg.CacheDir) {
		cfg.CacheDir = filepath.Join(baseDir, cfg.CacheDir)
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = runtime.NumCPU()
	}
	if cfg.Logs.Directory != "" && !filepath.IsAbs(cfg.Logs.Directory) {
		cfg.Logs.Directory = filepath.Join(baseDir, cfg.Logs.Directory)
	}
	return cfg, nil
}
