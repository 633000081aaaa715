package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"example.com/paramgate/internal/extract"
	"example.com/paramgate/internal/rules"
	"example.com/paramgate/internal/schema"
)

// Profile binds a vehicle schema to the rule pack and source options used
// to read parameter files for it.
type Profile struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name,omitempty" yaml:"name,omitempty"`
	Schema      string `json:"schema" yaml:"schema"`
	Rules       string `json:"rules,omitempty" yaml:"rules,omitempty"`
	Mode        string `json:"mode,omitempty" yaml:"mode,omitempty"`
	StartMarker string `json:"startMarker,omitempty" yaml:"startMarker,omitempty"`
	EndMarker   string `json:"endMarker,omitempty" yaml:"endMarker,omitempty"`
}

// Options configures server creation.
type Options struct {
	StorageDir      string
	ProfileManifest string
	Profiles        []Profile
	CacheDir        string
	SigningKeyPath  string
	SigningKeyID    string
	Concurrency     int
}

type profileEntry struct {
	id         string
	name       string
	schemaPath string
	schema     *schema.Schema
	engine     *rules.Engine
	opts       extract.Options
}

// LoadProfileManifest parses a manifest JSON document that enumerates the
// available vehicle profiles. Relative paths are resolved against the
// manifest's directory.
func LoadProfileManifest(path string) ([]Profile, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("manifest path is empty")
	}
	manifestPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("manifest path: %w", err)
	}
	f, err := os.Open(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	defer f.Close()
	var doc struct {
		Profiles []Profile `json:"profiles"`
	}
	if err := json.NewDecoder(f).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if len(doc.Profiles) == 0 {
		return nil, errors.New("manifest contains no profiles")
	}
	base := filepath.Dir(manifestPath)
	out := make([]Profile, len(doc.Profiles))
	for i, p := range doc.Profiles {
		resolved, err := resolveProfilePaths(base, p)
		if err != nil {
			return nil, err
		}
		out[i] = resolved
	}
	return out, nil
}

func resolveProfilePaths(base string, p Profile) (Profile, error) {
	p.ID = strings.TrimSpace(p.ID)
	p.Name = strings.TrimSpace(p.Name)
	p.Schema = strings.TrimSpace(p.Schema)
	p.Rules = strings.TrimSpace(p.Rules)
	if p.ID == "" {
		return Profile{}, errors.New("manifest profile entry missing id")
	}
	if p.Schema == "" {
		return Profile{}, fmt.Errorf("manifest profile %s missing schema path", p.ID)
	}
	if !filepath.IsAbs(p.Schema) {
		p.Schema = filepath.Join(base, p.Schema)
	}
	if p.Rules != "" && !filepath.IsAbs(p.Rules) {
		p.Rules = filepath.Join(base, p.Rules)
	}
	return p, nil
}

// buildProfiles loads the schema and rule pack of every configured profile.
func buildProfiles(opts Options) (map[string]*profileEntry, []string, error) {
	profiles := opts.Profiles
	if len(profiles) == 0 {
		if strings.TrimSpace(opts.ProfileManifest) == "" {
			return nil, nil, errors.New("no profiles configured")
		}
		var err error
		profiles, err = LoadProfileManifest(opts.ProfileManifest)
		if err != nil {
			return nil, nil, fmt.Errorf("load profile manifest: %w", err)
		}
	}
	var cache *schema.Cache
	if opts.CacheDir != "" {
		var err error
		if cache, err = schema.OpenCache(opts.CacheDir); err != nil {
			return nil, nil, fmt.Errorf("open schema cache: %w", err)
		}
	}
	entries := make(map[string]*profileEntry)
	for _, p := range profiles {
		id := strings.TrimSpace(p.ID)
		if id == "" {
			return nil, nil, errors.New("profile missing id")
		}
		if _, exists := entries[id]; exists {
			return nil, nil, fmt.Errorf("duplicate profile %s configured", id)
		}
		entry, err := loadProfile(id, p, cache)
		if err != nil {
			return nil, nil, fmt.Errorf("profile %s: %w", id, err)
		}
		entries[id] = entry
	}
	ids := make([]string, 0, len(entries))
	for id := range entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return entries, ids, nil
}

func loadProfile(id string, p Profile, cache *schema.Cache) (*profileEntry, error) {
	schemaPath := strings.TrimSpace(p.Schema)
	if schemaPath == "" {
		return nil, errors.New("missing schema path")
	}
	sc, _, err := schema.LoadFileCached(schemaPath, cache)
	if err != nil {
		return nil, err
	}
	rp := rules.DefaultRulePack()
	if path := strings.TrimSpace(p.Rules); path != "" {
		overrides, err := rules.LoadRulePack(path)
		if err != nil {
			return nil, err
		}
		rp = rp.WithOverrides(overrides)
		if err := rp.Validate(); err != nil {
			return nil, fmt.Errorf("rule pack %s: %w", path, err)
		}
	}
	entry := &profileEntry{
		id:         id,
		name:       p.Name,
		schemaPath: schemaPath,
		schema:     sc,
		engine:     rules.NewDefaultEngine(rp),
	}
	if entry.opts.Mode, err = extract.ParseMode(p.Mode); err != nil {
		return nil, err
	}
	if entry.opts.StartMarker, err = extract.ParseMarker(p.StartMarker); err != nil {
		return nil, fmt.Errorf("start marker: %w", err)
	}
	if entry.opts.EndMarker, err = extract.ParseMarker(p.EndMarker); err != nil {
		return nil, fmt.Errorf("end marker: %w", err)
	}
	return entry, nil
}
