// Package session holds the current parameter set of a host. Loads build a
// new set outside the lock and replace the current one only on success;
// edits and saves are serialized behind a write lock.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"example.com/paramgate/internal/common"
	"example.com/paramgate/internal/diag"
	"example.com/paramgate/internal/extract"
	"example.com/paramgate/internal/params"
	"example.com/paramgate/internal/rules"
	"example.com/paramgate/internal/schema"
	"example.com/paramgate/internal/serialize"
)

var ErrNoSet = errors.New("session: no parameter set loaded")

// Source describes where the current set was read from.
type Source struct {
	Name        string
	Digest      string
	Size        int64
	Mode        extract.Mode
	PayloadMode extract.Mode
	StartMarker []byte
	EndMarker   []byte
	LoadedAt    time.Time
}

type Session struct {
	mu      sync.RWMutex
	engine  *rules.Engine
	schema  *schema.Schema
	set     *params.Set
	diags   diag.List
	source  Source
	edits   *common.EditLog
	metrics *common.Metrics
}

// New returns an empty session reconciling with engine. A nil engine uses
// the default rule pack.
func New(engine *rules.Engine) *Session {
	if engine == nil {
		engine = rules.NewDefaultEngine(rules.DefaultRulePack())
	}
	return &Session{engine: engine}
}

// SetEditLog records every accepted edit to l.
func (s *Session) SetEditLog(l *common.EditLog) {
	s.mu.Lock()
	s.edits = l
	s.mu.Unlock()
}

func (s *Session) SetMetrics(m *common.Metrics) {
	s.mu.Lock()
	s.metrics = m
	s.mu.Unlock()
}

// Load extracts src, reconciles it against sc and makes the result current.
// On any error the previous set stays current and is returned untouched.
func (s *Session) Load(ctx context.Context, name string, src []byte, sc *schema.Schema, opts extract.Options) (diag.List, error) {
	if sc == nil {
		return nil, errors.New("session: nil schema")
	}
	s.mu.RLock()
	if opts.Metrics == nil {
		opts.Metrics = s.metrics
	}
	engine := s.engine
	s.mu.RUnlock()

	res, err := extract.Extract(ctx, src, opts)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", name, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	set, recDiags := engine.Reconcile(res.Records, sc)
	var all diag.List
	all.Merge(res.Diagnostics)
	all.Merge(recDiags)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.schema = sc
	s.set = set
	s.diags = all
	s.source = Source{
		Name:        name,
		Digest:      common.Sha256Hex(src),
		Size:        int64(len(src)),
		Mode:        res.Mode,
		PayloadMode: res.PayloadMode,
		StartMarker: opts.StartMarker,
		EndMarker:   opts.EndMarker,
		LoadedAt:    time.Now().UTC(),
	}
	return all, nil
}

// Loaded reports whether a set is current.
func (s *Session) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.set != nil
}

// View runs fn with the current set under the read lock. fn must not modify
// the set or keep references past its return.
func (s *Session) View(fn func(set *params.Set, diags diag.List) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.set == nil {
		return ErrNoSet
	}
	return fn(s.set, s.diags)
}

// Update runs fn with the current set under the write lock.
func (s *Session) Update(fn func(set *params.Set) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.set == nil {
		return ErrNoSet
	}
	return fn(s.set)
}

func (s *Session) Source() Source {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.source
}

func (s *Session) Schema() *schema.Schema {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.schema
}

// SetValue edits one parameter and appends the change to the edit log.
func (s *Session) SetValue(name string, v float64) error {
	return s.edit(name, common.EditActionSet, func(set *params.Set) error {
		return set.SetValue(name, v)
	})
}

// ResetToDefault restores the schema default of one parameter.
func (s *Session) ResetToDefault(name string) error {
	return s.edit(name, common.EditActionReset, func(set *params.Set) error {
		return set.ResetToDefault(name)
	})
}

func (s *Session) edit(name, action string, apply func(*params.Set) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.set == nil {
		return ErrNoSet
	}
	e, ok := s.set.Lookup(name)
	if !ok {
		return fmt.Errorf("session: %s %s: %w", action, name, params.ErrUnknownParameter)
	}
	before := e.Value
	if err := apply(s.set); err != nil {
		return err
	}
	if s.edits == nil || e.Value == before {
		return nil
	}
	err := s.edits.Append(common.EditEntry{
		Param:  name,
		Action: action,
		Before: before,
		After:  e.Value,
		Source: s.source.Name,
	})
	if err != nil {
		return fmt.Errorf("session: audit %s: %w", name, err)
	}
	return nil
}

// Undo reverts edits newest first. Entries naming parameters that are not
// in the set are skipped.
func (s *Session) Undo(entries []common.EditEntry) (reverted, skipped int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.set == nil {
		return 0, 0, ErrNoSet
	}
	for i := len(entries) - 1; i >= 0; i-- {
		ent := entries[i]
		if _, ok := s.set.Lookup(ent.Param); !ok {
			skipped++
			continue
		}
		if err := s.set.Restore(ent.Param, ent.Before); err != nil {
			return reverted, skipped, fmt.Errorf("session: undo %s: %w", ent.Param, err)
		}
		reverted++
	}
	return reverted, skipped, nil
}

// Format returns the output format matching the loaded source.
func (s *Session) Format() serialize.Format {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f := serialize.Format{Mode: s.source.Mode}
	if s.source.Mode == extract.ModeEmbedded {
		f.PayloadMode = s.source.PayloadMode
		f.StartMarker = s.source.StartMarker
		f.EndMarker = s.source.EndMarker
	}
	return f
}

// OutputFormat resolves a format name for this session. An empty name keeps
// the source format; embedded output reuses the source markers.
func (s *Session) OutputFormat(name string) (serialize.Format, error) {
	if strings.TrimSpace(name) == "" {
		return s.Format(), nil
	}
	f, err := serialize.ParseFormat(name)
	if err != nil {
		return f, err
	}
	if f.Mode == extract.ModeEmbedded {
		src := s.Source()
		if len(src.StartMarker) == 0 {
			return f, errors.New("session: embedded output needs the source start marker")
		}
		f.StartMarker, f.EndMarker = src.StartMarker, src.EndMarker
	}
	return f, nil
}

// Save serializes the current set. Dirty flags are left alone; hosts call
// MarkSaved once the bytes are stored.
func (s *Session) Save(f serialize.Format) ([]byte, diag.List, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.set == nil {
		return nil, nil, ErrNoSet
	}
	out, diags, err := serialize.Serialize(s.set, f)
	if err != nil {
		return nil, diags, err
	}
	return out, diags, nil
}

// MarkSaved clears the dirty flags after a successful write.
func (s *Session) MarkSaved() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.set == nil {
		return ErrNoSet
	}
	s.set.MarkClean()
	return nil
}
