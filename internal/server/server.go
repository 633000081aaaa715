// Package server exposes the parameter engine over HTTP: uploads,
// validation with streamed diagnostics, edits and exports, reports and
// signed artifact manifests.
package server

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// Server coordinates HTTP handlers and manages temporary artifacts produced by
// validation requests.
type Server struct {
	artifacts  *ArtifactStore
	workDir    string
	uploadsDir string
	profiles   map[string]*profileEntry
	profileIDs []string
	signingKey []byte
	keyID      string
	sem        *semaphore.Weighted
}

// Artifact represents a file generated or stored by the daemon.
type Artifact struct {
	ID          string
	Path        string
	Name        string
	ContentType string
	Size        int64
	Kind        string
	Type        string
	Sha256      string
}

// ArtifactRef is the public representation returned in API responses.
type ArtifactRef struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ContentType string `json:"contentType,omitempty"`
	Size        int64  `json:"size,omitempty"`
	Kind        string `json:"kind,omitempty"`
	Type        string `json:"type,omitempty"`
	Sha256      string `json:"sha256,omitempty"`
}

// ArtifactStore keeps track of generated artifacts for later download.
type ArtifactStore struct {
	mu      sync.RWMutex
	entries map[string]Artifact
}

// NewServer loads every profile and creates a private work directory under
// opts.StorageDir.
func NewServer(opts Options) (*Server, error) {
	profiles, ids, err := buildProfiles(opts)
	if err != nil {
		return nil, err
	}
	var key []byte
	if opts.SigningKeyPath != "" {
		if key, err = os.ReadFile(opts.SigningKeyPath); err != nil {
			return nil, fmt.Errorf("signing key: %w", err)
		}
	}
	storageDir := opts.StorageDir
	if storageDir == "" {
		storageDir = os.TempDir()
	}
	if err := os.MkdirAll(storageDir, 0o755); err != nil {
		return nil, err
	}
	workDir, err := os.MkdirTemp(storageDir, "paramd-")
	if err != nil {
		return nil, err
	}
	uploadsDir := filepath.Join(workDir, "uploads")
	if err := os.MkdirAll(uploadsDir, 0o755); err != nil {
		os.RemoveAll(workDir)
		return nil, err
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = runtime.NumCPU()
	}
	return &Server{
		artifacts:  &ArtifactStore{entries: make(map[string]Artifact)},
		workDir:    workDir,
		uploadsDir: uploadsDir,
		profiles:   profiles,
		profileIDs: ids,
		signingKey: key,
		keyID:      opts.SigningKeyID,
		sem:        semaphore.NewWeighted(int64(concurrency)),
	}, nil
}

// Close removes any temporary state associated with the server.
func (s *Server) Close() error {
	if s == nil || s.workDir == "" {
		return nil
	}
	return os.RemoveAll(s.workDir)
}

// profile resolves a request's profile id. An empty id selects the only
// profile when exactly one is configured.
func (s *Server) profile(id string) (*profileEntry, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		if len(s.profileIDs) == 1 {
			return s.profiles[s.profileIDs[0]], nil
		}
		return nil, fmt.Errorf("profile required (one of %s)", strings.Join(s.profileIDs, ", "))
	}
	p, ok := s.profiles[id]
	if !ok {
		return nil, fmt.Errorf("unknown profile %s", id)
	}
	return p, nil
}

func (s *Server) tempPath(pattern string) (string, error) {
	f, err := os.CreateTemp(s.workDir, pattern)
	if err != nil {
		return "", err
	}
	name := f.Name()
	f.Close()
	return name, nil
}

func (s *Server) addArtifact(path, displayName, contentType, kind string) (Artifact, error) {
	if path == "" {
		return Artifact{}, errors.New("empty path")
	}
	info, err := os.Stat(path)
	if err != nil {
		return Artifact{}, err
	}
	art := Artifact{
		ID:          randomID(),
		Path:        path,
		Name:        displayName,
		ContentType: contentType,
		Size:        info.Size(),
		Kind:        kind,
	}
	if art.Name == "" {
		art.Name = filepath.Base(path)
	}
	if art.ContentType == "" {
		art.ContentType = guessContentType(art.Name)
	}
	s.artifacts.mu.Lock()
	s.artifacts.entries[art.ID] = art
	s.artifacts.mu.Unlock()
	return art, nil
}

// writeArtifact stores data in the work directory and registers it.
func (s *Server) writeArtifact(data []byte, displayName, contentType, kind string) (Artifact, error) {
	path, err := s.tempPath("artifact-*" + filepath.Ext(displayName))
	if err != nil {
		return Artifact{}, err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return Artifact{}, err
	}
	return s.addArtifact(path, displayName, contentType, kind)
}

func (s *Server) getArtifact(id string) (Artifact, bool) {
	s.artifacts.mu.RLock()
	art, ok := s.artifacts.entries[id]
	s.artifacts.mu.RUnlock()
	return art, ok
}

// resolvePath accepts an artifact id or a path on the daemon host.
func (s *Server) resolvePath(token string) (string, string, error) {
	if token == "" {
		return "", "", errors.New("empty input path")
	}
	if art, ok := s.getArtifact(token); ok {
		return art.Path, art.Name, nil
	}
	abs := filepath.Clean(token)
	if _, err := os.Stat(abs); err != nil {
		return "", "", err
	}
	return abs, filepath.Base(abs), nil
}

func (s *Server) listArtifacts() []ArtifactRef {
	s.artifacts.mu.RLock()
	refs := make([]ArtifactRef, 0, len(s.artifacts.entries))
	for _, art := range s.artifacts.entries {
		refs = append(refs, toRef(art))
	}
	s.artifacts.mu.RUnlock()
	sort.Slice(refs, func(i, j int) bool { return refs[i].ID < refs[j].ID })
	return refs
}

func toRef(art Artifact) ArtifactRef {
	return ArtifactRef{
		ID:          art.ID,
		Name:        art.Name,
		ContentType: art.ContentType,
		Size:        art.Size,
		Kind:        art.Kind,
		Type:        art.Type,
		Sha256:      art.Sha256,
	}
}

func guessContentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json", ".jws":
		return "application/json"
	case ".yaml", ".yml":
		return "application/yaml"
	case ".xml":
		return "application/xml"
	case ".ndjson", ".jsonl":
		return "application/x-ndjson"
	case ".pdf":
		return "application/pdf"
	case ".param", ".parm", ".params", ".txt":
		return "text/plain"
	case ".csv":
		return "text/csv"
	default:
		return "application/octet-stream"
	}
}

func randomID() string {
	var b [12]byte
	if _, err := rand.Read(b[:]); err != nil {
		now := time.Now().UTC()
		return fmt.Sprintf("%d%06d", now.UnixNano(), os.Getpid())
	}
	return hex.EncodeToString(b[:])
}
