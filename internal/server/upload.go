package server

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"sort"

	"example.com/paramgate/internal/common"
	"example.com/paramgate/internal/manifest"
)

const (
	// maxUploadMemory bounds the multipart form held in memory; larger parts
	// spill to temporary files.
	maxUploadMemory = 64 << 20
	maxUploadBytes  = 512 << 20
)

var errEmptyUpload = errors.New("empty file")

// handleUpload stores parameter files, images and schemas so later requests
// can name them by artifact id. Each stored file is hashed and classified the
// same way manifest items are.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		http.Error(w, fmt.Sprintf("parse multipart: %v", err), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	fields := make([]string, 0, len(r.MultipartForm.File))
	for field := range r.MultipartForm.File {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	var refs []ArtifactRef
	for _, field := range fields {
		for _, fh := range r.MultipartForm.File[field] {
			ref, err := s.storeUpload(fh)
			if err != nil {
				http.Error(w, fmt.Sprintf("store %s: %v", fh.Filename, err), http.StatusBadRequest)
				return
			}
			common.Logf("upload %s: %s (%d bytes, %s)", ref.ID, ref.Name, ref.Size, ref.Type)
			refs = append(refs, ref)
		}
	}
	if len(refs) == 0 {
		http.Error(w, "no files uploaded", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": refs})
}

func (s *Server) storeUpload(fh *multipart.FileHeader) (ArtifactRef, error) {
	src, err := fh.Open()
	if err != nil {
		return ArtifactRef{}, err
	}
	defer src.Close()

	name := filepath.Base(fh.Filename)
	dest, err := os.CreateTemp(s.uploadsDir, "upload-*"+filepath.Ext(name))
	if err != nil {
		return ArtifactRef{}, err
	}
	h := common.NewHasher()
	n, err := io.Copy(io.MultiWriter(dest, h), src)
	if cerr := dest.Close(); err == nil {
		err = cerr
	}
	if err == nil && n == 0 {
		err = errEmptyUpload
	}
	if err != nil {
		os.Remove(dest.Name())
		return ArtifactRef{}, err
	}
	art, err := s.addArtifact(dest.Name(), name, guessContentType(name), "upload")
	if err != nil {
		return ArtifactRef{}, err
	}
	art.Type = manifest.ItemType(name)
	art.Sha256 = h.Sum()
	s.artifacts.mu.Lock()
	s.artifacts.entries[art.ID] = art
	s.artifacts.mu.Unlock()
	return toRef(art), nil
}
