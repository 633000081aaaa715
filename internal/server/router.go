package server

import "net/http"

// NewRouter wires HTTP routes to the server's handlers.
func NewRouter(s *Server) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/upload", s.handleUpload)
	mux.HandleFunc("/validate", s.handleValidate)
	mux.HandleFunc("/export", s.handleExport)
	mux.HandleFunc("/manifest", s.handleManifest)
	mux.HandleFunc("/profiles", s.handleProfiles)
	mux.HandleFunc("/schema", s.handleSchema)
	mux.HandleFunc("/artifacts", s.handleArtifacts)
	mux.HandleFunc("/artifacts/", s.handleArtifactDownload)
	return mux
}
