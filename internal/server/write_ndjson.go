package server

import (
	"encoding/json"
	"io"
	"net/http"
	"sync"

	"example.com/paramgate/internal/diag"
)

// NDJSONWriter streams newline-delimited JSON records to the client,
// flushing after each one when the writer supports it.
type NDJSONWriter struct {
	mu      sync.Mutex
	writer  io.Writer
	flusher http.Flusher
	diags   int
}

func NewNDJSONWriter(w io.Writer) *NDJSONWriter {
	nw := &NDJSONWriter{writer: w}
	if f, ok := w.(http.Flusher); ok {
		nw.flusher = f
	}
	return nw
}

// WriteDiagnostics writes every diagnostic of l in order, stopping at the
// first write error.
func (w *NDJSONWriter) WriteDiagnostics(l diag.List) error {
	for _, d := range l {
		if err := w.WriteDiagnostic(d); err != nil {
			return err
		}
	}
	return nil
}

func (w *NDJSONWriter) WriteDiagnostic(d diag.Diagnostic) error {
	if err := w.WriteObject(d); err != nil {
		return err
	}
	w.mu.Lock()
	w.diags++
	w.mu.Unlock()
	return nil
}

// WriteError reports a failure after the stream has started, when the
// status code can no longer change.
func (w *NDJSONWriter) WriteError(err error) error {
	return w.WriteObject(map[string]string{"type": "error", "error": err.Error()})
}

// Diagnostics reports how many diagnostics have been streamed.
func (w *NDJSONWriter) Diagnostics() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.diags
}

func (w *NDJSONWriter) WriteObject(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.writer.Write(append(data, '\n')); err != nil {
		return err
	}
	if w.flusher != nil {
		w.flusher.Flush()
	}
	return nil
}
