package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"example.com/paramgate/internal/common"
	"example.com/paramgate/internal/diag"
	"example.com/paramgate/internal/extract"
	"example.com/paramgate/internal/manifest"
	"example.com/paramgate/internal/params"
	"example.com/paramgate/internal/report"
	"example.com/paramgate/internal/rules"
	"example.com/paramgate/internal/serialize"
	"example.com/paramgate/internal/session"
)

type loadRequest struct {
	Input   string `json:"input"`
	Profile string `json:"profile"`
}

type loadedSource struct {
	profile *profileEntry
	sess    *session.Session
	src     []byte
	name    string
	diags   diag.List
}

// load reads and reconciles one input under the concurrency limit. The
// returned status is the HTTP code to answer with on error.
func (s *Server) load(ctx context.Context, req loadRequest) (*loadedSource, int, error) {
	if strings.TrimSpace(req.Input) == "" {
		return nil, http.StatusBadRequest, errors.New("input required")
	}
	p, err := s.profile(req.Profile)
	if err != nil {
		return nil, http.StatusBadRequest, err
	}
	path, name, err := s.resolvePath(req.Input)
	if err != nil {
		return nil, http.StatusBadRequest, fmt.Errorf("input resolve: %w", err)
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, http.StatusInternalServerError, err
	}
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, http.StatusServiceUnavailable, err
	}
	defer s.sem.Release(1)
	sess := session.New(p.engine)
	diags, err := sess.Load(ctx, name, src, p.schema, p.opts)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, extract.ErrExtraction):
			status = http.StatusUnprocessableEntity
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			status = http.StatusServiceUnavailable
		}
		return nil, status, err
	}
	common.Logf("paramd: loaded %s (profile %s, mode %s, %d diagnostics)", name, p.id, sess.Source().Mode, len(diags))
	return &loadedSource{profile: p, sess: sess, src: src, name: name, diags: diags}, 0, nil
}

type validateResult struct {
	Acceptance rules.AcceptanceReport `json:"acceptance"`
	Artifacts  []ArtifactRef          `json:"artifacts"`
	SetDigest  string                 `json:"setDigest,omitempty"`
}

// validateArtifacts writes diagnostics.ndjson and acceptance.json and, when
// withReport is set, the parameter report as JSON and PDF.
func (s *Server) validateArtifacts(ld *loadedSource, withReport bool) (validateResult, error) {
	var res validateResult
	var rep report.ParameterReport
	src := ld.sess.Source()
	_ = ld.sess.View(func(set *params.Set, diags diag.List) error {
		res.Acceptance = rules.MakeAcceptance(set, diags)
		if withReport {
			rep = report.Build(set, diags, report.Meta{
				Source:       src.Name,
				SourceDigest: src.Digest,
				Mode:         src.Mode.String(),
				Schema:       filepath.Base(ld.profile.schemaPath),
				Generated:    time.Now().UTC(),
			})
		}
		return nil
	})

	diagPath, err := s.tempPath("diagnostics-*.ndjson")
	if err != nil {
		return res, err
	}
	if err := rules.WriteDiagnosticsNDJSON(diagPath, ld.diags); err != nil {
		return res, fmt.Errorf("write diagnostics: %w", err)
	}
	accPath, err := s.tempPath("acceptance-*.json")
	if err != nil {
		return res, err
	}
	if err := rules.WriteAcceptanceJSON(accPath, res.Acceptance); err != nil {
		return res, fmt.Errorf("write acceptance: %w", err)
	}
	outputs := []struct{ path, name, kind string }{
		{diagPath, "diagnostics.ndjson", "diagnostics"},
		{accPath, "acceptance.json", "acceptance"},
	}
	if withReport {
		res.SetDigest = rep.SetDigest
		jsonPath, err := s.tempPath("report-*.json")
		if err != nil {
			return res, err
		}
		if err := report.SaveJSON(rep, jsonPath); err != nil {
			return res, fmt.Errorf("write report: %w", err)
		}
		pdfPath, err := s.tempPath("report-*.pdf")
		if err != nil {
			return res, err
		}
		if err := report.SavePDF(rep, pdfPath); err != nil {
			return res, fmt.Errorf("write report pdf: %w", err)
		}
		outputs = append(outputs,
			struct{ path, name, kind string }{jsonPath, "report.json", "report"},
			struct{ path, name, kind string }{pdfPath, "report.pdf", "report"},
		)
	}
	for _, o := range outputs {
		art, err := s.addArtifact(o.path, o.name, "", o.kind)
		if err != nil {
			return res, fmt.Errorf("register %s: %w", o.name, err)
		}
		res.Artifacts = append(res.Artifacts, toRef(art))
	}
	return res, nil
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	stream := r.URL.Query().Get("stream") == "true"
	var req struct {
		loadRequest
		Report bool `json:"report"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid json: %v", err), http.StatusBadRequest)
		return
	}
	ld, status, err := s.load(r.Context(), req.loadRequest)
	if err != nil {
		http.Error(w, err.Error(), status)
		return
	}

	if stream {
		w.Header().Set("Content-Type", "application/x-ndjson")
		writer := NewNDJSONWriter(w)
		if err := writer.WriteDiagnostics(ld.diags); err != nil {
			common.Logf("paramd: stream diagnostics: %v", err)
			return
		}
		res, err := s.validateArtifacts(ld, req.Report)
		if err != nil {
			_ = writer.WriteError(err)
			return
		}
		_ = writer.WriteObject(struct {
			Type string `json:"type"`
			validateResult
			Total int `json:"diagnostics"`
		}{Type: "acceptance", validateResult: res, Total: writer.Diagnostics()})
		return
	}

	res, err := s.validateArtifacts(ld, req.Report)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		validateResult
		Diagnostics diag.List `json:"diagnostics"`
	}{validateResult: res, Diagnostics: ld.diags})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		loadRequest
		Format string             `json:"format"`
		Name   string             `json:"name"`
		Sorted bool               `json:"sorted"`
		Set    map[string]float64 `json:"set"`
		Reset  []string           `json:"reset"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid json: %v", err), http.StatusBadRequest)
		return
	}
	ld, status, err := s.load(r.Context(), req.loadRequest)
	if err != nil {
		http.Error(w, err.Error(), status)
		return
	}
	var auditPath string
	if len(req.Set) > 0 || len(req.Reset) > 0 {
		auditPath = filepath.Join(s.workDir, "audit-"+randomID()+".jsonl")
		ld.sess.SetEditLog(common.NewEditLog(auditPath))
	}
	names := make([]string, 0, len(req.Set))
	for name := range req.Set {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := ld.sess.SetValue(name, req.Set[name]); err != nil {
			http.Error(w, err.Error(), editStatus(err))
			return
		}
	}
	for _, name := range req.Reset {
		if err := ld.sess.ResetToDefault(name); err != nil {
			http.Error(w, err.Error(), editStatus(err))
			return
		}
	}

	f, err := ld.sess.OutputFormat(req.Format)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.SortByName = req.Sorted
	data, serDiags, err := ld.sess.Save(f)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	if f.Mode == extract.ModeEmbedded && ld.sess.Source().Mode == extract.ModeEmbedded {
		if data, err = serialize.Splice(ld.src, data, f.StartMarker, f.EndMarker); err != nil {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
	}
	name := req.Name
	if name == "" {
		name = exportName(ld.name, f)
	}
	art, err := s.writeArtifact(data, name, "", "export")
	if err != nil {
		http.Error(w, fmt.Sprintf("register export: %v", err), http.StatusInternalServerError)
		return
	}
	if err := ld.sess.MarkSaved(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	resp := struct {
		Artifact    ArtifactRef  `json:"artifact"`
		Audit       *ArtifactRef `json:"audit,omitempty"`
		Diagnostics diag.List    `json:"diagnostics"`
	}{Artifact: toRef(art), Diagnostics: serDiags}
	if auditPath != "" {
		if _, err := os.Stat(auditPath); err == nil {
			auditArt, err := s.addArtifact(auditPath, "audit.jsonl", "application/x-ndjson", "audit")
			if err != nil {
				http.Error(w, fmt.Sprintf("register audit: %v", err), http.StatusInternalServerError)
				return
			}
			ref := toRef(auditArt)
			resp.Audit = &ref
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func editStatus(err error) int {
	switch {
	case errors.Is(err, params.ErrUnknownParameter):
		return http.StatusNotFound
	case errors.Is(err, params.ErrValidation):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// exportName derives a download name from the source name and format.
func exportName(source string, f serialize.Format) string {
	ext := filepath.Ext(source)
	base := strings.TrimSuffix(filepath.Base(source), ext)
	switch f.Mode {
	case extract.ModeBinary:
		ext = ".bin"
	case extract.ModeText:
		switch f.Style {
		case serialize.StyleComma:
			ext = ".csv"
		case serialize.StyleQGC:
			ext = ".params"
		default:
			ext = ".param"
		}
	}
	return base + "-export" + ext
}

func (s *Server) handleManifest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Inputs []string `json:"inputs"`
		Sign   bool     `json:"sign"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid json: %v", err), http.StatusBadRequest)
		return
	}
	if len(req.Inputs) == 0 {
		http.Error(w, "inputs required", http.StatusBadRequest)
		return
	}
	if req.Sign && len(s.signingKey) == 0 {
		http.Error(w, "manifest signing not configured", http.StatusBadRequest)
		return
	}
	paths := make([]string, 0, len(req.Inputs))
	names := make([]string, 0, len(req.Inputs))
	for _, in := range req.Inputs {
		path, name, err := s.resolvePath(in)
		if err != nil {
			http.Error(w, fmt.Sprintf("resolve %s: %v", in, err), http.StatusBadRequest)
			return
		}
		paths = append(paths, path)
		names = append(names, name)
	}
	m, err := manifest.Build(paths)
	if err != nil {
		http.Error(w, fmt.Sprintf("build manifest: %v", err), http.StatusInternalServerError)
		return
	}
	for i := range m.Items {
		m.Items[i].Path = names[i]
	}
	var refs []ArtifactRef
	if req.Sign {
		sigPath, err := s.tempPath("manifest-*.jws")
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if err := manifest.Sign(&m, s.signingKey, s.keyID, sigPath); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		m.Signature.SignatureFile = "manifest.jws"
		sigArt, err := s.addArtifact(sigPath, "manifest.jws", "application/json", "signature")
		if err != nil {
			http.Error(w, fmt.Sprintf("register signature: %v", err), http.StatusInternalServerError)
			return
		}
		refs = append(refs, toRef(sigArt))
	}
	outPath, err := s.tempPath("manifest-*.json")
	if err != nil {
		http.Error(w, fmt.Sprintf("manifest temp: %v", err), http.StatusInternalServerError)
		return
	}
	if err := manifest.Save(m, outPath); err != nil {
		http.Error(w, fmt.Sprintf("write manifest: %v", err), http.StatusInternalServerError)
		return
	}
	art, err := s.addArtifact(outPath, "manifest.json", "application/json", "manifest")
	if err != nil {
		http.Error(w, fmt.Sprintf("register manifest: %v", err), http.StatusInternalServerError)
		return
	}
	refs = append([]ArtifactRef{toRef(art)}, refs...)
	writeJSON(w, http.StatusOK, struct {
		Manifest  manifest.Manifest `json:"manifest"`
		Artifacts []ArtifactRef     `json:"artifacts"`
	}{Manifest: m, Artifacts: refs})
}

type profileView struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	Schema      string `json:"schema"`
	Definitions int    `json:"definitions"`
	Groups      int    `json:"groups"`
	Mode        string `json:"mode"`
}

func (s *Server) handleProfiles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	out := make([]profileView, 0, len(s.profileIDs))
	for _, id := range s.profileIDs {
		p := s.profiles[id]
		out = append(out, profileView{
			ID:          p.id,
			Name:        p.name,
			Schema:      filepath.Base(p.schemaPath),
			Definitions: p.schema.Len(),
			Groups:      len(p.schema.Groups()),
			Mode:        p.opts.Mode.String(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type definitionView struct {
	Name           string      `json:"name"`
	Type           string      `json:"type"`
	Label          string      `json:"label,omitempty"`
	Description    string      `json:"description,omitempty"`
	Unit           string      `json:"unit,omitempty"`
	Min            *float64    `json:"min,omitempty"`
	Max            *float64    `json:"max,omitempty"`
	Increment      *float64    `json:"increment,omitempty"`
	Default        *float64    `json:"default,omitempty"`
	Group          string      `json:"group"`
	Bits           []labelView `json:"bits,omitempty"`
	Values         []labelView `json:"values,omitempty"`
	ReadOnly       bool        `json:"readOnly,omitempty"`
	RebootRequired bool        `json:"rebootRequired,omitempty"`
}

type labelView struct {
	Key   float64 `json:"key"`
	Label string  `json:"label"`
}

func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	p, err := s.profile(r.URL.Query().Get("profile"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	group := strings.Trim(r.URL.Query().Get("group"), "/")
	out := []definitionView{}
	for _, d := range p.schema.Definitions() {
		key := d.GroupKey()
		if group != "" && key != group && !strings.HasPrefix(key, group+"/") {
			continue
		}
		v := definitionView{
			Name:           d.Name,
			Type:           string(d.Type),
			Label:          d.Label,
			Description:    d.Description,
			Unit:           d.Unit,
			Min:            d.Min,
			Max:            d.Max,
			Increment:      d.Increment,
			Default:        d.Default,
			Group:          key,
			ReadOnly:       d.ReadOnly,
			RebootRequired: d.RebootRequired,
		}
		for _, b := range d.Bits {
			v.Bits = append(v.Bits, labelView{Key: float64(b.Bit), Label: b.Label})
		}
		for _, l := range d.Values {
			v.Values = append(v.Values, labelView{Key: l.Value, Label: l.Label})
		}
		out = append(out, v)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleArtifacts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.listArtifacts())
}

func (s *Server) handleArtifactDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/artifacts/")
	if id == "" {
		http.NotFound(w, r)
		return
	}
	art, ok := s.getArtifact(id)
	if !ok {
		http.NotFound(w, r)
		return
	}
	f, err := os.Open(art.Path)
	if err != nil {
		http.Error(w, fmt.Sprintf("open artifact: %v", err), http.StatusInternalServerError)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		http.Error(w, fmt.Sprintf("stat artifact: %v", err), http.StatusInternalServerError)
		return
	}
	if art.ContentType != "" {
		w.Header().Set("Content-Type", art.ContentType)
	}
	w.Header().Set("Content-Length", fmt.Sprintf("%d", info.Size()))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", art.Name))
	io.Copy(w, f)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
