package extract

import (
	"bytes"
	"context"
	"io"
	"unicode/utf8"

	"example.com/paramgate/internal/common"
	"example.com/paramgate/internal/diag"
)

// Reader walks a parameter source record by record. Anomalies that do not
// abort the walk are collected as diagnostics; Next returns io.EOF at the
// end of the payload and an *ExtractionError when the source cannot be
// decoded at all.
type Reader struct {
	mode        Mode
	payloadMode Mode
	payload     []byte
	base        int64
	pos         int
	count       int

	seen    map[string]int64
	diags   diag.List
	metrics *common.Metrics
	err     error
}

// NewReader resolves the source mode and, for embedded images, locates the
// payload between the configured markers.
func NewReader(src []byte, opts Options) (*Reader, error) {
	r := &Reader{
		seen:    make(map[string]int64),
		metrics: opts.Metrics,
	}
	mode := opts.Mode
	if mode == ModeAuto && len(opts.StartMarker) > 0 && bytes.Contains(src, opts.StartMarker) {
		mode = ModeEmbedded
	}
	if mode == ModeEmbedded {
		r.mode = ModeEmbedded
		payload, base, err := r.locatePayload(src, opts)
		if err != nil {
			return nil, err
		}
		r.payload, r.base = payload, base
		inner := opts.PayloadMode
		if inner == ModeEmbedded {
			inner = ModeAuto
		}
		pm, err := detect(payload, inner, base)
		if err != nil {
			return nil, err
		}
		r.payloadMode = pm
		return r, nil
	}
	pm, err := detect(src, mode, 0)
	if err != nil {
		return nil, err
	}
	r.mode, r.payloadMode, r.payload = pm, pm, src
	return r, nil
}

// detect picks binary or text for an unmarked payload. Binary sources start
// with the fixed record length byte; text sources are valid UTF-8.
func detect(payload []byte, mode Mode, base int64) (Mode, error) {
	if mode == ModeBinary || mode == ModeText {
		return mode, nil
	}
	switch {
	case len(payload) == 0:
		return ModeText, nil
	case payload[0] == RecordBodyLen:
		return ModeBinary, nil
	case utf8.Valid(payload):
		return ModeText, nil
	}
	return ModeAuto, &ExtractionError{
		Err:    ErrUnrecognizedSource,
		Offset: base,
		Detail: "neither binary records nor UTF-8 text",
	}
}

// Mode reports how the source was read: binary, text or embedded.
func (r *Reader) Mode() Mode { return r.mode }

// PayloadMode reports the encoding of the records themselves. It differs
// from Mode only for embedded sources.
func (r *Reader) PayloadMode() Mode { return r.payloadMode }

func (r *Reader) Diagnostics() diag.List { return r.diags }

// Next returns the next record. The first occurrence of a name wins; later
// duplicates are reported and skipped.
func (r *Reader) Next() (Record, error) {
	if r.err != nil {
		return Record{}, r.err
	}
	for {
		var (
			rec Record
			ok  bool
			err error
		)
		if r.payloadMode == ModeBinary {
			rec, ok, err = r.nextBinary()
		} else {
			rec, ok, err = r.nextText()
		}
		if err != nil {
			r.err = err
			return Record{}, err
		}
		if !ok {
			r.err = io.EOF
			return Record{}, io.EOF
		}
		if first, dup := r.seen[rec.Name]; dup {
			r.addDiag(diag.WARN, CodeDuplicate, rec.Name, rec.Offset,
				"duplicate record ignored; first occurrence at 0x%X", first)
			continue
		}
		r.seen[rec.Name] = rec.Offset
		r.count++
		return rec, nil
	}
}

func (r *Reader) addDiag(sev diag.Severity, code, param string, offset int64, format string, args ...interface{}) {
	r.diags.Addf(sev, code, param, offset, format, args...)
	r.metrics.IncDiagnostic()
}

// Result is the outcome of a full extraction.
type Result struct {
	Records     []Record
	Diagnostics diag.List
	Mode        Mode
	PayloadMode Mode
}

// Extract reads every record from src. Cancellation is checked between
// records.
func Extract(ctx context.Context, src []byte, opts Options) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	r, err := NewReader(src, opts)
	if err != nil {
		return Result{}, err
	}
	opts.Metrics.SetTotalBytes(int64(len(src)))
	res := Result{Mode: r.Mode(), PayloadMode: r.PayloadMode()}
	for i := 0; ; i++ {
		if i%256 == 255 {
			if err := ctx.Err(); err != nil {
				return Result{}, err
			}
		}
		rec, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Result{}, err
		}
		res.Records = append(res.Records, rec)
	}
	res.Diagnostics = r.Diagnostics()
	return res, nil
}
