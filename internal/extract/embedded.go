package extract

import (
	"bytes"
	"fmt"

	"example.com/paramgate/internal/diag"
)

// locatePayload finds the parameter table inside a firmware image. The table
// starts right after the first StartMarker and runs to the next EndMarker,
// or to the end of the image when no end marker is configured.
func (r *Reader) locatePayload(src []byte, opts Options) ([]byte, int64, error) {
	if len(opts.StartMarker) == 0 {
		return nil, 0, &ExtractionError{Err: ErrNoMarker, Offset: -1}
	}
	idx := bytes.Index(src, opts.StartMarker)
	if idx < 0 {
		return nil, 0, &ExtractionError{
			Err:    ErrMarkerNotFound,
			Offset: -1,
			Detail: fmt.Sprintf("searched %d bytes", len(src)),
		}
	}
	start := idx + len(opts.StartMarker)
	payload := src[start:]
	if len(opts.EndMarker) > 0 {
		if end := bytes.Index(payload, opts.EndMarker); end >= 0 {
			payload = payload[:end]
		} else {
			r.addDiag(diag.WARN, CodeUnterminated, "", int64(start),
				"unterminated payload: end marker not found; reading to end of image")
		}
	}
	r.metrics.AddBytes(int64(start))
	return payload, int64(start), nil
}
