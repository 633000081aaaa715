package serialize

import (
	"bytes"
	"fmt"

	"example.com/paramgate/internal/extract"
)

// Splice replaces the marker-delimited region of image with wrapped, which
// already carries both markers. Without an end marker in image the region
// runs to the end of the image.
func Splice(image, wrapped, start, end []byte) ([]byte, error) {
	i := bytes.Index(image, start)
	if len(start) == 0 || i < 0 {
		return nil, fmt.Errorf("splice: %w", extract.ErrMarkerNotFound)
	}
	j := len(image)
	if len(end) > 0 {
		if k := bytes.Index(image[i+len(start):], end); k >= 0 {
			j = i + len(start) + k + len(end)
		}
	}
	out := make([]byte, 0, len(image)-(j-i)+len(wrapped))
	out = append(out, image[:i]...)
	out = append(out, wrapped...)
	out = append(out, image[j:]...)
	return out, nil
}
