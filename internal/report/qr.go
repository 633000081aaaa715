package report

import (
	"errors"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
)

const qrPrefix = "SHA256:"

// DigestToQR renders a QR code PNG of the set digest. The payload is the
// upper-case hex digest prefixed with SHA256: so a scan is self-describing.
func DigestToQR(digest string, size int) ([]byte, error) {
	hexDigest := hexOnly(digest)
	if hexDigest == "" {
		return nil, errors.New("report: digest is empty")
	}
	if size <= 0 {
		size = 128
	}
	code, err := qrcode.New(qrPrefix+hexDigest, qrcode.Medium)
	if err != nil {
		return nil, err
	}
	return code.PNG(size)
}

// hexOnly upper-cases s and drops everything that is not a hex digit.
func hexOnly(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r >= 'A' && r <= 'F':
			return r
		case r >= 'a' && r <= 'f':
			return r - 'a' + 'A'
		}
		return -1
	}, s)
}
