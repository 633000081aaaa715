package extract

import (
	"bytes"
	"math"
	"strconv"
	"strings"

	"example.com/paramgate/internal/diag"
	"example.com/paramgate/internal/schema"
)

// Text sources hold one parameter per line in any of these shapes:
//
//	NAME=VALUE
//	NAME,VALUE
//	NAME VALUE
//	SYSID<TAB>COMPID<TAB>NAME<TAB>VALUE<TAB>TYPE
//
// Blank lines and lines starting with '#' are skipped. A '#' after the
// value starts a trailing comment.
func (r *Reader) nextText() (Record, bool, error) {
	for r.pos < len(r.payload) {
		start := r.pos
		line := r.payload[start:]
		if i := bytes.IndexByte(line, '\n'); i >= 0 {
			line = line[:i]
			r.pos = start + i + 1
		} else {
			r.pos = len(r.payload)
		}
		r.metrics.AddBytes(int64(r.pos - start))
		off := r.base + int64(start)

		text := strings.TrimSpace(string(line))
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		rec, ok := r.parseLine(text, off)
		if !ok {
			continue
		}
		r.metrics.AddRecord(0)
		return rec, true, nil
	}
	return Record{}, false, nil
}

func (r *Reader) parseLine(text string, off int64) (Record, bool) {
	var name, value string
	tag := TagNone
	if fields := strings.Split(text, "\t"); len(fields) == 5 && isUint(fields[0]) && isUint(fields[1]) {
		name, value = strings.TrimSpace(fields[2]), strings.TrimSpace(fields[3])
		t, err := strconv.ParseUint(strings.TrimSpace(fields[4]), 10, 8)
		if err != nil {
			r.addDiag(diag.WARN, CodeSyntax, name, off, "malformed type column %q; line skipped", fields[4])
			return Record{}, false
		}
		tag = Tag(t)
	} else {
		var ok bool
		name, value, ok = splitPair(text)
		if !ok {
			r.addDiag(diag.WARN, CodeSyntax, "", off, "line %q is not NAME=VALUE; skipped", truncate(text, 40))
			return Record{}, false
		}
	}
	if !schema.ValidName(name) {
		r.addDiag(diag.WARN, CodeName, "", off, "malformed parameter name %q; line skipped", truncate(name, 40))
		return Record{}, false
	}
	v, ok := parseNumber(value)
	if !ok {
		r.addDiag(diag.WARN, CodeValue, name, off, "unparsable value %q; line skipped", truncate(value, 40))
		return Record{}, false
	}
	return Record{
		Name:   name,
		Value:  v,
		Tag:    tag,
		Raw:    []byte(value),
		Offset: off,
		Source: ModeText,
	}, true
}

func splitPair(text string) (name, value string, ok bool) {
	if j := strings.IndexByte(text, '#'); j >= 0 {
		text = strings.TrimRight(text[:j], " \t")
	}
	if i := strings.IndexAny(text, "=,"); i >= 0 {
		name, value = text[:i], text[i+1:]
	} else {
		i := strings.IndexAny(text, " \t")
		if i < 0 {
			return "", "", false
		}
		name, value = text[:i], text[i+1:]
	}
	name, value = strings.TrimSpace(name), strings.TrimSpace(value)
	if name == "" || value == "" {
		return "", "", false
	}
	return name, value, true
}

// parseNumber accepts decimal and scientific notation plus 0x/0b/0o
// prefixed integers. NaN and infinities are rejected.
func parseNumber(s string) (float64, bool) {
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, false
		}
		return v, true
	}
	if v, err := strconv.ParseInt(s, 0, 64); err == nil {
		return float64(v), true
	}
	return 0, false
}

func isUint(s string) bool {
	_, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
	return err == nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
