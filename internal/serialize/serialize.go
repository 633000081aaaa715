// Package serialize turns a parameter set back into the byte formats the
// extractor reads: text dumps, binary record streams and marker-wrapped
// payloads.
package serialize

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strings"

	"example.com/paramgate/internal/diag"
	"example.com/paramgate/internal/extract"
	"example.com/paramgate/internal/params"
	"example.com/paramgate/internal/schema"
)

type TextStyle int

const (
	StyleEquals TextStyle = iota
	StyleComma
	StyleQGC
)

func (s TextStyle) String() string {
	switch s {
	case StyleComma:
		return "csv"
	case StyleQGC:
		return "qgc"
	default:
		return "text"
	}
}

// Format selects the output encoding. The zero value writes NAME=VALUE
// text in set order.
type Format struct {
	Mode        extract.Mode
	Style       TextStyle
	PayloadMode extract.Mode
	StartMarker []byte
	EndMarker   []byte
	SortByName  bool
	SysID       uint8
	CompID      uint8
	Header      string
}

// ParseFormat maps a command-line format name to a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text", "param", "txt":
		return Format{Mode: extract.ModeText, Style: StyleEquals}, nil
	case "csv", "mission-planner", "mp":
		return Format{Mode: extract.ModeText, Style: StyleComma}, nil
	case "qgc", "qgroundcontrol":
		return Format{Mode: extract.ModeText, Style: StyleQGC}, nil
	case "binary", "bin":
		return Format{Mode: extract.ModeBinary}, nil
	case "embedded", "image":
		return Format{Mode: extract.ModeEmbedded, PayloadMode: extract.ModeBinary}, nil
	}
	return Format{}, fmt.Errorf("unknown output format %q", s)
}

var ErrSerialization = errors.New("serialization failed")

// SerializationError aborts a Serialize call: the entry cannot be encoded
// with its tag.
type SerializationError struct {
	Param  string
	Value  float64
	Tag    extract.Tag
	Reason string
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("serialize: %s = %s as %s: %s", e.Param, params.FormatNumber(e.Value, false), e.Tag, e.Reason)
}

func (e *SerializationError) Is(target error) bool { return target == ErrSerialization }

const CodeVerbatim = "SER-VERBATIM"

// Serialize encodes every entry of set. Unmodified UnknownParameter and
// TypeMismatch entries are copied from their raw record and reported with an
// INFO diagnostic. The set itself is not modified; hosts call MarkClean
// after the bytes are stored.
func Serialize(set *params.Set, f Format) ([]byte, diag.List, error) {
	if set == nil {
		return nil, nil, errors.New("serialize: nil set")
	}
	entries := set.Entries()
	if f.SortByName {
		entries = set.Sorted()
	}
	return SerializeEntries(entries, f)
}

// SerializeEntries encodes entries in the given order.
func SerializeEntries(entries []*params.Entry, f Format) ([]byte, diag.List, error) {
	var diags diag.List
	switch f.Mode {
	case extract.ModeBinary:
		return encodeBinary(entries, &diags)
	case extract.ModeEmbedded:
		if len(f.StartMarker) == 0 {
			return nil, nil, fmt.Errorf("serialize: embedded output needs a start marker")
		}
		inner := f
		inner.Mode = f.PayloadMode
		if inner.Mode != extract.ModeText {
			inner.Mode = extract.ModeBinary
		}
		payload, innerDiags, err := SerializeEntries(entries, inner)
		if err != nil {
			return nil, nil, err
		}
		if bytes.Contains(payload, f.StartMarker) || (len(f.EndMarker) > 0 && bytes.Contains(payload, f.EndMarker)) {
			return nil, nil, fmt.Errorf("serialize: %w: payload contains a marker sequence", ErrSerialization)
		}
		out := make([]byte, 0, len(f.StartMarker)+len(payload)+len(f.EndMarker))
		out = append(out, f.StartMarker...)
		out = append(out, payload...)
		out = append(out, f.EndMarker...)
		return out, innerDiags, nil
	default:
		return encodeText(entries, f, &diags)
	}
}

// verbatim reports whether e must be written from its raw record.
func verbatim(e *params.Entry) bool {
	if e.Dirty || e.Raw == nil {
		return false
	}
	return e.Status == params.StatusUnknown || e.Status == params.StatusTypeMismatch
}

func encodeText(entries []*params.Entry, f Format, diags *diag.List) ([]byte, diag.List, error) {
	var b strings.Builder
	if f.Header != "" {
		for _, line := range strings.Split(strings.TrimRight(f.Header, "\n"), "\n") {
			b.WriteString("# ")
			b.WriteString(line)
			b.WriteByte('\n')
		}
	}
	sysID, compID := f.SysID, f.CompID
	if sysID == 0 {
		sysID = 1
	}
	if compID == 0 {
		compID = 1
	}
	for _, e := range entries {
		value := e.FormatValue()
		tag := EffectiveTag(e)
		if verbatim(e) {
			if e.Raw.Source == extract.ModeText {
				value = string(e.Raw.Raw)
			}
			tag = e.Raw.Tag
			diags.Addf(diag.INFO, CodeVerbatim, e.Name, e.Raw.Offset,
				"%s entry written verbatim from source", e.Status)
		}
		switch f.Style {
		case StyleQGC:
			fmt.Fprintf(&b, "%d\t%d\t%s\t%s\t%d\n", sysID, compID, e.Name, value, uint8(tag))
		case StyleComma:
			fmt.Fprintf(&b, "%s,%s\n", e.Name, value)
		default:
			fmt.Fprintf(&b, "%s=%s\n", e.Name, value)
		}
	}
	return []byte(b.String()), *diags, nil
}

func encodeBinary(entries []*params.Entry, diags *diag.List) ([]byte, diag.List, error) {
	out := make([]byte, 0, len(entries)*extract.RecordSize)
	for _, e := range entries {
		var (
			tag extract.Tag
			raw [4]byte
			err error
		)
		if verbatim(e) && e.Raw.Source == extract.ModeBinary && len(e.Raw.Raw) == 4 {
			tag = e.Raw.Tag
			copy(raw[:], e.Raw.Raw)
			diags.Addf(diag.INFO, CodeVerbatim, e.Name, e.Raw.Offset,
				"%s entry written verbatim from source", e.Status)
		} else {
			tag = EffectiveTag(e)
			raw, err = EncodeValue(e.Name, tag, e.Value)
			if err != nil {
				return nil, nil, err
			}
			if verbatim(e) {
				diags.Addf(diag.INFO, CodeVerbatim, e.Name, e.Raw.Offset,
					"%s entry read from text; encoded as %s", e.Status, tag)
			}
		}
		rec, err := extract.EncodeRecord(e.Name, tag, raw)
		if err != nil {
			return nil, nil, &SerializationError{Param: e.Name, Value: e.Value, Tag: tag, Reason: err.Error()}
		}
		out = append(out, rec...)
	}
	return out, *diags, nil
}

// EffectiveTag picks the tag an entry is written with: its raw tag when
// known, else the one implied by the declared type. Entries with neither
// are written as INT32 when the value is a whole number in range and as
// REAL32 otherwise.
func EffectiveTag(e *params.Entry) extract.Tag {
	if t := e.Tag(); t.Known() {
		return t
	}
	if e.Def != nil {
		return TagForType(e.Def.Type)
	}
	if lo, hi := extract.TagInt32.Limits(); e.Value >= lo && e.Value <= hi && e.Value == math.Trunc(e.Value) {
		return extract.TagInt32
	}
	return extract.TagReal32
}

// TagForType maps a declared type to its wire tag.
func TagForType(t schema.Type) extract.Tag {
	switch t {
	case schema.TypeInt8:
		return extract.TagInt8
	case schema.TypeInt16:
		return extract.TagInt16
	case schema.TypeInt32, schema.TypeBitmask, schema.TypeEnum:
		return extract.TagInt32
	default:
		return extract.TagReal32
	}
}
