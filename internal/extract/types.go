package extract

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"example.com/paramgate/internal/common"
)

// Tag is the raw type tag carried by a source record. The numbering follows
// MAVLink's MAV_PARAM_TYPE so binary dumps and ground-station files agree.
type Tag uint8

const (
	TagNone   Tag = 0
	TagUint8  Tag = 1
	TagInt8   Tag = 2
	TagUint16 Tag = 3
	TagInt16  Tag = 4
	TagUint32 Tag = 5
	TagInt32  Tag = 6
	TagReal32 Tag = 9
)

// Known reports whether the tag is one this engine can decode.
func (t Tag) Known() bool {
	switch t {
	case TagUint8, TagInt8, TagUint16, TagInt16, TagUint32, TagInt32, TagReal32:
		return true
	}
	return false
}

func (t Tag) Integral() bool {
	return t.Known() && t != TagReal32
}

// Limits returns the representable range of the tag's width.
func (t Tag) Limits() (lo, hi float64) {
	switch t {
	case TagUint8:
		return 0, math.MaxUint8
	case TagInt8:
		return math.MinInt8, math.MaxInt8
	case TagUint16:
		return 0, math.MaxUint16
	case TagInt16:
		return math.MinInt16, math.MaxInt16
	case TagUint32:
		return 0, math.MaxUint32
	case TagInt32:
		return math.MinInt32, math.MaxInt32
	default:
		return -math.MaxFloat32, math.MaxFloat32
	}
}

func (t Tag) String() string {
	switch t {
	case TagNone:
		return "none"
	case TagUint8:
		return "uint8"
	case TagInt8:
		return "int8"
	case TagUint16:
		return "uint16"
	case TagInt16:
		return "int16"
	case TagUint32:
		return "uint32"
	case TagInt32:
		return "int32"
	case TagReal32:
		return "real32"
	default:
		return fmt.Sprintf("tag(%d)", uint8(t))
	}
}

type Mode int

const (
	ModeAuto Mode = iota
	ModeBinary
	ModeText
	ModeEmbedded
)

func (m Mode) String() string {
	switch m {
	case ModeBinary:
		return "binary"
	case ModeText:
		return "text"
	case ModeEmbedded:
		return "embedded"
	default:
		return "auto"
	}
}

func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return ModeAuto, nil
	case "binary", "bin":
		return ModeBinary, nil
	case "text", "txt", "param":
		return ModeText, nil
	case "embedded", "image", "firmware":
		return ModeEmbedded, nil
	}
	return ModeAuto, fmt.Errorf("unknown source mode %q", s)
}

// Record is one name/value pair as read from a source, before any schema is
// applied. Raw holds the verbatim value bytes: the 4 little-endian value
// bytes for binary sources, the value text for text sources.
type Record struct {
	Name   string
	Value  float64
	Tag    Tag
	Raw    []byte
	Offset int64
	Source Mode
}

// Options selects how a source is decoded. Markers are only consulted in
// embedded mode (or auto mode when StartMarker is set); the engine has no
// built-in signature.
type Options struct {
	Mode        Mode
	PayloadMode Mode
	StartMarker []byte
	EndMarker   []byte
	Metrics     *common.Metrics
}

// ParseMarker accepts either a "hex:" prefixed byte string or literal text.
func ParseMarker(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	if rest, ok := strings.CutPrefix(s, "hex:"); ok {
		rest = strings.ReplaceAll(rest, " ", "")
		if len(rest)%2 != 0 {
			return nil, fmt.Errorf("marker %q: odd number of hex digits", s)
		}
		out := make([]byte, len(rest)/2)
		for i := range out {
			b, err := strconv.ParseUint(rest[2*i:2*i+2], 16, 8)
			if err != nil {
				return nil, fmt.Errorf("marker %q: %w", s, err)
			}
			out[i] = byte(b)
		}
		return out, nil
	}
	return []byte(s), nil
}

var (
	ErrExtraction         = errors.New("extraction error")
	ErrMarkerNotFound     = errors.New("start marker not found")
	ErrNoMarker           = errors.New("no start marker configured")
	ErrUnrecognizedSource = errors.New("unrecognized parameter source")
)

// ExtractionError aborts an extraction. It wraps one of the sentinel errors
// above and matches ErrExtraction.
type ExtractionError struct {
	Err    error
	Offset int64
	Detail string
}

func (e *ExtractionError) Error() string {
	msg := "extract: " + e.Err.Error()
	if e.Offset >= 0 {
		msg += fmt.Sprintf(" at offset 0x%X", e.Offset)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *ExtractionError) Unwrap() error { return e.Err }

func (e *ExtractionError) Is(target error) bool { return target == ErrExtraction }

const (
	CodeLength       = "EXT-LENGTH"
	CodeTruncated    = "EXT-TRUNCATED"
	CodeName         = "EXT-NAME"
	CodeSyntax       = "EXT-SYNTAX"
	CodeValue        = "EXT-VALUE"
	CodeDuplicate    = "EXT-DUPLICATE"
	CodeUnterminated = "EXT-UNTERMINATED"
)
