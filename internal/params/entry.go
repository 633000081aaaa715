package params

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"example.com/paramgate/internal/extract"
	"example.com/paramgate/internal/schema"
)

type Status int

const (
	StatusValid Status = iota
	StatusOutOfRange
	StatusTypeMismatch
	StatusUnknown
)

func (s Status) String() string {
	switch s {
	case StatusValid:
		return "Valid"
	case StatusOutOfRange:
		return "OutOfRange"
	case StatusTypeMismatch:
		return "TypeMismatch"
	case StatusUnknown:
		return "UnknownParameter"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

func ParseStatus(s string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "valid", "ok":
		return StatusValid, nil
	case "outofrange", "out-of-range", "range":
		return StatusOutOfRange, nil
	case "typemismatch", "type-mismatch", "type":
		return StatusTypeMismatch, nil
	case "unknownparameter", "unknown":
		return StatusUnknown, nil
	}
	return StatusValid, fmt.Errorf("unknown status %q", s)
}

// Entry is one parameter in a Set. Def is nil for parameters the schema does
// not describe; Raw is nil for entries created by editing.
type Entry struct {
	Name     string
	Value    float64
	Def      *schema.Definition
	Raw      *extract.Record
	Dirty    bool
	Status   Status
	Category Category
}

func (e *Entry) Resolved() bool { return e.Def != nil }

// Tag returns the type tag the entry was read with, or TagNone.
func (e *Entry) Tag() extract.Tag {
	if e.Raw == nil {
		return extract.TagNone
	}
	return e.Raw.Tag
}

// GroupKey returns the key of the group bucket holding the entry.
func (e *Entry) GroupKey() string {
	if e.Def == nil {
		return UngroupedKey
	}
	return e.Def.GroupKey()
}

// IsFloat reports whether the value is carried at float32 precision.
func (e *Entry) IsFloat() bool {
	if e.Def != nil {
		return e.Def.Type == schema.TypeFloat
	}
	return e.Tag() == extract.TagReal32
}

// FormatValue renders the value the way text sources write it: shortest
// float32 form for float parameters, plain digits otherwise.
func (e *Entry) FormatValue() string {
	return FormatNumber(e.Value, e.IsFloat())
}

// Describe returns the enum label or the list of set bit labels, if any.
func (e *Entry) Describe() string {
	if e.Def == nil {
		return ""
	}
	switch {
	case len(e.Def.Values) > 0:
		label, _ := e.Def.ValueLabel(e.Value)
		return label
	case len(e.Def.Bits) > 0 && e.Value == math.Trunc(e.Value):
		mask := uint32(int64(e.Value))
		var labels []string
		for _, bl := range e.Def.Bits {
			if mask&(1<<uint(bl.Bit)) != 0 {
				labels = append(labels, bl.Label)
			}
		}
		return strings.Join(labels, "|")
	}
	return ""
}

// FormatNumber prints the shortest text that parses back to v. Whole
// numbers never use exponent notation.
func FormatNumber(v float64, float32Precision bool) string {
	bitSize := 64
	if float32Precision {
		bitSize = 32
	}
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return strconv.FormatFloat(v, 'f', -1, bitSize)
	}
	return strconv.FormatFloat(v, 'g', -1, bitSize)
}

// Normalize rounds v to the storage precision of def. Float parameters are
// carried at float32 precision; everything else is left untouched.
func Normalize(def *schema.Definition, v float64) float64 {
	if def != nil && def.Type == schema.TypeFloat && !math.IsNaN(v) && !math.IsInf(v, 0) {
		if math.Abs(v) <= math.MaxFloat32 {
			return float64(float32(v))
		}
	}
	return v
}
