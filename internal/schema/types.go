package schema

import (
	"math"
	"strings"
)

// MaxNameLen is the fixed width of a parameter identifier on the wire.
const MaxNameLen = 16

type Type string

const (
	TypeInt8    Type = "int8"
	TypeInt16   Type = "int16"
	TypeInt32   Type = "int32"
	TypeFloat   Type = "float"
	TypeBitmask Type = "bitmask"
	TypeEnum    Type = "enum"
)

// ParseType maps a declared type name, including common aliases, to a Type.
func ParseType(s string) (Type, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "int8":
		return TypeInt8, true
	case "int16":
		return TypeInt16, true
	case "int32", "int":
		return TypeInt32, true
	case "float", "float32", "real32", "real":
		return TypeFloat, true
	case "bitmask", "bits":
		return TypeBitmask, true
	case "enum", "enumeration":
		return TypeEnum, true
	default:
		return "", false
	}
}

// Integral reports whether values of the type must be whole numbers.
func (t Type) Integral() bool {
	return t != TypeFloat
}

// Limits returns the representable range of the type's storage width.
// Bitmask and enum parameters are stored as int32.
func (t Type) Limits() (lo, hi float64) {
	switch t {
	case TypeInt8:
		return math.MinInt8, math.MaxInt8
	case TypeInt16:
		return math.MinInt16, math.MaxInt16
	case TypeInt32, TypeBitmask, TypeEnum:
		return math.MinInt32, math.MaxInt32
	default:
		return -math.MaxFloat32, math.MaxFloat32
	}
}

type BitLabel struct {
	Bit   int
	Label string
}

type ValueLabel struct {
	Value float64
	Label string
}

// Definition describes one parameter. Definitions are created by the loaders
// and never modified afterwards; entries share them by pointer.
type Definition struct {
	Name           string
	Type           Type
	Label          string
	Description    string
	Unit           string
	Min            *float64
	Max            *float64
	Increment      *float64
	Default        *float64
	Bits           []BitLabel
	Values         []ValueLabel
	Group          []string
	ReadOnly       bool
	RebootRequired bool
}

func (d *Definition) HasMin() bool { return d != nil && d.Min != nil }
func (d *Definition) HasMax() bool { return d != nil && d.Max != nil }

// InRange reports whether v lies within the declared bounds. Missing bounds
// are unbounded.
func (d *Definition) InRange(v float64) bool {
	if d == nil {
		return true
	}
	if d.Min != nil && v < *d.Min {
		return false
	}
	if d.Max != nil && v > *d.Max {
		return false
	}
	return true
}

func (d *Definition) ValueLabel(v float64) (string, bool) {
	if d == nil {
		return "", false
	}
	for _, vl := range d.Values {
		if vl.Value == v {
			return vl.Label, true
		}
	}
	return "", false
}

func (d *Definition) BitLabel(bit int) (string, bool) {
	if d == nil {
		return "", false
	}
	for _, bl := range d.Bits {
		if bl.Bit == bit {
			return bl.Label, true
		}
	}
	return "", false
}

// LabeledMask returns the union of every labelled bit.
func (d *Definition) LabeledMask() uint32 {
	var mask uint32
	if d == nil {
		return 0
	}
	for _, bl := range d.Bits {
		mask |= 1 << uint(bl.Bit)
	}
	return mask
}

// GroupKey returns the group path joined with "/".
func (d *Definition) GroupKey() string {
	if d == nil {
		return ""
	}
	return strings.Join(d.Group, "/")
}

// ValidName reports whether name is a well-formed parameter identifier.
func ValidName(name string) bool {
	if name == "" || len(name) > MaxNameLen {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z':
		case c >= '0' && c <= '9', c == '_':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// Schema is an immutable set of definitions keyed by name. Definitions are
// held in a single backing slice and referenced by index.
type Schema struct {
	defs   []Definition
	index  map[string]int
	groups [][]string
}

// New validates defs and builds a Schema. It is used by every loader so the
// invariants hold regardless of the document format.
func New(defs []Definition) (*Schema, error) {
	s := &Schema{
		defs:  make([]Definition, 0, len(defs)),
		index: make(map[string]int, len(defs)),
	}
	seenGroups := make(map[string]bool)
	for i := range defs {
		d := defs[i]
		if err := checkDefinition(&d); err != nil {
			err.Path = indexPath("definitions", i)
			return nil, err
		}
		if _, exists := s.index[d.Name]; exists {
			return nil, &ParseError{Path: indexPath("definitions", i), Param: d.Name, Msg: "duplicate parameter name"}
		}
		s.index[d.Name] = len(s.defs)
		s.defs = append(s.defs, d)
		key := d.GroupKey()
		if !seenGroups[key] {
			seenGroups[key] = true
			s.groups = append(s.groups, append([]string(nil), d.Group...))
		}
	}
	return s, nil
}

func (s *Schema) Lookup(name string) (*Definition, bool) {
	if s == nil {
		return nil, false
	}
	i, ok := s.index[name]
	if !ok {
		return nil, false
	}
	return &s.defs[i], true
}

func (s *Schema) Len() int {
	if s == nil {
		return 0
	}
	return len(s.defs)
}

// Definitions returns pointers to every definition in document order.
func (s *Schema) Definitions() []*Definition {
	if s == nil {
		return nil
	}
	out := make([]*Definition, len(s.defs))
	for i := range s.defs {
		out[i] = &s.defs[i]
	}
	return out
}

func (s *Schema) Names() []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s.defs))
	for i := range s.defs {
		out[i] = s.defs[i].Name
	}
	return out
}

// Groups lists the distinct group paths in first-seen order.
func (s *Schema) Groups() [][]string {
	if s == nil {
		return nil
	}
	out := make([][]string, len(s.groups))
	for i, g := range s.groups {
		out[i] = append([]string(nil), g...)
	}
	return out
}
