package schema

import (
	"fmt"
	"math"
	"strings"
)

// labelEntry is one row of a bitmask or enumeration label table before it is
// resolved against the declared type.
type labelEntry struct {
	Key   float64
	Text  string
	Label string
}

// paramInput is the format-neutral form every loader produces for a single
// parameter before it becomes a Definition.
type paramInput struct {
	Name           string
	Type           string
	Label          string
	Description    string
	Unit           string
	Min            *float64
	Max            *float64
	Increment      *float64
	Default        *float64
	Bits           []labelEntry
	Values         []labelEntry
	Group          []string
	ReadOnly       bool
	RebootRequired bool
}

func buildDefinition(path string, in paramInput) (Definition, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return Definition{}, &ParseError{Path: path, Msg: "missing required field name"}
	}
	if !ValidName(name) {
		return Definition{}, &ParseError{Path: path, Param: name, Msg: fmt.Sprintf("malformed name (want up to %d of [A-Za-z0-9_])", MaxNameLen)}
	}
	if strings.TrimSpace(in.Type) == "" {
		return Definition{}, &ParseError{Path: path, Param: name, Msg: "missing required field type"}
	}
	typ, ok := ParseType(in.Type)
	if !ok {
		return Definition{}, &ParseError{Path: path, Param: name, Msg: fmt.Sprintf("unknown type %q", in.Type)}
	}
	def := Definition{
		Name:           name,
		Type:           typ,
		Label:          strings.TrimSpace(in.Label),
		Description:    strings.TrimSpace(in.Description),
		Unit:           strings.TrimSpace(in.Unit),
		Min:            in.Min,
		Max:            in.Max,
		Increment:      in.Increment,
		Default:        in.Default,
		Group:          append([]string(nil), in.Group...),
		ReadOnly:       in.ReadOnly,
		RebootRequired: in.RebootRequired,
	}
	seenBits := make(map[int]string)
	for _, e := range in.Bits {
		bit := int(e.Key)
		if float64(bit) != e.Key || bit < 0 || bit > 31 {
			return Definition{}, &ParseError{Path: path, Param: name, Msg: fmt.Sprintf("bit %q outside 0..31", e.Text)}
		}
		if prev, dup := seenBits[bit]; dup {
			return Definition{}, &ParseError{Path: path, Param: name, Msg: fmt.Sprintf("bit %d labelled twice (%q, %q)", bit, prev, e.Label)}
		}
		seenBits[bit] = e.Label
		def.Bits = append(def.Bits, BitLabel{Bit: bit, Label: strings.TrimSpace(e.Label)})
	}
	seenValues := make(map[float64]string)
	for _, e := range in.Values {
		if prev, dup := seenValues[e.Key]; dup {
			return Definition{}, &ParseError{Path: path, Param: name, Msg: fmt.Sprintf("value %s labelled twice (%q, %q)", e.Text, prev, e.Label)}
		}
		seenValues[e.Key] = e.Label
		def.Values = append(def.Values, ValueLabel{Value: e.Key, Label: strings.TrimSpace(e.Label)})
	}
	if err := checkDefinition(&def); err != nil {
		err.Path = path
		return Definition{}, err
	}
	return def, nil
}

// checkDefinition enforces the invariants shared by every loader and the
// cache.
func checkDefinition(d *Definition) *ParseError {
	if !ValidName(d.Name) {
		return &ParseError{Param: d.Name, Msg: "malformed name"}
	}
	if _, ok := ParseType(string(d.Type)); !ok {
		return &ParseError{Param: d.Name, Msg: fmt.Sprintf("unknown type %q", d.Type)}
	}
	for _, p := range []*float64{d.Min, d.Max, d.Increment, d.Default} {
		if p != nil && (math.IsNaN(*p) || math.IsInf(*p, 0)) {
			return &ParseError{Param: d.Name, Msg: "non-finite numeric field"}
		}
	}
	for _, g := range d.Group {
		if g == "" || strings.Contains(g, "/") {
			return &ParseError{Param: d.Name, Msg: fmt.Sprintf("malformed group path %q", d.GroupKey())}
		}
	}
	if d.Min != nil && d.Max != nil && *d.Min > *d.Max {
		return &ParseError{Param: d.Name, Msg: fmt.Sprintf("min %g > max %g", *d.Min, *d.Max)}
	}
	if d.Increment != nil && *d.Increment <= 0 {
		return &ParseError{Param: d.Name, Msg: fmt.Sprintf("increment %g must be positive", *d.Increment)}
	}
	if len(d.Bits) > 0 && len(d.Values) > 0 {
		return &ParseError{Param: d.Name, Msg: "bitmask and enumeration labels are mutually exclusive"}
	}
	if len(d.Bits) > 0 && !d.Type.Integral() {
		return &ParseError{Param: d.Name, Msg: fmt.Sprintf("bit labels require an integral type, got %s", d.Type)}
	}
	if d.Type.Integral() {
		for _, v := range d.Values {
			if v.Value != math.Trunc(v.Value) {
				return &ParseError{Param: d.Name, Msg: fmt.Sprintf("enumeration value %g is not integral for type %s", v.Value, d.Type)}
			}
		}
	}
	return nil
}
