package schema

import (
	"encoding/xml"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// XML parameter definition files follow the layout published with ArduPilot
// firmware builds (apm.pdef.xml): <parameters name=...> blocks under
// <vehicles> and <libraries>, each holding <param> elements with <field>
// children and an optional <values> table.
type xmlParamFile struct {
	XMLName   xml.Name   `xml:"paramfile"`
	Vehicles  []xmlBlock `xml:"vehicles>parameters"`
	Libraries []xmlBlock `xml:"libraries>parameters"`
}

type xmlBlock struct {
	Name   string     `xml:"name,attr"`
	Params []xmlParam `xml:"param"`
}

type xmlParam struct {
	Name          string     `xml:"name,attr"`
	HumanName     string     `xml:"humanName,attr"`
	Documentation string     `xml:"documentation,attr"`
	Fields        []xmlField `xml:"field"`
	Values        []xmlValue `xml:"values>value"`
}

type xmlField struct {
	Name  string `xml:"name,attr"`
	Value string `xml:",chardata"`
}

type xmlValue struct {
	Code  string `xml:"code,attr"`
	Label string `xml:",chardata"`
}

// LoadXML parses an XML parameter definition file. The declared type comes
// from an explicit Type field when present and is otherwise inferred:
// Bitmask → bitmask, a values table → enum, integral Range and Increment →
// int32, anything else → float.
func LoadXML(data []byte) (*Schema, error) {
	var file xmlParamFile
	if err := xml.Unmarshal(data, &file); err != nil {
		return nil, &ParseError{Msg: "decode xml", Err: err}
	}
	var defs []Definition
	add := func(section string, bi int, block xmlBlock, group []string) error {
		for pi, p := range block.Params {
			path := fmt.Sprintf("%s[%d].param[%d]", section, bi, pi)
			in, err := xmlParamInput(path, p)
			if err != nil {
				return err
			}
			in.Group = group
			def, err := buildDefinition(path, in)
			if err != nil {
				return err
			}
			defs = append(defs, def)
		}
		return nil
	}
	for i, block := range file.Vehicles {
		var group []string
		if name := strings.TrimSpace(block.Name); name != "" {
			group = []string{name}
		}
		if err := add("vehicles", i, block, group); err != nil {
			return nil, err
		}
	}
	for i, block := range file.Libraries {
		if err := add("libraries", i, block, libraryGroup(block.Name)); err != nil {
			return nil, err
		}
	}
	return New(defs)
}

// libraryGroup turns a library prefix such as "ATC_RAT_PIT_" into the path
// ATC/RAT/PIT.
func libraryGroup(prefix string) []string {
	var out []string
	for _, part := range strings.Split(strings.TrimSpace(prefix), "_") {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func xmlParamInput(path string, p xmlParam) (paramInput, error) {
	name := strings.TrimSpace(p.Name)
	if i := strings.LastIndex(name, ":"); i >= 0 {
		name = name[i+1:]
	}
	in := paramInput{
		Name:        name,
		Label:       p.HumanName,
		Description: p.Documentation,
	}
	var explicitType string
	for _, f := range p.Fields {
		val := strings.TrimSpace(f.Value)
		switch strings.ToLower(strings.TrimSpace(f.Name)) {
		case "range":
			parts := strings.Fields(val)
			if len(parts) != 2 {
				return in, &ParseError{Path: path, Param: name, Msg: fmt.Sprintf("malformed Range %q", val)}
			}
			lo, err1 := strconv.ParseFloat(parts[0], 64)
			hi, err2 := strconv.ParseFloat(parts[1], 64)
			if err1 != nil || err2 != nil {
				return in, &ParseError{Path: path, Param: name, Msg: fmt.Sprintf("malformed Range %q", val)}
			}
			in.Min, in.Max = &lo, &hi
		case "units":
			in.Unit = val
		case "increment":
			inc, err := strconv.ParseFloat(val, 64)
			if err != nil {
				return in, &ParseError{Path: path, Param: name, Msg: fmt.Sprintf("malformed Increment %q", val)}
			}
			in.Increment = &inc
		case "default":
			d, err := strconv.ParseFloat(val, 64)
			if err != nil {
				return in, &ParseError{Path: path, Param: name, Msg: fmt.Sprintf("malformed Default %q", val)}
			}
			in.Default = &d
		case "bitmask":
			bits, err := parseBitmaskField(val)
			if err != nil {
				return in, &ParseError{Path: path, Param: name, Msg: "malformed Bitmask", Err: err}
			}
			in.Bits = bits
		case "readonly":
			in.ReadOnly = strings.EqualFold(val, "true")
		case "rebootrequired":
			in.RebootRequired = strings.EqualFold(val, "true")
		case "type":
			explicitType = val
		}
	}
	for _, v := range p.Values {
		code := strings.TrimSpace(v.Code)
		key, err := strconv.ParseFloat(code, 64)
		if err != nil {
			return in, &ParseError{Path: path, Param: name, Msg: fmt.Sprintf("value code %q is not a number", code)}
		}
		in.Values = append(in.Values, labelEntry{Key: key, Text: code, Label: v.Label})
	}
	in.Type = explicitType
	if in.Type == "" {
		in.Type = string(inferType(in))
	}
	return in, nil
}

func parseBitmaskField(val string) ([]labelEntry, error) {
	var out []labelEntry
	for _, item := range strings.Split(val, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		k, label, ok := strings.Cut(item, ":")
		if !ok {
			return nil, fmt.Errorf("item %q missing ':'", item)
		}
		k = strings.TrimSpace(k)
		bit, err := strconv.Atoi(k)
		if err != nil {
			return nil, fmt.Errorf("bit %q is not an integer", k)
		}
		out = append(out, labelEntry{Key: float64(bit), Text: k, Label: label})
	}
	return out, nil
}

func inferType(in paramInput) Type {
	switch {
	case len(in.Bits) > 0:
		return TypeBitmask
	case len(in.Values) > 0:
		for _, v := range in.Values {
			if v.Key != math.Trunc(v.Key) {
				return TypeFloat
			}
		}
		return TypeEnum
	}
	integral := func(p *float64) bool { return p == nil || *p == math.Trunc(*p) }
	if in.Min != nil && in.Max != nil && in.Increment != nil &&
		integral(in.Min) && integral(in.Max) && integral(in.Increment) {
		return TypeInt32
	}
	return TypeFloat
}
