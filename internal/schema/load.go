package schema

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Document is the YAML form of a schema. Unknown keys anywhere in the tree
// are ignored.
type Document struct {
	Version   int                 `yaml:"version"`
	Templates map[string]Template `yaml:"templates"`
	Groups    []Group             `yaml:"groups"`
	Params    []Param             `yaml:"params"`
}

// Template is a named, reusable block of parameters. Including it from a
// group prefixes every parameter name with the include's prefix.
type Template struct {
	Params  []Param   `yaml:"params"`
	Include []Include `yaml:"include"`
}

type Group struct {
	Name    string    `yaml:"name"`
	Label   string    `yaml:"label"`
	Params  []Param   `yaml:"params"`
	Groups  []Group   `yaml:"groups"`
	Include []Include `yaml:"include"`
}

type Include struct {
	Template string `yaml:"template"`
	Prefix   string `yaml:"prefix"`
}

type Param struct {
	Name           string     `yaml:"name"`
	Type           string     `yaml:"type"`
	Label          string     `yaml:"label"`
	Description    string     `yaml:"description"`
	Unit           string     `yaml:"unit"`
	Min            *float64   `yaml:"min"`
	Max            *float64   `yaml:"max"`
	Increment      *float64   `yaml:"increment"`
	Default        *float64   `yaml:"default"`
	Bits           LabelTable `yaml:"bits"`
	Values         LabelTable `yaml:"values"`
	ReadOnly       bool       `yaml:"readOnly"`
	RebootRequired bool       `yaml:"rebootRequired"`
}

// LabelTable accepts either a mapping (`0: Roll`) or a list of
// `{bit|value|code: N, label: L}` items. Repeated keys are kept so the
// loader can reject them with a precise message.
type LabelTable struct {
	entries []labelEntry
}

func (t *LabelTable) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			k, v := node.Content[i], node.Content[i+1]
			e, err := parseLabelKey(k)
			if err != nil {
				return err
			}
			e.Label = v.Value
			t.entries = append(t.entries, e)
		}
	case yaml.SequenceNode:
		for _, item := range node.Content {
			if item.Kind != yaml.MappingNode {
				return fmt.Errorf("line %d: label item must be a mapping", item.Line)
			}
			var e labelEntry
			haveKey := false
			for i := 0; i+1 < len(item.Content); i += 2 {
				k, v := item.Content[i], item.Content[i+1]
				switch k.Value {
				case "bit", "value", "code":
					parsed, err := parseLabelKey(v)
					if err != nil {
						return err
					}
					e.Key, e.Text = parsed.Key, parsed.Text
					haveKey = true
				case "label", "name":
					e.Label = v.Value
				}
			}
			if !haveKey {
				return fmt.Errorf("line %d: label item missing bit/value", item.Line)
			}
			t.entries = append(t.entries, e)
		}
	case 0:
	default:
		if node.Tag == "!!null" {
			return nil
		}
		return fmt.Errorf("line %d: label table must be a mapping or a list", node.Line)
	}
	return nil
}

func parseLabelKey(n *yaml.Node) (labelEntry, error) {
	text := strings.TrimSpace(n.Value)
	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		if iv, ierr := strconv.ParseInt(text, 0, 64); ierr == nil {
			return labelEntry{Key: float64(iv), Text: text}, nil
		}
		return labelEntry{}, fmt.Errorf("line %d: label key %q is not a number", n.Line, text)
	}
	return labelEntry{Key: v, Text: text}, nil
}

// Load parses a schema document. XML parameter definition files are
// recognised by a leading '<'; everything else is read as YAML.
func Load(data []byte) (*Schema, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, &ParseError{Msg: "empty schema document"}
	}
	if trimmed[0] == '<' {
		return LoadXML(trimmed)
	}
	return LoadYAML(trimmed)
}

func LoadYAML(data []byte) (*Schema, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &ParseError{Msg: "decode yaml", Err: err}
	}
	return FromDocument(doc)
}

// LoadFile reads and parses the schema at path.
func LoadFile(path string) (*Schema, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("empty schema path")
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("schema path %s is a directory", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xml":
		return LoadXML(data)
	case ".yaml", ".yml":
		return LoadYAML(data)
	}
	return Load(data)
}

// FromDocument expands groups and template includes into a Schema.
func FromDocument(doc Document) (*Schema, error) {
	b := &docBuilder{doc: &doc}
	if err := b.params(nil, "", "", doc.Params); err != nil {
		return nil, err
	}
	for i, g := range doc.Groups {
		if err := b.group(nil, indexPath("groups", i), g); err != nil {
			return nil, err
		}
	}
	return New(b.defs)
}

type docBuilder struct {
	doc   *Document
	defs  []Definition
	stack []string
}

func (b *docBuilder) group(parent []string, path string, g Group) error {
	name := strings.TrimSpace(g.Name)
	if name == "" {
		return &ParseError{Path: path, Msg: "group missing name"}
	}
	if strings.Contains(name, "/") {
		return &ParseError{Path: path, Msg: fmt.Sprintf("group name %q contains the path separator \"/\"", name)}
	}
	groupPath := append(append([]string(nil), parent...), name)
	if err := b.params(groupPath, path, "", g.Params); err != nil {
		return err
	}
	for i, inc := range g.Include {
		if err := b.include(groupPath, joinPath(path, "include", i), inc.Prefix, inc); err != nil {
			return err
		}
	}
	for i, child := range g.Groups {
		if err := b.group(groupPath, joinPath(path, "groups", i), child); err != nil {
			return err
		}
	}
	return nil
}

func (b *docBuilder) params(group []string, path, prefix string, ps []Param) error {
	for i, p := range ps {
		where := joinPath(path, "params", i)
		name := p.Name
		if strings.TrimSpace(name) != "" {
			name = prefix + strings.TrimSpace(name)
		}
		def, err := buildDefinition(where, paramInput{
			Name:           name,
			Type:           p.Type,
			Label:          p.Label,
			Description:    p.Description,
			Unit:           p.Unit,
			Min:            p.Min,
			Max:            p.Max,
			Increment:      p.Increment,
			Default:        p.Default,
			Bits:           p.Bits.entries,
			Values:         p.Values.entries,
			Group:          group,
			ReadOnly:       p.ReadOnly,
			RebootRequired: p.RebootRequired,
		})
		if err != nil {
			return err
		}
		b.defs = append(b.defs, def)
	}
	return nil
}

// include expands a template reference. The stack holds the chain of
// templates currently being expanded; meeting one of them again is a cycle.
func (b *docBuilder) include(group []string, path, prefix string, inc Include) error {
	name := strings.TrimSpace(inc.Template)
	if name == "" {
		return &ParseError{Path: path, Msg: "include missing template"}
	}
	for i, open := range b.stack {
		if open == name {
			cycle := append(append([]string(nil), b.stack[i:]...), name)
			return &ParseError{Path: path, Msg: "template include cycle: " + strings.Join(cycle, " -> ")}
		}
	}
	tmpl, ok := b.doc.Templates[name]
	if !ok {
		return &ParseError{Path: path, Msg: fmt.Sprintf("unknown template %q", name)}
	}
	b.stack = append(b.stack, name)
	defer func() { b.stack = b.stack[:len(b.stack)-1] }()

	tpath := "templates." + name
	if err := b.params(group, tpath, prefix, tmpl.Params); err != nil {
		return err
	}
	for i, nested := range tmpl.Include {
		if err := b.include(group, joinPath(tpath, "include", i), prefix+nested.Prefix, nested); err != nil {
			return err
		}
	}
	return nil
}
