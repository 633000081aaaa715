// Package report renders a reconciled parameter set as JSON and PDF
// documents.
package report

import (
	"encoding/json"
	"os"
	"time"

	"example.com/paramgate/internal/common"
	"example.com/paramgate/internal/diag"
	"example.com/paramgate/internal/params"
	"example.com/paramgate/internal/rules"
)

// Meta describes the source a report was produced from.
type Meta struct {
	Source       string
	SourceDigest string
	Mode         string
	Schema       string
	Generated    time.Time
}

type ParameterRow struct {
	Name        string `json:"name"`
	Value       string `json:"value"`
	Type        string `json:"type,omitempty"`
	Unit        string `json:"unit,omitempty"`
	Bounds      string `json:"bounds,omitempty"`
	Group       string `json:"group"`
	Category    string `json:"category"`
	Status      string `json:"status"`
	Description string `json:"description,omitempty"`
	Dirty       bool   `json:"dirty,omitempty"`
}

type ParameterReport struct {
	Source       string                 `json:"source"`
	SourceDigest string                 `json:"sourceDigest,omitempty"`
	Mode         string                 `json:"mode,omitempty"`
	Schema       string                 `json:"schema,omitempty"`
	Generated    time.Time              `json:"generated"`
	SetDigest    string                 `json:"setDigest"`
	Acceptance   rules.AcceptanceReport `json:"acceptance"`
	Parameters   []ParameterRow         `json:"parameters"`
}

// Build collects the rows of set in name order together with the acceptance
// summary of diags.
func Build(set *params.Set, diags diag.List, meta Meta) ParameterReport {
	rep := ParameterReport{
		Source:       meta.Source,
		SourceDigest: meta.SourceDigest,
		Mode:         meta.Mode,
		Schema:       meta.Schema,
		Generated:    meta.Generated,
		SetDigest:    SetDigest(set),
		Acceptance:   rules.MakeAcceptance(set, diags),
	}
	if rep.Generated.IsZero() {
		rep.Generated = time.Now().UTC()
	}
	if set == nil {
		return rep
	}
	for _, e := range set.Sorted() {
		row := ParameterRow{
			Name:     e.Name,
			Value:    e.FormatValue(),
			Group:    e.GroupKey(),
			Category: e.Category.String(),
			Status:   e.Status.String(),
			Dirty:    e.Dirty,
		}
		if e.Def != nil {
			row.Type = string(e.Def.Type)
			row.Unit = e.Def.Unit
			row.Description = e.Def.Description
			if e.Def.HasMin() || e.Def.HasMax() {
				row.Bounds = params.BoundsString(e.Def)
			}
		}
		if label := e.Describe(); label != "" {
			row.Value += " (" + label + ")"
		}
		rep.Parameters = append(rep.Parameters, row)
	}
	return rep
}

// SetDigest is the SHA-256 over NAME=VALUE lines of set in name order. Two
// sets with the same names and values share a digest regardless of source
// format or order.
func SetDigest(set *params.Set) string {
	h := common.NewHasher()
	if set == nil {
		return h.Sum()
	}
	for _, e := range set.Sorted() {
		h.WriteString(e.Name)
		h.WriteString("=")
		h.WriteString(e.FormatValue())
		h.WriteString("\n")
	}
	return h.Sum()
}

func SaveJSON(rep ParameterReport, out string) error {
	b, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return err
	}
	return common.WriteFileAtomic(out, append(b, '\n'), 0o644)
}

func LoadJSON(path string) (ParameterReport, error) {
	var rep ParameterReport
	b, err := os.ReadFile(path)
	if err != nil {
		return rep, err
	}
	err = json.Unmarshal(b, &rep)
	return rep, err
}
