package rules

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"example.com/paramgate/internal/common"
	"example.com/paramgate/internal/diag"
	"example.com/paramgate/internal/extract"
	"example.com/paramgate/internal/params"
	"example.com/paramgate/internal/schema"
)

type Rule struct {
	RuleId   string        `json:"ruleId" yaml:"ruleId"`
	Name     string        `json:"name,omitempty" yaml:"name,omitempty"`
	Check    string        `json:"check" yaml:"check"`
	Severity diag.Severity `json:"severity" yaml:"severity"`
	Disabled bool          `json:"disabled,omitempty" yaml:"disabled,omitempty"`
	Refs     []string      `json:"refs,omitempty" yaml:"refs,omitempty"`
}

type RulePack struct {
	RulePackId string `json:"rulePackId" yaml:"rulePackId"`
	Version    string `json:"version" yaml:"version"`
	Rules      []Rule `json:"rules" yaml:"rules"`
}

// Context is what a check sees for one record. Def is nil when the schema
// does not describe the parameter.
type Context struct {
	Record extract.Record
	Def    *schema.Definition
}

// CheckFunc inspects one record. It returns a message and true when the
// rule is violated.
type CheckFunc func(ctx *Context) (string, bool)

type check struct {
	fn     CheckFunc
	status params.Status
}

// Engine reconciles extracted records against a schema using the checks
// named by its rule pack. After registration an Engine is read-only and may
// be shared between goroutines.
type Engine struct {
	rulePack RulePack
	registry map[string]check
	metrics  *common.Metrics
}

func NewEngine(rp RulePack) *Engine {
	return &Engine{
		rulePack: rp,
		registry: make(map[string]check),
	}
}

// Register binds a check function to name. A triggered check marks the
// entry with status.
func (e *Engine) Register(name string, status params.Status, fn CheckFunc) {
	e.registry[name] = check{fn: fn, status: status}
}

// SetMetrics counts emitted diagnostics on m.
func (e *Engine) SetMetrics(m *common.Metrics) {
	e.metrics = m
}

func (e *Engine) RulePack() RulePack { return e.rulePack }

// Reconcile joins records with sc and returns the resulting set plus the
// diagnostics in record order. Records are evaluated against the rules in
// pack order; an UnknownParameter or TypeMismatch finding ends the
// evaluation of that record. Schema definitions with no record are not
// added.
func (e *Engine) Reconcile(records []extract.Record, sc *schema.Schema) (*params.Set, diag.List) {
	set := params.New()
	var diags diag.List
	add := func(d diag.Diagnostic) {
		diags.Add(d)
		e.metrics.IncDiagnostic()
	}

	var active []Rule
	for _, r := range e.rulePack.Rules {
		if r.Disabled {
			continue
		}
		if _, ok := e.registry[r.Check]; !ok {
			add(diag.Diagnostic{Severity: diag.WARN, Code: r.RuleId, Offset: diag.NoOffset,
				Message: fmt.Sprintf("no check registered for %q; rule skipped", r.Check)})
			continue
		}
		active = append(active, r)
	}

	for i := range records {
		rec := records[i]
		if prev, dup := set.Lookup(rec.Name); dup {
			off := diag.NoOffset
			if prev.Raw != nil {
				off = prev.Raw.Offset
			}
			add(diag.Diagnostic{Severity: diag.WARN, Code: CodeDuplicate, Param: rec.Name, Offset: rec.Offset,
				Message: fmt.Sprintf("duplicate record ignored; first occurrence at 0x%X", off)})
			continue
		}
		def, _ := sc.Lookup(rec.Name)
		ctx := &Context{Record: rec, Def: def}
		status := params.StatusValid
		for _, r := range active {
			c := e.registry[r.Check]
			msg, hit := c.fn(ctx)
			if !hit {
				continue
			}
			add(diag.Diagnostic{Severity: r.Severity, Code: r.RuleId, Param: rec.Name, Offset: rec.Offset, Message: msg})
			if status == params.StatusValid {
				status = c.status
			}
			if c.status == params.StatusUnknown || c.status == params.StatusTypeMismatch {
				break
			}
		}
		if def == nil && status == params.StatusValid {
			status = params.StatusUnknown
		}
		value := rec.Value
		if status != params.StatusTypeMismatch && status != params.StatusUnknown {
			value = params.Normalize(def, value)
		}
		raw := rec
		if err := set.Insert(&params.Entry{
			Name:   rec.Name,
			Value:  value,
			Def:    def,
			Raw:    &raw,
			Status: status,
		}); err != nil {
			add(diag.Diagnostic{Severity: diag.ERROR, Code: CodeDuplicate, Param: rec.Name, Offset: rec.Offset, Message: err.Error()})
		}
	}
	return set, diags
}

// CodeDuplicate reports a repeated name in the record list handed to
// Reconcile. The extractor already drops duplicates, so this only fires for
// hand-built record lists.
const CodeDuplicate = "PARAM-DUPLICATE"

type RuleCount struct {
	RuleId   string        `json:"ruleId"`
	Severity diag.Severity `json:"severity"`
	Count    int           `json:"count"`
}

type AcceptanceReport struct {
	Summary struct {
		Parameters int  `json:"parameters"`
		Total      int  `json:"total"`
		Errors     int  `json:"errors"`
		Warnings   int  `json:"warnings"`
		Infos      int  `json:"infos"`
		Pass       bool `json:"pass"`
	} `json:"summary"`
	Statuses map[string]int `json:"statuses"`
	Rules    []RuleCount    `json:"rules"`
	Findings diag.List      `json:"findings,omitempty"`
}

// MakeAcceptance summarises a reconciled set and its diagnostics. The set
// passes when no ERROR diagnostic was produced.
func MakeAcceptance(set *params.Set, diags diag.List) AcceptanceReport {
	var rep AcceptanceReport
	rep.Summary.Total = len(diags)
	rep.Summary.Errors = diags.Count(diag.ERROR)
	rep.Summary.Warnings = diags.Count(diag.WARN)
	rep.Summary.Infos = diags.Count(diag.INFO)
	rep.Summary.Pass = rep.Summary.Errors == 0
	rep.Statuses = make(map[string]int)
	if set != nil {
		rep.Summary.Parameters = set.Len()
		for st, n := range set.Counts() {
			rep.Statuses[st.String()] = n
		}
	}
	counts := make(map[string]int)
	var order []RuleCount
	for _, d := range diags {
		if _, seen := counts[d.Code]; !seen {
			order = append(order, RuleCount{RuleId: d.Code, Severity: d.Severity})
		}
		counts[d.Code]++
	}
	for i := range order {
		order[i].Count = counts[order[i].RuleId]
	}
	rep.Rules = order
	rep.Findings = diags
	return rep
}

// WriteAcceptanceJSON writes rep as indented JSON.
func WriteAcceptanceJSON(path string, rep AcceptanceReport) error {
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return err
	}
	return common.WriteFileAtomic(path, append(data, '\n'), 0o644)
}

// WriteDiagnosticsNDJSON writes one JSON object per diagnostic to path.
func WriteDiagnosticsNDJSON(path string, diags diag.List) error {
	return diags.WriteNDJSONFile(path)
}

// LoadRulePack reads a rule pack from JSON or YAML, chosen by extension.
// A loaded pack may be partial: rules that only override the severity of a
// built-in rule need just the rule id. Severities are case-insensitive.
func LoadRulePack(path string) (RulePack, error) {
	var rp RulePack
	b, err := os.ReadFile(path)
	if err != nil {
		return rp, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(b, &rp)
	default:
		err = yaml.Unmarshal(b, &rp)
	}
	if err != nil {
		return rp, fmt.Errorf("rule pack %s: %w", path, err)
	}
	for i := range rp.Rules {
		r := &rp.Rules[i]
		r.Severity = diag.Severity(strings.ToUpper(strings.TrimSpace(string(r.Severity))))
		if strings.TrimSpace(r.RuleId) == "" {
			return rp, fmt.Errorf("rule pack %s: %w: rules[%d] missing ruleId", path, ErrInvalidRulePack, i)
		}
		if r.Severity != "" && !knownSeverity(r.Severity) {
			return rp, fmt.Errorf("rule pack %s: %w: rule %s has severity %q", path, ErrInvalidRulePack, r.RuleId, r.Severity)
		}
	}
	return rp, nil
}

func knownSeverity(s diag.Severity) bool {
	return s == diag.ERROR || s == diag.WARN || s == diag.INFO
}

var ErrInvalidRulePack = errors.New("invalid rule pack")

// Validate checks a complete pack: unique ids, a check name and a known
// severity on every rule.
func (rp RulePack) Validate() error {
	seen := make(map[string]bool)
	for i, r := range rp.Rules {
		if strings.TrimSpace(r.RuleId) == "" {
			return fmt.Errorf("%w: rules[%d] missing ruleId", ErrInvalidRulePack, i)
		}
		if seen[r.RuleId] {
			return fmt.Errorf("%w: duplicate ruleId %s", ErrInvalidRulePack, r.RuleId)
		}
		seen[r.RuleId] = true
		if strings.TrimSpace(r.Check) == "" {
			return fmt.Errorf("%w: rule %s missing check", ErrInvalidRulePack, r.RuleId)
		}
		if !knownSeverity(r.Severity) {
			return fmt.Errorf("%w: rule %s has severity %q", ErrInvalidRulePack, r.RuleId, r.Severity)
		}
	}
	return nil
}

// WithOverrides returns a copy of rp with severities and disabled flags
// taken from overrides, matched by rule id. Rules only present in overrides
// are appended.
func (rp RulePack) WithOverrides(overrides RulePack) RulePack {
	out := rp
	out.Rules = append([]Rule(nil), rp.Rules...)
	if overrides.RulePackId != "" {
		out.RulePackId = overrides.RulePackId
	}
	if overrides.Version != "" {
		out.Version = overrides.Version
	}
	for _, o := range overrides.Rules {
		found := false
		for i := range out.Rules {
			if out.Rules[i].RuleId != o.RuleId {
				continue
			}
			found = true
			if o.Severity != "" {
				out.Rules[i].Severity = o.Severity
			}
			if o.Check != "" {
				out.Rules[i].Check = o.Check
			}
			out.Rules[i].Disabled = o.Disabled
		}
		if !found {
			out.Rules = append(out.Rules, o)
		}
	}
	return out
}
