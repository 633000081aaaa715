package rules

import (
	"fmt"
	"math"

	"example.com/paramgate/internal/diag"
	"example.com/paramgate/internal/extract"
	"example.com/paramgate/internal/params"
)

const (
	RuleUnknown = "PARAM-UNKNOWN"
	RuleType    = "PARAM-TYPE"
	RuleRange   = "PARAM-RANGE"
	RuleEnum    = "PARAM-ENUM"
	RuleBitmask = "PARAM-BITMASK"
)

// DefaultRulePack is the built-in reconciliation pack. Order is evaluation
// order.
func DefaultRulePack() RulePack {
	return RulePack{
		RulePackId: "paramgate-default",
		Version:    "1",
		Rules: []Rule{
			{RuleId: RuleUnknown, Name: "parameter not described by schema", Check: "CheckKnown", Severity: diag.WARN},
			{RuleId: RuleType, Name: "raw type incompatible with declared type", Check: "CheckType", Severity: diag.ERROR},
			{RuleId: RuleRange, Name: "value outside declared bounds", Check: "CheckRange", Severity: diag.WARN},
			{RuleId: RuleEnum, Name: "value without enumeration label", Check: "CheckEnum", Severity: diag.WARN},
			{RuleId: RuleBitmask, Name: "bits set without label", Check: "CheckBitmask", Severity: diag.WARN},
		},
	}
}

func (e *Engine) RegisterBuiltins() {
	e.Register("CheckKnown", params.StatusUnknown, CheckKnown)
	e.Register("CheckType", params.StatusTypeMismatch, CheckType)
	e.Register("CheckRange", params.StatusOutOfRange, CheckRange)
	e.Register("CheckEnum", params.StatusOutOfRange, CheckEnum)
	e.Register("CheckBitmask", params.StatusOutOfRange, CheckBitmask)
}

// NewDefaultEngine returns an engine running rp with every built-in check
// registered.
func NewDefaultEngine(rp RulePack) *Engine {
	e := NewEngine(rp)
	e.RegisterBuiltins()
	return e
}

func CheckKnown(ctx *Context) (string, bool) {
	if ctx.Def != nil {
		return "", false
	}
	return fmt.Sprintf("not described by schema; kept as raw %s value %s",
		ctx.Record.Tag, params.FormatNumber(ctx.Record.Value, false)), true
}

// CheckType flags values the declared type cannot hold: unknown raw tags,
// non-finite values, fractions for integral types and values wider than the
// declared or tagged storage.
func CheckType(ctx *Context) (string, bool) {
	rec := ctx.Record
	v := rec.Value
	if rec.Tag != extract.TagNone && !rec.Tag.Known() {
		return fmt.Sprintf("unknown raw type %s", rec.Tag), true
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "value is not finite", true
	}
	if rec.Tag.Integral() {
		if lo, hi := rec.Tag.Limits(); v < lo || v > hi || v != math.Trunc(v) {
			return fmt.Sprintf("value %s does not fit raw type %s", params.FormatNumber(v, false), rec.Tag), true
		}
	}
	def := ctx.Def
	if def == nil {
		return "", false
	}
	if def.Type.Integral() && v != math.Trunc(v) {
		return fmt.Sprintf("non-integral value %s for %s parameter", params.FormatNumber(v, false), def.Type), true
	}
	if lo, hi := def.Type.Limits(); v < lo || v > hi {
		return fmt.Sprintf("value %s does not fit declared type %s", params.FormatNumber(v, false), def.Type), true
	}
	return "", false
}

func CheckRange(ctx *Context) (string, bool) {
	def := ctx.Def
	if def == nil || def.InRange(ctx.Record.Value) {
		return "", false
	}
	return fmt.Sprintf("value %s outside declared bounds %s",
		params.FormatNumber(ctx.Record.Value, false), params.BoundsString(def)), true
}

func CheckEnum(ctx *Context) (string, bool) {
	def := ctx.Def
	if def == nil || len(def.Values) == 0 {
		return "", false
	}
	if _, ok := def.ValueLabel(ctx.Record.Value); ok {
		return "", false
	}
	return fmt.Sprintf("value %s has no enumeration label", params.FormatNumber(ctx.Record.Value, false)), true
}

func CheckBitmask(ctx *Context) (string, bool) {
	def := ctx.Def
	v := ctx.Record.Value
	if def == nil || len(def.Bits) == 0 || v != math.Trunc(v) {
		return "", false
	}
	extra := uint32(int64(v)) &^ def.LabeledMask()
	if extra == 0 {
		return "", false
	}
	return fmt.Sprintf("bits 0x%X set without a label", extra), true
}
