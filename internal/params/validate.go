package params

import (
	"errors"
	"fmt"
	"math"

	"example.com/paramgate/internal/schema"
)

var (
	ErrValidation       = errors.New("validation failed")
	ErrUnknownParameter = errors.New("unknown parameter")
)

// ValidationError rejects an explicit edit. The entry is left untouched.
type ValidationError struct {
	Param  string
	Value  float64
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("params: %s = %s rejected: %s", e.Param, FormatNumber(e.Value, false), e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Validate applies the strict edit rules of def to v. A nil def accepts any
// finite value.
func Validate(name string, def *schema.Definition, v float64) error {
	reject := func(format string, args ...interface{}) error {
		return &ValidationError{Param: name, Value: v, Reason: fmt.Sprintf(format, args...)}
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return reject("value is not finite")
	}
	if def == nil {
		return nil
	}
	if def.ReadOnly {
		return reject("parameter is read-only")
	}
	if def.Type.Integral() && v != math.Trunc(v) {
		return reject("%s parameter needs a whole number", def.Type)
	}
	if lo, hi := def.Type.Limits(); v < lo || v > hi {
		return reject("does not fit %s", def.Type)
	}
	if !def.InRange(v) {
		return reject("outside %s", BoundsString(def))
	}
	if len(def.Values) > 0 {
		if _, ok := def.ValueLabel(v); !ok {
			return reject("not one of the %d enumerated values", len(def.Values))
		}
	}
	if len(def.Bits) > 0 {
		if extra := uint32(int32(v)) &^ def.LabeledMask(); extra != 0 {
			return reject("bits 0x%X have no label", extra)
		}
	}
	return nil
}

// BoundsString renders the declared range as [min, max], using -inf/+inf
// for a missing side.
func BoundsString(def *schema.Definition) string {
	lo, hi := "-inf", "+inf"
	if def.HasMin() {
		lo = FormatNumber(*def.Min, false)
	}
	if def.HasMax() {
		hi = FormatNumber(*def.Max, false)
	}
	return "[" + lo + ", " + hi + "]"
}
