// Package outcome normalizes heterogeneous decision execution reports into
// a closed six-variant type. Ensure is total: whatever shape a caller or a
// legacy producer hands over, the result is always one of the six variants,
// never an error. Consumers dispatch through Handler so the compiler keeps
// them exhaustive when a variant is added.
package outcome

import (
	"fmt"
	"sort"
)

// Type tags an outcome variant. The set is closed; Ensure maps anything
// else to TypeHalted.
type Type string

const (
	TypeExecuted    Type = "executed"
	TypeHalted      Type = "halted"
	TypeDeferred    Type = "deferred"
	TypeTransformed Type = "transformed"
	TypeExpired     Type = "expired"
	TypeDeclined    Type = "declined"
)

// Valid reports whether t is one of the six variants.
func (t Type) Valid() bool {
	switch t {
	case TypeExecuted, TypeHalted, TypeDeferred, TypeTransformed, TypeExpired, TypeDeclined:
		return true
	}
	return false
}

// legacyAliases maps retired producer tags to current variants. Adding an
// alias is a one-line change here.
var legacyAliases = map[string]Type{
	"DONE":     TypeExecuted,
	"COMPLETE": TypeExecuted,
	"BLOCKED":  TypeHalted,
	"WAITING":  TypeDeferred,
	"MAPPED":   TypeTransformed,
	"TIMEOUT":  TypeExpired,
	"REJECTED": TypeDeclined,
}

// Outcome is the normalized result of executing a decision.
type Outcome struct {
	Type    Type           `json:"type"`
	Summary string         `json:"summary"`
	Details map[string]any `json:"details,omitempty"`
}

// Variant constructors.

func Executed(summary string) Outcome    { return Outcome{Type: TypeExecuted, Summary: summary} }
func Deferred(summary string) Outcome    { return Outcome{Type: TypeDeferred, Summary: summary} }
func Transformed(summary string) Outcome { return Outcome{Type: TypeTransformed, Summary: summary} }
func Expired(summary string) Outcome     { return Outcome{Type: TypeExpired, Summary: summary} }
func Declined(summary string) Outcome    { return Outcome{Type: TypeDeclined, Summary: summary} }

// Halted carries details because it doubles as the normalizer's safe
// default and the rejection shape for missing fields.
func Halted(summary string, details map[string]any) Outcome {
	return Outcome{Type: TypeHalted, Summary: summary, Details: details}
}

// Ensure coerces an arbitrary value into a valid Outcome. A value already
// carrying a valid tag and string summary passes through unchanged; a known
// legacy tag is rewritten to its current variant with the summary kept;
// everything else becomes halted with the fallback summary and a diagnostic
// detail of what arrived.
func Ensure(raw any, fallbackSummary string) Outcome {
	switch v := raw.(type) {
	case Outcome:
		if v.Type.Valid() {
			return v
		}
		if mapped, ok := legacyAliases[string(v.Type)]; ok {
			v.Type = mapped
			return v
		}
	case *Outcome:
		if v != nil {
			return Ensure(*v, fallbackSummary)
		}
	case map[string]any:
		tag, _ := v["type"].(string)
		summary, hasSummary := v["summary"].(string)
		if !hasSummary {
			break
		}
		details, _ := v["details"].(map[string]any)
		if Type(tag).Valid() {
			return Outcome{Type: Type(tag), Summary: summary, Details: details}
		}
		if mapped, ok := legacyAliases[tag]; ok {
			return Outcome{Type: mapped, Summary: summary, Details: details}
		}
	}

	return Halted(fallbackSummary, map[string]any{
		"receivedType": kindOf(raw),
		"receivedKeys": keysOf(raw),
	})
}

// FieldsCheck is the result of RequireFields.
type FieldsCheck struct {
	OK      bool     `json:"ok"`
	Outcome *Outcome `json:"outcome,omitempty"`
}

// RequireFields verifies that every listed field is present on obj. A field
// present with a nil value still counts as present; only absent keys are
// reported, in the order the caller listed them.
func RequireFields(obj map[string]any, fields []string) FieldsCheck {
	var missing []string
	for _, f := range fields {
		if _, ok := obj[f]; !ok {
			missing = append(missing, f)
		}
	}
	if len(missing) == 0 {
		return FieldsCheck{OK: true}
	}
	o := Halted("MISSING_FIELDS", map[string]any{"missing": missing})
	return FieldsCheck{OK: false, Outcome: &o}
}

// Summarize returns the outcome's summary line.
func Summarize(o Outcome) string {
	return o.Summary
}

// Handler consumes an outcome exhaustively. Adding a variant extends this
// interface, which breaks every consumer at compile time until it handles
// the new case.
type Handler interface {
	Executed(o Outcome)
	Halted(o Outcome)
	Deferred(o Outcome)
	Transformed(o Outcome)
	Expired(o Outcome)
	Declined(o Outcome)
}

// Dispatch routes an outcome to the handler method for its variant. The
// value is normalized first, so even a hand-built invalid tag lands in
// Halted rather than being dropped.
func Dispatch(o Outcome, h Handler) {
	o = Ensure(o, o.Summary)
	switch o.Type {
	case TypeExecuted:
		h.Executed(o)
	case TypeHalted:
		h.Halted(o)
	case TypeDeferred:
		h.Deferred(o)
	case TypeTransformed:
		h.Transformed(o)
	case TypeExpired:
		h.Expired(o)
	case TypeDeclined:
		h.Declined(o)
	}
}

// kindOf names the shape of an arbitrary input for diagnostics.
func kindOf(raw any) string {
	switch raw.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case string:
		return "string"
	case float64, float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return "number"
	case map[string]any, Outcome, *Outcome:
		return "object"
	case []any:
		return "array"
	default:
		return fmt.Sprintf("%T", raw)
	}
}

// keysOf lists the own keys of a keyed input, sorted for determinism.
// Non-keyed inputs yield an empty list.
func keysOf(raw any) []string {
	m, ok := raw.(map[string]any)
	if !ok {
		return []string{}
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
