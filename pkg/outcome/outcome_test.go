package outcome

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsurePassesValidThrough(t *testing.T) {
	o := Ensure(Outcome{Type: TypeExecuted, Summary: "done", Details: map[string]any{"n": 1}}, "fallback")
	assert.Equal(t, TypeExecuted, o.Type)
	assert.Equal(t, "done", o.Summary)
	assert.Equal(t, map[string]any{"n": 1}, o.Details)

	o = Ensure(map[string]any{"type": "deferred", "summary": "queued"}, "fallback")
	assert.Equal(t, TypeDeferred, o.Type)
	assert.Equal(t, "queued", o.Summary)
}

func TestEnsureMapsLegacyTags(t *testing.T) {
	cases := map[string]Type{
		"DONE":     TypeExecuted,
		"COMPLETE": TypeExecuted,
		"BLOCKED":  TypeHalted,
		"WAITING":  TypeDeferred,
		"MAPPED":   TypeTransformed,
		"TIMEOUT":  TypeExpired,
		"REJECTED": TypeDeclined,
	}
	for legacy, want := range cases {
		o := Ensure(map[string]any{"type": legacy, "summary": "Legacy success"}, "fallback")
		assert.Equal(t, want, o.Type, legacy)
		assert.Equal(t, "Legacy success", o.Summary, legacy)
	}

	// Typed values with a legacy tag normalize the same way.
	o := Ensure(Outcome{Type: "DONE", Summary: "Legacy success"}, "fallback")
	assert.Equal(t, TypeExecuted, o.Type)
	assert.Equal(t, "Legacy success", o.Summary)
}

func TestEnsureUnknownShapeFallsBack(t *testing.T) {
	o := Ensure(map[string]any{"type": "unknown"}, "fallback")
	require.Equal(t, TypeHalted, o.Type)
	assert.Equal(t, "fallback", o.Summary)
	assert.Equal(t, "object", o.Details["receivedType"])
	assert.Equal(t, []string{"type"}, o.Details["receivedKeys"])
}

func TestEnsureNonObjectInputs(t *testing.T) {
	cases := []struct {
		raw  any
		kind string
	}{
		{nil, "null"},
		{true, "boolean"},
		{"oops", "string"},
		{42, "number"},
		{3.14, "number"},
		{[]any{"a"}, "array"},
	}
	for _, tc := range cases {
		o := Ensure(tc.raw, "fallback")
		require.Equal(t, TypeHalted, o.Type)
		assert.Equal(t, tc.kind, o.Details["receivedType"])
		assert.Equal(t, []string{}, o.Details["receivedKeys"])
	}

	var nilOutcome *Outcome
	o := Ensure(nilOutcome, "fallback")
	assert.Equal(t, TypeHalted, o.Type)
	assert.Equal(t, "fallback", o.Summary)
}

func TestEnsureKeysAreSorted(t *testing.T) {
	o := Ensure(map[string]any{"zeta": 1, "alpha": 2, "mid": 3}, "fallback")
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, o.Details["receivedKeys"])
}

func TestRequireFields(t *testing.T) {
	check := RequireFields(map[string]any{"foo": "bar"}, []string{"foo"})
	assert.True(t, check.OK)
	assert.Nil(t, check.Outcome)

	check = RequireFields(map[string]any{"foo": "bar"}, []string{"foo", "missing"})
	require.False(t, check.OK)
	require.NotNil(t, check.Outcome)
	assert.Equal(t, TypeHalted, check.Outcome.Type)
	assert.Equal(t, "MISSING_FIELDS", check.Outcome.Summary)
	assert.Equal(t, []string{"missing"}, check.Outcome.Details["missing"])

	// Missing fields are reported in the order the caller listed them.
	check = RequireFields(map[string]any{}, []string{"b", "a"})
	require.False(t, check.OK)
	assert.Equal(t, []string{"b", "a"}, check.Outcome.Details["missing"])

	// Present-but-nil counts as present.
	check = RequireFields(map[string]any{"foo": nil}, []string{"foo"})
	assert.True(t, check.OK)
}

func TestSummarize(t *testing.T) {
	assert.Equal(t, "ready", Summarize(Executed("ready")))
}

type recordingHandler struct {
	got  Type
	seen Outcome
}

func (r *recordingHandler) Executed(o Outcome)    { r.got, r.seen = TypeExecuted, o }
func (r *recordingHandler) Halted(o Outcome)      { r.got, r.seen = TypeHalted, o }
func (r *recordingHandler) Deferred(o Outcome)    { r.got, r.seen = TypeDeferred, o }
func (r *recordingHandler) Transformed(o Outcome) { r.got, r.seen = TypeTransformed, o }
func (r *recordingHandler) Expired(o Outcome)     { r.got, r.seen = TypeExpired, o }
func (r *recordingHandler) Declined(o Outcome)    { r.got, r.seen = TypeDeclined, o }

func TestDispatchCoversEveryVariant(t *testing.T) {
	for _, typ := range []Type{TypeExecuted, TypeHalted, TypeDeferred, TypeTransformed, TypeExpired, TypeDeclined} {
		h := &recordingHandler{}
		Dispatch(Outcome{Type: typ, Summary: "s"}, h)
		assert.Equal(t, typ, h.got)
	}
}

func TestDispatchNormalizesInvalidTag(t *testing.T) {
	h := &recordingHandler{}
	Dispatch(Outcome{Type: "garbage", Summary: "kept"}, h)
	assert.Equal(t, TypeHalted, h.got)
	assert.Equal(t, "kept", h.seen.Summary)
}
