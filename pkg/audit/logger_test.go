package audit_test

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tillerlabs/tiller/pkg/audit"
	"github.com/tillerlabs/tiller/pkg/identity"
)

func decodeLine(t *testing.T, line string) audit.Event {
	t.Helper()
	require.True(t, strings.HasPrefix(line, "AUDIT: "))
	jsonPart := strings.TrimSpace(strings.TrimPrefix(line, "AUDIT: "))

	var event audit.Event
	require.NoError(t, json.Unmarshal([]byte(jsonPart), &event))
	return event
}

func TestRecordWritesStructuredJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := audit.NewLoggerWithWriter(&buf)

	err := logger.Record(context.Background(), audit.EventRisk, "score", "memory.compact", nil)
	require.NoError(t, err)

	event := decodeLine(t, buf.String())
	assert.Equal(t, audit.EventRisk, event.Type)
	assert.Equal(t, "score", event.Action)
	assert.Equal(t, "memory.compact", event.Resource)
	assert.Equal(t, "system", event.ActorID)
	assert.Len(t, event.ID, 36)
	assert.False(t, event.Timestamp.IsZero())
}

func TestRecordPicksUpPrincipal(t *testing.T) {
	var buf bytes.Buffer
	logger := audit.NewLoggerWithWriter(&buf)

	ctx := identity.WithPrincipal(context.Background(), identity.Principal{
		Subject: "pod:alpha",
		Type:    identity.PrincipalPod,
		PodID:   "pod-alpha",
	})
	require.NoError(t, logger.Record(ctx, audit.EventDecision, "append", "governance", nil))

	event := decodeLine(t, buf.String())
	assert.Equal(t, "pod:alpha", event.ActorID)
	assert.Equal(t, "pod-alpha", event.PodID)
}

func TestRecordWithMetadata(t *testing.T) {
	var buf bytes.Buffer
	logger := audit.NewLoggerWithWriter(&buf)

	meta := map[string]any{"reason_code": "risk_ok", "score": 0.35}
	require.NoError(t, logger.Record(context.Background(), audit.EventRisk, "gate", "memory.compact", meta))

	event := decodeLine(t, buf.String())
	assert.Equal(t, "risk_ok", event.Metadata["reason_code"])
}

func TestRecordOneLinePerEvent(t *testing.T) {
	var buf bytes.Buffer
	logger := audit.NewLoggerWithWriter(&buf)

	require.NoError(t, logger.Record(context.Background(), audit.EventSystem, "start", "kernel", nil))
	require.NoError(t, logger.Record(context.Background(), audit.EventSystem, "stop", "kernel", nil))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 2)
}

func TestNopLogger(t *testing.T) {
	assert.NoError(t, audit.Nop().Record(context.Background(), audit.EventSystem, "noop", "", nil))
}
