package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tillerlabs/tiller/pkg/constitution"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	require.Equal(t, "tiller", config.ServiceName)
	require.Equal(t, constitution.Version, config.ServiceVersion)
	require.Equal(t, "development", config.Environment)
	require.Equal(t, "localhost:4317", config.OTLPEndpoint)
	require.Equal(t, 1.0, config.SampleRate)
	require.True(t, config.Enabled)
	require.False(t, config.Insecure)
}

func TestNewProviderDisabled(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, p)

	// Accessors never return nil even without providers behind them.
	require.NotNil(t, p.Tracer())
	require.NotNil(t, p.Meter())

	// Recording methods are no-ops, not panics.
	ctx := context.Background()
	p.RecordRequest(ctx)
	p.RecordError(ctx, errors.New("boom"))
	p.RecordDuration(ctx, time.Millisecond)

	require.NoError(t, p.Shutdown(ctx))
}

func TestTrackOperationDisabled(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)

	attrs := []attribute.KeyValue{
		attribute.String("tiller.operation", "decision.append"),
	}

	opCtx, finish := p.TrackOperation(context.Background(), "decision.append", attrs...)
	require.NotNil(t, opCtx)
	require.NotNil(t, finish)

	finish(nil)

	_, finish = p.TrackOperation(context.Background(), "mandate.validate", attrs...)
	finish(errors.New("signature_invalid"))
}

func TestStartSpanDisabled(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)

	ctx, span := p.StartSpan(context.Background(), "gate.evaluate")
	require.NotNil(t, ctx)
	require.NotNil(t, span)
	span.End()
}
