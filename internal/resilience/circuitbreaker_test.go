package resilience_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreerrors "github.com/agilecore/orchestrator-core/internal/errors"
	"github.com/agilecore/orchestrator-core/internal/resilience"
)

func testConfig(name string) resilience.Config {
	cfg := resilience.DefaultConfig(name)
	cfg.MonitorWindow = time.Second
	cfg.MinVolume = 2
	cfg.BrokenTime = 20 * time.Millisecond
	cfg.RequestTimeout = 0
	return cfg
}

func TestBreaker_StartsClosed(t *testing.T) {
	b := resilience.New(testConfig("t1"))
	assert.Equal(t, resilience.Closed, b.State())
}

func TestBreaker_OpensAfterErrorRatioExceeded(t *testing.T) {
	b := resilience.New(testConfig("t2"))
	failing := func(ctx context.Context) error { return errors.New("boom") }

	// MinVolume=2, ErrorRatio default 0.5: two failures push ratio to 1.0.
	_ = b.Execute(context.Background(), failing)
	_ = b.Execute(context.Background(), failing)

	assert.Equal(t, resilience.Open, b.State())
}

func TestBreaker_RejectsWhileOpen(t *testing.T) {
	b := resilience.New(testConfig("t3"))
	failing := func(ctx context.Context) error { return errors.New("boom") }
	_ = b.Execute(context.Background(), failing)
	_ = b.Execute(context.Background(), failing)
	require.Equal(t, resilience.Open, b.State())

	err := b.Execute(context.Background(), func(ctx context.Context) error { return nil })
	require.Error(t, err)
	assert.ErrorIs(t, err, coreerrors.ErrCircuitBroken)
}

func TestBreaker_HalfOpenProbeCloses(t *testing.T) {
	cfg := testConfig("t4")
	b := resilience.New(cfg)
	failing := func(ctx context.Context) error { return errors.New("boom") }
	_ = b.Execute(context.Background(), failing)
	_ = b.Execute(context.Background(), failing)
	require.Equal(t, resilience.Open, b.State())

	time.Sleep(cfg.BrokenTime + 10*time.Millisecond)

	err := b.Execute(context.Background(), func(ctx context.Context) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, resilience.Closed, b.State())
}

func TestBreaker_HalfOpenProbeReopensOnFailure(t *testing.T) {
	cfg := testConfig("t5")
	b := resilience.New(cfg)
	failing := func(ctx context.Context) error { return errors.New("boom") }
	_ = b.Execute(context.Background(), failing)
	_ = b.Execute(context.Background(), failing)
	require.Equal(t, resilience.Open, b.State())

	time.Sleep(cfg.BrokenTime + 10*time.Millisecond)

	err := b.Execute(context.Background(), failing)
	require.Error(t, err)
	assert.Equal(t, resilience.Open, b.State())
}

func TestBreaker_BelowMinVolumeStaysClosed(t *testing.T) {
	cfg := testConfig("t6")
	cfg.MinVolume = 10
	b := resilience.New(cfg)
	failing := func(ctx context.Context) error { return errors.New("boom") }
	_ = b.Execute(context.Background(), failing)

	assert.Equal(t, resilience.Closed, b.State())
}

func TestBreaker_StateStringValues(t *testing.T) {
	assert.Equal(t, "closed", resilience.Closed.String())
	assert.Equal(t, "open", resilience.Open.String())
	assert.Equal(t, "half_open", resilience.HalfOpen.String())
}
