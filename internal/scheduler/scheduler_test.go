package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duo-pass-api/internal/features"
	"duo-pass-api/internal/models"
)

type countingSweeper struct {
	calls atomic.Int32
}

func (c *countingSweeper) ProcessAllRefunds(ctx context.Context) (models.RefundReport, error) {
	c.calls.Add(1)
	return models.RefundReport{CurrentMonth: "2026-05"}, nil
}

func TestRefundScheduler_RunsSweep(t *testing.T) {
	sweeper := &countingSweeper{}
	rs, err := New(sweeper, features.NewDefaultManager(), 20*time.Millisecond, true)
	require.NoError(t, err)

	rs.Start()
	defer rs.Shutdown()

	assert.Eventually(t, func() bool {
		return sweeper.calls.Load() >= 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRefundScheduler_SkipsWhenFlagDisabled(t *testing.T) {
	sweeper := &countingSweeper{}
	flags := features.NewDefaultManager()
	flags.Disable(features.FeatureScheduledRefunds)

	rs, err := New(sweeper, flags, 10*time.Millisecond, true)
	require.NoError(t, err)

	rs.Start()
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, rs.Shutdown())

	assert.Equal(t, int32(0), sweeper.calls.Load())
}

func TestNew_RejectsNonPositiveInterval(t *testing.T) {
	_, err := New(&countingSweeper{}, features.NewDefaultManager(), 0, false)
	assert.Error(t, err)
}
