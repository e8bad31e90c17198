package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog/log"

	"duo-pass-api/internal/features"
	"duo-pass-api/internal/models"
)

// Sweeper runs the refund sweep over every user.
type Sweeper interface {
	ProcessAllRefunds(ctx context.Context) (models.RefundReport, error)
}

// RefundScheduler runs the refund sweep on a fixed interval.
type RefundScheduler struct {
	sched    gocron.Scheduler
	sweeper  Sweeper
	features *features.Manager
	interval time.Duration
}

// New registers the sweep job. When runOnStart is set the first sweep runs
// as soon as Start is called instead of after one interval.
func New(sweeper Sweeper, flags *features.Manager, interval time.Duration, runOnStart bool) (*RefundScheduler, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("refund sweep interval must be positive, got %s", interval)
	}

	sched, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	rs := &RefundScheduler{
		sched:    sched,
		sweeper:  sweeper,
		features: flags,
		interval: interval,
	}

	opts := []gocron.JobOption{
		gocron.WithName("refund-sweep"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	}
	if runOnStart {
		opts = append(opts, gocron.WithStartAt(gocron.WithStartImmediately()))
	}

	if _, err := sched.NewJob(gocron.DurationJob(interval), gocron.NewTask(rs.run), opts...); err != nil {
		_ = sched.Shutdown()
		return nil, fmt.Errorf("failed to register refund sweep: %w", err)
	}
	return rs, nil
}

// Start begins running jobs in the background.
func (rs *RefundScheduler) Start() {
	rs.sched.Start()
	log.Info().Dur("interval", rs.interval).Msg("refund scheduler started")
}

// Shutdown stops the scheduler and waits for a running sweep to finish.
func (rs *RefundScheduler) Shutdown() error {
	return rs.sched.Shutdown()
}

func (rs *RefundScheduler) run() {
	if !rs.features.IsEnabled(features.FeatureScheduledRefunds) {
		log.Debug().Msg("scheduled refunds disabled, skipping sweep")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), rs.interval)
	defer cancel()

	start := time.Now()
	report, err := rs.sweeper.ProcessAllRefunds(ctx)
	if err != nil {
		log.Error().Err(err).Msg("scheduled refund sweep finished with errors")
	}

	log.Info().
		Str("current_month", report.CurrentMonth).
		Int("scanned", report.Scanned).
		Int("matched", report.Matched).
		Int("refunded", len(report.Refunded)).
		Dur("took", time.Since(start)).
		Msg("scheduled refund sweep")
}
