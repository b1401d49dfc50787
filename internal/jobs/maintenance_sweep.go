package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const DefaultSweepSchedule = "0 2 * * *"

type sweeper interface {
	SweepDueContracts(ctx context.Context, now time.Time) (int, error)
}

// MaintenanceSweep materialises due contract maintenance on a cron schedule.
type MaintenanceSweep struct {
	cron     *cron.Cron
	sweeper  sweeper
	schedule string
	timeout  time.Duration
	log      zerolog.Logger
	now      func() time.Time

	mu      sync.Mutex
	entryID cron.EntryID
	started bool
}

func NewMaintenanceSweep(s sweeper, schedule string, loc *time.Location, log zerolog.Logger) *MaintenanceSweep {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	if loc == nil {
		loc = time.UTC
	}
	return &MaintenanceSweep{
		cron:     cron.New(cron.WithLocation(loc)),
		sweeper:  s,
		schedule: schedule,
		timeout:  5 * time.Minute,
		log:      log.With().Str("job", "maintenance_sweep").Logger(),
		now:      time.Now,
	}
}

func (j *MaintenanceSweep) Start() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.started {
		return nil
	}

	id, err := j.cron.AddFunc(j.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
		defer cancel()
		_, _ = j.RunOnce(ctx)
	})
	if err != nil {
		return fmt.Errorf("schedule maintenance sweep %q: %w", j.schedule, err)
	}
	j.entryID = id
	j.cron.Start()
	j.started = true

	j.log.Info().Str("schedule", j.schedule).Time("next_run", j.cron.Entry(id).Next).Msg("maintenance sweep scheduled")
	return nil
}

// Stop halts the scheduler and waits for a running sweep to finish or ctx
// to expire.
func (j *MaintenanceSweep) Stop(ctx context.Context) {
	j.mu.Lock()
	if !j.started {
		j.mu.Unlock()
		return
	}
	j.started = false
	j.mu.Unlock()

	done := j.cron.Stop()
	select {
	case <-done.Done():
		j.log.Info().Msg("maintenance sweep stopped")
	case <-ctx.Done():
		j.log.Warn().Msg("maintenance sweep still running at shutdown")
	}
}

func (j *MaintenanceSweep) RunOnce(ctx context.Context) (int, error) {
	started := j.now()
	created, err := j.sweeper.SweepDueContracts(ctx, started)
	if err != nil {
		j.log.Error().Err(err).Int("created", created).Msg("maintenance sweep finished with errors")
		return created, err
	}
	j.log.Info().
		Int("created", created).
		Dur("took", time.Since(started)).
		Msg("maintenance sweep finished")
	return created, nil
}
