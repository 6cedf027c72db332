// Package scheduler implements the CRON Scheduler (C11): fires schedules on
// their cron expression in IANA timezones, with at-most-once semantics
// computed from the schedule's intended fire time (persisted before
// execution), not from when the tick actually ran. Grounded on the
// reference cron.Scheduler's ticker-driven runDue loop and cron.Schedule's
// robfig/cron/v3-backed Next() (internal/cron/scheduler.go,
// internal/cron/schedule.go), adapted from config-defined jobs to durable
// store.Schedule rows and from webhook/message/agent job kinds to a single
// "fire a new job on the schedule's conversation" kind.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/haasonsaas/agentcore/internal/observability"
	"github.com/haasonsaas/agentcore/internal/store"
	"github.com/haasonsaas/agentcore/pkg/models"
)

var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Trigger starts a new job from a fired schedule. Implemented by whatever
// owns job creation (typically a thin wrapper around store.CreateJob plus
// Queue.Wake).
type Trigger interface {
	Fire(ctx context.Context, sc models.Schedule) error
}

// Config holds the scheduler's tunables.
type Config struct {
	TickInterval time.Duration
}

// DefaultConfig returns the documented default tick cadence (§6.6).
func DefaultConfig() Config {
	return Config{TickInterval: time.Second}
}

// Scheduler polls store.ScheduleStore for enabled schedules whose next-fire
// time has passed and triggers them exactly once per intended fire time.
type Scheduler struct {
	cfg     Config
	st      store.ScheduleStore
	trigger Trigger
	metrics *observability.Metrics
	logger  *slog.Logger
	now     func() time.Time

	// startedAt is established on this scheduler's first tick and marks the
	// start of its live window. A schedule whose intended fire time precedes
	// it was missed while this process was offline (or didn't exist yet) and
	// must be dropped rather than replayed (§4.11/§6.4).
	startedAt time.Time
}

// New builds a Scheduler.
func New(cfg Config, st store.ScheduleStore, trigger Trigger, metrics *observability.Metrics, logger *slog.Logger) *Scheduler {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{cfg: cfg, st: st, trigger: trigger, metrics: metrics, logger: logger.With("component", "scheduler"), now: time.Now}
}

// ParseAndValidate parses a cron expression + IANA timezone and returns the
// next fire time after from, for use when a schedule is created or edited.
func ParseAndValidate(cronExpr, timezone string, from time.Time) (time.Time, error) {
	sched, err := parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("scheduler: invalid cron expression: %w", err)
	}
	loc := time.UTC
	if timezone != "" {
		loc, err = time.LoadLocation(timezone)
		if err != nil {
			return time.Time{}, fmt.Errorf("scheduler: invalid timezone %q: %w", timezone, err)
		}
	}
	return sched.Next(from.In(loc)), nil
}

// Start runs the poll loop until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	for {
		s.tick(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Tick runs one fire-due-schedules pass immediately (exported for the
// manual-trigger CLI path and for tests).
func (s *Scheduler) Tick(ctx context.Context) int {
	return s.tick(ctx)
}

func (s *Scheduler) tick(ctx context.Context) int {
	schedules, err := s.st.ListEnabledSchedules(ctx)
	if err != nil {
		s.logger.Warn("list enabled schedules failed", "error", err)
		return 0
	}
	now := s.now()
	if s.startedAt.IsZero() {
		// The first tick establishes this process's live window. Anything
		// already due at that instant was due before this process was
		// ticking (whether it died and restarted, or is starting cold) and
		// must be caught up without firing, not fired retroactively.
		s.startedAt = now
	}
	fired := 0
	for _, sc := range schedules {
		if sc.NextFire == nil || now.Before(*sc.NextFire) {
			continue
		}
		if sc.NextFire.Before(s.startedAt) {
			s.catchUp(ctx, sc, now)
			continue
		}
		s.fireOne(ctx, sc, now)
		fired++
	}
	return fired
}

// catchUp advances a schedule's next-fire past now without firing. It
// handles every fire that was missed while this process was offline: the
// schedule's stored next_fire predates this process's own start, so letting
// fireOne run against it would replay a fire S5/§4.11/§6.4 say must be
// dropped. The new next-fire is computed from now, not from the stale
// intended time, so it jumps past every occurrence missed in the gap in one
// step rather than firing once per missed occurrence.
func (s *Scheduler) catchUp(ctx context.Context, sc models.Schedule, now time.Time) {
	next, err := ParseAndValidate(sc.CronExpr, sc.Timezone, now)
	if err != nil {
		s.logger.Warn("schedule next-fire computation failed during catch-up, disabling", "schedule_id", sc.ID, "error", err)
		_ = s.st.SetScheduleNextFire(ctx, sc.ID, nil)
		if s.metrics != nil {
			s.metrics.ScheduleFires.WithLabelValues("error").Inc()
		}
		return
	}
	nextUnix := next.Unix()
	if err := s.st.SetScheduleNextFire(ctx, sc.ID, &nextUnix); err != nil {
		s.logger.Warn("persist caught-up next-fire failed", "schedule_id", sc.ID, "error", err)
		return
	}
	s.logger.Info("dropped schedule fire missed while offline", "schedule_id", sc.ID, "intended", sc.NextFire.Format(time.RFC3339))
	if s.metrics != nil {
		s.metrics.ScheduleFires.WithLabelValues("dropped_offline").Inc()
	}
}

// fireOne fires exactly one schedule and computes the NEXT fire time from
// the schedule's INTENDED fire time (sc.NextFire), not from now — this is
// what gives at-most-once semantics: a schedule that was due once at
// 09:00:00 and is discovered late, at 09:00:45 because the process was
// busy, still advances to its next occurrence after 09:00:00 rather than
// after 09:00:45, so it never double-fires for the same intended slot and
// never drifts forward from being checked late.
func (s *Scheduler) fireOne(ctx context.Context, sc models.Schedule, now time.Time) {
	intended := *sc.NextFire

	next, nextErr := ParseAndValidate(sc.CronExpr, sc.Timezone, intended)
	if nextErr != nil {
		s.logger.Warn("schedule next-fire computation failed, disabling", "schedule_id", sc.ID, "error", nextErr)
		_ = s.st.SetScheduleNextFire(ctx, sc.ID, nil)
		if s.metrics != nil {
			s.metrics.ScheduleFires.WithLabelValues("error").Inc()
		}
		return
	}
	nextUnix := next.Unix()
	if err := s.st.SetScheduleNextFire(ctx, sc.ID, &nextUnix); err != nil {
		s.logger.Warn("persist next-fire failed, skipping this firing to avoid duplicate dispatch", "schedule_id", sc.ID, "error", err)
		if s.metrics != nil {
			s.metrics.ScheduleFires.WithLabelValues("skipped_busy").Inc()
		}
		return
	}

	if err := s.trigger.Fire(ctx, sc); err != nil {
		s.logger.Warn("schedule fire failed", "schedule_id", sc.ID, "error", err)
		if s.metrics != nil {
			s.metrics.ScheduleFires.WithLabelValues("error").Inc()
		}
		return
	}
	_ = s.st.IncrementScheduleRunCount(ctx, sc.ID)
	if s.metrics != nil {
		s.metrics.ScheduleFires.WithLabelValues("success").Inc()
	}
}

// RunNow manually triggers a single schedule immediately, independent of
// its next-fire time (for the "schedule run <id>" CLI path). It does not
// alter the schedule's regular next-fire cadence.
func (s *Scheduler) RunNow(ctx context.Context, scheduleID string) error {
	sc, err := s.st.GetSchedule(ctx, scheduleID)
	if err != nil {
		return fmt.Errorf("scheduler: get schedule: %w", err)
	}
	if err := s.trigger.Fire(ctx, sc); err != nil {
		return fmt.Errorf("scheduler: manual fire: %w", err)
	}
	return s.st.IncrementScheduleRunCount(ctx, scheduleID)
}
