// Package schedule fires the packaging trigger on a cron expression. Patterns
// carry a leading seconds field, e.g. "0 */12 * * * *".
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron"

	"github.com/Lllllllleong/dossierpackager/internal/services"
)

// Triggerer starts a packaging batch.
type Triggerer interface {
	Trigger(ctx context.Context) (services.TriggerResult, error)
}

// Scheduler runs a trigger on a cron schedule until stopped.
type Scheduler struct {
	pattern string
	cron    *cron.Cron
}

// Next returns the first activation of pattern after from.
func Next(pattern string, from time.Time) (time.Time, error) {
	sched, err := cron.Parse(pattern)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron pattern %q: %w", pattern, err)
	}
	return sched.Next(from), nil
}

// Start schedules t on pattern. Each activation runs with ctx detached from
// cancellation; use Stop to end the schedule.
func Start(ctx context.Context, pattern string, t Triggerer) (*Scheduler, error) {
	c := cron.New()
	err := c.AddFunc(pattern, func() {
		res, err := t.Trigger(context.WithoutCancel(ctx))
		if err != nil {
			slog.Error("Scheduled packaging failed to start.", "error", err)
			return
		}
		slog.Info("Scheduled packaging triggered.", "outcome", res.Outcome.String(), "dossierCount", res.Dossiers)
	})
	if err != nil {
		return nil, fmt.Errorf("invalid cron pattern %q: %w", pattern, err)
	}
	c.Start()
	slog.Info("Packaging schedule started.", "pattern", pattern)
	return &Scheduler{pattern: pattern, cron: c}, nil
}

// Stop ends the schedule. Running activations are not interrupted.
func (s *Scheduler) Stop() {
	s.cron.Stop()
	slog.Info("Packaging schedule stopped.", "pattern", s.pattern)
}
