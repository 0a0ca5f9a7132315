package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Report logs the cumulative counters every interval until ctx is done.
func (s *Scheduler) Report(ctx context.Context, every time.Duration, logger zerolog.Logger) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			LogSnapshot(logger, s.Stats(), time.Now().UTC())
		}
	}
}

// LogSnapshot writes one human-readable status line.
func LogSnapshot(logger zerolog.Logger, snap Snapshot, now time.Time) {
	uptime := now.Sub(snap.StartedAt).Truncate(time.Second)
	perHour := 0.0
	if hours := uptime.Hours(); hours > 0 {
		perHour = float64(snap.UpdateCount) / hours
	}

	logger.Info().
		Str("uptime", uptime.String()).
		Uint64("updates", snap.UpdateCount).
		Uint64("errors", snap.ErrorCount).
		Uint64("empty", snap.EmptyCount).
		Uint64("skipped", snap.SkippedCount).
		Float64("updates_per_hour", perHour).
		Bool("in_flight", snap.InFlight).
		Msg("relay status")
}
