// Package sink publishes cycle batches to their downstream consumer.
package sink

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"gas-price-relay/internal/stats"
)

// ErrConfig marks sink configuration problems detected at startup.
var ErrConfig = errors.New("sink configuration")

// Sink receives the records of every non-empty cycle.
type Sink interface {
	Submit(ctx context.Context, batch []stats.Record) ([]string, error)
}

// Log is a dry-run sink that only logs the batch.
type Log struct {
	logger zerolog.Logger
}

// NewLog builds a logging sink.
func NewLog(logger zerolog.Logger) *Log {
	return &Log{logger: logger.With().Str("component", "log_sink").Logger()}
}

// Submit implements Sink.
func (l *Log) Submit(ctx context.Context, batch []stats.Record) ([]string, error) {
	for _, rec := range batch {
		l.logger.Info().
			Str("source", rec.SourceID).
			Str("price_gwei", stats.Gwei(rec.Price).String()).
			Str("high_gwei", stats.Gwei(rec.High).String()).
			Str("low_gwei", stats.Gwei(rec.Low).String()).
			Time("observed_at", rec.ObservedAt).
			Msg("dry-run publish")
	}
	return nil, nil
}

var _ Sink = (*Log)(nil)
