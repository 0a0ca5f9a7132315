package source

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/rs/zerolog"

	"gas-price-relay/internal/config"
)

// Kinds of configurable sources.
const (
	KindEVM  = "evm"
	KindHTTP = "http"
)

// Sample is a single raw gas price observation in wei.
type Sample struct {
	SourceID   string
	Value      *big.Int
	ObservedAt time.Time
}

// Source retrieves the current gas price of one network.
type Source interface {
	ID() string
	Fetch(ctx context.Context) (Sample, error)
}

// FromConfig builds the enabled sources in configuration order.
func FromConfig(cfgs []config.SourceConfig, logger zerolog.Logger) ([]Source, error) {
	out := make([]Source, 0, len(cfgs))
	for _, sc := range cfgs {
		if !sc.Enabled {
			logger.Debug().Str("source", sc.ID).Msg("source disabled; skipping")
			continue
		}
		switch sc.Kind {
		case KindEVM:
			out = append(out, NewEVM(EVMOptions{ID: sc.ID, RPCURL: sc.RPCURL, Timeout: sc.Timeout}, logger))
		case KindHTTP:
			out = append(out, NewHTTP(HTTPOptions{
				ID:        sc.ID,
				URL:       sc.URL,
				JSONPath:  sc.JSONPath,
				Decimals:  sc.Decimals,
				Headers:   sc.Headers,
				Timeout:   sc.Timeout,
				UserAgent: sc.UserAgent,
			}, logger))
		default:
			return nil, fmt.Errorf("source %q: unsupported kind %q", sc.ID, sc.Kind)
		}
	}
	return out, nil
}

// Static always returns the same value; used by simulations and tests.
type Static struct {
	SourceID string
	Value    *big.Int
	Err      error
}

// ID implements Source.
func (s *Static) ID() string { return s.SourceID }

// Fetch implements Source.
func (s *Static) Fetch(ctx context.Context) (Sample, error) {
	if s.Err != nil {
		return Sample{}, s.Err
	}
	return Sample{SourceID: s.SourceID, Value: new(big.Int).Set(s.Value), ObservedAt: time.Now().UTC()}, nil
}

var _ Source = (*Static)(nil)
