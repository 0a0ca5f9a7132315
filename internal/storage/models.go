package storage

import (
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PriceRow is a persisted gas price record with its window context.
type PriceRow struct {
	ID            int64
	CycleID       uuid.UUID
	SourceID      string
	PriceWei      *big.Int
	HighWei       *big.Int
	LowWei        *big.Int
	MeanWei       *big.Int
	VolatilityPct decimal.Decimal
	WindowSize    int
	ObservedAt    time.Time
	TxHash        *string
	CreatedAt     time.Time
}

// SignalRow captures an emitted buy signal for de-duplication/auditing.
type SignalRow struct {
	ID           int64
	SourceID     string
	ObservedAt   time.Time
	PriceWei     *big.Int
	AverageWei   *big.Int
	SavingsPct   int64
	ThresholdPct int64
	Channels     []string
	CreatedAt    time.Time
}
