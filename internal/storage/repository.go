package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	insertRecordSQL = `INSERT INTO gas_price_records (
        cycle_id,
        source_id,
        price_wei,
        high_wei,
        low_wei,
        mean_wei,
        volatility_pct,
        window_size,
        observed_at,
        tx_hash
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10
    );`

	recordColumns = `
        id,
        cycle_id,
        source_id,
        price_wei::text,
        high_wei::text,
        low_wei::text,
        mean_wei::text,
        volatility_pct::text,
        window_size,
        observed_at,
        tx_hash,
        created_at`

	listRecentRecordsSQL = `SELECT` + recordColumns + `
    FROM gas_price_records
    WHERE ($1 = '' OR source_id = $1)
    ORDER BY observed_at DESC, id DESC
    LIMIT $2;`

	listRecordsBetweenSQL = `SELECT` + recordColumns + `
    FROM gas_price_records
    WHERE source_id = $1
      AND observed_at >= $2
      AND observed_at < $3
    ORDER BY observed_at, id;`

	recentPricesSQL = `SELECT price_wei::text FROM (
        SELECT price_wei, observed_at, id
        FROM gas_price_records
        WHERE source_id = $1
        ORDER BY observed_at DESC, id DESC
        LIMIT $2
    ) recent
    ORDER BY observed_at, id;`

	countRecordsBeforeSQL = `SELECT COUNT(*) FROM gas_price_records WHERE observed_at < $1;`

	deleteRecordsBeforeSQL = `DELETE FROM gas_price_records WHERE observed_at < $1;`

	insertSignalSQL = `INSERT INTO buy_signals (
        source_id,
        observed_at,
        price_wei,
        average_wei,
        savings_pct,
        threshold_pct,
        channels
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    )
    ON CONFLICT (source_id, observed_at) DO UPDATE
    SET savings_pct   = EXCLUDED.savings_pct,
        threshold_pct = EXCLUDED.threshold_pct,
        channels      = EXCLUDED.channels
    RETURNING id, source_id, observed_at, price_wei::text, average_wei::text, savings_pct, threshold_pct, channels, created_at;`

	listRecentSignalsSQL = `SELECT
        id,
        source_id,
        observed_at,
        price_wei::text,
        average_wei::text,
        savings_pct,
        threshold_pct,
        channels,
        created_at
    FROM buy_signals
    ORDER BY created_at DESC
    LIMIT $1;`

	countSignalsBeforeSQL  = `SELECT COUNT(*) FROM buy_signals WHERE created_at < $1;`
	deleteSignalsBeforeSQL = `DELETE FROM buy_signals WHERE created_at < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// RecordStore defines operations for gas price record persistence.
type RecordStore interface {
	InsertRecords(ctx context.Context, rows []PriceRow) error
	ListRecentRecords(ctx context.Context, sourceID string, limit int) ([]PriceRow, error)
	ListRecordsBetween(ctx context.Context, sourceID string, from, to time.Time) ([]PriceRow, error)
	RecentPrices(ctx context.Context, sourceID string, limit int) ([]*big.Int, error)
	CountRecordsBefore(ctx context.Context, olderThan time.Time) (int64, error)
	DeleteRecordsBefore(ctx context.Context, olderThan time.Time) (int64, error)
}

// SignalStore defines operations for buy-signal auditing.
type SignalStore interface {
	InsertSignal(ctx context.Context, signal SignalRow) (SignalRow, error)
	ListRecentSignals(ctx context.Context, limit int) ([]SignalRow, error)
	CountSignalsBefore(ctx context.Context, olderThan time.Time) (int64, error)
	DeleteSignalsBefore(ctx context.Context, olderThan time.Time) (int64, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to records and signals.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// best effort; the session lock also dies with the connection
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// InsertRecords persists one cycle's records in a single round trip.
func (s *Store) InsertRecords(ctx context.Context, rows []PriceRow) error {
	if len(rows) == 0 {
		return nil
	}
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, row := range rows {
		var txHash interface{}
		if row.TxHash != nil {
			txHash = *row.TxHash
		}
		batch.Queue(insertRecordSQL,
			row.CycleID,
			row.SourceID,
			bigString(row.PriceWei),
			bigString(row.HighWei),
			bigString(row.LowWei),
			bigString(row.MeanWei),
			row.VolatilityPct.String(),
			row.WindowSize,
			row.ObservedAt,
			txHash,
		)
	}

	if err := pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert gas price records: %w", err)
	}
	return nil
}

// ListRecentRecords lists the most recent records, optionally for one source.
func (s *Store) ListRecentRecords(ctx context.Context, sourceID string, limit int) ([]PriceRow, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentRecordsSQL, sourceID, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent records: %w", queryErr)
	}
	defer rows.Close()

	return collectRecords(rows, limit)
}

// ListRecordsBetween lists a source's records within a time window, oldest first.
func (s *Store) ListRecordsBetween(ctx context.Context, sourceID string, from, to time.Time) ([]PriceRow, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecordsBetweenSQL, sourceID, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list records between: %w", queryErr)
	}
	defer rows.Close()

	return collectRecords(rows, 0)
}

// RecentPrices returns up to limit of a source's latest prices, oldest first.
func (s *Store) RecentPrices(ctx context.Context, sourceID string, limit int) ([]*big.Int, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, recentPricesSQL, sourceID, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("recent prices: %w", queryErr)
	}
	defer rows.Close()

	prices := make([]*big.Int, 0, limit)
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		v, err := parseBig(raw)
		if err != nil {
			return nil, err
		}
		prices = append(prices, v)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return prices, nil
}

// CountRecordsBefore counts the records DeleteRecordsBefore would remove.
func (s *Store) CountRecordsBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countRecordsBeforeSQL, olderThan).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count records before: %w", scanErr)
	}
	return count, nil
}

// DeleteRecordsBefore prunes records observed before olderThan.
func (s *Store) DeleteRecordsBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	tag, execErr := pool.Exec(ctx, deleteRecordsBeforeSQL, olderThan)
	if execErr != nil {
		return 0, fmt.Errorf("delete records before: %w", execErr)
	}
	return tag.RowsAffected(), nil
}

// InsertSignal persists a buy signal emission.
func (s *Store) InsertSignal(ctx context.Context, signal SignalRow) (SignalRow, error) {
	pool, err := s.getPool()
	if err != nil {
		return SignalRow{}, err
	}

	row := pool.QueryRow(ctx, insertSignalSQL,
		signal.SourceID,
		signal.ObservedAt,
		bigString(signal.PriceWei),
		bigString(signal.AverageWei),
		signal.SavingsPct,
		signal.ThresholdPct,
		signal.Channels,
	)

	rec, scanErr := scanSignal(row)
	if scanErr != nil {
		return SignalRow{}, fmt.Errorf("insert signal: %w", scanErr)
	}
	return rec, nil
}

// ListRecentSignals lists most recent buy signals.
func (s *Store) ListRecentSignals(ctx context.Context, limit int) ([]SignalRow, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentSignalsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent signals: %w", queryErr)
	}
	defer rows.Close()

	signals := make([]SignalRow, 0, limit)
	for rows.Next() {
		rec, err := scanSignal(rows)
		if err != nil {
			return nil, err
		}
		signals = append(signals, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return signals, nil
}

// CountSignalsBefore counts the signals DeleteSignalsBefore would remove.
func (s *Store) CountSignalsBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countSignalsBeforeSQL, olderThan).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count signals before: %w", scanErr)
	}
	return count, nil
}

// DeleteSignalsBefore deletes historical signals.
func (s *Store) DeleteSignalsBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	tag, execErr := pool.Exec(ctx, deleteSignalsBeforeSQL, olderThan)
	if execErr != nil {
		return 0, fmt.Errorf("delete signals before: %w", execErr)
	}
	return tag.RowsAffected(), nil
}

func collectRecords(rows pgx.Rows, capHint int) ([]PriceRow, error) {
	records := make([]PriceRow, 0, capHint)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

func scanRecord(row pgx.Row) (PriceRow, error) {
	var (
		rec                       PriceRow
		priceStr, highStr, lowStr string
		meanStr, volatilityStr    string
		txHash                    sql.NullString
	)

	if err := row.Scan(
		&rec.ID,
		&rec.CycleID,
		&rec.SourceID,
		&priceStr,
		&highStr,
		&lowStr,
		&meanStr,
		&volatilityStr,
		&rec.WindowSize,
		&rec.ObservedAt,
		&txHash,
		&rec.CreatedAt,
	); err != nil {
		return PriceRow{}, err
	}

	var err error
	if rec.PriceWei, err = parseBig(priceStr); err != nil {
		return PriceRow{}, fmt.Errorf("parse price: %w", err)
	}
	if rec.HighWei, err = parseBig(highStr); err != nil {
		return PriceRow{}, fmt.Errorf("parse high: %w", err)
	}
	if rec.LowWei, err = parseBig(lowStr); err != nil {
		return PriceRow{}, fmt.Errorf("parse low: %w", err)
	}
	if rec.MeanWei, err = parseBig(meanStr); err != nil {
		return PriceRow{}, fmt.Errorf("parse mean: %w", err)
	}
	if rec.VolatilityPct, err = decimal.NewFromString(volatilityStr); err != nil {
		return PriceRow{}, fmt.Errorf("parse volatility: %w", err)
	}
	if txHash.Valid {
		hash := txHash.String
		rec.TxHash = &hash
	}
	return rec, nil
}

func scanSignal(row pgx.Row) (SignalRow, error) {
	var (
		rec              SignalRow
		priceStr, avgStr string
	)
	if err := row.Scan(
		&rec.ID,
		&rec.SourceID,
		&rec.ObservedAt,
		&priceStr,
		&avgStr,
		&rec.SavingsPct,
		&rec.ThresholdPct,
		&rec.Channels,
		&rec.CreatedAt,
	); err != nil {
		return SignalRow{}, err
	}

	var err error
	if rec.PriceWei, err = parseBig(priceStr); err != nil {
		return SignalRow{}, fmt.Errorf("parse price: %w", err)
	}
	if rec.AverageWei, err = parseBig(avgStr); err != nil {
		return SignalRow{}, fmt.Errorf("parse average: %w", err)
	}
	return rec, nil
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func parseBig(raw string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", raw)
	}
	return v, nil
}

var (
	_ RecordStore    = (*Store)(nil)
	_ SignalStore    = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)
