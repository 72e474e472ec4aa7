package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
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
	upsertSnapshotSampleSQL = `INSERT INTO snapshot_samples (
        bucket_ts,
        usd_toman,
        eur_toman,
        gold_18k_toman,
        eurusd,
        tether_toman,
        providers,
        status,
        error
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9
    )
    ON CONFLICT (bucket_ts) DO UPDATE
    SET
        usd_toman      = EXCLUDED.usd_toman,
        eur_toman      = EXCLUDED.eur_toman,
        gold_18k_toman = EXCLUDED.gold_18k_toman,
        eurusd         = EXCLUDED.eurusd,
        tether_toman   = EXCLUDED.tether_toman,
        providers      = EXCLUDED.providers,
        status         = EXCLUDED.status,
        error          = EXCLUDED.error;`

	listSamplesBetweenSQL = `SELECT
        bucket_ts,
        usd_toman,
        eur_toman,
        gold_18k_toman,
        eurusd,
        tether_toman,
        providers,
        status,
        error,
        created_at
    FROM snapshot_samples
    WHERE bucket_ts >= $1
      AND bucket_ts < $2
    ORDER BY bucket_ts;`

	listRecentSamplesSQL = `SELECT
        bucket_ts,
        usd_toman,
        eur_toman,
        gold_18k_toman,
        eurusd,
        tether_toman,
        providers,
        status,
        error,
        created_at
    FROM snapshot_samples
    ORDER BY bucket_ts DESC
    LIMIT $1;`

	countSamplesSQL = `SELECT COUNT(*) FROM snapshot_samples;`

	deleteSamplesBeforeSQL = `DELETE FROM snapshot_samples WHERE bucket_ts < $1;`

	insertBreachEventSQL = `INSERT INTO breach_events (
        bucket_ts,
        instrument,
        direction,
        old_value,
        new_value,
        providers
    ) VALUES (
        $1,$2,$3,$4,$5,$6
    )
    ON CONFLICT (bucket_ts, instrument) DO UPDATE
    SET direction = EXCLUDED.direction,
        old_value = EXCLUDED.old_value,
        new_value = EXCLUDED.new_value,
        providers = EXCLUDED.providers
    RETURNING id, bucket_ts, instrument, direction, old_value, new_value, providers, created_at;`

	listRecentBreachEventsSQL = `SELECT
        id,
        bucket_ts,
        instrument,
        direction,
        old_value,
        new_value,
        providers,
        created_at
    FROM breach_events
    ORDER BY created_at DESC
    LIMIT $1;`

	deleteBreachEventsBeforeSQL = `DELETE FROM breach_events WHERE created_at < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// SnapshotSampleStore defines operations for snapshot persistence.
type SnapshotSampleStore interface {
	UpsertSnapshotSample(ctx context.Context, sample SnapshotSample) error
	ListSamplesBetween(ctx context.Context, from, to time.Time) ([]SnapshotSample, error)
	ListRecentSamples(ctx context.Context, limit int) ([]SnapshotSample, error)
	CountSamples(ctx context.Context) (int64, error)
	DeleteSamplesBefore(ctx context.Context, olderThan time.Time) (int64, error)
}

// BreachEventStore defines operations for breach auditing.
type BreachEventStore interface {
	InsertBreachEvent(ctx context.Context, event BreachEventRecord) (BreachEventRecord, error)
	ListRecentBreachEvents(ctx context.Context, limit int) ([]BreachEventRecord, error)
	DeleteBreachEventsBefore(ctx context.Context, olderThan time.Time) (int64, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to snapshot samples and breach events.
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

// UpsertSnapshotSample persists or updates one decision-cycle sample.
func (s *Store) UpsertSnapshotSample(ctx context.Context, sample SnapshotSample) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var errMsg interface{}
	if sample.Error != nil {
		errMsg = *sample.Error
	}

	_, execErr := pool.Exec(ctx, upsertSnapshotSampleSQL,
		sample.Bucket,
		decimalArg(sample.USDToman),
		decimalArg(sample.EURToman),
		decimalArg(sample.GoldToman),
		decimalArg(sample.EURUSD),
		decimalArg(sample.TetherToman),
		sample.Providers,
		sample.Status,
		errMsg,
	)
	if execErr != nil {
		return fmt.Errorf("upsert snapshot sample: %w", execErr)
	}
	return nil
}

// ListSamplesBetween lists samples within a time window.
func (s *Store) ListSamplesBetween(ctx context.Context, from, to time.Time) ([]SnapshotSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSamplesBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list samples between: %w", queryErr)
	}
	defer rows.Close()

	samples := make([]SnapshotSample, 0)
	for rows.Next() {
		sample, scanErr := scanSnapshotSample(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		samples = append(samples, sample)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return samples, nil
}

// ListRecentSamples lists the most recent samples ordered by descending bucket.
func (s *Store) ListRecentSamples(ctx context.Context, limit int) ([]SnapshotSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentSamplesSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent samples: %w", queryErr)
	}
	defer rows.Close()

	samples := make([]SnapshotSample, 0, limit)
	for rows.Next() {
		sample, scanErr := scanSnapshotSample(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		samples = append(samples, sample)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return samples, nil
}

// CountSamples counts stored samples.
func (s *Store) CountSamples(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countSamplesSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count samples: %w", scanErr)
	}
	return count, nil
}

// DeleteSamplesBefore deletes historical samples, returning rows removed.
func (s *Store) DeleteSamplesBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	tag, execErr := pool.Exec(ctx, deleteSamplesBeforeSQL, olderThan)
	if execErr != nil {
		return 0, fmt.Errorf("delete samples before: %w", execErr)
	}
	return tag.RowsAffected(), nil
}

// InsertBreachEvent persists an announced breach.
func (s *Store) InsertBreachEvent(ctx context.Context, event BreachEventRecord) (BreachEventRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return BreachEventRecord{}, err
	}

	row := pool.QueryRow(ctx, insertBreachEventSQL,
		event.Bucket,
		event.Instrument,
		event.Direction,
		event.OldValue.String(),
		event.NewValue.String(),
		event.Providers,
	)

	rec, scanErr := scanBreachEvent(row)
	if scanErr != nil {
		return BreachEventRecord{}, fmt.Errorf("insert breach event: %w", scanErr)
	}
	return rec, nil
}

// ListRecentBreachEvents lists the most recent announced breaches.
func (s *Store) ListRecentBreachEvents(ctx context.Context, limit int) ([]BreachEventRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentBreachEventsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent breach events: %w", queryErr)
	}
	defer rows.Close()

	events := make([]BreachEventRecord, 0, limit)
	for rows.Next() {
		rec, scanErr := scanBreachEvent(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		events = append(events, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return events, nil
}

// DeleteBreachEventsBefore deletes historical breach events, returning rows removed.
func (s *Store) DeleteBreachEventsBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	tag, execErr := pool.Exec(ctx, deleteBreachEventsBeforeSQL, olderThan)
	if execErr != nil {
		return 0, fmt.Errorf("delete breach events before: %w", execErr)
	}
	return tag.RowsAffected(), nil
}

func decimalArg(v *decimal.Decimal) interface{} {
	if v == nil {
		return nil
	}
	return v.String()
}

func scanSnapshotSample(row pgx.Row) (SnapshotSample, error) {
	var (
		bucket    time.Time
		usd       sql.NullString
		eur       sql.NullString
		gold      sql.NullString
		eurusd    sql.NullString
		tether    sql.NullString
		providers []string
		status    string
		errMsg    sql.NullString
		createdAt time.Time
	)

	if err := row.Scan(
		&bucket,
		&usd,
		&eur,
		&gold,
		&eurusd,
		&tether,
		&providers,
		&status,
		&errMsg,
		&createdAt,
	); err != nil {
		return SnapshotSample{}, err
	}

	sample := SnapshotSample{
		Bucket:    bucket,
		Providers: providers,
		Status:    status,
		CreatedAt: createdAt,
	}

	var err error
	if sample.USDToman, err = nullDecimal(usd, "usd_toman"); err != nil {
		return SnapshotSample{}, err
	}
	if sample.EURToman, err = nullDecimal(eur, "eur_toman"); err != nil {
		return SnapshotSample{}, err
	}
	if sample.GoldToman, err = nullDecimal(gold, "gold_18k_toman"); err != nil {
		return SnapshotSample{}, err
	}
	if sample.EURUSD, err = nullDecimal(eurusd, "eurusd"); err != nil {
		return SnapshotSample{}, err
	}
	if sample.TetherToman, err = nullDecimal(tether, "tether_toman"); err != nil {
		return SnapshotSample{}, err
	}

	if errMsg.Valid {
		msg := errMsg.String
		sample.Error = &msg
	}

	return sample, nil
}

func scanBreachEvent(row pgx.Row) (BreachEventRecord, error) {
	var (
		rec    BreachEventRecord
		oldStr string
		newStr string
	)

	if err := row.Scan(
		&rec.ID,
		&rec.Bucket,
		&rec.Instrument,
		&rec.Direction,
		&oldStr,
		&newStr,
		&rec.Providers,
		&rec.CreatedAt,
	); err != nil {
		return BreachEventRecord{}, err
	}

	var err error
	rec.OldValue, err = decimal.NewFromString(oldStr)
	if err != nil {
		return BreachEventRecord{}, fmt.Errorf("parse old value: %w", err)
	}
	rec.NewValue, err = decimal.NewFromString(newStr)
	if err != nil {
		return BreachEventRecord{}, fmt.Errorf("parse new value: %w", err)
	}

	return rec, nil
}

func nullDecimal(v sql.NullString, column string) (*decimal.Decimal, error) {
	if !v.Valid {
		return nil, nil
	}
	d, err := decimal.NewFromString(v.String)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", column, err)
	}
	return &d, nil
}
