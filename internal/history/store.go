package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"bolivarwatch/internal/config"
	"bolivarwatch/internal/rates"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("history: pool not configured")
	// ErrConflict indicates a concurrent commit raced on the same day row.
	ErrConflict = errors.New("history: concurrent commit for the same day")
)

const (
	recordColumns = `day, oficial, paralelo, euro, oficial_change, paralelo_change, euro_change, spread_pct, source, created_at, updated_at`

	selectDayForUpdateSQL = `SELECT ` + recordColumns + ` FROM rate_history WHERE day = $1 FOR UPDATE;`

	selectBaselineSQL = `SELECT ` + recordColumns + ` FROM rate_history
    WHERE day < $1
    ORDER BY day DESC
    LIMIT 1;`

	insertRecordSQL = `INSERT INTO rate_history (
        day, oficial, paralelo, euro, oficial_change, paralelo_change, euro_change, spread_pct, source
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9
    )
    RETURNING created_at, updated_at;`

	updateRecordSQL = `UPDATE rate_history
    SET oficial         = $2,
        paralelo        = $3,
        euro            = $4,
        oficial_change  = $5,
        paralelo_change = $6,
        euro_change     = $7,
        spread_pct      = $8,
        source          = $9,
        updated_at      = NOW()
    WHERE day = $1
    RETURNING created_at, updated_at;`

	listSinceSQL = `SELECT ` + recordColumns + ` FROM rate_history
    WHERE day >= $1
    ORDER BY day;`

	purgeBeforeSQL = `DELETE FROM rate_history WHERE day < $1;`

	countRecordsSQL = `SELECT COUNT(*) FROM rate_history;`
)

// RecordStore defines the durable operations on the daily time series.
type RecordStore interface {
	Commit(ctx context.Context, oficial, paralelo decimal.Decimal, euro *decimal.Decimal) (Record, error)
	BaselineBefore(ctx context.Context, day time.Time) (*Record, error)
	ListLastDays(ctx context.Context, days int) ([]Record, error)
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// NewPool configures a PostgreSQL connection pool from runtime settings.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	return pool, nil
}

// Store persists the one-row-per-day rate history.
type Store struct {
	pool *pgxpool.Pool
	loc  *time.Location
	now  func() time.Time
}

// NewStore wires a pgx pool into a Store. Day keys are derived in loc.
func NewStore(pool *pgxpool.Pool, loc *time.Location) *Store {
	if loc == nil {
		loc = time.UTC
	}
	return &Store{pool: pool, loc: loc, now: time.Now}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// Commit upserts today's row. A re-commit of the current day recomputes the
// deltas against the row's previous values and overwrites it in place; the
// first commit of a day inserts a row with deltas against the most recent
// strictly-earlier record. The row lock plus the primary key on day keep
// concurrent commits serialized.
func (s *Store) Commit(ctx context.Context, oficial, paralelo decimal.Decimal, euro *decimal.Decimal) (Record, error) {
	pool, err := s.getPool()
	if err != nil {
		return Record{}, err
	}

	today := rates.DayStart(s.now(), s.loc)

	tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Record{}, fmt.Errorf("begin commit tx: %w", err)
	}
	defer tx.Rollback(ctx)

	existing, err := scanOneRecord(tx.QueryRow(ctx, selectDayForUpdateSQL, today))
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return Record{}, fmt.Errorf("lookup today's record: %w", err)
	}

	var baseline *Record
	if existing == nil {
		baseline, err = scanOneRecord(tx.QueryRow(ctx, selectBaselineSQL, today))
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return Record{}, fmt.Errorf("lookup baseline: %w", err)
		}
	}

	rec := BuildRecord(existing, baseline, oficial, paralelo, euro, today)

	query := insertRecordSQL
	if existing != nil {
		query = updateRecordSQL
	}

	row := tx.QueryRow(ctx, query,
		rec.Day,
		rec.Oficial.String(),
		rec.Paralelo.String(),
		euroArg(rec.Euro),
		rec.OficialChange.String(),
		rec.ParaleloChange.String(),
		rec.EuroChange.String(),
		rec.SpreadPct.String(),
		rec.Source,
	)
	if err := row.Scan(&rec.CreatedAt, &rec.UpdatedAt); err != nil {
		if isUniqueViolation(err) {
			return Record{}, ErrConflict
		}
		return Record{}, fmt.Errorf("write record: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("commit record tx: %w", err)
	}
	return rec, nil
}

// BaselineBefore returns the most recent record strictly before day, or nil.
func (s *Store) BaselineBefore(ctx context.Context, day time.Time) (*Record, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rec, err := scanOneRecord(pool.QueryRow(ctx, selectBaselineSQL, day))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("baseline before %s: %w", day.Format("2006-01-02"), err)
	}
	return rec, nil
}

// ListLastDays returns the committed rows of the last N days, oldest first.
func (s *Store) ListLastDays(ctx context.Context, days int) ([]Record, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	since := rates.DayStart(s.now(), s.loc).AddDate(0, 0, -days)
	rows, queryErr := pool.Query(ctx, listSinceSQL, since)
	if queryErr != nil {
		return nil, fmt.Errorf("list last days: %w", queryErr)
	}
	defer rows.Close()

	records := make([]Record, 0, days)
	for rows.Next() {
		rec, scanErr := scanRecord(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

// PurgeOlderThan deletes rows with a day before cutoff and reports how many
// went away. This is the retention sweep, not part of the hot path.
func (s *Store) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}

	tag, execErr := pool.Exec(ctx, purgeBeforeSQL, cutoff)
	if execErr != nil {
		return 0, fmt.Errorf("purge records: %w", execErr)
	}
	return tag.RowsAffected(), nil
}

// CountRecords counts stored daily rows.
func (s *Store) CountRecords(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countRecordsSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count records: %w", scanErr)
	}
	return count, nil
}

func euroArg(euro *decimal.Decimal) interface{} {
	if euro == nil {
		return nil
	}
	return euro.String()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOneRecord(row rowScanner) (*Record, error) {
	rec, err := scanRecord(row)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func scanRecord(row rowScanner) (Record, error) {
	var (
		rec            Record
		oficialStr     string
		paraleloStr    string
		euroStr        sql.NullString
		oficialChgStr  string
		paraleloChgStr string
		euroChgStr     string
		spreadStr      string
	)

	if err := row.Scan(
		&rec.Day,
		&oficialStr,
		&paraleloStr,
		&euroStr,
		&oficialChgStr,
		&paraleloChgStr,
		&euroChgStr,
		&spreadStr,
		&rec.Source,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	); err != nil {
		return Record{}, err
	}

	var err error
	if rec.Oficial, err = decimal.NewFromString(oficialStr); err != nil {
		return Record{}, fmt.Errorf("parse oficial: %w", err)
	}
	if rec.Paralelo, err = decimal.NewFromString(paraleloStr); err != nil {
		return Record{}, fmt.Errorf("parse paralelo: %w", err)
	}
	if euroStr.Valid {
		euro, convErr := decimal.NewFromString(euroStr.String)
		if convErr != nil {
			return Record{}, fmt.Errorf("parse euro: %w", convErr)
		}
		rec.Euro = &euro
	}
	if rec.OficialChange, err = decimal.NewFromString(oficialChgStr); err != nil {
		return Record{}, fmt.Errorf("parse oficial change: %w", err)
	}
	if rec.ParaleloChange, err = decimal.NewFromString(paraleloChgStr); err != nil {
		return Record{}, fmt.Errorf("parse paralelo change: %w", err)
	}
	if rec.EuroChange, err = decimal.NewFromString(euroChgStr); err != nil {
		return Record{}, fmt.Errorf("parse euro change: %w", err)
	}
	if rec.SpreadPct, err = decimal.NewFromString(spreadStr); err != nil {
		return Record{}, fmt.Errorf("parse spread: %w", err)
	}

	return rec, nil
}

var _ RecordStore = (*Store)(nil)
