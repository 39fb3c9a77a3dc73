package window

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"anyzine/internal/ratelimit/models"
	"anyzine/pkg/platform/sentinel"
	"anyzine/pkg/platform/tx"
)

const uniqueViolation = "23505"

const schema = `
CREATE TABLE IF NOT EXISTS rate_limit_windows (
	id                         TEXT PRIMARY KEY,
	identity_kind              TEXT NOT NULL,
	identity_value             TEXT NOT NULL,
	request_count              INTEGER NOT NULL CHECK (request_count >= 0),
	window_start               TIMESTAMPTZ NOT NULL,
	window_end                 TIMESTAMPTZ NOT NULL,
	tier                       TEXT NOT NULL,
	max_requests               INTEGER NOT NULL,
	window_duration_ms         BIGINT NOT NULL,
	migrated_to_identity_value TEXT,
	migrated_at                TIMESTAMPTZ
);
CREATE UNIQUE INDEX IF NOT EXISTS rate_limit_windows_identity_start_idx
	ON rate_limit_windows (identity_kind, identity_value, window_start);
CREATE INDEX IF NOT EXISTS rate_limit_windows_identity_end_idx
	ON rate_limit_windows (identity_kind, identity_value, window_end DESC);
CREATE INDEX IF NOT EXISTS rate_limit_windows_end_idx
	ON rate_limit_windows (window_end);
`

const windowColumns = `id, identity_kind, identity_value, request_count, window_start, window_end,
	tier, max_requests, window_duration_ms, migrated_to_identity_value, migrated_at`

// PostgresWindowStore persists windows in PostgreSQL.
// This store is pure I/O; window math belongs in the policy package.
type PostgresWindowStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed window store.
func NewPostgres(db *sql.DB) *PostgresWindowStore {
	return &PostgresWindowStore{db: db}
}

// Migrate creates the table and indexes if they do not exist.
func (s *PostgresWindowStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate rate_limit_windows: %w", err)
	}
	return nil
}

// Health pings the database.
func (s *PostgresWindowStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresWindowStore) FindActive(ctx context.Context, key models.IdentityKey, now time.Time) (*models.ConsumptionWindow, error) {
	query := `
		SELECT ` + windowColumns + `
		FROM rate_limit_windows
		WHERE identity_kind = $1 AND identity_value = $2 AND window_end > $3
		ORDER BY window_end DESC
		LIMIT 1
	`
	w, err := scanWindow(tx.QuerierFrom(ctx, s.db).QueryRowContext(ctx, query, key.Kind, key.Value, now))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find active window: %w", err)
	}
	return w, nil
}

// Create serializes writers for one identity with a transaction-scoped
// advisory lock, so the active-window check and the insert cannot interleave.
func (s *PostgresWindowStore) Create(ctx context.Context, window *models.ConsumptionWindow) error {
	return tx.Run(ctx, s.db, func(ctx context.Context, q *sql.Tx) error {
		if _, err := q.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, window.Key().String()); err != nil {
			return fmt.Errorf("lock identity: %w", err)
		}

		var exists bool
		err := q.QueryRowContext(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM rate_limit_windows
				WHERE identity_kind = $1 AND identity_value = $2 AND window_end > $3
			)
		`, window.IdentityKind, window.IdentityValue, window.WindowStart).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check active window: %w", err)
		}
		if exists {
			return sentinel.ErrConflict
		}

		_, err = q.ExecContext(ctx, `
			INSERT INTO rate_limit_windows (`+windowColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`, windowArgs(window)...)
		if err != nil {
			if isUniqueViolation(err) {
				return sentinel.ErrConflict
			}
			return fmt.Errorf("insert window: %w", err)
		}
		return nil
	})
}

// Increment is a single conditional UPDATE so concurrent hits cannot push
// request_count past max_requests.
func (s *PostgresWindowStore) Increment(ctx context.Context, window *models.ConsumptionWindow) (*models.ConsumptionWindow, error) {
	query := `
		UPDATE rate_limit_windows
		SET request_count = request_count + 1
		WHERE id = $1 AND request_count < max_requests
		RETURNING ` + windowColumns
	w, err := scanWindow(tx.QuerierFrom(ctx, s.db).QueryRowContext(ctx, query, window.ID))
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("increment window: %w", err)
	}

	// Either the window is exhausted or it is gone.
	w, err = scanWindow(tx.QuerierFrom(ctx, s.db).QueryRowContext(ctx, `SELECT `+windowColumns+` FROM rate_limit_windows WHERE id = $1`, window.ID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("reload window: %w", err)
	}
	return w, nil
}

func (s *PostgresWindowStore) Save(ctx context.Context, window *models.ConsumptionWindow) error {
	query := `
		UPDATE rate_limit_windows SET
			identity_kind = $2,
			identity_value = $3,
			request_count = $4,
			window_start = $5,
			window_end = $6,
			tier = $7,
			max_requests = $8,
			window_duration_ms = $9,
			migrated_to_identity_value = $10,
			migrated_at = $11
		WHERE id = $1
	`
	result, err := tx.QuerierFrom(ctx, s.db).ExecContext(ctx, query, windowArgs(window)...)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("save window: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("save window rows affected: %w", err)
	}
	if rows == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresWindowStore) DeleteExpired(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := tx.QuerierFrom(ctx, s.db).ExecContext(ctx, `DELETE FROM rate_limit_windows WHERE window_end < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired windows: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired windows rows affected: %w", err)
	}
	return int(rows), nil
}

func windowArgs(w *models.ConsumptionWindow) []any {
	var migratedTo sql.NullString
	if w.MigratedToIdentityValue != "" {
		migratedTo = sql.NullString{String: w.MigratedToIdentityValue, Valid: true}
	}
	var migratedAt sql.NullTime
	if w.MigratedAt != nil {
		migratedAt = sql.NullTime{Time: *w.MigratedAt, Valid: true}
	}
	return []any{
		w.ID,
		w.IdentityKind,
		w.IdentityValue,
		w.RequestCount,
		w.WindowStart,
		w.WindowEnd,
		w.Tier,
		w.MaxRequests,
		w.WindowDuration.Milliseconds(),
		migratedTo,
		migratedAt,
	}
}

func scanWindow(row interface{ Scan(dest ...any) error }) (*models.ConsumptionWindow, error) {
	var (
		w          models.ConsumptionWindow
		durationMS int64
		migratedTo sql.NullString
		migratedAt sql.NullTime
	)
	err := row.Scan(
		&w.ID,
		&w.IdentityKind,
		&w.IdentityValue,
		&w.RequestCount,
		&w.WindowStart,
		&w.WindowEnd,
		&w.Tier,
		&w.MaxRequests,
		&durationMS,
		&migratedTo,
		&migratedAt,
	)
	if err != nil {
		return nil, err
	}
	w.WindowDuration = time.Duration(durationMS) * time.Millisecond
	w.MigratedToIdentityValue = migratedTo.String
	if migratedAt.Valid {
		at := migratedAt.Time
		w.MigratedAt = &at
	}
	return &w, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
