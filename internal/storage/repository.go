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

	"navwatch/internal/ledger"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	insertAlertSQL = `INSERT INTO alerts (
        instrument_id,
        name,
        kind,
        rate_pct,
        threshold_pct,
        market_price,
        reference_value,
        delivered,
        suppressed,
        error
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10
    )
    RETURNING id, created_at;`

	listRecentAlertsSQL = `SELECT
        id,
        instrument_id,
        name,
        kind,
        rate_pct::text,
        threshold_pct::text,
        market_price::text,
        reference_value::text,
        delivered,
        suppressed,
        error,
        created_at
    FROM alerts
    ORDER BY created_at DESC, id DESC
    LIMIT $1;`

	deleteAlertsBeforeSQL = `DELETE FROM alerts WHERE created_at < $1;`

	loadLedgerSQL = `SELECT alert_date, alerted, updated_at FROM alert_ledger WHERE id = 1;`

	saveLedgerSQL = `INSERT INTO alert_ledger (id, alert_date, alerted, updated_at)
    VALUES (1, $1, $2, now())
    ON CONFLICT (id) DO UPDATE
    SET alert_date = EXCLUDED.alert_date,
        alerted    = EXCLUDED.alerted,
        updated_at = EXCLUDED.updated_at;`

	// Claims a single id under the row lock taken by the upsert. A stale day is
	// replaced; an id already present leaves the row untouched (0 rows).
	claimLedgerSQL = `INSERT INTO alert_ledger AS l (id, alert_date, alerted, updated_at)
    VALUES (1, $1, ARRAY[$2::text], now())
    ON CONFLICT (id) DO UPDATE
    SET alerted = CASE WHEN l.alert_date = EXCLUDED.alert_date
                       THEN array_append(l.alerted, $2::text)
                       ELSE EXCLUDED.alerted END,
        alert_date = EXCLUDED.alert_date,
        updated_at = EXCLUDED.updated_at
    WHERE l.alert_date <> EXCLUDED.alert_date OR NOT ($2::text = ANY(l.alerted));`

	unclaimLedgerSQL = `UPDATE alert_ledger
    SET alerted = array_remove(alerted, $2::text), updated_at = now()
    WHERE id = 1 AND alert_date = $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// AlertStore defines operations for alert auditing.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error)
	ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error)
	DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to the alert audit trail and the ledger row.
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
		// if unlock fails the lock still ends with the session
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

// InsertAlert persists a notification attempt.
func (s *Store) InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertRecord{}, err
	}

	var errMsg interface{}
	if alert.Error != nil {
		errMsg = *alert.Error
	}

	row := pool.QueryRow(ctx, insertAlertSQL,
		alert.InstrumentID,
		alert.Name,
		alert.Kind,
		alert.RatePct.String(),
		alert.ThresholdPct.String(),
		alert.MarketPrice.String(),
		alert.ReferenceValue.String(),
		alert.Delivered,
		alert.Suppressed,
		errMsg,
	)

	rec := alert
	if scanErr := row.Scan(&rec.ID, &rec.CreatedAt); scanErr != nil {
		return AlertRecord{}, fmt.Errorf("insert alert: %w", scanErr)
	}
	return rec, nil
}

// ListRecentAlerts lists most recent alerts, newest first.
func (s *Store) ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]AlertRecord, 0, limit)
	for rows.Next() {
		rec, scanErr := scanAlert(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		alerts = append(alerts, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

// DeleteAlertsBefore deletes historical alerts.
func (s *Store) DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteAlertsBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete alerts before: %w", execErr)
	}
	return nil
}

// LoadLedger implements ledger.Store. A missing row yields an empty snapshot.
func (s *Store) LoadLedger(ctx context.Context) (ledger.Snapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return ledger.Snapshot{}, err
	}

	var state LedgerState
	scanErr := pool.QueryRow(ctx, loadLedgerSQL).Scan(&state.Date, &state.Alerted, &state.UpdatedAt)
	if errors.Is(scanErr, pgx.ErrNoRows) {
		return ledger.Snapshot{}, nil
	}
	if scanErr != nil {
		return ledger.Snapshot{}, fmt.Errorf("load ledger: %w", scanErr)
	}
	return ledger.Snapshot{Date: state.Date, Alerted: state.Alerted}, nil
}

// SaveLedger implements ledger.Store.
func (s *Store) SaveLedger(ctx context.Context, snap ledger.Snapshot) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	alerted := snap.Alerted
	if alerted == nil {
		alerted = []string{}
	}
	if _, execErr := pool.Exec(ctx, saveLedgerSQL, snap.Date, alerted); execErr != nil {
		return fmt.Errorf("save ledger: %w", execErr)
	}
	return nil
}

// ClaimAlert implements ledger.SharedStore.
func (s *Store) ClaimAlert(ctx context.Context, day, id string) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}
	tag, execErr := pool.Exec(ctx, claimLedgerSQL, day, id)
	if execErr != nil {
		return false, fmt.Errorf("claim ledger entry: %w", execErr)
	}
	return tag.RowsAffected() == 1, nil
}

// UnclaimAlert implements ledger.SharedStore.
func (s *Store) UnclaimAlert(ctx context.Context, day, id string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, unclaimLedgerSQL, day, id); execErr != nil {
		return fmt.Errorf("release ledger entry: %w", execErr)
	}
	return nil
}

func scanAlert(rows pgx.Rows) (AlertRecord, error) {
	var (
		rec                                      AlertRecord
		rateStr, thresholdStr, marketStr, refStr string
		errMsg                                   sql.NullString
	)

	if err := rows.Scan(
		&rec.ID,
		&rec.InstrumentID,
		&rec.Name,
		&rec.Kind,
		&rateStr,
		&thresholdStr,
		&marketStr,
		&refStr,
		&rec.Delivered,
		&rec.Suppressed,
		&errMsg,
		&rec.CreatedAt,
	); err != nil {
		return AlertRecord{}, err
	}

	var err error
	if rec.RatePct, err = decimal.NewFromString(rateStr); err != nil {
		return AlertRecord{}, fmt.Errorf("parse rate pct: %w", err)
	}
	if rec.ThresholdPct, err = decimal.NewFromString(thresholdStr); err != nil {
		return AlertRecord{}, fmt.Errorf("parse threshold pct: %w", err)
	}
	if rec.MarketPrice, err = decimal.NewFromString(marketStr); err != nil {
		return AlertRecord{}, fmt.Errorf("parse market price: %w", err)
	}
	if rec.ReferenceValue, err = decimal.NewFromString(refStr); err != nil {
		return AlertRecord{}, fmt.Errorf("parse reference value: %w", err)
	}
	if errMsg.Valid {
		msg := errMsg.String
		rec.Error = &msg
	}
	return rec, nil
}

var (
	_ AlertStore         = (*Store)(nil)
	_ AdvisoryLocker     = (*Store)(nil)
	_ ledger.SharedStore = (*Store)(nil)
)
