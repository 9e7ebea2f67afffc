package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"funding-spread-alerts/internal/alerts"
)

const (
	settingColumns = `id,
        owner_id,
        name,
        interval_hours,
        interval_minutes,
        min_spread::text,
        max_spread::text,
        selected_venues,
        filter_mode,
        max_results,
        is_active,
        last_sent_at,
        created_at`

	findDueSettingsSQL = `SELECT ` + settingColumns + `
    FROM alert_settings
    WHERE is_active
      AND (last_sent_at IS NULL
           OR last_sent_at + make_interval(hours => COALESCE(interval_hours, 0),
                                           mins  => COALESCE(interval_minutes, 0)) <= $1)
    ORDER BY id;`

	insertNotificationSQL = `INSERT INTO notification_log (
        setting_id,
        owner_id,
        sent_at,
        markets_count,
        status
    ) VALUES (
        $1,$2,$3,$4,$5
    );`

	updateLastSentSQL = `UPDATE alert_settings SET last_sent_at = $2 WHERE id = $1;`

	setActiveSQL = `UPDATE alert_settings SET is_active = $2 WHERE id = $1;`

	insertSettingSQL = `INSERT INTO alert_settings (
        owner_id,
        name,
        interval_hours,
        interval_minutes,
        min_spread,
        max_spread,
        selected_venues,
        filter_mode,
        max_results,
        is_active
    ) VALUES (
        $1,$2,$3,$4,$5::numeric,$6::numeric,$7,$8,$9,$10
    )
    RETURNING ` + settingColumns + `;`

	getSettingSQL = `SELECT ` + settingColumns + ` FROM alert_settings WHERE id = $1;`

	listSettingsSQL = `SELECT ` + settingColumns + `
    FROM alert_settings
    WHERE ($1::bigint = 0 OR owner_id = $1::bigint)
    ORDER BY owner_id, id;`

	deleteSettingSQL = `DELETE FROM alert_settings WHERE id = $1;`

	countActiveSettingsSQL = `SELECT COUNT(*) FROM alert_settings WHERE is_active;`

	notificationStatsSQL = `SELECT status, COUNT(*)
    FROM notification_log
    WHERE sent_at >= $1
    GROUP BY status;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// AlertStore is what the alert service needs from persistence.
type AlertStore interface {
	FindDue(ctx context.Context, now time.Time) ([]alerts.Setting, error)
	RecordNotification(ctx context.Context, rec alerts.NotificationRecord) error
	UpdateLastSent(ctx context.Context, settingID int64, when time.Time) error
	DeactivateSetting(ctx context.Context, settingID int64) error
}

// SettingsStore covers settings management from the CLI.
type SettingsStore interface {
	CreateSetting(ctx context.Context, setting alerts.Setting) (alerts.Setting, error)
	GetSetting(ctx context.Context, id int64) (alerts.Setting, error)
	ListSettings(ctx context.Context, ownerID int64) ([]alerts.Setting, error)
	SetActive(ctx context.Context, id int64, active bool) error
	DeleteSetting(ctx context.Context, id int64) error
	NotificationStats(ctx context.Context, since time.Time) (NotificationStats, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// NotificationStats summarises recent delivery outcomes.
type NotificationStats struct {
	ActiveSettings int
	ByStatus       map[alerts.Status]int
}

// Store persists alert settings and the notification log in PostgreSQL.
type Store struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

var (
	_ AlertStore     = (*Store)(nil)
	_ SettingsStore  = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool, logger zerolog.Logger) *Store {
	return &Store{pool: pool, logger: logger.With().Str("component", "store").Logger()}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
// The lock is session scoped, so the connection stays checked out until unlock runs.
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
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			// a failed unlock leaves the lock held by this session; drop the connection
			_ = conn.Conn().Close(ctxUnlock)
		}
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

// FindDue lists active settings whose interval has elapsed at now.
func (s *Store) FindDue(ctx context.Context, now time.Time) ([]alerts.Setting, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, findDueSettingsSQL, now)
	if err != nil {
		return nil, fmt.Errorf("find due settings: %w", err)
	}
	return s.collectSettings(rows)
}

// RecordNotification appends an entry to the notification log.
func (s *Store) RecordNotification(ctx context.Context, rec alerts.NotificationRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var settingID any
	if rec.SettingID != 0 {
		settingID = rec.SettingID
	}
	if _, err := pool.Exec(ctx, insertNotificationSQL,
		settingID,
		rec.OwnerID,
		rec.SentAt,
		rec.MarketsCount,
		string(rec.Status),
	); err != nil {
		return fmt.Errorf("record notification: %w", err)
	}
	return nil
}

// UpdateLastSent stamps the last send time of a setting.
func (s *Store) UpdateLastSent(ctx context.Context, settingID int64, when time.Time) error {
	return s.execOne(ctx, "update last sent", updateLastSentSQL, settingID, when)
}

// DeactivateSetting turns a setting off.
func (s *Store) DeactivateSetting(ctx context.Context, settingID int64) error {
	return s.SetActive(ctx, settingID, false)
}

// SetActive pauses or resumes a setting.
func (s *Store) SetActive(ctx context.Context, id int64, active bool) error {
	return s.execOne(ctx, "set active", setActiveSQL, id, active)
}

// DeleteSetting removes a setting. Its log entries are kept.
func (s *Store) DeleteSetting(ctx context.Context, id int64) error {
	return s.execOne(ctx, "delete setting", deleteSettingSQL, id)
}

// CreateSetting validates and inserts a setting, returning it with id and timestamps.
func (s *Store) CreateSetting(ctx context.Context, setting alerts.Setting) (alerts.Setting, error) {
	if err := setting.Validate(); err != nil {
		return alerts.Setting{}, err
	}
	pool, err := s.getPool()
	if err != nil {
		return alerts.Setting{}, err
	}

	hours, minutes := setting.Interval.Columns()
	venues := setting.SelectedVenues
	if venues == nil {
		venues = []string{}
	}
	mode := setting.FilterMode
	if mode == "" {
		mode = alerts.FilterAll
	}

	row := pool.QueryRow(ctx, insertSettingSQL,
		setting.OwnerID,
		setting.Name,
		hours,
		minutes,
		setting.MinSpread.String(),
		setting.MaxSpread.String(),
		venues,
		string(mode),
		setting.MaxResults,
		setting.Active,
	)
	created, err := scanSetting(row)
	if err != nil {
		return alerts.Setting{}, fmt.Errorf("insert setting: %w", err)
	}
	return created, nil
}

// GetSetting loads one setting.
func (s *Store) GetSetting(ctx context.Context, id int64) (alerts.Setting, error) {
	pool, err := s.getPool()
	if err != nil {
		return alerts.Setting{}, err
	}
	setting, err := scanSetting(pool.QueryRow(ctx, getSettingSQL, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return alerts.Setting{}, ErrNotFound
	}
	if err != nil {
		return alerts.Setting{}, fmt.Errorf("get setting: %w", err)
	}
	return setting, nil
}

// ListSettings lists the settings of an owner, or every setting when ownerID is 0.
func (s *Store) ListSettings(ctx context.Context, ownerID int64) ([]alerts.Setting, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, listSettingsSQL, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	return s.collectSettings(rows)
}

// NotificationStats counts log entries since the given time and the active settings.
func (s *Store) NotificationStats(ctx context.Context, since time.Time) (NotificationStats, error) {
	pool, err := s.getPool()
	if err != nil {
		return NotificationStats{}, err
	}

	stats := NotificationStats{ByStatus: make(map[alerts.Status]int)}
	if err := pool.QueryRow(ctx, countActiveSettingsSQL).Scan(&stats.ActiveSettings); err != nil {
		return NotificationStats{}, fmt.Errorf("count active settings: %w", err)
	}

	rows, err := pool.Query(ctx, notificationStatsSQL, since)
	if err != nil {
		return NotificationStats{}, fmt.Errorf("notification stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return NotificationStats{}, err
		}
		stats.ByStatus[alerts.Status(status)] = count
	}
	if rows.Err() != nil {
		return NotificationStats{}, rows.Err()
	}
	return stats, nil
}

func (s *Store) execOne(ctx context.Context, op, sql string, args ...any) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	tag, err := pool.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// corruptRowError marks a row that scanned but holds values no Setting can carry.
type corruptRowError struct {
	id  int64
	err error
}

func (e *corruptRowError) Error() string {
	return fmt.Sprintf("setting %d: %v", e.id, e.err)
}

func (e *corruptRowError) Unwrap() error {
	return e.err
}

// collectSettings skips corrupt rows so one bad setting cannot hide every other one.
func (s *Store) collectSettings(rows pgx.Rows) ([]alerts.Setting, error) {
	defer rows.Close()

	settings := make([]alerts.Setting, 0)
	for rows.Next() {
		setting, err := scanSetting(rows)
		var corrupt *corruptRowError
		if errors.As(err, &corrupt) {
			s.logger.Error().Err(corrupt.err).Int64("setting_id", corrupt.id).Msg("skipping unreadable alert setting")
			continue
		}
		if err != nil {
			return nil, err
		}
		settings = append(settings, setting)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return settings, nil
}

func scanSetting(row pgx.Row) (alerts.Setting, error) {
	var (
		setting              alerts.Setting
		hours, minutes       *int
		minSpread, maxSpread string
		mode                 string
	)
	if err := row.Scan(
		&setting.ID,
		&setting.OwnerID,
		&setting.Name,
		&hours,
		&minutes,
		&minSpread,
		&maxSpread,
		&setting.SelectedVenues,
		&mode,
		&setting.MaxResults,
		&setting.Active,
		&setting.LastSentAt,
		&setting.CreatedAt,
	); err != nil {
		return alerts.Setting{}, err
	}

	var err error
	if setting.Interval, err = alerts.IntervalFromColumns(hours, minutes); err != nil {
		return alerts.Setting{}, &corruptRowError{id: setting.ID, err: err}
	}
	if setting.MinSpread, err = decimal.NewFromString(minSpread); err != nil {
		return alerts.Setting{}, &corruptRowError{id: setting.ID, err: fmt.Errorf("parse min spread: %w", err)}
	}
	if setting.MaxSpread, err = decimal.NewFromString(maxSpread); err != nil {
		return alerts.Setting{}, &corruptRowError{id: setting.ID, err: fmt.Errorf("parse max spread: %w", err)}
	}
	setting.FilterMode = alerts.FilterMode(mode)
	return setting, nil
}
