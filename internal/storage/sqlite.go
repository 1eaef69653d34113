package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/forgecrm/hookd/internal/models"
)

type SQLiteStorage struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return &SQLiteStorage{db: db}, nil
}

func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS workspaces (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			api_key TEXT NOT NULL UNIQUE,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS subscriptions (
			id TEXT PRIMARY KEY,
			workspace_id TEXT NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
			url TEXT NOT NULL,
			event_types TEXT NOT NULL DEFAULT '[]',
			description TEXT NOT NULL DEFAULT '',
			active INTEGER NOT NULL DEFAULT 1,
			delivery_attempts INTEGER NOT NULL DEFAULT 0,
			failed_attempts INTEGER NOT NULL DEFAULT 0,
			last_delivery_at DATETIME,
			last_success_at DATETIME,
			last_failure_at DATETIME,
			last_error TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS subscription_secrets (
			id TEXT PRIMARY KEY,
			subscription_id TEXT NOT NULL REFERENCES subscriptions(id) ON DELETE CASCADE,
			secret TEXT NOT NULL,
			active INTEGER NOT NULL DEFAULT 1,
			expires_at DATETIME,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS delivery_logs (
			id TEXT PRIMARY KEY,
			subscription_id TEXT NOT NULL REFERENCES subscriptions(id) ON DELETE CASCADE,
			event_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			payload TEXT NOT NULL DEFAULT '{}',
			success INTEGER NOT NULL DEFAULT 0,
			status_code INTEGER NOT NULL DEFAULT 0,
			response_time_ms INTEGER NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			attempts INTEGER NOT NULL DEFAULT 1,
			replayed_from TEXT NOT NULL DEFAULT '',
			replayed_by TEXT NOT NULL DEFAULT '',
			replayed_at DATETIME,
			original_event_id TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS audit_logs (
			id TEXT PRIMARY KEY,
			workspace_id TEXT NOT NULL DEFAULT '',
			actor TEXT NOT NULL DEFAULT '',
			action TEXT NOT NULL,
			resource_type TEXT NOT NULL,
			resource_id TEXT NOT NULL,
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_workspaces_api_key ON workspaces(api_key)`,
		`CREATE INDEX IF NOT EXISTS idx_subscriptions_workspace ON subscriptions(workspace_id, active)`,
		`CREATE INDEX IF NOT EXISTS idx_secrets_subscription ON subscription_secrets(subscription_id, active)`,
		`CREATE INDEX IF NOT EXISTS idx_logs_subscription ON delivery_logs(subscription_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_logs_replayed_from ON delivery_logs(replayed_from) WHERE replayed_from != ''`,
		`CREATE INDEX IF NOT EXISTS idx_logs_created ON delivery_logs(created_at)`,
	}

	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// --- Workspaces ---

func (s *SQLiteStorage) CreateWorkspace(ctx context.Context, ws *models.Workspace) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO workspaces (id, name, api_key, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		ws.ID, ws.Name, ws.APIKey, ws.CreatedAt, ws.UpdatedAt,
	)
	return err
}

func (s *SQLiteStorage) GetWorkspace(ctx context.Context, id string) (*models.Workspace, error) {
	var ws models.Workspace
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, api_key, created_at, updated_at FROM workspaces WHERE id = ?`, id,
	).Scan(&ws.ID, &ws.Name, &ws.APIKey, &ws.CreatedAt, &ws.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &ws, err
}

func (s *SQLiteStorage) GetWorkspaceByAPIKey(ctx context.Context, apiKey string) (*models.Workspace, error) {
	var ws models.Workspace
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, api_key, created_at, updated_at FROM workspaces WHERE api_key = ?`, apiKey,
	).Scan(&ws.ID, &ws.Name, &ws.APIKey, &ws.CreatedAt, &ws.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &ws, err
}

func (s *SQLiteStorage) ListWorkspaces(ctx context.Context) ([]models.Workspace, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, api_key, created_at, updated_at FROM workspaces ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var workspaces []models.Workspace
	for rows.Next() {
		var ws models.Workspace
		if err := rows.Scan(&ws.ID, &ws.Name, &ws.APIKey, &ws.CreatedAt, &ws.UpdatedAt); err != nil {
			return nil, err
		}
		workspaces = append(workspaces, ws)
	}
	return workspaces, rows.Err()
}

func (s *SQLiteStorage) UpdateWorkspaceAPIKey(ctx context.Context, id, newKey string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE workspaces SET api_key = ?, updated_at = ? WHERE id = ?`,
		newKey, time.Now().UTC(), id,
	)
	return err
}

// --- Subscriptions ---

const subscriptionColumns = `id, workspace_id, url, event_types, description, active,
	delivery_attempts, failed_attempts, last_delivery_at, last_success_at, last_failure_at, last_error,
	created_at, updated_at`

func (s *SQLiteStorage) CreateSubscription(ctx context.Context, sub *models.Subscription) error {
	eventTypes, _ := json.Marshal(sub.EventTypes)
	active := 0
	if sub.Active {
		active = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subscriptions (id, workspace_id, url, event_types, description, active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.WorkspaceID, sub.URL, string(eventTypes), sub.Description, active, sub.CreatedAt, sub.UpdatedAt,
	)
	return err
}

func (s *SQLiteStorage) scanSubscription(row interface{ Scan(...interface{}) error }) (*models.Subscription, error) {
	var sub models.Subscription
	var eventTypes string
	var active int
	var lastDelivery, lastSuccess, lastFailure sql.NullTime
	err := row.Scan(&sub.ID, &sub.WorkspaceID, &sub.URL, &eventTypes, &sub.Description, &active,
		&sub.DeliveryAttempts, &sub.FailedAttempts, &lastDelivery, &lastSuccess, &lastFailure, &sub.LastError,
		&sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return nil, err
	}
	json.Unmarshal([]byte(eventTypes), &sub.EventTypes)
	sub.Active = active == 1
	if lastDelivery.Valid {
		sub.LastDeliveryAt = &lastDelivery.Time
	}
	if lastSuccess.Valid {
		sub.LastSuccessAt = &lastSuccess.Time
	}
	if lastFailure.Valid {
		sub.LastFailureAt = &lastFailure.Time
	}
	return &sub, nil
}

func (s *SQLiteStorage) GetSubscription(ctx context.Context, id string) (*models.Subscription, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = ?`, id)
	sub, err := s.scanSubscription(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return sub, err
}

func (s *SQLiteStorage) listSubscriptions(ctx context.Context, query string, args ...interface{}) ([]models.Subscription, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []models.Subscription
	for rows.Next() {
		sub, err := s.scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}

func (s *SQLiteStorage) ListSubscriptions(ctx context.Context, workspaceID string) ([]models.Subscription, error) {
	return s.listSubscriptions(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE workspace_id = ? ORDER BY created_at DESC`,
		workspaceID)
}

func (s *SQLiteStorage) ListActiveSubscriptions(ctx context.Context, workspaceID string) ([]models.Subscription, error) {
	return s.listSubscriptions(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE workspace_id = ? AND active = 1 ORDER BY created_at DESC`,
		workspaceID)
}

func (s *SQLiteStorage) UpdateSubscription(ctx context.Context, sub *models.Subscription) error {
	eventTypes, _ := json.Marshal(sub.EventTypes)
	active := 0
	if sub.Active {
		active = 1
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET url = ?, event_types = ?, description = ?, active = ?, updated_at = ? WHERE id = ?`,
		sub.URL, string(eventTypes), sub.Description, active, time.Now().UTC(), sub.ID,
	)
	return err
}

func (s *SQLiteStorage) DeleteSubscription(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE id = ?`, id)
	return err
}

func (s *SQLiteStorage) SetSubscriptionActive(ctx context.Context, id string, active bool, reason string) error {
	a := 0
	if active {
		a = 1
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET active = ?, last_error = ?, updated_at = ? WHERE id = ?`,
		a, reason, time.Now().UTC(), id,
	)
	return err
}

// RecordOutcome applies the counters with SQL arithmetic so concurrent
// dispatches for the same subscription never lose updates. The
// follow-up disable UPDATE is conditional on the threshold and only
// reports disabled=true for the statement that actually flipped it.
func (s *SQLiteStorage) RecordOutcome(ctx context.Context, id string, success bool, errText string, maxFailedEvents int) (bool, error) {
	now := time.Now().UTC()
	var err error
	if success {
		_, err = s.db.ExecContext(ctx,
			`UPDATE subscriptions SET
				delivery_attempts = delivery_attempts + 1,
				failed_attempts = 0,
				last_delivery_at = ?,
				last_success_at = ?,
				last_error = '',
				updated_at = ?
			 WHERE id = ?`,
			now, now, now, id,
		)
		return false, err
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE subscriptions SET
			delivery_attempts = delivery_attempts + 1,
			failed_attempts = failed_attempts + 1,
			last_delivery_at = ?,
			last_failure_at = ?,
			last_error = ?,
			updated_at = ?
		 WHERE id = ?`,
		now, now, errText, now, id,
	)
	if err != nil {
		return false, err
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET active = 0, last_error = ?, updated_at = ?
		 WHERE id = ? AND active = 1 AND failed_attempts >= ?`,
		models.AutoDisableReason, now, id, maxFailedEvents,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// --- Secrets ---

func (s *SQLiteStorage) CreateSecret(ctx context.Context, sec *models.SigningSecret) error {
	active := 0
	if sec.Active {
		active = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subscription_secrets (id, subscription_id, secret, active, expires_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sec.ID, sec.SubscriptionID, sec.Secret, active, sec.ExpiresAt, sec.CreatedAt,
	)
	return err
}

func (s *SQLiteStorage) GetActiveSecret(ctx context.Context, subscriptionID string) (*models.SigningSecret, error) {
	var sec models.SigningSecret
	var active int
	var expiresAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id, subscription_id, secret, active, expires_at, created_at
		 FROM subscription_secrets WHERE subscription_id = ? AND active = 1
		 ORDER BY created_at DESC LIMIT 1`, subscriptionID,
	).Scan(&sec.ID, &sec.SubscriptionID, &sec.Secret, &active, &expiresAt, &sec.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	sec.Active = active == 1
	if expiresAt.Valid {
		sec.ExpiresAt = &expiresAt.Time
	}
	return &sec, nil
}

func (s *SQLiteStorage) ListSecrets(ctx context.Context, subscriptionID string) ([]models.SigningSecret, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, subscription_id, secret, active, expires_at, created_at
		 FROM subscription_secrets WHERE subscription_id = ? ORDER BY created_at DESC`, subscriptionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var secrets []models.SigningSecret
	for rows.Next() {
		var sec models.SigningSecret
		var active int
		var expiresAt sql.NullTime
		if err := rows.Scan(&sec.ID, &sec.SubscriptionID, &sec.Secret, &active, &expiresAt, &sec.CreatedAt); err != nil {
			return nil, err
		}
		sec.Active = active == 1
		if expiresAt.Valid {
			sec.ExpiresAt = &expiresAt.Time
		}
		secrets = append(secrets, sec)
	}
	return secrets, rows.Err()
}

func (s *SQLiteStorage) RetireActiveSecrets(ctx context.Context, subscriptionID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE subscription_secrets SET active = 0, expires_at = ? WHERE subscription_id = ? AND active = 1`,
		expiresAt, subscriptionID,
	)
	return err
}

// --- Delivery ledger ---

const logColumns = `id, subscription_id, event_id, event_type, payload, success, status_code,
	response_time_ms, error, attempts, replayed_from, replayed_by, replayed_at, original_event_id, created_at`

func (s *SQLiteStorage) CreateDeliveryLog(ctx context.Context, log *models.DeliveryLog) error {
	success := 0
	if log.Success {
		success = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO delivery_logs (`+logColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		log.ID, log.SubscriptionID, log.EventID, log.EventType, string(log.Payload), success,
		log.StatusCode, log.ResponseTimeMs, log.Error, log.Attempts,
		log.ReplayedFrom, log.ReplayedBy, log.ReplayedAt, log.OriginalEventID, log.CreatedAt,
	)
	return err
}

func (s *SQLiteStorage) scanDeliveryLog(row interface{ Scan(...interface{}) error }) (*models.DeliveryLog, error) {
	var l models.DeliveryLog
	var payload string
	var success int
	var replayedAt sql.NullTime
	err := row.Scan(&l.ID, &l.SubscriptionID, &l.EventID, &l.EventType, &payload, &success,
		&l.StatusCode, &l.ResponseTimeMs, &l.Error, &l.Attempts,
		&l.ReplayedFrom, &l.ReplayedBy, &replayedAt, &l.OriginalEventID, &l.CreatedAt)
	if err != nil {
		return nil, err
	}
	l.Payload = json.RawMessage(payload)
	l.Success = success == 1
	if replayedAt.Valid {
		l.ReplayedAt = &replayedAt.Time
	}
	return &l, nil
}

func (s *SQLiteStorage) GetDeliveryLog(ctx context.Context, id string) (*models.DeliveryLog, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+logColumns+` FROM delivery_logs WHERE id = ?`, id)
	l, err := s.scanDeliveryLog(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return l, err
}

func (s *SQLiteStorage) ListDeliveryLogs(ctx context.Context, subscriptionID string, limit, offset int) ([]models.DeliveryLog, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.queryDeliveryLogs(ctx,
		`SELECT `+logColumns+` FROM delivery_logs WHERE subscription_id = ?
		 ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		subscriptionID, limit, offset)
}

func (s *SQLiteStorage) ListReplays(ctx context.Context, rootLogID string) ([]models.DeliveryLog, error) {
	return s.queryDeliveryLogs(ctx,
		`SELECT `+logColumns+` FROM delivery_logs WHERE replayed_from = ? ORDER BY created_at ASC`,
		rootLogID)
}

func (s *SQLiteStorage) queryDeliveryLogs(ctx context.Context, query string, args ...interface{}) ([]models.DeliveryLog, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []models.DeliveryLog
	for rows.Next() {
		l, err := s.scanDeliveryLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, *l)
	}
	return logs, rows.Err()
}

func (s *SQLiteStorage) DeleteDeliveryLogsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM delivery_logs WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLiteStorage) RecentSuccessRate(ctx context.Context, subscriptionID string, window int) (float64, int, error) {
	if window <= 0 {
		window = 50
	}
	var total, succeeded int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(success), 0) FROM (
			SELECT success FROM delivery_logs WHERE subscription_id = ?
			ORDER BY created_at DESC LIMIT ?
		 )`, subscriptionID, window,
	).Scan(&total, &succeeded)
	if err != nil {
		return 0, 0, err
	}
	if total == 0 {
		return 100, 0, nil
	}
	return float64(succeeded) / float64(total) * 100, total, nil
}

func (s *SQLiteStorage) ListAutoDisableCandidates(ctx context.Context, since time.Time, minFailures int) ([]models.Subscription, error) {
	return s.listSubscriptions(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions
		 WHERE active = 1 AND id IN (
			SELECT subscription_id FROM delivery_logs
			WHERE created_at >= ?
			GROUP BY subscription_id
			HAVING SUM(success) = 0 AND COUNT(*) >= ?
		 )`, since, minFailures)
}

// --- Audit ---

func (s *SQLiteStorage) CreateAuditLog(ctx context.Context, entry *models.AuditLog) error {
	metadata, _ := json.Marshal(entry.Metadata)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_logs (id, workspace_id, actor, action, resource_type, resource_id, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.WorkspaceID, entry.Actor, entry.Action, entry.ResourceType, entry.ResourceID,
		string(metadata), entry.CreatedAt,
	)
	return err
}

// --- Stats ---

func (s *SQLiteStorage) GetStats(ctx context.Context, workspaceID string) (*Stats, error) {
	stats := &Stats{}

	s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM subscriptions WHERE workspace_id = ?`, workspaceID).Scan(&stats.TotalSubscriptions)
	s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM subscriptions WHERE workspace_id = ? AND active = 1`, workspaceID).Scan(&stats.ActiveSubscriptions)
	s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM delivery_logs l JOIN subscriptions sub ON l.subscription_id = sub.id
		 WHERE sub.workspace_id = ?`, workspaceID).Scan(&stats.TotalDeliveries)
	s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM delivery_logs l JOIN subscriptions sub ON l.subscription_id = sub.id
		 WHERE sub.workspace_id = ? AND l.success = 1`, workspaceID).Scan(&stats.SuccessCount)
	s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM delivery_logs l JOIN subscriptions sub ON l.subscription_id = sub.id
		 WHERE sub.workspace_id = ? AND l.success = 0`, workspaceID).Scan(&stats.FailedCount)
	s.db.QueryRowContext(ctx,
		`SELECT COALESCE(AVG(l.response_time_ms), 0) FROM delivery_logs l JOIN subscriptions sub ON l.subscription_id = sub.id
		 WHERE sub.workspace_id = ?`, workspaceID).Scan(&stats.AvgResponseTimeMs)

	if stats.TotalDeliveries > 0 {
		stats.SuccessRate = float64(stats.SuccessCount) / float64(stats.TotalDeliveries) * 100
	}

	return stats, nil
}
