package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	_ "github.com/mutecomm/go-sqlcipher/v4" // SQLCipher driver for encrypted SQLite

	"github.com/urlsentry/urlsentry/internal/logger"
	"github.com/urlsentry/urlsentry/internal/scan"
)

var log = logger.New("history")

// MinEncryptionKeyLength is the minimum required length for encryption keys.
const MinEncryptionKeyLength = 16

// Query bounds, mirrored on the API defaults.
const (
	DefaultRecentMinutes = 60
	MaxRecentLimit       = 1000
)

// Storage records scan decisions and rule lifecycle events in a SQLite
// database, optionally SQLCipher-encrypted.
type Storage struct {
	conn      *sql.DB
	encrypted bool
}

// NewStorage opens (creating if needed) the database at dbPath. A non-empty
// encryptionKey enables SQLCipher; keys shorter than
// MinEncryptionKeyLength are rejected.
func NewStorage(dbPath string, encryptionKey string) (*Storage, error) {
	params := url.Values{}
	params.Set("_busy_timeout", "5000")
	params.Set("_journal_mode", "WAL")
	params.Set("_foreign_keys", "1")

	// The key travels as a connection-string parameter, not a PRAGMA
	// statement, so it cannot be used for SQL injection.
	if encryptionKey != "" {
		if len(encryptionKey) < MinEncryptionKeyLength {
			return nil, fmt.Errorf("encryption key must be at least %d characters", MinEncryptionKeyLength)
		}
		params.Set("_pragma_key", encryptionKey)
	}

	conn, err := sql.Open("sqlite3", dbPath+"?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite supports only one writer at a time. Limiting to 1 connection
	// serializes all DB access at the Go level, preventing SQLITE_BUSY errors.
	conn.SetMaxOpenConns(1)

	encrypted := false
	if encryptionKey != "" {
		var one int
		if err := conn.QueryRowContext(context.Background(), "SELECT 1").Scan(&one); err != nil {
			conn.Close()
			return nil, fmt.Errorf("encryption key verification failed: %w", err)
		}
		encrypted = true
		log.Info("History database encryption enabled")
	}

	s := &Storage{conn: conn, encrypted: encrypted}
	if err := s.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// IsEncrypted returns whether the database is encrypted.
func (s *Storage) IsEncrypted() bool {
	return s.encrypted
}

// Close closes the database connection.
func (s *Storage) Close() error {
	return s.conn.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS scans (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	scan_id TEXT NOT NULL,
	fingerprint TEXT NOT NULL,
	url TEXT NOT NULL,
	verdict TEXT NOT NULL,
	risk_level TEXT NOT NULL,
	score INTEGER NOT NULL DEFAULT 0,
	max_score INTEGER NOT NULL DEFAULT 0,
	percentage INTEGER NOT NULL DEFAULT 0,
	reasoning TEXT,
	mandate TEXT DEFAULT '',
	phases BLOB DEFAULT '[]',
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_scans_fingerprint ON scans(fingerprint);
CREATE INDEX IF NOT EXISTS idx_scans_created_at ON scans(created_at);
CREATE INDEX IF NOT EXISTS idx_scans_verdict ON scans(verdict);

CREATE TABLE IF NOT EXISTS rule_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event TEXT NOT NULL,
	rule_id TEXT,
	url TEXT,
	reason TEXT,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_rule_events_created_at ON rule_events(created_at);
CREATE INDEX IF NOT EXISTS idx_rule_events_rule_id ON rule_events(rule_id);
`

func (s *Storage) initSchema() error {
	_, err := s.conn.ExecContext(context.Background(), schema)
	return err
}

// ScanRecord is one persisted decision.
type ScanRecord struct {
	ID          int64           `json:"id"`
	ScanID      string          `json:"scan_id"`
	Fingerprint string          `json:"fingerprint"`
	URL         string          `json:"url"`
	Verdict     string          `json:"verdict"`
	RiskLevel   string          `json:"risk_level"`
	Score       int             `json:"score"`
	MaxScore    int             `json:"max_score"`
	Percentage  int             `json:"percentage"`
	Reasoning   string          `json:"reasoning,omitempty"`
	Mandate     string          `json:"mandate,omitempty"`
	Phases      json.RawMessage `json:"phases,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// RuleEvent is one persisted rule lifecycle event.
type RuleEvent struct {
	ID        int64     `json:"id"`
	Event     string    `json:"event"`
	RuleID    string    `json:"rule_id,omitempty"`
	URL       string    `json:"url,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// RecordDecision persists a completed decision.
func (s *Storage) RecordDecision(d scan.Decision) error {
	phases, err := json.Marshal(d.Phases)
	if err != nil {
		phases = []byte("[]")
	}

	_, err = s.conn.ExecContext(context.Background(), `
		INSERT INTO scans (scan_id, fingerprint, url, verdict, risk_level,
			score, max_score, percentage, reasoning, mandate, phases, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ScanID, d.Fingerprint, d.URL, string(d.Verdict), string(d.RiskLevel),
		d.Score, d.MaxScore, d.Percentage, d.Reasoning, string(d.Mandate),
		phases, d.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("recording decision: %w", err)
	}
	return nil
}

// RecordRuleEvent persists a learner outcome for auditing.
func (s *Storage) RecordRuleEvent(event, ruleID, rawURL, reason string) error {
	_, err := s.conn.ExecContext(context.Background(), `
		INSERT INTO rule_events (event, rule_id, url, reason, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		event, ruleID, rawURL, reason, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("recording rule event: %w", err)
	}
	return nil
}

// GetRecentScans returns scans from the last N minutes, newest first,
// bounded by limit.
func (s *Storage) GetRecentScans(minutes int, limit int) ([]ScanRecord, error) {
	if minutes <= 0 {
		minutes = DefaultRecentMinutes
	}
	if limit <= 0 || limit > MaxRecentLimit {
		limit = MaxRecentLimit
	}
	since := time.Now().UTC().Add(-time.Duration(minutes) * time.Minute)

	rows, err := s.conn.QueryContext(context.Background(), `
		SELECT id, scan_id, fingerprint, url, verdict, risk_level,
			score, max_score, percentage, reasoning, mandate, phases, created_at
		FROM scans
		WHERE created_at >= ?
		ORDER BY created_at DESC
		LIMIT ?`,
		since, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying recent scans: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// GetByFingerprint returns this fingerprint's scans, newest first.
func (s *Storage) GetByFingerprint(fingerprint string, limit int) ([]ScanRecord, error) {
	if limit <= 0 || limit > MaxRecentLimit {
		limit = 50
	}
	rows, err := s.conn.QueryContext(context.Background(), `
		SELECT id, scan_id, fingerprint, url, verdict, risk_level,
			score, max_score, percentage, reasoning, mandate, phases, created_at
		FROM scans
		WHERE fingerprint = ?
		ORDER BY created_at DESC
		LIMIT ?`,
		fingerprint, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying scans by fingerprint: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]ScanRecord, error) {
	var out []ScanRecord
	for rows.Next() {
		var (
			r         ScanRecord
			reasoning sql.NullString
			mandate   sql.NullString
			phases    []byte
		)
		err := rows.Scan(&r.ID, &r.ScanID, &r.Fingerprint, &r.URL, &r.Verdict,
			&r.RiskLevel, &r.Score, &r.MaxScore, &r.Percentage,
			&reasoning, &mandate, &phases, &r.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		r.Reasoning = reasoning.String
		r.Mandate = mandate.String
		r.Phases = phases
		out = append(out, r)
	}
	return out, rows.Err()
}

// Stats summarizes the scans table.
type Stats struct {
	TotalScans int64            `json:"total_scans"`
	Verdicts   map[string]int64 `json:"verdicts"`
	RuleEvents int64            `json:"rule_events"`
	Encrypted  bool             `json:"encrypted"`
}

// GetStats returns scan totals and the verdict breakdown.
func (s *Storage) GetStats() (*Stats, error) {
	ctx := context.Background()
	stats := &Stats{Verdicts: make(map[string]int64), Encrypted: s.encrypted}

	if err := s.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM scans").Scan(&stats.TotalScans); err != nil {
		return nil, fmt.Errorf("counting scans: %w", err)
	}
	if err := s.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM rule_events").Scan(&stats.RuleEvents); err != nil {
		return nil, fmt.Errorf("counting rule events: %w", err)
	}

	rows, err := s.conn.QueryContext(ctx, "SELECT verdict, COUNT(*) FROM scans GROUP BY verdict")
	if err != nil {
		return nil, fmt.Errorf("counting verdicts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var verdict string
		var count int64
		if err := rows.Scan(&verdict, &count); err != nil {
			return nil, err
		}
		stats.Verdicts[verdict] = count
	}
	return stats, rows.Err()
}

// CleanupOldData deletes scans and rule events older than the given number
// of days. Returns the number of rows removed.
func (s *Storage) CleanupOldData(days int) (int64, error) {
	if days <= 0 {
		return 0, fmt.Errorf("retention days must be positive")
	}
	ctx := context.Background()
	cutoff := time.Now().UTC().AddDate(0, 0, -days)

	var total int64
	for _, table := range []string{"scans", "rule_events"} {
		res, err := s.conn.ExecContext(ctx,
			fmt.Sprintf("DELETE FROM %s WHERE created_at < ?", table), cutoff)
		if err != nil {
			return total, fmt.Errorf("cleaning %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	if total > 0 {
		log.Info("Retention pass removed %d row(s) older than %d days", total, days)
	}
	return total, nil
}
