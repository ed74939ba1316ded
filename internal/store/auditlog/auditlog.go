// Package auditlog appends one row per pipeline decision so every anomaly
// can be traced to its outcome.
package auditlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Entry is one audited decision.
type Entry struct {
	ID         int64           `json:"id"`
	Timestamp  time.Time       `json:"ts"`
	Symbol     string          `json:"symbol"`
	Action     string          `json:"action"`
	Stage      string          `json:"stage,omitempty"`
	Category   string          `json:"category,omitempty"`
	Reason     string          `json:"reason,omitempty"`
	SignalID   string          `json:"signal_id,omitempty"`
	PositionID string          `json:"position_id,omitempty"`
	Direction  string          `json:"direction,omitempty"`
	Score      float64         `json:"score,omitempty"`
	Confidence float64         `json:"confidence,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// Query filters Recent. Zero values match everything.
type Query struct {
	Symbol string
	Action string
	Limit  int
}

type Store struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("audit log path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, path: path}, nil
}

func ensureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS pipeline_audit (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts INTEGER NOT NULL,
			symbol TEXT NOT NULL,
			action TEXT NOT NULL,
			stage TEXT,
			category TEXT,
			reason TEXT,
			signal_id TEXT,
			position_id TEXT,
			direction TEXT,
			score REAL,
			confidence REAL,
			payload TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pipeline_audit_symbol_ts ON pipeline_audit(symbol, ts)`,
		`CREATE INDEX IF NOT EXISTS idx_pipeline_audit_action ON pipeline_audit(action)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("audit schema: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Append writes e and returns its row id.
func (s *Store) Append(ctx context.Context, e Entry) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return 0, fmt.Errorf("audit log closed")
	}
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	var payload any
	if len(e.Payload) > 0 {
		payload = string(e.Payload)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO pipeline_audit (ts, symbol, action, stage, category, reason, signal_id, position_id, direction, score, confidence, payload)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ts.UnixMilli(), e.Symbol, e.Action, e.Stage, e.Category, e.Reason,
		e.SignalID, e.PositionID, e.Direction, e.Score, e.Confidence, payload)
	if err != nil {
		return 0, fmt.Errorf("audit append: %w", err)
	}
	return res.LastInsertId()
}

// Recent returns the newest entries first.
func (s *Store) Recent(ctx context.Context, q Query) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, fmt.Errorf("audit log closed")
	}
	limit := q.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	var (
		where []string
		args  []any
	)
	if q.Symbol != "" {
		where = append(where, "symbol = ?")
		args = append(args, strings.ToUpper(q.Symbol))
	}
	if q.Action != "" {
		where = append(where, "action = ?")
		args = append(args, q.Action)
	}
	query := `SELECT id, ts, symbol, action, stage, category, reason, signal_id, position_id, direction, score, confidence, payload FROM pipeline_audit`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY ts DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit query: %w", err)
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var (
			e                                                       Entry
			ts                                                      int64
			stage, category, reason, signalID, positionID, dir, pay sql.NullString
			score, conf                                             sql.NullFloat64
		)
		if err := rows.Scan(&e.ID, &ts, &e.Symbol, &e.Action, &stage, &category, &reason,
			&signalID, &positionID, &dir, &score, &conf, &pay); err != nil {
			return nil, err
		}
		e.Timestamp = time.UnixMilli(ts).UTC()
		e.Stage = stage.String
		e.Category = category.String
		e.Reason = reason.String
		e.SignalID = signalID.String
		e.PositionID = positionID.String
		e.Direction = dir.String
		e.Score = score.Float64
		e.Confidence = conf.Float64
		if pay.Valid && pay.String != "" {
			e.Payload = json.RawMessage(pay.String)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Counts groups entries by action since the given time.
func (s *Store) Counts(ctx context.Context, since time.Time) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, fmt.Errorf("audit log closed")
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT action, COUNT(*) FROM pipeline_audit WHERE ts >= ? GROUP BY action`, since.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("audit counts: %w", err)
	}
	defer rows.Close()
	out := make(map[string]int)
	for rows.Next() {
		var action string
		var n int
		if err := rows.Scan(&action, &n); err != nil {
			return nil, err
		}
		out[action] = n
	}
	return out, rows.Err()
}
