// Package history keeps an append-only, bounded record of analyzed alerts.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/EasonC13-shadow/LuLuAICompanion/internal/domain"
)

const defaultMaxEntries = 200

// Store persists (alert, analysis) snapshots in SQLite, trimmed to a bounded
// count oldest-first.
type Store struct {
	db         *sql.DB
	maxEntries int
	logger     *slog.Logger
}

// Config configures a Store.
type Config struct {
	DBPath     string
	MaxEntries int
	Logger     *slog.Logger
}

func NewStore(cfg Config) (*Store, error) {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = defaultMaxEntries
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	dir := filepath.Dir(cfg.DBPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", cfg.DBPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db, maxEntries: cfg.MaxEntries, logger: cfg.Logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS history (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		alert_id        TEXT NOT NULL,
		process_name    TEXT,
		process_path    TEXT,
		process_id      TEXT,
		ip_address      TEXT,
		port            TEXT,
		protocol        TEXT,
		reverse_dns     TEXT,
		raw_texts       TEXT,
		recommendation  TEXT NOT NULL,
		confidence      REAL,
		summary         TEXT,
		details         TEXT,
		risks           TEXT,
		known_service   TEXT,
		model           TEXT,
		created_at      DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_history_time ON history(created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Append records one entry and trims the store to its bound in the same
// transaction, evicting oldest-first.
func (s *Store) Append(ctx context.Context, entry domain.HistoryEntry) error {
	rawTexts, err := json.Marshal(entry.Alert.RawTexts)
	if err != nil {
		return fmt.Errorf("marshal raw texts: %w", err)
	}
	risks, err := json.Marshal(entry.Analysis.Risks)
	if err != nil {
		return fmt.Errorf("marshal risks: %w", err)
	}
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO history (
			alert_id, process_name, process_path, process_id,
			ip_address, port, protocol, reverse_dns, raw_texts,
			recommendation, confidence, summary, details, risks,
			known_service, model, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.Alert.ID, entry.Alert.ProcessName, entry.Alert.ProcessPath, entry.Alert.ProcessID,
		entry.Alert.IPAddress, entry.Alert.Port, entry.Alert.Protocol, entry.Alert.ReverseDNS, string(rawTexts),
		string(entry.Analysis.Recommendation), entry.Analysis.Confidence, entry.Analysis.Summary,
		entry.Analysis.Details, string(risks), entry.Analysis.KnownService, entry.Model, createdAt,
	)
	if err != nil {
		return fmt.Errorf("insert history entry: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`DELETE FROM history WHERE id NOT IN (
			SELECT id FROM history ORDER BY id DESC LIMIT ?
		)`, s.maxEntries,
	)
	if err != nil {
		return fmt.Errorf("trim history: %w", err)
	}

	return tx.Commit()
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]domain.HistoryEntry, error) {
	if limit <= 0 || limit > s.maxEntries {
		limit = s.maxEntries
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, alert_id, process_name, process_path, process_id,
			ip_address, port, protocol, reverse_dns, raw_texts,
			recommendation, confidence, summary, details, risks,
			known_service, model, created_at
		 FROM history ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.HistoryEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Count returns the number of stored entries.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM history`).Scan(&n)
	return n, err
}

func scanEntry(rows *sql.Rows) (domain.HistoryEntry, error) {
	var e domain.HistoryEntry
	var rawTexts, risks, recommendation sql.NullString
	var confidence sql.NullFloat64
	err := rows.Scan(
		&e.ID, &e.Alert.ID, &e.Alert.ProcessName, &e.Alert.ProcessPath, &e.Alert.ProcessID,
		&e.Alert.IPAddress, &e.Alert.Port, &e.Alert.Protocol, &e.Alert.ReverseDNS, &rawTexts,
		&recommendation, &confidence, &e.Analysis.Summary, &e.Analysis.Details, &risks,
		&e.Analysis.KnownService, &e.Model, &e.CreatedAt,
	)
	if err != nil {
		return e, fmt.Errorf("scan history entry: %w", err)
	}
	if rawTexts.Valid {
		json.Unmarshal([]byte(rawTexts.String), &e.Alert.RawTexts)
	}
	if risks.Valid {
		json.Unmarshal([]byte(risks.String), &e.Analysis.Risks)
	}
	e.Analysis.Recommendation = domain.Recommendation(recommendation.String)
	e.Analysis.Confidence = confidence.Float64
	e.Analysis.Model = e.Model
	return e, nil
}

func (s *Store) Close() error { return s.db.Close() }
