package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/tidwall/gjson"

	"chatexport/pkg/types"
)

// ========================================
// HistoryStore - SQLite 导出历史
// ========================================

// HistoryStore records runs and attempts so later runs can resume
type HistoryStore struct {
	db     *sql.DB
	dbPath string

	stmtInsertRun     *sql.Stmt
	stmtFinishRun     *sql.Stmt
	stmtInsertAttempt *sql.Stmt
}

const historySchemaSQL = `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    device_id TEXT NOT NULL,
    started_at INTEGER NOT NULL,
    finished_at INTEGER DEFAULT 0,
    aborted INTEGER DEFAULT 0,
    summary TEXT DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_runs_time ON runs(started_at DESC);

CREATE TABLE IF NOT EXISTS export_attempts (
    id TEXT PRIMARY KEY,
    run_id TEXT,
    device_id TEXT NOT NULL,
    chat TEXT NOT NULL,
    with_media INTEGER DEFAULT 0,
    status TEXT NOT NULL,
    failing_step TEXT,
    reason TEXT,
    upload_strategy TEXT,
    started_at INTEGER NOT NULL,
    finished_at INTEGER NOT NULL,
    duration_ms INTEGER DEFAULT 0,
    metadata TEXT DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_attempts_chat ON export_attempts(device_id, chat, status);
CREATE INDEX IF NOT EXISTS idx_attempts_run ON export_attempts(run_id);
CREATE INDEX IF NOT EXISTS idx_attempts_time ON export_attempts(started_at DESC);
`

// NewHistoryStore opens (and creates) the database at dbPath
func NewHistoryStore(dbPath string) (*HistoryStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=ON")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite 单写入
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &HistoryStore{db: db, dbPath: dbPath}
	if _, err := db.Exec(historySchemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}
	if err := s.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}
	return s, nil
}

func (s *HistoryStore) prepareStatements() error {
	var err error
	s.stmtInsertRun, err = s.db.Prepare(`
		INSERT INTO runs (id, device_id, started_at) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	s.stmtFinishRun, err = s.db.Prepare(`
		UPDATE runs SET finished_at = ?, aborted = ?, summary = ? WHERE id = ?`)
	if err != nil {
		return err
	}
	s.stmtInsertAttempt, err = s.db.Prepare(`
		INSERT INTO export_attempts (
			id, run_id, device_id, chat, with_media, status, failing_step, reason,
			upload_strategy, started_at, finished_at, duration_ms, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	return err
}

// CreateRun opens a run row
func (s *HistoryStore) CreateRun(runID, deviceID string, startedAt time.Time) error {
	if _, err := s.stmtInsertRun.Exec(runID, deviceID, startedAt.UnixMilli()); err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// runTallies is the JSON stored in runs.summary; attempts live in their own table
type runTallies struct {
	Requested       int    `json:"requested"`
	Succeeded       int    `json:"succeeded"`
	Skipped         int    `json:"skipped"`
	Failed          int    `json:"failed"`
	NotLocated      int    `json:"notLocated"`
	AlreadyExported int    `json:"alreadyExported"`
	AbortReason     string `json:"abortReason,omitempty"`
}

// FinishRun stores the final tallies of a run
func (s *HistoryStore) FinishRun(sum RunSummary) error {
	data, err := json.Marshal(runTallies{
		Requested:       sum.Requested,
		Succeeded:       sum.Succeeded,
		Skipped:         sum.Skipped,
		Failed:          sum.Failed,
		NotLocated:      sum.NotLocated,
		AlreadyExported: sum.AlreadyExported,
		AbortReason:     sum.AbortReason,
	})
	if err != nil {
		return err
	}
	aborted := 0
	if sum.Aborted {
		aborted = 1
	}
	if _, err := s.stmtFinishRun.Exec(sum.FinishedAt.UnixMilli(), aborted, string(data), sum.RunID); err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// attemptMetadata is the free-form part of an attempt
type attemptMetadata struct {
	Path         []ExportState `json:"path"`
	Detail       string        `json:"detail,omitempty"`
	DiscoveredAt int           `json:"discoveredAt"`
	Verified     bool          `json:"verified"`
}

// RecordAttempt stores one finalized attempt
func (s *HistoryStore) RecordAttempt(runID, deviceID string, a ExportAttempt) error {
	meta, err := json.Marshal(attemptMetadata{
		Path:         a.Path,
		Detail:       a.Detail,
		DiscoveredAt: a.Chat.DiscoveredAt,
		Verified:     a.Chat.Verified,
	})
	if err != nil {
		return err
	}
	withMedia := 0
	if a.WithMedia {
		withMedia = 1
	}
	_, err = s.stmtInsertAttempt.Exec(
		a.ID, runID, deviceID, a.Chat.DisplayName, withMedia, string(a.Status),
		string(a.FailingStep), a.Reason, a.UploadStrategy,
		a.StartedAt.UnixMilli(), a.FinishedAt.UnixMilli(), a.Duration().Milliseconds(),
		string(meta),
	)
	if err != nil {
		return fmt.Errorf("record attempt %s: %w", a.ID, err)
	}
	return nil
}

// ExportedChats returns chats with a successful attempt. An empty deviceID
// matches every device.
func (s *HistoryStore) ExportedChats(deviceID string) ([]string, error) {
	rows, err := s.db.Query(`
		SELECT DISTINCT chat FROM export_attempts
		WHERE status = ? AND (? = '' OR device_id = ?)
		ORDER BY chat`, string(types.StatusSucceeded), deviceID, deviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chats []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// ListAttempts returns the most recent attempts, newest first
func (s *HistoryStore) ListAttempts(limit int) ([]AttemptRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, COALESCE(run_id, ''), device_id, chat, with_media, status,
			COALESCE(failing_step, ''), COALESCE(reason, ''), COALESCE(upload_strategy, ''),
			started_at, finished_at, metadata
		FROM export_attempts
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AttemptRecord
	for rows.Next() {
		var (
			rec                 AttemptRecord
			withMedia           int
			status, step        string
			startedAt, finished int64
			metadata            string
		)
		a := &rec.Attempt
		if err := rows.Scan(&a.ID, &rec.RunID, &rec.DeviceID, &a.Chat.DisplayName, &withMedia, &status,
			&step, &a.Reason, &a.UploadStrategy, &startedAt, &finished, &metadata); err != nil {
			return nil, err
		}
		a.WithMedia = withMedia == 1
		a.Status = ExportStatus(status)
		a.FailingStep = ExportState(step)
		a.StartedAt = time.UnixMilli(startedAt)
		a.FinishedAt = time.UnixMilli(finished)

		meta := gjson.Parse(metadata)
		a.Detail = meta.Get("detail").String()
		a.Chat.DiscoveredAt = int(meta.Get("discoveredAt").Int())
		a.Chat.Verified = meta.Get("verified").Bool()
		for _, p := range meta.Get("path").Array() {
			a.Path = append(a.Path, ExportState(p.String()))
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// GetRun loads a run's tallies (without attempts)
func (s *HistoryStore) GetRun(runID string) (*RunSummary, error) {
	var (
		deviceID            string
		startedAt, finished int64
		aborted             int
		summary             string
	)
	err := s.db.QueryRow(`
		SELECT device_id, started_at, finished_at, aborted, summary FROM runs WHERE id = ?`, runID).
		Scan(&deviceID, &startedAt, &finished, &aborted, &summary)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run not found: %s", runID)
	}
	if err != nil {
		return nil, err
	}

	t := gjson.GetMany(summary, "requested", "succeeded", "skipped", "failed", "notLocated", "alreadyExported", "abortReason", "notAttempted")
	sum := &RunSummary{
		RunID:           runID,
		DeviceID:        deviceID,
		Requested:       int(t[0].Int()),
		Succeeded:       int(t[1].Int()),
		Skipped:         int(t[2].Int()),
		Failed:          int(t[3].Int()),
		NotLocated:      int(t[4].Int()),
		AlreadyExported: int(t[5].Int()),
		AbortReason:     t[6].String(),
		NotAttempted:    int(t[7].Int()),
		Aborted:         aborted == 1,
		StartedAt:       time.UnixMilli(startedAt),
	}
	if finished > 0 {
		sum.FinishedAt = time.UnixMilli(finished)
	}
	return sum, nil
}

// Close releases statements and the database
func (s *HistoryStore) Close() error {
	for _, stmt := range []*sql.Stmt{s.stmtInsertRun, s.stmtFinishRun, s.stmtInsertAttempt} {
		if stmt != nil {
			stmt.Close()
		}
	}
	return s.db.Close()
}
