package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/mohitkumar/agentflow/logger"
	"go.uber.org/zap"
)

const schema = `
CREATE TABLE IF NOT EXISTS memory_versions (
	session_id TEXT PRIMARY KEY,
	version INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS memory_entries (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	channel TEXT NOT NULL,
	version INTEGER NOT NULL,
	payload TEXT NOT NULL,
	step_execution_id TEXT,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_memory_entries_channel ON memory_entries(session_id, channel, version);
`

type SQLiteService struct {
	db *sql.DB
}

var _ Service = new(SQLiteService)

// NewSQLiteService opens (or creates) the database at path. ":memory:" keeps
// everything in process.
func NewSQLiteService(path string) (*SQLiteService, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// a single writer keeps version allocation serialized; it is also what
	// makes ":memory:" a single database
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("error creating memory schema: %w", err)
	}
	return &SQLiteService{db: db}, nil
}

func (s *SQLiteService) Close() error {
	return s.db.Close()
}

func (s *SQLiteService) Append(ctx context.Context, sessionId string, channel string, payload map[string]any, stepExecutionId string) (int64, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO memory_versions(session_id, version) VALUES(?, 1)
		 ON CONFLICT(session_id) DO UPDATE SET version = version + 1`, sessionId)
	if err != nil {
		return 0, err
	}
	var version int64
	if err := tx.QueryRowContext(ctx, `SELECT version FROM memory_versions WHERE session_id = ?`, sessionId).Scan(&version); err != nil {
		return 0, err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO memory_entries(session_id, channel, version, payload, step_execution_id, created_at) VALUES(?, ?, ?, ?, ?, ?)`,
		sessionId, channel, version, string(data), stepExecutionId, time.Now().UnixMilli())
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	logger.Debug("memory entry appended", zap.String("sessionId", sessionId), zap.String("channel", channel), zap.Int64("version", version))
	return version, nil
}

func (s *SQLiteService) History(ctx context.Context, sessionId string, channel string, limit int) ([]Entry, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT version, payload, step_execution_id, created_at FROM memory_entries
		 WHERE session_id = ? AND channel = ? ORDER BY version DESC LIMIT ?`,
		sessionId, channel, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e       Entry
			payload string
			stepId  sql.NullString
			created int64
		)
		if err := rows.Scan(&e.Version, &payload, &stepId, &created); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(payload), &e.Payload); err != nil {
			return nil, err
		}
		e.Channel = channel
		e.StepExecutionId = stepId.String
		e.CreatedAt = time.UnixMilli(created).UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}
