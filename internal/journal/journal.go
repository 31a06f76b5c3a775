package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	clierr "github.com/ggonzalez94/stratsync/internal/errors"
	"github.com/ggonzalez94/stratsync/internal/execution"
	"github.com/ggonzalez94/stratsync/internal/metrics"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Entry is one journaled terminal result.
type Entry struct {
	ID         string           `json:"id"`
	RecordedAt time.Time        `json:"recorded_at"`
	Record     execution.Record `json:"record"`
}

type Filter struct {
	StrategyID string
	ResultType string
	Limit      int
}

// Journal keeps execution results in sqlite. Writers across processes are
// serialized through a file lock.
type Journal struct {
	db   *sql.DB
	lock *flock.Flock
	now  func() time.Time
}

func Open(path, lockPath string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create journal lock directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal sqlite: %w", err)
	}

	queries := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		`CREATE TABLE IF NOT EXISTS results (
			entry_id TEXT PRIMARY KEY,
			strategy_id TEXT NOT NULL,
			action_id INTEGER NOT NULL,
			result_type TEXT NOT NULL,
			tx_hash TEXT NOT NULL DEFAULT '',
			recorded_at INTEGER NOT NULL,
			payload BLOB NOT NULL
		);`,
		"CREATE INDEX IF NOT EXISTS idx_results_strategy_recorded ON results(strategy_id, recorded_at DESC);",
		"CREATE INDEX IF NOT EXISTS idx_results_type_recorded ON results(result_type, recorded_at DESC);",
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init journal schema: %w", err)
		}
	}
	return &Journal{db: db, lock: flock.New(lockPath), now: time.Now}, nil
}

func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Record implements execution.Recorder.
func (j *Journal) Record(ctx context.Context, rec execution.Record) error {
	_, err := j.Append(ctx, rec)
	return err
}

func (j *Journal) Append(ctx context.Context, rec execution.Record) (Entry, error) {
	entry, err := j.append(ctx, rec)
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.JournalWritesTotal.WithLabelValues(status).Inc()
	return entry, err
}

func (j *Journal) append(ctx context.Context, rec execution.Record) (Entry, error) {
	if strings.TrimSpace(rec.Key.StrategyID) == "" {
		return Entry{}, fmt.Errorf("journal record: missing strategy id")
	}
	locked, err := j.lock.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil {
		return Entry{}, fmt.Errorf("lock journal: %w", err)
	}
	if !locked {
		return Entry{}, fmt.Errorf("lock journal: timeout acquiring lock")
	}
	defer func() { _ = j.lock.Unlock() }()

	entry := Entry{ID: uuid.NewString(), RecordedAt: j.now().UTC(), Record: rec}
	payload, err := json.Marshal(entry)
	if err != nil {
		return Entry{}, fmt.Errorf("marshal journal entry: %w", err)
	}
	_, err = j.db.ExecContext(ctx, `
		INSERT INTO results (entry_id, strategy_id, action_id, result_type, tx_hash, recorded_at, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, entry.ID, rec.Key.StrategyID, int64(rec.Key.ActionID), string(rec.Result.Type), rec.Result.TxHash, entry.RecordedAt.UnixNano(), payload)
	if err != nil {
		return Entry{}, fmt.Errorf("write journal entry: %w", err)
	}
	return entry, nil
}

func (j *Journal) Get(ctx context.Context, id string) (Entry, error) {
	var payload []byte
	err := j.db.QueryRowContext(ctx, "SELECT payload FROM results WHERE entry_id = ?", id).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("journal entry not found: %s", id))
		}
		return Entry{}, fmt.Errorf("read journal entry: %w", err)
	}
	var entry Entry
	if err := json.Unmarshal(payload, &entry); err != nil {
		return Entry{}, fmt.Errorf("decode journal entry: %w", err)
	}
	return entry, nil
}

// List returns entries newest first.
func (j *Journal) List(ctx context.Context, f Filter) ([]Entry, error) {
	if f.Limit <= 0 {
		f.Limit = 20
	}
	query := "SELECT payload FROM results"
	var (
		where []string
		args  []any
	)
	if v := strings.TrimSpace(f.StrategyID); v != "" {
		where = append(where, "strategy_id = ?")
		args = append(args, v)
	}
	if v := strings.TrimSpace(f.ResultType); v != "" {
		where = append(where, "result_type = ?")
		args = append(args, v)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY recorded_at DESC LIMIT ?"
	args = append(args, f.Limit)

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list journal entries: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan journal row: %w", err)
		}
		var entry Entry
		if err := json.Unmarshal(payload, &entry); err != nil {
			return nil, fmt.Errorf("decode journal row: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate journal rows: %w", err)
	}
	return entries, nil
}
