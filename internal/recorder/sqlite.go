package recorder

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"BarOracle/internal/model"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// SQLiteRepository persists predictions to a SQLite database. Reads run
// concurrently; writes are serialised.
type SQLiteRepository struct {
	db   *sql.DB
	mu   sync.Mutex
	opts options
	log  zerolog.Logger
}

// NewSQLiteRepository opens (or creates) the SQLite database and creates the schema.
func NewSQLiteRepository(ctx context.Context, dbPath string, log zerolog.Logger, opts ...Option) (*SQLiteRepository, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	r := &SQLiteRepository{
		db:   db,
		opts: buildOptions(opts),
		log:  log.With().Str("component", "sqlite").Logger(),
	}
	if err := r.Init(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	r.log.Info().Str("path", dbPath).Msg("sqlite repository opened")
	return r, nil
}

// dsn applies the pragmas to every pooled connection. WAL lets the HTTP API
// read while a tick writes.
func dsn(path string) string {
	return path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

// Init implements Repository.
func (r *SQLiteRepository) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS predictions (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp   INTEGER NOT NULL DEFAULT (CAST((julianday('now') - 2440587.5) * 86400000 AS INTEGER)),
			symbol      TEXT NOT NULL,
			entry_price REAL NOT NULL,
			prediction  INTEGER NOT NULL,
			confidence  REAL NOT NULL,
			result      INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_predictions_symbol_ts ON predictions(symbol, timestamp)`,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range stmts {
		if _, err := r.db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

// Append implements Repository.
func (r *SQLiteRepository) Append(ctx context.Context, symbol string, entryPrice float64, direction int, confidence float64) (model.Prediction, error) {
	if err := validateAppend(symbol, direction, confidence); err != nil {
		return model.Prediction{}, err
	}
	ts := r.opts.now().UTC().Truncate(time.Millisecond)

	r.mu.Lock()
	defer r.mu.Unlock()

	res, err := r.db.ExecContext(ctx, `INSERT INTO predictions
		(timestamp, symbol, entry_price, prediction, confidence)
		VALUES (?,?,?,?,?)`,
		ts.UnixMilli(), symbol, entryPrice, direction, confidence,
	)
	if err != nil {
		return model.Prediction{}, fmt.Errorf("insert prediction: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.Prediction{}, fmt.Errorf("insert prediction id: %w", err)
	}
	return model.Prediction{
		ID:         id,
		Timestamp:  ts,
		Symbol:     symbol,
		EntryPrice: entryPrice,
		Direction:  direction,
		Confidence: confidence,
	}, nil
}

// MostRecent implements Repository.
func (r *SQLiteRepository) MostRecent(ctx context.Context, symbol string, limit int) ([]model.Prediction, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, timestamp, symbol, entry_price, prediction, confidence, result
		FROM predictions WHERE symbol = ?
		ORDER BY timestamp DESC, id DESC LIMIT ?`,
		symbol, normalizeLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("query predictions: %w", err)
	}
	defer rows.Close()

	var out []model.Prediction
	for rows.Next() {
		var (
			p      model.Prediction
			ts     int64
			result sql.NullInt64
		)
		if err := rows.Scan(&p.ID, &ts, &p.Symbol, &p.EntryPrice, &p.Direction, &p.Confidence, &result); err != nil {
			return nil, fmt.Errorf("scan prediction: %w", err)
		}
		p.Timestamp = time.UnixMilli(ts).UTC()
		if result.Valid {
			v := int(result.Int64)
			p.Result = &v
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// PatchResult implements Repository.
func (r *SQLiteRepository) PatchResult(ctx context.Context, id int64, result int) error {
	if err := validateResult(result); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	res, err := r.db.ExecContext(ctx, `UPDATE predictions SET result = ? WHERE id = ?`, result, id)
	if err != nil {
		return fmt.Errorf("update prediction %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update prediction %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("prediction %d: %w", id, model.ErrNotFound)
	}
	return nil
}

// Close implements Repository.
func (r *SQLiteRepository) Close() error {
	r.log.Info().Msg("closing sqlite repository")
	return r.db.Close()
}
