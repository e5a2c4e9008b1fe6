package recorder

import (
	"context"
	"fmt"
	"time"

	"BarOracle/internal/model"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const (
	connectAttempts = 5
	connectBackoff  = 2 * time.Second
)

// PostgresRepository persists predictions to PostgreSQL through a pgx pool.
type PostgresRepository struct {
	pool *pgxpool.Pool
	opts options
	log  zerolog.Logger
}

// NewPostgresRepository connects to dsn, retrying while the server comes up,
// and creates the schema.
func NewPostgresRepository(ctx context.Context, dsn string, log zerolog.Logger, opts ...Option) (*PostgresRepository, error) {
	log = log.With().Str("component", "postgres").Logger()

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.MaxConnIdleTime = 30 * time.Second
	cfg.MaxConnLifetime = 5 * time.Minute

	var pool *pgxpool.Pool
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		pool, err = connect(ctx, cfg)
		if err == nil {
			break
		}
		log.Warn().Err(err).Int("attempt", attempt).Msg("postgres not ready")
		if attempt == connectAttempts {
			return nil, fmt.Errorf("connect after %d attempts: %w", connectAttempts, err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(connectBackoff):
		}
	}

	r := &PostgresRepository{pool: pool, opts: buildOptions(opts), log: log}
	if err := r.Init(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	log.Info().Msg("postgres repository connected")
	return r, nil
}

func connect(ctx context.Context, cfg *pgxpool.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return p, nil
}

// Init implements Repository.
func (r *PostgresRepository) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS predictions (
			id          BIGSERIAL PRIMARY KEY,
			timestamp   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			symbol      TEXT NOT NULL,
			entry_price DOUBLE PRECISION NOT NULL,
			prediction  SMALLINT NOT NULL,
			confidence  DOUBLE PRECISION NOT NULL,
			result      SMALLINT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_predictions_symbol_ts ON predictions(symbol, timestamp DESC)`,
	}
	for _, s := range stmts {
		if _, err := r.pool.Exec(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

// Append implements Repository.
func (r *PostgresRepository) Append(ctx context.Context, symbol string, entryPrice float64, direction int, confidence float64) (model.Prediction, error) {
	if err := validateAppend(symbol, direction, confidence); err != nil {
		return model.Prediction{}, err
	}
	p := model.Prediction{
		Timestamp:  r.opts.now().UTC().Truncate(time.Microsecond),
		Symbol:     symbol,
		EntryPrice: entryPrice,
		Direction:  direction,
		Confidence: confidence,
	}
	err := r.pool.QueryRow(ctx,
		`INSERT INTO predictions (timestamp, symbol, entry_price, prediction, confidence)
		 VALUES ($1,$2,$3,$4,$5) RETURNING id`,
		p.Timestamp, symbol, entryPrice, direction, confidence,
	).Scan(&p.ID)
	if err != nil {
		return model.Prediction{}, fmt.Errorf("insert prediction: %w", err)
	}
	return p, nil
}

// MostRecent implements Repository.
func (r *PostgresRepository) MostRecent(ctx context.Context, symbol string, limit int) ([]model.Prediction, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, timestamp, symbol, entry_price, prediction, confidence, result
		 FROM predictions WHERE symbol = $1
		 ORDER BY timestamp DESC, id DESC LIMIT $2`,
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
			dir    int16
			result *int16
		)
		if err := rows.Scan(&p.ID, &p.Timestamp, &p.Symbol, &p.EntryPrice, &dir, &p.Confidence, &result); err != nil {
			return nil, fmt.Errorf("scan prediction: %w", err)
		}
		p.Timestamp = p.Timestamp.UTC()
		p.Direction = int(dir)
		if result != nil {
			v := int(*result)
			p.Result = &v
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// PatchResult implements Repository.
func (r *PostgresRepository) PatchResult(ctx context.Context, id int64, result int) error {
	if err := validateResult(result); err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, `UPDATE predictions SET result = $1 WHERE id = $2`, result, id)
	if err != nil {
		return fmt.Errorf("update prediction %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("prediction %d: %w", id, model.ErrNotFound)
	}
	return nil
}

// Close implements Repository.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}
