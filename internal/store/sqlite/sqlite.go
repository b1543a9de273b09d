package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/nulzo/prism-router/internal/store"
	"github.com/nulzo/prism-router/internal/store/model"
)

// DB defines the interface for database operations (satisfied by *sqlx.DB and *sqlx.Tx)
type DB interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	NamedExecContext(ctx context.Context, query string, arg interface{}) (sql.Result, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// SqliteRepository implements store.Repository
type SqliteRepository struct {
	db       *sqlx.DB // Required for starting new transactions
	executor DB       // Used for actual queries (can be *sqlx.DB or *sqlx.Tx)
}

func NewSqliteRepository(db *sqlx.DB) *SqliteRepository {
	return &SqliteRepository{
		db:       db,
		executor: db,
	}
}

func (r *SqliteRepository) Close() error {
	return r.db.Close()
}

func (r *SqliteRepository) WithTx(ctx context.Context, fn func(repo store.Repository) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	txRepo := &SqliteRepository{
		db:       r.db,
		executor: tx,
	}

	if err := fn(txRepo); err != nil {
		// attempt rollback, but prioritize original error
		_ = tx.Rollback()
		return err
	}

	return tx.Commit()
}

func (r *SqliteRepository) Routes() store.RouteRepository {
	return &routeRepo{db: r.executor}
}

func (r *SqliteRepository) Usage() store.UsageRepository {
	return &usageRepo{db: r.executor}
}

type routeRepo struct {
	db DB
}

func (r *routeRepo) Log(ctx context.Context, rec *model.RouteRecord) error {
	query := `
	INSERT INTO route_records (
		id, user_id, provider_id, model_id, status, error_code, status_code,
		priority, attempts, fallbacks_json, prompt_tokens, completion_tokens,
		tokens_estimated, prompt_cost, completion_cost, total_cost, latency_ms,
		response_json, created_at
	) VALUES (
		:id, :user_id, :provider_id, :model_id, :status, :error_code, :status_code,
		:priority, :attempts, :fallbacks_json, :prompt_tokens, :completion_tokens,
		:tokens_estimated, :prompt_cost, :completion_cost, :total_cost, :latency_ms,
		:response_json, :created_at
	)
	ON CONFLICT(id) DO UPDATE SET
		user_id = excluded.user_id,
		provider_id = excluded.provider_id,
		model_id = excluded.model_id,
		status = excluded.status,
		error_code = excluded.error_code,
		status_code = excluded.status_code,
		priority = excluded.priority,
		attempts = excluded.attempts,
		fallbacks_json = excluded.fallbacks_json,
		prompt_tokens = excluded.prompt_tokens,
		completion_tokens = excluded.completion_tokens,
		tokens_estimated = excluded.tokens_estimated,
		prompt_cost = excluded.prompt_cost,
		completion_cost = excluded.completion_cost,
		total_cost = excluded.total_cost,
		latency_ms = excluded.latency_ms,
		response_json = excluded.response_json,
		created_at = excluded.created_at
	WHERE route_records.status <> 'succeeded'`

	_, err := r.db.NamedExecContext(ctx, query, rec)
	return err
}

func (r *routeRepo) GetByID(ctx context.Context, id string) (*model.RouteRecord, error) {
	var rec model.RouteRecord
	if err := r.db.GetContext(ctx, &rec, `SELECT * FROM route_records WHERE id = ?`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

func (r *routeRepo) GetRecent(ctx context.Context, userID string, limit int) ([]model.RouteRecord, error) {
	var recs []model.RouteRecord
	query := `SELECT * FROM route_records WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`
	err := r.db.SelectContext(ctx, &recs, query, userID, limit)
	return recs, err
}

type usageRepo struct {
	db DB
}

func (r *usageRepo) Add(ctx context.Context, stat *model.UsageStat) error {
	query := `
	INSERT INTO provider_usage_stats (
		provider_id, user_id, bucket, requests, errors,
		prompt_tokens, completion_tokens, total_cost, total_latency_ms
	) VALUES (
		:provider_id, :user_id, :bucket, :requests, :errors,
		:prompt_tokens, :completion_tokens, :total_cost, :total_latency_ms
	)
	ON CONFLICT(provider_id, user_id, bucket) DO UPDATE SET
		requests = requests + excluded.requests,
		errors = errors + excluded.errors,
		prompt_tokens = prompt_tokens + excluded.prompt_tokens,
		completion_tokens = completion_tokens + excluded.completion_tokens,
		total_cost = total_cost + excluded.total_cost,
		total_latency_ms = total_latency_ms + excluded.total_latency_ms`

	row := *stat
	row.Bucket = model.HourBucket(stat.Bucket)

	_, err := r.db.NamedExecContext(ctx, query, &row)
	return err
}

func (r *usageRepo) Query(ctx context.Context, q store.UsageQuery) ([]model.UsageStat, error) {
	query := `SELECT * FROM provider_usage_stats WHERE 1 = 1`
	var args []interface{}

	if q.ProviderID != "" {
		query += ` AND provider_id = ?`
		args = append(args, q.ProviderID)
	}
	if q.UserID != "" {
		query += ` AND user_id = ?`
		args = append(args, q.UserID)
	}
	if !q.Since.IsZero() {
		query += ` AND bucket >= ?`
		args = append(args, model.HourBucket(q.Since))
	}
	query += ` ORDER BY bucket DESC, provider_id, user_id`

	stats := []model.UsageStat{}
	err := r.db.SelectContext(ctx, &stats, query, args...)
	return stats, err
}
