package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/reviewbench/internal/db"
	"github.com/sells-group/reviewbench/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"insert_run":          `INSERT INTO runs (id, status, config, variants, case_domains, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
	"complete_run":        `UPDATE runs SET status = $1, summary = $2, updated_at = $3 WHERE id = $4`,
	"fail_run":            `UPDATE runs SET status = $1, error = $2, updated_at = $3 WHERE id = $4`,
	"update_run_summary":  `UPDATE runs SET summary = $1, updated_at = $2 WHERE id = $3`,
	"get_run":             `SELECT id, status, config, variants, case_domains, summary, error, created_at, updated_at FROM runs WHERE id = $1`,
	"insert_trial_result": `INSERT INTO trial_results (id, run_id, case_id, variant, trial_index, outcome, duration_ns, recorded_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
	"list_trial_results":  `SELECT case_id, variant, trial_index, outcome, duration_ns, recorded_at FROM trial_results WHERE run_id = $1 ORDER BY case_id, variant, trial_index`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool; tests inject pgxmock here.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, closeFn: pool.Close}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	status       TEXT NOT NULL DEFAULT 'running',
	config       JSONB NOT NULL,
	variants     JSONB NOT NULL,
	case_domains JSONB NOT NULL,
	summary      JSONB,
	error        TEXT,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS trial_results (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	run_id      TEXT NOT NULL REFERENCES runs(id),
	case_id     TEXT NOT NULL,
	variant     TEXT NOT NULL,
	trial_index INTEGER NOT NULL,
	outcome     JSONB NOT NULL,
	duration_ns BIGINT NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL,
	UNIQUE(run_id, case_id, variant, trial_index)
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_trial_results_run_id ON trial_results(run_id);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, cfg model.RunConfig, variants []string, caseDomains map[string]string) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	configJSON, err := json.Marshal(cfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal config")
	}
	variantsJSON, err := json.Marshal(variants)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal variants")
	}
	domainsJSON, err := json.Marshal(caseDomains)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal case domains")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO runs (id, status, config, variants, case_domains, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, string(model.RunStatusRunning), configJSON, variantsJSON, domainsJSON, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	return &model.Run{
		ID:          id,
		Status:      model.RunStatusRunning,
		Config:      cfg,
		Variants:    variants,
		CaseDomains: caseDomains,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, summary *model.RunSummary) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal summary")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, summary = $2, updated_at = $3 WHERE id = $4`,
		string(model.RunStatusComplete), summaryJSON, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) FailRun(ctx context.Context, runID string, cause string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, error = $2, updated_at = $3 WHERE id = $4`,
		string(model.RunStatusFailed), cause, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) UpdateRunSummary(ctx context.Context, runID string, summary *model.RunSummary) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal summary")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET summary = $1, updated_at = $2 WHERE id = $3`,
		summaryJSON, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run summary %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, status, config, variants, case_domains, summary, error, created_at, updated_at FROM runs WHERE id = $1`,
		runID,
	)
	r, err := scanPostgresRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Errorf("run not found: %s", runID)
	}
	return r, err
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, status, config, variants, case_domains, summary, error, created_at, updated_at FROM runs`
	var args []any

	argn := 1
	if filter.Status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(filter.Status))
		argn++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argn)
	args = append(args, limit)
	argn++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argn)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanPostgresRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) SaveTrialResult(ctx context.Context, runID string, result model.TrialResult) error {
	outcomeJSON, err := json.Marshal(result.Outcome)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal outcome")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO trial_results (id, run_id, case_id, variant, trial_index, outcome, duration_ns, recorded_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		uuid.New().String(), runID, result.CaseID, string(result.Variant), result.TrialIndex,
		outcomeJSON, int64(result.Duration), result.Timestamp.UTC(),
	)
	return eris.Wrapf(err, "postgres: insert trial result %s/%s/%d", result.CaseID, result.Variant, result.TrialIndex)
}

// SaveTrialResults bulk-inserts via the COPY protocol; a full run's result
// set lands in one round trip.
func (s *PostgresStore) SaveTrialResults(ctx context.Context, runID string, results []model.TrialResult) error {
	rows := make([][]any, 0, len(results))
	for _, r := range results {
		outcomeJSON, err := json.Marshal(r.Outcome)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal outcome")
		}
		rows = append(rows, []any{
			uuid.New().String(), runID, r.CaseID, string(r.Variant), r.TrialIndex,
			outcomeJSON, int64(r.Duration), r.Timestamp.UTC(),
		})
	}

	_, err := db.CopyFrom(ctx, s.pool, "trial_results",
		[]string{"id", "run_id", "case_id", "variant", "trial_index", "outcome", "duration_ns", "recorded_at"},
		rows,
	)
	return eris.Wrapf(err, "postgres: copy trial results for run %s", runID)
}

func (s *PostgresStore) ListTrialResults(ctx context.Context, runID string) ([]model.TrialResult, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT case_id, variant, trial_index, outcome, duration_ns, recorded_at FROM trial_results WHERE run_id = $1 ORDER BY case_id, variant, trial_index`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list trial results %s", runID)
	}
	defer rows.Close()

	var results []model.TrialResult
	for rows.Next() {
		var r model.TrialResult
		var variant string
		var outcomeJSON []byte
		var durationNS int64
		if err := rows.Scan(&r.CaseID, &variant, &r.TrialIndex, &outcomeJSON, &durationNS, &r.Timestamp); err != nil {
			return nil, eris.Wrap(err, "postgres: scan trial result")
		}
		r.Variant = model.VariantName(variant)
		r.Duration = time.Duration(durationNS)
		if err := json.Unmarshal(outcomeJSON, &r.Outcome); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal outcome")
		}
		results = append(results, r)
	}
	return results, eris.Wrap(rows.Err(), "postgres: list trial results iterate")
}

func scanPostgresRun(row scannable) (*model.Run, error) {
	var r model.Run
	var configJSON, variantsJSON, domainsJSON []byte
	var summaryJSON []byte
	var errText *string

	err := row.Scan(&r.ID, &r.Status, &configJSON, &variantsJSON, &domainsJSON, &summaryJSON, &errText, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "postgres: scan run")
	}

	if err := json.Unmarshal(configJSON, &r.Config); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal config")
	}
	if err := json.Unmarshal(variantsJSON, &r.Variants); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal variants")
	}
	if err := json.Unmarshal(domainsJSON, &r.CaseDomains); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal case domains")
	}
	if len(summaryJSON) > 0 {
		r.Summary = &model.RunSummary{}
		if err := json.Unmarshal(summaryJSON, r.Summary); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal summary")
		}
	}
	if errText != nil {
		r.Error = *errText
	}
	return &r, nil
}
