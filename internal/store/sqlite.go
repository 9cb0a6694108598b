package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/reviewbench/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY,
	status       TEXT NOT NULL DEFAULT 'running',
	config       TEXT NOT NULL,
	variants     TEXT NOT NULL,
	case_domains TEXT NOT NULL,
	summary      TEXT,
	error        TEXT,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS trial_results (
	id          TEXT PRIMARY KEY,
	run_id      TEXT NOT NULL REFERENCES runs(id),
	case_id     TEXT NOT NULL,
	variant     TEXT NOT NULL,
	trial_index INTEGER NOT NULL,
	outcome     TEXT NOT NULL,
	duration_ns INTEGER NOT NULL,
	recorded_at DATETIME NOT NULL,
	UNIQUE(run_id, case_id, variant, trial_index)
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_trial_results_run_id ON trial_results(run_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, cfg model.RunConfig, variants []string, caseDomains map[string]string) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	configJSON, err := json.Marshal(cfg)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal config")
	}
	variantsJSON, err := json.Marshal(variants)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal variants")
	}
	domainsJSON, err := json.Marshal(caseDomains)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal case domains")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, status, config, variants, case_domains, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, string(model.RunStatusRunning), string(configJSON), string(variantsJSON), string(domainsJSON), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
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

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, summary *model.RunSummary) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal summary")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, summary = ?, updated_at = ? WHERE id = ?`,
		string(model.RunStatusComplete), string(summaryJSON), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) FailRun(ctx context.Context, runID string, cause string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(model.RunStatusFailed), cause, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) UpdateRunSummary(ctx context.Context, runID string, summary *model.RunSummary) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal summary")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET summary = ?, updated_at = ? WHERE id = ?`,
		string(summaryJSON), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run summary %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, status, config, variants, case_domains, summary, error, created_at, updated_at FROM runs WHERE id = ?`,
		runID,
	)
	return scanRun(row)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, status, config, variants, case_domains, summary, error, created_at, updated_at FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) SaveTrialResult(ctx context.Context, runID string, result model.TrialResult) error {
	outcomeJSON, err := json.Marshal(result.Outcome)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal outcome")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO trial_results (id, run_id, case_id, variant, trial_index, outcome, duration_ns, recorded_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), runID, result.CaseID, string(result.Variant), result.TrialIndex,
		string(outcomeJSON), int64(result.Duration), result.Timestamp.UTC(),
	)
	return eris.Wrapf(err, "sqlite: insert trial result %s/%s/%d", result.CaseID, result.Variant, result.TrialIndex)
}

func (s *SQLiteStore) SaveTrialResults(ctx context.Context, runID string, results []model.TrialResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback()

	for _, r := range results {
		outcomeJSON, err := json.Marshal(r.Outcome)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal outcome")
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO trial_results (id, run_id, case_id, variant, trial_index, outcome, duration_ns, recorded_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			uuid.New().String(), runID, r.CaseID, string(r.Variant), r.TrialIndex,
			string(outcomeJSON), int64(r.Duration), r.Timestamp.UTC(),
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert trial result %s/%s/%d", r.CaseID, r.Variant, r.TrialIndex)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit trial results")
}

func (s *SQLiteStore) ListTrialResults(ctx context.Context, runID string) ([]model.TrialResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT case_id, variant, trial_index, outcome, duration_ns, recorded_at FROM trial_results
		 WHERE run_id = ? ORDER BY case_id, variant, trial_index`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list trial results %s", runID)
	}
	defer rows.Close()

	var results []model.TrialResult
	for rows.Next() {
		r, err := scanTrialResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *r)
	}
	return results, eris.Wrap(rows.Err(), "sqlite: list trial results iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var configJSON, variantsJSON, domainsJSON string
	var summaryJSON, errText sql.NullString

	err := row.Scan(&r.ID, &r.Status, &configJSON, &variantsJSON, &domainsJSON, &summaryJSON, &errText, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.New("run not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}

	if err := json.Unmarshal([]byte(configJSON), &r.Config); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal config")
	}
	if err := json.Unmarshal([]byte(variantsJSON), &r.Variants); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal variants")
	}
	if err := json.Unmarshal([]byte(domainsJSON), &r.CaseDomains); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal case domains")
	}
	if summaryJSON.Valid {
		r.Summary = &model.RunSummary{}
		if err := json.Unmarshal([]byte(summaryJSON.String), r.Summary); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal summary")
		}
	}
	if errText.Valid {
		r.Error = errText.String
	}
	return &r, nil
}

func scanTrialResult(row scannable) (*model.TrialResult, error) {
	var r model.TrialResult
	var variant, outcomeJSON string
	var durationNS int64

	if err := row.Scan(&r.CaseID, &variant, &r.TrialIndex, &outcomeJSON, &durationNS, &r.Timestamp); err != nil {
		return nil, eris.Wrap(err, "scan trial result")
	}
	r.Variant = model.VariantName(variant)
	r.Duration = time.Duration(durationNS)
	if err := json.Unmarshal([]byte(outcomeJSON), &r.Outcome); err != nil {
		return nil, eris.Wrap(err, "unmarshal outcome")
	}
	return &r, nil
}
