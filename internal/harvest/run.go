package harvest

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Run statuses.
const (
	StatusRunning   = "RUNNING"
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
)

// Run modes.
const (
	ModeDiscovery = "discovery"
	ModeResume    = "resume"
)

// Run is one ledger row.
type Run struct {
	ID          string
	StartedAt   time.Time
	FinishedAt  *time.Time
	Status      string // RUNNING, COMPLETED, FAILED
	Mode        string
	Attempted   int
	Succeeded   int
	Failed      int
	DatasetPath string
	Error       string
}

// RunRepository records runs. Failures are logged by the service and never
// fail a run.
type RunRepository interface {
	CreateRun(ctx context.Context, run *Run) error
	FinishRun(ctx context.Context, run *Run) error
}

type PostgresRepo struct {
	db *pgxpool.Pool
}

func NewPostgresRepo(db *pgxpool.Pool) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) CreateRun(ctx context.Context, run *Run) error {
	const sql = `
		INSERT INTO harvest_runs (id, started_at, status, mode)
		VALUES ($1, $2, $3, $4)`

	_, err := r.db.Exec(ctx, sql, run.ID, run.StartedAt, run.Status, run.Mode)
	return err
}

func (r *PostgresRepo) FinishRun(ctx context.Context, run *Run) error {
	const sql = `
		UPDATE harvest_runs SET
			finished_at = $1,
			status = $2,
			attempted = $3,
			succeeded = $4,
			failed = $5,
			dataset_path = $6,
			error = $7
		WHERE id = $8`

	_, err := r.db.Exec(ctx, sql, run.FinishedAt, run.Status, run.Attempted, run.Succeeded, run.Failed, run.DatasetPath, run.Error, run.ID)
	return err
}

// NopRepo is used when no database is configured.
type NopRepo struct{}

func (NopRepo) CreateRun(context.Context, *Run) error { return nil }

func (NopRepo) FinishRun(context.Context, *Run) error { return nil }
