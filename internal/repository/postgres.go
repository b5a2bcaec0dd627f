package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"loanflash-agent/internal/domain"
)

const pqUniqueViolation = "23505"

const createWorkflowsTable = `CREATE TABLE IF NOT EXISTS workflows (
	id          TEXT PRIMARY KEY,
	title       TEXT NOT NULL,
	scenario    TEXT NOT NULL,
	steps       JSONB NOT NULL,
	user_inputs JSONB,
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
)`

const selectWorkflow = `SELECT id, title, scenario, steps, user_inputs, created_at, updated_at FROM workflows WHERE id = $1`

// Postgres stores workflows in a single "workflows" table.
type Postgres struct {
	db  *sql.DB
	now func() time.Time
}

// OpenPostgres opens a lib/pq connection pool for dsn.
func OpenPostgres(dsn string) (*sql.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("repository: database url must not be empty")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("repository: open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return db, nil
}

// NewPostgres wraps an open database handle.
func NewPostgres(db *sql.DB) (*Postgres, error) {
	if db == nil {
		return nil, errors.New("repository: db must not be nil")
	}
	return &Postgres{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// EnsureSchema creates the workflows table when it is missing.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, createWorkflowsTable); err != nil {
		return fmt.Errorf("repository: EnsureSchema: %w", err)
	}
	return nil
}

func (p *Postgres) SaveWorkflow(ctx context.Context, wf domain.Workflow) error {
	if strings.TrimSpace(wf.ID) == "" {
		return errors.New("repository: SaveWorkflow: workflow id is required")
	}
	steps, inputs, err := encodeWorkflowJSON(wf)
	if err != nil {
		return fmt.Errorf("repository: SaveWorkflow: %w", err)
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO workflows (id, title, scenario, steps, user_inputs, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		wf.ID, wf.Title, wf.Scenario, steps, inputs, wf.CreatedAt.UTC(), wf.UpdatedAt.UTC(),
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return fmt.Errorf("repository: SaveWorkflow: %w", ErrConflict)
		}
		return fmt.Errorf("repository: SaveWorkflow: %w", err)
	}
	return nil
}

func (p *Postgres) GetWorkflow(ctx context.Context, id string) (domain.Workflow, error) {
	wf, err := scanWorkflow(p.db.QueryRowContext(ctx, selectWorkflow, id))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return domain.Workflow{}, ErrNotFound
		}
		return domain.Workflow{}, fmt.Errorf("repository: GetWorkflow: %w", err)
	}
	return wf, nil
}

// UpdateStep locks the workflow row for the duration of the change.
func (p *Postgres) UpdateStep(ctx context.Context, workflowID, stepID string, completed bool) (domain.Workflow, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Workflow{}, fmt.Errorf("repository: UpdateStep begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	wf, err := scanWorkflow(tx.QueryRowContext(ctx, selectWorkflow+" FOR UPDATE", workflowID))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return domain.Workflow{}, ErrNotFound
		}
		return domain.Workflow{}, fmt.Errorf("repository: UpdateStep select: %w", err)
	}
	if err := setStep(&wf, stepID, completed); err != nil {
		return domain.Workflow{}, err
	}
	wf.UpdatedAt = p.now()

	steps, _, err := encodeWorkflowJSON(wf)
	if err != nil {
		return domain.Workflow{}, fmt.Errorf("repository: UpdateStep: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE workflows SET steps = $1, updated_at = $2 WHERE id = $3`,
		steps, wf.UpdatedAt, wf.ID,
	); err != nil {
		return domain.Workflow{}, fmt.Errorf("repository: UpdateStep update: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Workflow{}, fmt.Errorf("repository: UpdateStep commit: %w", err)
	}
	return wf, nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return fmt.Errorf("repository: Ping: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (p *Postgres) Close() error {
	return p.db.Close()
}

func encodeWorkflowJSON(wf domain.Workflow) (steps []byte, inputs []byte, err error) {
	steps, err = json.Marshal(wf.Steps)
	if err != nil {
		return nil, nil, fmt.Errorf("encode steps: %w", err)
	}
	inputs, err = json.Marshal(wf.UserInputs)
	if err != nil {
		return nil, nil, fmt.Errorf("encode user inputs: %w", err)
	}
	return steps, inputs, nil
}

func scanWorkflow(row *sql.Row) (domain.Workflow, error) {
	var (
		wf     domain.Workflow
		steps  []byte
		inputs []byte
	)
	err := row.Scan(&wf.ID, &wf.Title, &wf.Scenario, &steps, &inputs, &wf.CreatedAt, &wf.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Workflow{}, ErrNotFound
	}
	if err != nil {
		return domain.Workflow{}, err
	}
	if err := json.Unmarshal(steps, &wf.Steps); err != nil {
		return domain.Workflow{}, fmt.Errorf("decode steps: %w", err)
	}
	if len(inputs) > 0 {
		if err := json.Unmarshal(inputs, &wf.UserInputs); err != nil {
			return domain.Workflow{}, fmt.Errorf("decode user inputs: %w", err)
		}
	}
	wf.CreatedAt = wf.CreatedAt.UTC()
	wf.UpdatedAt = wf.UpdatedAt.UTC()
	return wf, nil
}
