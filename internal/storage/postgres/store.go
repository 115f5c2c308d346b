// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/papertrawl/papertrawl/internal/scholar"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store persists jobs and records in Postgres. The schema lives in
// schema.sql next to this file.
type Store struct {
	pool querier
}

// NewStore creates a Postgres-backed Store using the provided config.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewStoreWithPool(pool querier) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// CreateJob inserts a new job row.
func (s *Store) CreateJob(ctx context.Context, job scholar.Job) error {
	if job.ID == "" {
		return fmt.Errorf("job id is required")
	}
	specJSON, err := json.Marshal(job.Spec)
	if err != nil {
		return fmt.Errorf("marshal spec: %w", err)
	}
	cpJSON, err := json.Marshal(job.Checkpoint)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	const query = `
INSERT INTO search_jobs (
	id, name, spec, status, status_message, progress, records_found,
	checkpoint, error_text, retry_count, submitted_at, started_at, finished_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`
	args := []any{
		job.ID, job.Name, specJSON, string(job.Status), job.StatusMessage,
		job.Progress, job.RecordsFound, cpJSON, job.ErrorText, job.RetryCount,
		job.Submitted, job.Started, job.Finished,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

const jobColumns = `
	id, name, spec, status, status_message, progress, records_found,
	checkpoint, error_text, retry_count, submitted_at, started_at, finished_at`

// GetJob fetches a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID string) (scholar.Job, error) {
	query := `SELECT` + jobColumns + ` FROM search_jobs WHERE id = $1`
	row := s.pool.QueryRow(ctx, query, jobID)
	job, err := scanJob(row)
	if err != nil {
		return scholar.Job{}, fmt.Errorf("select job %s: %w", jobID, err)
	}
	return job, nil
}

// ListJobs returns all jobs, newest submission first.
func (s *Store) ListJobs(ctx context.Context) ([]scholar.Job, error) {
	query := `SELECT` + jobColumns + ` FROM search_jobs ORDER BY submitted_at DESC`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("select jobs: %w", err)
	}
	defer rows.Close()

	var jobs []scholar.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

func scanJob(row pgx.Row) (scholar.Job, error) {
	var (
		job      scholar.Job
		status   string
		specJSON []byte
		cpJSON   []byte
	)
	err := row.Scan(
		&job.ID, &job.Name, &specJSON, &status, &job.StatusMessage,
		&job.Progress, &job.RecordsFound, &cpJSON, &job.ErrorText,
		&job.RetryCount, &job.Submitted, &job.Started, &job.Finished,
	)
	if err != nil {
		return scholar.Job{}, err
	}
	job.Status = scholar.JobStatus(status)
	if len(specJSON) > 0 {
		if err := json.Unmarshal(specJSON, &job.Spec); err != nil {
			return scholar.Job{}, fmt.Errorf("unmarshal spec: %w", err)
		}
	}
	if len(cpJSON) > 0 {
		if err := json.Unmarshal(cpJSON, &job.Checkpoint); err != nil {
			return scholar.Job{}, fmt.Errorf("unmarshal checkpoint: %w", err)
		}
	}
	return job, nil
}

// UpdateJobStatus transitions a job's status, maintaining the start and
// finish timestamps and the retry counter. Terminal jobs are never updated.
func (s *Store) UpdateJobStatus(ctx context.Context, jobID string, status scholar.JobStatus, message, errText string) error {
	const query = `
UPDATE search_jobs SET
	status = $2,
	status_message = $3,
	error_text = $4,
	started_at = CASE WHEN $2 = 'running' AND started_at IS NULL THEN now() ELSE started_at END,
	finished_at = CASE WHEN $2 IN ('completed','canceled') THEN now() ELSE finished_at END,
	retry_count = retry_count + CASE WHEN $2 = 'failed' THEN 1 ELSE 0 END
WHERE id = $1 AND status NOT IN ('completed','canceled')`
	tag, err := s.pool.Exec(ctx, query, jobID, string(status), message, errText)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s not found or already finished", jobID)
	}
	return nil
}

// SetStatusMessage updates only the free-text progress message.
func (s *Store) SetStatusMessage(ctx context.Context, jobID, message string) error {
	const query = `UPDATE search_jobs SET status_message = $2 WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query, jobID, message)
	if err != nil {
		return fmt.Errorf("set status message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s not found", jobID)
	}
	return nil
}

// UpdateProgress stores the record count and completion percentage.
func (s *Store) UpdateProgress(ctx context.Context, jobID string, recordsFound int, progress float64) error {
	const query = `UPDATE search_jobs SET records_found = $2, progress = $3 WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query, jobID, recordsFound, progress)
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s not found", jobID)
	}
	return nil
}

// SaveCheckpoint stores the resumable cursor for a job.
func (s *Store) SaveCheckpoint(ctx context.Context, jobID string, cp scholar.Checkpoint) error {
	cpJSON, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	const query = `UPDATE search_jobs SET checkpoint = $2 WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query, jobID, cpJSON)
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s not found", jobID)
	}
	return nil
}

// AppendRecords inserts records for a job. The fingerprint uniqueness
// constraint makes re-appending after a page replay harmless.
func (s *Store) AppendRecords(ctx context.Context, jobID string, records []scholar.Record) error {
	const query = `
INSERT INTO search_records (
	job_id, fingerprint, title, authors, year, source, publisher,
	citations, abstract, url
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (job_id, fingerprint) DO NOTHING`
	for _, rec := range records {
		fp := rec.Fingerprint()
		if fp == "" {
			continue
		}
		args := []any{
			jobID, fp, rec.Title, rec.Authors, rec.Year, rec.Source,
			rec.Publisher, rec.Citations, rec.Abstract, rec.URL,
		}
		if _, err := s.pool.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("insert record: %w", err)
		}
	}
	return nil
}

// ListRecords returns all records for a job in insertion order.
func (s *Store) ListRecords(ctx context.Context, jobID string) ([]scholar.Record, error) {
	const query = `
SELECT title, authors, year, source, publisher, citations, abstract, url
FROM search_records WHERE job_id = $1 ORDER BY seq`
	rows, err := s.pool.Query(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("select records: %w", err)
	}
	defer rows.Close()

	var records []scholar.Record
	for rows.Next() {
		var rec scholar.Record
		err := rows.Scan(
			&rec.Title, &rec.Authors, &rec.Year, &rec.Source,
			&rec.Publisher, &rec.Citations, &rec.Abstract, &rec.URL,
		)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return records, nil
}

var _ scholar.JobStore = (*Store)(nil)
var _ scholar.RecordStore = (*Store)(nil)
