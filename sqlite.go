package main

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

var ErrJobNotFound = errors.New("job not found")

type Sqlite struct {
	pool *sql.DB
}

func NewSqlite(path string) (*Sqlite, error) {
	pool, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}

	// SQLite allows a single writer at a time
	pool.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	if err := pool.PingContext(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	return &Sqlite{
		pool: pool,
	}, nil
}

//go:embed migrations/*.sql
var embedMigrations embed.FS

func (s *Sqlite) RunMigrations() error {
	migrationFs, err := fs.Sub(embedMigrations, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create fs.FS: %w", err)
	}

	d, err := iofs.New(migrationFs, ".")
	if err != nil {
		return fmt.Errorf("failed to create new instance: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.pool, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("getting driver with instance: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", d, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("making new instance of migration: %w", err)
	}

	err = m.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("doing migrations: %w", err)
	}

	return nil
}

func (s *Sqlite) Close() error {
	return s.pool.Close()
}

const jobColumns = `id, run_id, path, output_path, exp, fps, png, skip, ext, status,
	retries, error, frames_written, static_skipped, substituted, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (Job, error) {
	var j Job
	err := row.Scan(&j.ID, &j.RunID, &j.Path, &j.OutputPath, &j.Exp, &j.FPS, &j.PNG, &j.Skip, &j.Ext,
		&j.Status, &j.Retries, &j.Error, &j.FramesWritten, &j.StaticSkipped, &j.Substituted,
		&j.CreatedAt, &j.UpdatedAt)
	return j, err
}

func (s *Sqlite) queryJobs(query string, args ...any) ([]Job, error) {
	rows, err := s.pool.Query(query, args...)
	if err != nil {
		return []Job{}, err
	}

	defer rows.Close()
	jobs := []Job{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return jobs, err
		}
		jobs = append(jobs, j)
	}

	// Check for errors from iterating over rows
	if err := rows.Err(); err != nil {
		return []Job{}, err
	}

	return jobs, nil
}

// GetQueuedJobs returns the jobs left to process, running ones included
// since they were interrupted by a shutdown
func (s *Sqlite) GetQueuedJobs() ([]Job, error) {
	return s.queryJobs(`SELECT `+jobColumns+` FROM jobs WHERE status IN (?, ?) ORDER BY id`, JobQueued, JobRunning)
}

func (s *Sqlite) GetJobs() ([]Job, error) {
	return s.queryJobs(`SELECT ` + jobColumns + ` FROM jobs ORDER BY id`)
}

func (s *Sqlite) GetJob(id int64) (Job, error) {
	j, err := scanJob(s.pool.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, ErrJobNotFound
	}

	return j, err
}

func (s *Sqlite) InsertJob(job *Job) (int64, error) {
	now := time.Now().UTC()
	if job.Status == "" {
		job.Status = JobQueued
	}

	insertSQL := `INSERT INTO jobs (run_id, path, output_path, exp, fps, png, skip, ext, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	statement, err := s.pool.Prepare(insertSQL)
	if err != nil {
		return 0, err
	}

	defer statement.Close()
	result, err := statement.Exec(job.RunID, job.Path, job.OutputPath, job.Exp, job.FPS, job.PNG, job.Skip,
		job.Ext, job.Status, now, now)
	if err != nil {
		return 0, err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, err
	}

	job.ID = id
	job.CreatedAt = now
	job.UpdatedAt = now
	return id, nil
}

func (s *Sqlite) exec(query string, args ...any) error {
	result, err := s.pool.Exec(query, args...)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if affected == 0 {
		return ErrJobNotFound
	}

	return nil
}

func (s *Sqlite) setStatus(job *Job, status string) error {
	now := time.Now().UTC()
	err := s.exec(`UPDATE jobs SET status = ?, updated_at = ? WHERE id = ?`, status, now, job.ID)
	if err != nil {
		return err
	}

	job.Status = status
	job.UpdatedAt = now
	return nil
}

func (s *Sqlite) MarkRunning(job *Job) error {
	return s.setStatus(job, JobRunning)
}

func (s *Sqlite) MarkQueued(job *Job) error {
	return s.setStatus(job, JobQueued)
}

func (s *Sqlite) MarkDone(job *Job, result RunResult) error {
	now := time.Now().UTC()
	updateSQL := `UPDATE jobs SET status = ?, output_path = ?, frames_written = ?, static_skipped = ?,
		substituted = ?, error = '', updated_at = ? WHERE id = ?`
	err := s.exec(updateSQL, JobDone, result.OutputPath, result.FramesWritten, result.StaticSkipped,
		result.Substituted, now, job.ID)
	if err != nil {
		return err
	}

	job.Status = JobDone
	job.OutputPath = result.OutputPath
	job.FramesWritten = result.FramesWritten
	job.StaticSkipped = result.StaticSkipped
	job.Substituted = result.Substituted
	job.Error = ""
	job.UpdatedAt = now
	return nil
}

func (s *Sqlite) FailJob(job *Job, jobErr string) error {
	now := time.Now().UTC()
	err := s.exec(`UPDATE jobs SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		JobFailed, jobErr, now, job.ID)
	if err != nil {
		return err
	}

	job.Status = JobFailed
	job.Error = jobErr
	job.UpdatedAt = now
	return nil
}

// RecordRun stores a finished run that never went through the queue, so a
// later serve never picks it up again
func (s *Sqlite) RecordRun(job *Job, result RunResult, runErr error) error {
	job.Status = JobDone
	if runErr != nil {
		job.Status = JobFailed
	}

	if _, err := s.InsertJob(job); err != nil {
		return err
	}

	if runErr != nil {
		return s.FailJob(job, runErr.Error())
	}
	return s.MarkDone(job, result)
}

func (s *Sqlite) GetJobRetries(job *Job) (int, error) {
	retries := 0
	err := s.pool.QueryRow(`SELECT retries FROM jobs WHERE id = ?`, job.ID).Scan(&retries)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrJobNotFound
	}

	return retries, err
}

func (s *Sqlite) UpdateRetries(job *Job, retries int, jobErr string) error {
	now := time.Now().UTC()
	err := s.exec(`UPDATE jobs SET retries = ?, error = ?, status = ?, updated_at = ? WHERE id = ?`,
		retries, jobErr, JobQueued, now, job.ID)
	if err != nil {
		return err
	}

	job.Retries = retries
	job.Error = jobErr
	job.Status = JobQueued
	job.UpdatedAt = now
	return nil
}

func (s *Sqlite) DeleteJob(id int64) error {
	return s.exec(`DELETE FROM jobs WHERE id = ?`, id)
}
