package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/codebuildervaibhav/interview-render/internal/types"
)

// RenderRecord is the ledger entry written for every finished render
type RenderRecord struct {
	JobID          string    `json:"job_id"`
	CandidateLabel string    `json:"candidate_label"`
	Process        string    `json:"process,omitempty"`
	ExternalRef    string    `json:"external_ref,omitempty"`
	OutputPath     string    `json:"output_path"`
	PublishedURLs  []string  `json:"published_urls,omitempty"`
	InputCount     int       `json:"input_count"`
	SizeBytes      int64     `json:"size_bytes"`
	RenderSeconds  float64   `json:"render_seconds"`
	CreatedAt      time.Time `json:"created_at"`
}

// MetadataDB handles SQLite database operations for the render ledger.
// It records finished renders only; live job state stays in memory.
type MetadataDB struct {
	db *sql.DB
}

// NewMetadataDB opens or creates the ledger database
func NewMetadataDB(dbPath string) (*MetadataDB, error) {
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	createTableSQL := `
	CREATE TABLE IF NOT EXISTS renders (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id TEXT NOT NULL UNIQUE,
		candidate_label TEXT NOT NULL,
		process TEXT NOT NULL DEFAULT '',
		external_ref TEXT NOT NULL DEFAULT '',
		output_path TEXT NOT NULL,
		published_urls TEXT NOT NULL DEFAULT '',
		input_count INTEGER NOT NULL,
		size_bytes INTEGER NOT NULL DEFAULT 0,
		render_seconds REAL NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_renders_created_at ON renders(created_at);
	CREATE INDEX IF NOT EXISTS idx_renders_candidate ON renders(candidate_label);
	`
	if _, err := db.Exec(createTableSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	return &MetadataDB{db: db}, nil
}

// SaveRender stores one finished render. Saving the same job twice
// replaces the earlier row.
func (mdb *MetadataDB) SaveRender(ctx context.Context, rec RenderRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	query := `
	INSERT INTO renders (job_id, candidate_label, process, external_ref, output_path, published_urls,
		input_count, size_bytes, render_seconds, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(job_id) DO UPDATE SET
		output_path = excluded.output_path,
		published_urls = excluded.published_urls,
		size_bytes = excluded.size_bytes,
		render_seconds = excluded.render_seconds
	`
	_, err := mdb.db.ExecContext(ctx, query,
		rec.JobID, rec.CandidateLabel, rec.Process, rec.ExternalRef, rec.OutputPath,
		strings.Join(rec.PublishedURLs, "\n"), rec.InputCount, rec.SizeBytes, rec.RenderSeconds,
		rec.CreatedAt.UTC().Format(timestampLayout))
	if err != nil {
		return fmt.Errorf("failed to save render metadata: %w", err)
	}
	return nil
}

// fixed width so created_at sorts correctly as text
const timestampLayout = "2006-01-02T15:04:05.000000000Z"

const renderColumns = `job_id, candidate_label, process, external_ref, output_path, published_urls,
	input_count, size_bytes, render_seconds, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRender(row rowScanner) (RenderRecord, error) {
	var (
		rec       RenderRecord
		published string
		createdAt string
	)
	if err := row.Scan(&rec.JobID, &rec.CandidateLabel, &rec.Process, &rec.ExternalRef, &rec.OutputPath,
		&published, &rec.InputCount, &rec.SizeBytes, &rec.RenderSeconds, &createdAt); err != nil {
		return rec, err
	}
	if published != "" {
		rec.PublishedURLs = strings.Split(published, "\n")
	}
	t, err := time.Parse(timestampLayout, createdAt)
	if err != nil {
		return rec, fmt.Errorf("parse created_at %q: %w", createdAt, err)
	}
	rec.CreatedAt = t
	return rec, nil
}

// GetRender retrieves the ledger entry for jobID
func (mdb *MetadataDB) GetRender(ctx context.Context, jobID string) (RenderRecord, error) {
	row := mdb.db.QueryRowContext(ctx, `SELECT `+renderColumns+` FROM renders WHERE job_id = ?`, jobID)
	rec, err := scanRender(row)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, fmt.Errorf("render %s: %w", jobID, types.ErrNotFound)
	}
	if err != nil {
		return rec, fmt.Errorf("failed to get render: %w", err)
	}
	return rec, nil
}

// DeleteRender removes the ledger entry for jobID. Deleting a missing
// entry is not an error.
func (mdb *MetadataDB) DeleteRender(ctx context.Context, jobID string) error {
	if _, err := mdb.db.ExecContext(ctx, `DELETE FROM renders WHERE job_id = ?`, jobID); err != nil {
		return fmt.Errorf("failed to delete render: %w", err)
	}
	return nil
}

// ListRenders returns the most recent renders first
func (mdb *MetadataDB) ListRenders(ctx context.Context, limit int) ([]RenderRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := mdb.db.QueryContext(ctx,
		`SELECT `+renderColumns+` FROM renders ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list renders: %w", err)
	}
	defer rows.Close()

	renders := make([]RenderRecord, 0, limit)
	for rows.Next() {
		rec, err := scanRender(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan render: %w", err)
		}
		renders = append(renders, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list renders: %w", err)
	}
	return renders, nil
}

// Close closes the database connection
func (mdb *MetadataDB) Close() error {
	return mdb.db.Close()
}
