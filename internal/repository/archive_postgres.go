package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/saathi/saathi-core/internal/domain"
)

const archiveSchema = `
CREATE TABLE IF NOT EXISTS job_archive (
	id          TEXT PRIMARY KEY,
	sender_id   TEXT NOT NULL,
	kind        TEXT NOT NULL,
	text        TEXT NOT NULL DEFAULT '',
	state       TEXT NOT NULL,
	attempts    INT NOT NULL DEFAULT 0,
	last_error  TEXT NOT NULL DEFAULT '',
	received_at TIMESTAMPTZ NOT NULL,
	archived_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS job_archive_state_idx ON job_archive (state, archived_at DESC);
`

type PostgresArchive struct {
	pool *pgxpool.Pool
}

func NewPostgresArchive(ctx context.Context, databaseURL string) (*PostgresArchive, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pg pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping pg: %w", err)
	}
	if _, err := pool.Exec(ctx, archiveSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure archive schema: %w", err)
	}
	return &PostgresArchive{pool: pool}, nil
}

func (a *PostgresArchive) Close() {
	a.pool.Close()
}

func (a *PostgresArchive) Record(ctx context.Context, job *domain.Job) error {
	record := archivedFromJob(job, time.Now().UTC())
	_, err := a.pool.Exec(ctx, `
		INSERT INTO job_archive (id, sender_id, kind, text, state, attempts, last_error, received_at, archived_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (id) DO UPDATE
		SET state = EXCLUDED.state,
			attempts = EXCLUDED.attempts,
			last_error = EXCLUDED.last_error,
			archived_at = EXCLUDED.archived_at
	`,
		record.ID,
		record.SenderID,
		string(record.Kind),
		record.Text,
		string(record.State),
		record.Attempts,
		record.LastError,
		record.ReceivedAt,
		record.ArchivedAt,
	)
	if err != nil {
		return fmt.Errorf("archive job: %w", err)
	}
	return nil
}

func (a *PostgresArchive) Get(ctx context.Context, jobID string) (*ArchivedJob, error) {
	var (
		record ArchivedJob
		kind   string
		state  string
	)
	err := a.pool.QueryRow(ctx, `
		SELECT id, sender_id, kind, text, state, attempts, last_error, received_at, archived_at
		FROM job_archive
		WHERE id = $1
	`, jobID).Scan(
		&record.ID,
		&record.SenderID,
		&kind,
		&record.Text,
		&state,
		&record.Attempts,
		&record.LastError,
		&record.ReceivedAt,
		&record.ArchivedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query archived job: %w", err)
	}

	record.Kind = domain.MessageKind(kind)
	record.State = domain.JobState(state)
	return &record, nil
}

func (a *PostgresArchive) ListDead(ctx context.Context, limit int) ([]ArchivedJob, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := a.pool.Query(ctx, `
		SELECT id, sender_id, kind, text, state, attempts, last_error, received_at, archived_at
		FROM job_archive
		WHERE state = 'dead'
		ORDER BY archived_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list dead jobs: %w", err)
	}
	defer rows.Close()

	records := make([]ArchivedJob, 0)
	for rows.Next() {
		var (
			record ArchivedJob
			kind   string
			state  string
		)
		if err := rows.Scan(
			&record.ID,
			&record.SenderID,
			&kind,
			&record.Text,
			&state,
			&record.Attempts,
			&record.LastError,
			&record.ReceivedAt,
			&record.ArchivedAt,
		); err != nil {
			return nil, fmt.Errorf("scan archived job: %w", err)
		}
		record.Kind = domain.MessageKind(kind)
		record.State = domain.JobState(state)
		records = append(records, record)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate archived jobs: %w", rows.Err())
	}
	return records, nil
}
