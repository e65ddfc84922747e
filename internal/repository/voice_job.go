package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/stellara-labs/stellara/internal/database"
	"github.com/stellara-labs/stellara/pkg/stellara/core"
	"github.com/stellara-labs/stellara/pkg/stellara/domain"
)

type VoiceJobRepository struct {
	store
}

func NewVoiceJobRepository(db *sql.DB, dialect database.Dialect, clock core.Clock) *VoiceJobRepository {
	return &VoiceJobRepository{store: newStore(db, dialect, clock)}
}

const voiceJobColumns = `id, user_id, job_key, audio_url, language, status, transcript, error, attempts, created, updated, completed`

func scanVoiceJob(row rowScanner) (*domain.VoiceJob, error) {
	var j domain.VoiceJob
	err := row.Scan(&j.ID, &j.UserID, &j.JobKey, &j.AudioURL, &j.Language, &j.Status, &j.Transcript, &j.Error,
		&j.Attempts, &j.Created, &j.Updated, &j.Completed)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (r *VoiceJobRepository) Save(ctx context.Context, j *domain.VoiceJob) (int64, error) {
	now := r.now()
	j.Created, j.Updated = now, now
	if j.Status == "" {
		j.Status = domain.VoiceJobQueued
	}
	query := `INSERT INTO voice_jobs (user_id, job_key, audio_url, language, status, attempts, created, updated)
		VALUES (` + r.placeholders(1, 8) + `)`
	id, err := r.insert(ctx, query, j.UserID, j.JobKey, j.AudioURL, j.Language, j.Status, j.Attempts, r.ts(j.Created), r.ts(j.Updated))
	if err != nil {
		return 0, err
	}
	j.ID = id
	return id, nil
}

// FindByID returns (nil, nil) if not found.
func (r *VoiceJobRepository) FindByID(ctx context.Context, id int64) (*domain.VoiceJob, error) {
	query := `SELECT ` + voiceJobColumns + ` FROM voice_jobs WHERE id = ` + r.placeholder(1)
	j, err := scanVoiceJob(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return j, err
}

// FindByKey returns (nil, nil) if not found.
func (r *VoiceJobRepository) FindByKey(ctx context.Context, key string) (*domain.VoiceJob, error) {
	query := `SELECT ` + voiceJobColumns + ` FROM voice_jobs WHERE job_key = ` + r.placeholder(1)
	j, err := scanVoiceJob(r.db.QueryRowContext(ctx, query, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return j, err
}

func (r *VoiceJobRepository) FindByUserID(ctx context.Context, userID int64, limit int) ([]domain.VoiceJob, error) {
	query := `SELECT ` + voiceJobColumns + ` FROM voice_jobs WHERE user_id = ` + r.placeholder(1) + ` ORDER BY id DESC LIMIT ` + r.placeholder(2)
	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	jobs := make([]domain.VoiceJob, 0)
	for rows.Next() {
		j, err := scanVoiceJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

// MarkProcessing moves a queued or previously failed attempt into processing and counts the attempt.
func (r *VoiceJobRepository) MarkProcessing(ctx context.Context, id int64) error {
	query := `UPDATE voice_jobs SET status = ` + r.placeholder(1) + `, attempts = attempts + 1, updated = ` + r.placeholder(2) + `
		WHERE id = ` + r.placeholder(3)
	_, err := r.db.ExecContext(ctx, query, domain.VoiceJobProcessing, r.ts(r.now()), id)
	return err
}

func (r *VoiceJobRepository) MarkCompleted(ctx context.Context, id int64, transcript string) error {
	now := r.ts(r.now())
	query := `UPDATE voice_jobs SET status = ` + r.placeholder(1) + `, transcript = ` + r.placeholder(2) + `, error = NULL,
		updated = ` + r.placeholder(3) + `, completed = ` + r.placeholder(4) + ` WHERE id = ` + r.placeholder(5)
	_, err := r.db.ExecContext(ctx, query, domain.VoiceJobCompleted, transcript, now, now, id)
	return err
}

// MarkError records a failed attempt; status is queued when a retry follows, failed otherwise.
func (r *VoiceJobRepository) MarkError(ctx context.Context, id int64, status, message string) error {
	query := `UPDATE voice_jobs SET status = ` + r.placeholder(1) + `, error = ` + r.placeholder(2) + `, updated = ` + r.placeholder(3) + `
		WHERE id = ` + r.placeholder(4)
	_, err := r.db.ExecContext(ctx, query, status, message, r.ts(r.now()), id)
	return err
}

func (r *VoiceJobRepository) DeleteByUserID(ctx context.Context, userID int64) (int64, error) {
	return r.exec(ctx, `DELETE FROM voice_jobs WHERE user_id = `+r.placeholder(1), userID)
}
