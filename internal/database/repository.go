package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/therealutkarshpriyadarshi/globalsound/internal/metrics"
	"github.com/therealutkarshpriyadarshi/globalsound/pkg/models"
)

// ErrNotFound is returned when a row does not exist
var ErrNotFound = errors.New("not found")

// Repository provides database operations
type Repository struct {
	db Querier
}

// NewRepository creates a new repository over a pool or transaction
func NewRepository(db Querier) *Repository {
	return &Repository{db: db}
}

func observe(operation string, started time.Time, err error) {
	status := "success"
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		status = "error"
	}
	metrics.RecordDatabaseOperation(operation, status, time.Since(started).Seconds())
}

// Videos

const videoColumns = `id, filename, storage_key, size, duration, audio_codec, has_audio, created_at`

// CreateVideo creates a new video record
func (r *Repository) CreateVideo(ctx context.Context, video *models.Video) (err error) {
	defer func(started time.Time) { observe("create_video", started, err) }(time.Now())

	if video.ID == "" {
		video.ID = uuid.New().String()
	}

	query := `
		INSERT INTO videos (id, filename, storage_key, size, duration, audio_codec, has_audio)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`

	err = r.db.QueryRow(ctx, query,
		video.ID, video.Filename, video.StorageKey, video.Size, video.Duration,
		video.AudioCodec, video.HasAudio,
	).Scan(&video.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to create video: %w", err)
	}

	return nil
}

// GetVideo retrieves a video by ID
func (r *Repository) GetVideo(ctx context.Context, id string) (*models.Video, error) {
	started := time.Now()
	query := `SELECT ` + videoColumns + ` FROM videos WHERE id = $1`

	video, err := scanVideo(r.db.QueryRow(ctx, query, id))
	observe("get_video", started, err)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("video %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get video: %w", err)
	}

	return video, nil
}

// ListVideos retrieves videos, newest first
func (r *Repository) ListVideos(ctx context.Context, limit, offset int) ([]*models.Video, error) {
	started := time.Now()
	query := `SELECT ` + videoColumns + ` FROM videos ORDER BY created_at DESC LIMIT $1 OFFSET $2`

	rows, err := r.db.Query(ctx, query, limit, offset)
	if err != nil {
		observe("list_videos", started, err)
		return nil, fmt.Errorf("failed to list videos: %w", err)
	}
	defer rows.Close()

	var videos []*models.Video
	for rows.Next() {
		video, err := scanVideo(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan video: %w", err)
		}
		videos = append(videos, video)
	}
	observe("list_videos", started, rows.Err())

	return videos, rows.Err()
}

// DeleteVideo removes a video and, by cascade, its jobs and subtitles
func (r *Repository) DeleteVideo(ctx context.Context, id string) error {
	started := time.Now()
	tag, err := r.db.Exec(ctx, `DELETE FROM videos WHERE id = $1`, id)
	observe("delete_video", started, err)
	if err != nil {
		return fmt.Errorf("failed to delete video: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("video %w", ErrNotFound)
	}
	return nil
}

func scanVideo(row pgx.Row) (*models.Video, error) {
	var video models.Video
	err := row.Scan(
		&video.ID, &video.Filename, &video.StorageKey, &video.Size, &video.Duration,
		&video.AudioCodec, &video.HasAudio, &video.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &video, nil
}

// Jobs

const jobColumns = `id, video_id, status, stage, progress, error_msg, retry_count, worker_id,
	options, summary, started_at, completed_at, created_at, updated_at`

// CreateJob creates a new job record
func (r *Repository) CreateJob(ctx context.Context, job *models.Job) (err error) {
	defer func(started time.Time) { observe("create_job", started, err) }(time.Now())

	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.Status == "" {
		job.Status = models.JobStatusPending
	}

	query := `
		INSERT INTO jobs (id, video_id, status, progress, retry_count, options)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`

	err = r.db.QueryRow(ctx, query,
		job.ID, job.VideoID, job.Status, job.Progress, job.RetryCount, job.Options,
	).Scan(&job.CreatedAt, &job.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	return nil
}

// GetJob retrieves a job by ID
func (r *Repository) GetJob(ctx context.Context, id string) (*models.Job, error) {
	started := time.Now()
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`

	job, err := scanJob(r.db.QueryRow(ctx, query, id))
	observe("get_job", started, err)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("job %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return job, nil
}

// UpdateJobStatus sets the status of a job that has not finished yet
func (r *Repository) UpdateJobStatus(ctx context.Context, id, status string) error {
	started := time.Now()
	query := `
		UPDATE jobs SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status NOT IN ('completed', 'partial', 'failed', 'cancelled')
	`
	_, err := r.db.Exec(ctx, query, id, status)
	observe("update_job_status", started, err)
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}
	return nil
}

// ClaimJob marks a pending or queued job as processing by workerID. It
// reports false when the job is gone, finished or owned by another worker.
func (r *Repository) ClaimJob(ctx context.Context, id, workerID string, retryCount int) (bool, error) {
	started := time.Now()
	query := `
		UPDATE jobs
		SET status = 'processing', worker_id = $2, retry_count = $3, error_msg = '',
		    started_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND (status IN ('pending', 'queued') OR (status = 'processing' AND worker_id = $2))
	`
	tag, err := r.db.Exec(ctx, query, id, workerID, retryCount)
	observe("claim_job", started, err)
	if err != nil {
		return false, fmt.Errorf("failed to claim job: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ReleaseJob returns a processing job to the queue after an infrastructure
// failure so another attempt can claim it
func (r *Repository) ReleaseJob(ctx context.Context, id, errMsg string) error {
	started := time.Now()
	query := `
		UPDATE jobs SET status = 'queued', worker_id = '', error_msg = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'processing'
	`
	_, err := r.db.Exec(ctx, query, id, errMsg)
	observe("release_job", started, err)
	if err != nil {
		return fmt.Errorf("failed to release job: %w", err)
	}
	return nil
}

// UpdateJobProgress records the current stage of a running job
func (r *Repository) UpdateJobProgress(ctx context.Context, id, stage string, progress float64) error {
	started := time.Now()
	query := `UPDATE jobs SET stage = $2, progress = $3, updated_at = NOW() WHERE id = $1 AND status = 'processing'`
	_, err := r.db.Exec(ctx, query, id, stage, progress)
	observe("update_job_progress", started, err)
	if err != nil {
		return fmt.Errorf("failed to update job progress: %w", err)
	}
	return nil
}

// FinishJob stores the terminal status and summary of an unfinished job. It
// reports false when the job had already finished, e.g. it was cancelled.
func (r *Repository) FinishJob(ctx context.Context, id, status string, summary *models.Summary, errMsg string) (bool, error) {
	started := time.Now()
	progress := 0.0
	if status == models.JobStatusCompleted || status == models.JobStatusPartial {
		progress = 1
	}
	query := `
		UPDATE jobs
		SET status = $2, summary = $3, error_msg = $4, progress = GREATEST(progress, $5::double precision),
		    stage = '', completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'queued', 'processing')
	`
	tag, err := r.db.Exec(ctx, query, id, status, summary, errMsg, progress)
	observe("finish_job", started, err)
	if err != nil {
		return false, fmt.Errorf("failed to finish job: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// CancelJob marks an unfinished job cancelled. It reports false when the
// job had already finished.
func (r *Repository) CancelJob(ctx context.Context, id string) (bool, error) {
	started := time.Now()
	query := `
		UPDATE jobs SET status = 'cancelled', completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'queued', 'processing')
	`
	tag, err := r.db.Exec(ctx, query, id)
	observe("cancel_job", started, err)
	if err != nil {
		return false, fmt.Errorf("failed to cancel job: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListJobs retrieves jobs, optionally filtered by status, newest first
func (r *Repository) ListJobs(ctx context.Context, status string, limit, offset int) ([]*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE ($1 = '' OR status = $1) ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	return r.queryJobs(ctx, "list_jobs", query, status, limit, offset)
}

// GetJobsByVideoID retrieves all jobs for a video
func (r *Repository) GetJobsByVideoID(ctx context.Context, videoID string) ([]*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE video_id = $1 ORDER BY created_at DESC`
	return r.queryJobs(ctx, "get_jobs_by_video", query, videoID)
}

// ListStaleJobs returns pending jobs created before pendingBefore and
// processing jobs not updated since processingBefore, oldest first
func (r *Repository) ListStaleJobs(ctx context.Context, pendingBefore, processingBefore time.Time, limit int) ([]*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs
		WHERE (status = 'pending' AND created_at < $1) OR (status = 'processing' AND updated_at < $2)
		ORDER BY created_at ASC LIMIT $3`
	return r.queryJobs(ctx, "list_stale_jobs", query, pendingBefore, processingBefore, limit)
}

// RequeueJob moves a stale pending or processing job back to queued. It
// reports false when the job changed state in the meantime.
func (r *Repository) RequeueJob(ctx context.Context, id, status, reason string) (bool, error) {
	started := time.Now()
	query := `
		UPDATE jobs SET status = 'queued', worker_id = '', error_msg = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
	`
	tag, err := r.db.Exec(ctx, query, id, status, reason)
	observe("requeue_job", started, err)
	if err != nil {
		return false, fmt.Errorf("failed to requeue job: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// CountJobsByStatus returns the number of jobs in each status
func (r *Repository) CountJobsByStatus(ctx context.Context) (map[string]int64, error) {
	started := time.Now()
	rows, err := r.db.Query(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		observe("count_jobs", started, err)
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan job count: %w", err)
		}
		counts[status] = n
	}
	observe("count_jobs", started, rows.Err())

	return counts, rows.Err()
}

func (r *Repository) queryJobs(ctx context.Context, operation, query string, args ...any) ([]*models.Job, error) {
	started := time.Now()
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		observe(operation, started, err)
		return nil, fmt.Errorf("failed to get jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	observe(operation, started, rows.Err())

	return jobs, rows.Err()
}

func scanJob(row pgx.Row) (*models.Job, error) {
	var job models.Job
	err := row.Scan(
		&job.ID, &job.VideoID, &job.Status, &job.Stage, &job.Progress, &job.ErrorMsg,
		&job.RetryCount, &job.WorkerID, &job.Options, &job.Summary, &job.StartedAt,
		&job.CompletedAt, &job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// Subtitles

const subtitleColumns = `id, job_id, video_id, language, format, entries, is_source, path, created_at`

// CreateSubtitle records an uploaded subtitle file. A second file for the
// same job and language replaces the first.
func (r *Repository) CreateSubtitle(ctx context.Context, sub *models.Subtitle) (err error) {
	defer func(started time.Time) { observe("create_subtitle", started, err) }(time.Now())

	if sub.ID == "" {
		sub.ID = uuid.New().String()
	}
	if sub.Format == "" {
		sub.Format = models.SubtitleFormatSRT
	}

	query := `
		INSERT INTO subtitles (id, job_id, video_id, language, format, entries, is_source, path)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (job_id, language) DO UPDATE
		SET entries = EXCLUDED.entries, is_source = EXCLUDED.is_source, path = EXCLUDED.path
		RETURNING id, created_at
	`

	err = r.db.QueryRow(ctx, query,
		sub.ID, sub.JobID, sub.VideoID, sub.Language, sub.Format, sub.Entries, sub.IsSource, sub.Path,
	).Scan(&sub.ID, &sub.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to create subtitle: %w", err)
	}

	return nil
}

// GetSubtitle retrieves the subtitle a job produced for lang
func (r *Repository) GetSubtitle(ctx context.Context, jobID string, lang models.LanguageCode) (*models.Subtitle, error) {
	started := time.Now()
	query := `SELECT ` + subtitleColumns + ` FROM subtitles WHERE job_id = $1 AND language = $2`

	sub, err := scanSubtitle(r.db.QueryRow(ctx, query, jobID, lang))
	observe("get_subtitle", started, err)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("subtitle %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subtitle: %w", err)
	}
	return sub, nil
}

// DeleteSubtitles removes every subtitle record of a job
func (r *Repository) DeleteSubtitles(ctx context.Context, jobID string) error {
	started := time.Now()
	_, err := r.db.Exec(ctx, `DELETE FROM subtitles WHERE job_id = $1`, jobID)
	observe("delete_subtitles", started, err)
	if err != nil {
		return fmt.Errorf("failed to delete subtitles: %w", err)
	}
	return nil
}

// GetSubtitlesByJobID lists a job's subtitles, source first
func (r *Repository) GetSubtitlesByJobID(ctx context.Context, jobID string) ([]*models.Subtitle, error) {
	started := time.Now()
	query := `SELECT ` + subtitleColumns + ` FROM subtitles WHERE job_id = $1 ORDER BY is_source DESC, language`

	rows, err := r.db.Query(ctx, query, jobID)
	if err != nil {
		observe("get_subtitles", started, err)
		return nil, fmt.Errorf("failed to get subtitles: %w", err)
	}
	defer rows.Close()

	var subs []*models.Subtitle
	for rows.Next() {
		sub, err := scanSubtitle(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subtitle: %w", err)
		}
		subs = append(subs, sub)
	}
	observe("get_subtitles", started, rows.Err())

	return subs, rows.Err()
}

func scanSubtitle(row pgx.Row) (*models.Subtitle, error) {
	var sub models.Subtitle
	err := row.Scan(
		&sub.ID, &sub.JobID, &sub.VideoID, &sub.Language, &sub.Format, &sub.Entries,
		&sub.IsSource, &sub.Path, &sub.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}
