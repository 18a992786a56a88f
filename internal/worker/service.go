package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/therealutkarshpriyadarshi/globalsound/internal/cache"
	"github.com/therealutkarshpriyadarshi/globalsound/internal/database"
	"github.com/therealutkarshpriyadarshi/globalsound/internal/logging"
	"github.com/therealutkarshpriyadarshi/globalsound/internal/metrics"
	"github.com/therealutkarshpriyadarshi/globalsound/internal/pipeline"
	"github.com/therealutkarshpriyadarshi/globalsound/internal/queue"
	"github.com/therealutkarshpriyadarshi/globalsound/internal/storage"
	"github.com/therealutkarshpriyadarshi/globalsound/internal/subtitle"
	"github.com/therealutkarshpriyadarshi/globalsound/internal/tracing"
	"github.com/therealutkarshpriyadarshi/globalsound/pkg/models"
)

// JobStore persists jobs, videos and subtitle records
type JobStore interface {
	GetVideo(ctx context.Context, id string) (*models.Video, error)
	ClaimJob(ctx context.Context, id, workerID string, retryCount int) (bool, error)
	ReleaseJob(ctx context.Context, id, errMsg string) error
	UpdateJobProgress(ctx context.Context, id, stage string, progress float64) error
	FinishJob(ctx context.Context, id, status string, summary *models.Summary, errMsg string) (bool, error)
	CreateSubtitle(ctx context.Context, sub *models.Subtitle) error
	DeleteSubtitles(ctx context.Context, jobID string) error
}

// ObjectStore moves files to and from object storage
type ObjectStore interface {
	DownloadFile(ctx context.Context, objectName, filePath string) error
	UploadFile(ctx context.Context, objectName, filePath string) error
	DeletePrefix(ctx context.Context, prefix string) error
}

// ProgressStore publishes live progress and cancel flags
type ProgressStore interface {
	SetJobProgress(ctx context.Context, jobID string, progress cache.Progress, ttl time.Duration) error
	IsCancelled(ctx context.Context, jobID string) (bool, error)
	ClearCancel(ctx context.Context, jobID string) error
}

// Runner executes one localization request
type Runner interface {
	Run(ctx context.Context, req models.Request, opts ...pipeline.RunOption) (*models.Summary, error)
}

// Notifier reports finished jobs to their callback URL
type Notifier interface {
	NotifyJobFinished(ctx context.Context, job *models.Job, status string, summary *models.Summary, errMsg string) error
}

// Options configures a Service
type Options struct {
	WorkDir     string
	ProgressTTL time.Duration
	WorkerID    string
	// Notifier is optional
	Notifier Notifier
}

// Service turns queued jobs into uploaded subtitle files
type Service struct {
	runner   Runner
	store    JobStore
	objects  ObjectStore
	progress ProgressStore
	opts     Options
	logger   *logging.Logger
}

// NewService creates a new worker service
func NewService(runner Runner, store JobStore, objects ObjectStore, progress ProgressStore, opts Options, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Nop()
	}
	if opts.WorkerID == "" {
		opts.WorkerID = uuid.New().String()
	}
	if opts.ProgressTTL <= 0 {
		opts.ProgressTTL = 24 * time.Hour
	}
	return &Service{
		runner:   runner,
		store:    store,
		objects:  objects,
		progress: progress,
		opts:     opts,
		logger:   logger.WithWorkerID(opts.WorkerID),
	}
}

// WorkerID returns the identity this service claims jobs under
func (s *Service) WorkerID() string {
	return s.opts.WorkerID
}

// ProcessJob runs one job end to end. Job-level outcomes (success, partial,
// failure, cancellation) are recorded on the job and return nil; a returned
// error means the attempt should be retried.
func (s *Service) ProcessJob(ctx context.Context, job *models.Job, retryCount int) error {
	logger := s.logger.WithJobID(job.ID).WithVideoID(job.VideoID)

	span, ctx := tracing.StartSpan(ctx, "worker.process_job")
	defer tracing.FinishSpan(span)
	tracing.SetTag(span, "job.id", job.ID)

	claimed, err := s.store.ClaimJob(ctx, job.ID, s.opts.WorkerID, retryCount)
	if err != nil {
		return err
	}
	if !claimed {
		logger.Info("Job already finished or owned by another worker, skipping")
		return nil
	}

	metrics.SetWorkerActive(s.opts.WorkerID, true)
	defer metrics.SetWorkerActive(s.opts.WorkerID, false)
	started := time.Now()
	logger.LogJobEvent(job.ID, "started", models.JobStatusProcessing, map[string]interface{}{"retry": retryCount})

	if s.cancelled(ctx, job.ID) {
		return s.finish(ctx, job, models.JobStatusCancelled, nil, pipeline.ErrCancelled.Error(), started)
	}

	video, err := s.store.GetVideo(ctx, job.VideoID)
	if errors.Is(err, database.ErrNotFound) {
		return s.finish(ctx, job, models.JobStatusFailed, nil, err.Error(), started)
	}
	if err != nil {
		return s.release(ctx, job, fmt.Errorf("failed to get video: %w", err))
	}

	jobDir, err := os.MkdirTemp(s.opts.WorkDir, "job-"+job.ID+"-")
	if err != nil {
		return s.release(ctx, job, fmt.Errorf("failed to create temp directory: %w", err))
	}
	defer os.RemoveAll(jobDir)

	inputPath := filepath.Join(jobDir, "input"+filepath.Ext(video.StorageKey))
	if err := s.objects.DownloadFile(ctx, video.StorageKey, inputPath); err != nil {
		err = fmt.Errorf("failed to download video: %w", err)
		if errors.Is(err, storage.ErrObjectNotFound) {
			// no retry brings the upload back
			return queue.Permanent(s.release(ctx, job, err))
		}
		return s.release(ctx, job, err)
	}

	req := models.Request{
		VideoPath:         inputPath,
		Denoise:           job.Options.Denoise,
		TargetLanguages:   job.Options.TargetLanguages,
		PreserveTechnical: job.Options.PreserveTechnical,
		DurationLimit:     job.Options.DurationLimit(),
		OutputDir:         filepath.Join(jobDir, "subtitles"),
	}

	summary, err := s.runner.Run(ctx, req,
		pipeline.WithRequestID(job.ID),
		pipeline.WithProgress(s.reportProgress(ctx, job.ID)),
		pipeline.WithCancelChecker(func(ctx context.Context) (bool, error) {
			if s.progress == nil {
				return false, nil
			}
			return s.progress.IsCancelled(ctx, job.ID)
		}),
	)
	if err != nil {
		switch {
		case errors.Is(err, pipeline.ErrCancelled) && ctx.Err() == nil:
			return s.finish(ctx, job, models.JobStatusCancelled, nil, err.Error(), started)
		case ctx.Err() != nil:
			// worker shutdown; another attempt picks the job up
			return s.release(context.WithoutCancel(ctx), job, err)
		default:
			return s.finish(ctx, job, models.JobStatusFailed, nil, err.Error(), started)
		}
	}

	if s.cancelled(ctx, job.ID) {
		return s.finish(ctx, job, models.JobStatusCancelled, nil, pipeline.ErrCancelled.Error(), started)
	}

	if err := s.upload(ctx, job, video, summary); err != nil {
		if errors.Is(err, subtitle.ErrSubtitleWrite) {
			return s.finish(ctx, job, models.JobStatusFailed, nil, err.Error(), started)
		}
		return s.release(ctx, job, err)
	}

	status := models.JobStatusCompleted
	if len(summary.Failed) > 0 {
		status = models.JobStatusPartial
	}
	recorded, err := s.conclude(ctx, job, status, summary, "", started)
	if err != nil {
		return err
	}
	if !recorded {
		// cancelled while uploading; the stored outputs belong to no job
		s.discard(context.WithoutCancel(ctx), job, video)
	}
	return nil
}

// upload verifies, stores and records every emitted subtitle. Artifact
// paths in summary are rewritten to object keys.
func (s *Service) upload(ctx context.Context, job *models.Job, video *models.Video, summary *models.Summary) error {
	for _, artifact := range summary.Artifacts {
		entries, err := subtitle.ValidateFile(artifact.Path)
		if err != nil {
			return fmt.Errorf("%w: %s subtitles: %w", subtitle.ErrSubtitleWrite, artifact.Language, err)
		}
		if entries != artifact.Entries {
			return fmt.Errorf("%w: %s subtitles have %d cues, expected %d", subtitle.ErrSubtitleWrite, artifact.Language, entries, artifact.Entries)
		}
	}

	for i, artifact := range summary.Artifacts {
		key := storage.SubtitleKey(video.ID, job.ID, artifact.Path)
		if err := s.objects.UploadFile(ctx, key, artifact.Path); err != nil {
			return fmt.Errorf("failed to upload %s subtitles: %w", artifact.Language, err)
		}

		sub := &models.Subtitle{
			JobID:    job.ID,
			VideoID:  video.ID,
			Language: artifact.Language,
			Format:   models.SubtitleFormatSRT,
			Entries:  artifact.Entries,
			IsSource: artifact.Language == summary.SourceLanguage,
			Path:     key,
		}
		if err := s.store.CreateSubtitle(ctx, sub); err != nil {
			return fmt.Errorf("failed to record %s subtitles: %w", artifact.Language, err)
		}
		summary.Artifacts[i].Path = key
	}
	return nil
}

func (s *Service) finish(ctx context.Context, job *models.Job, status string, summary *models.Summary, errMsg string, started time.Time) error {
	_, err := s.conclude(ctx, job, status, summary, errMsg, started)
	return err
}

// conclude records the outcome of a claimed job. It reports false when the
// job left the running states first, which only a cancellation does; the
// outcome is then dropped and the job is reported as cancelled.
func (s *Service) conclude(ctx context.Context, job *models.Job, status string, summary *models.Summary, errMsg string, started time.Time) (bool, error) {
	logger := s.logger.WithJobID(job.ID)

	updated, err := s.store.FinishJob(ctx, job.ID, status, summary, errMsg)
	if err != nil {
		return false, fmt.Errorf("failed to update job: %w (outcome: %s)", err, status)
	}
	if !updated {
		if s.progress != nil {
			s.publish(ctx, job.ID, models.JobStatusCancelled, "", 1)
			if err := s.progress.ClearCancel(ctx, job.ID); err != nil {
				logger.WithError(err).Warn("Failed to clear cancel flag")
			}
		}
		metrics.RecordWorkerJob(s.opts.WorkerID, "superseded")
		logger.LogJobEvent(job.ID, "superseded", models.JobStatusCancelled, map[string]interface{}{
			"duration_ms": time.Since(started).Milliseconds(),
			"dropped":     status,
		})
		s.notify(ctx, job, models.JobStatusCancelled, nil, pipeline.ErrCancelled.Error())
		return false, nil
	}
	if s.progress != nil {
		s.publish(ctx, job.ID, status, "", 1)
		if status == models.JobStatusCancelled {
			if err := s.progress.ClearCancel(ctx, job.ID); err != nil {
				logger.WithError(err).Warn("Failed to clear cancel flag")
			}
		}
	}

	metrics.RecordJobCompleted(status, time.Since(started).Seconds())
	metrics.RecordWorkerJob(s.opts.WorkerID, status)

	details := map[string]interface{}{"duration_ms": time.Since(started).Milliseconds()}
	if errMsg != "" {
		details["error"] = errMsg
	}
	if summary != nil {
		details["succeeded"] = len(summary.Succeeded)
		details["failed"] = len(summary.Failed)
	}
	logger.LogJobEvent(job.ID, "finished", status, details)

	s.notify(ctx, job, status, summary, errMsg)
	return true, nil
}

func (s *Service) notify(ctx context.Context, job *models.Job, status string, summary *models.Summary, errMsg string) {
	if s.opts.Notifier == nil || job.Options.CallbackURL == "" {
		return
	}
	if err := s.opts.Notifier.NotifyJobFinished(context.WithoutCancel(ctx), job, status, summary, errMsg); err != nil {
		s.logger.WithJobID(job.ID).WithError(err).Warn("Failed to deliver job callback")
	}
}

// discard removes the subtitle rows and objects of a job whose outcome was
// not recorded
func (s *Service) discard(ctx context.Context, job *models.Job, video *models.Video) {
	logger := s.logger.WithJobID(job.ID)
	if err := s.store.DeleteSubtitles(ctx, job.ID); err != nil {
		logger.WithError(err).Warn("Failed to delete subtitle records")
	}
	if err := s.objects.DeletePrefix(ctx, storage.SubtitlePrefix(video.ID, job.ID)); err != nil {
		logger.WithError(err).Warn("Failed to delete subtitle objects")
	}
}

// release hands the job back for another attempt and returns cause
func (s *Service) release(ctx context.Context, job *models.Job, cause error) error {
	if err := s.store.ReleaseJob(ctx, job.ID, cause.Error()); err != nil {
		s.logger.WithJobID(job.ID).WithError(err).Error("Failed to release job")
	}
	metrics.RecordWorkerJob(s.opts.WorkerID, "retry")
	return cause
}

func (s *Service) cancelled(ctx context.Context, jobID string) bool {
	if s.progress == nil {
		return false
	}
	cancelled, err := s.progress.IsCancelled(ctx, jobID)
	if err != nil {
		s.logger.WithJobID(jobID).WithError(err).Warn("Failed to check cancel flag")
		return false
	}
	return cancelled
}

func (s *Service) reportProgress(ctx context.Context, jobID string) pipeline.ProgressFunc {
	return func(state pipeline.State, lang models.LanguageCode, progress float64) {
		if state.Terminal() {
			return
		}
		if err := s.store.UpdateJobProgress(ctx, jobID, string(state), progress); err != nil {
			s.logger.WithJobID(jobID).WithError(err).Warn("Failed to persist job progress")
		}
		s.publish(ctx, jobID, string(state), lang, progress)
	}
}

func (s *Service) publish(ctx context.Context, jobID, stage string, lang models.LanguageCode, progress float64) {
	if s.progress == nil {
		return
	}
	p := cache.Progress{Stage: stage, Language: string(lang), Progress: progress}
	if err := s.progress.SetJobProgress(ctx, jobID, p, s.opts.ProgressTTL); err != nil {
		s.logger.WithJobID(jobID).WithError(err).Warn("Failed to publish job progress")
	}
}
