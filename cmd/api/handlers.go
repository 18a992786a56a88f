package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/therealutkarshpriyadarshi/globalsound/internal/cache"
	"github.com/therealutkarshpriyadarshi/globalsound/internal/database"
	"github.com/therealutkarshpriyadarshi/globalsound/internal/logging"
	"github.com/therealutkarshpriyadarshi/globalsound/internal/media"
	"github.com/therealutkarshpriyadarshi/globalsound/internal/metrics"
	"github.com/therealutkarshpriyadarshi/globalsound/internal/monitoring"
	"github.com/therealutkarshpriyadarshi/globalsound/internal/storage"
	"github.com/therealutkarshpriyadarshi/globalsound/internal/translate"
	"github.com/therealutkarshpriyadarshi/globalsound/internal/upload"
	"github.com/therealutkarshpriyadarshi/globalsound/pkg/models"
)

// Repository is the persistence surface the API needs
type Repository interface {
	CreateVideo(ctx context.Context, video *models.Video) error
	GetVideo(ctx context.Context, id string) (*models.Video, error)
	ListVideos(ctx context.Context, limit, offset int) ([]*models.Video, error)
	DeleteVideo(ctx context.Context, id string) error
	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id string) (*models.Job, error)
	ListJobs(ctx context.Context, status string, limit, offset int) ([]*models.Job, error)
	UpdateJobStatus(ctx context.Context, id, status string) error
	CancelJob(ctx context.Context, id string) (bool, error)
	GetJobsByVideoID(ctx context.Context, videoID string) ([]*models.Job, error)
	GetSubtitle(ctx context.Context, jobID string, lang models.LanguageCode) (*models.Subtitle, error)
	GetSubtitlesByJobID(ctx context.Context, jobID string) ([]*models.Subtitle, error)
}

// ObjectStore is the object storage surface the API needs
type ObjectStore interface {
	UploadFile(ctx context.Context, objectName, filePath string) error
	Download(ctx context.Context, objectName string) (io.ReadCloser, error)
	GetURL(ctx context.Context, objectName string) (string, error)
	DeletePrefix(ctx context.Context, prefix string) error
}

// JobQueue enqueues jobs for workers and reports backlog
type JobQueue interface {
	PublishJob(ctx context.Context, job *models.Job) error
	GetQueueDepth() (int, error)
	GetDLQDepth() (int, error)
}

// ProgressCache exposes live job progress and cancel flags
type ProgressCache interface {
	GetJobProgress(ctx context.Context, jobID string) (*cache.Progress, error)
	RequestCancel(ctx context.Context, jobID string, ttl time.Duration) error
}

// MetadataCache holds read-through copies of videos and finished jobs
type MetadataCache interface {
	GetVideo(ctx context.Context, videoID string) (*models.Video, error)
	SetVideo(ctx context.Context, video *models.Video, ttl time.Duration) error
	DeleteVideo(ctx context.Context, videoID string) error
	GetJob(ctx context.Context, jobID string) (*models.Job, error)
	SetJob(ctx context.Context, job *models.Job, ttl time.Duration) error
	DeleteJob(ctx context.Context, jobID string) error
}

// Prober reads media metadata
type Prober interface {
	Probe(ctx context.Context, inputPath string) (*media.Metadata, error)
}

// HealthCheck reports whether one dependency is reachable
type HealthCheck func(ctx context.Context) error

// API holds the handler dependencies
type API struct {
	repo     Repository
	storage  ObjectStore
	queue    JobQueue
	progress ProgressCache
	meta     MetadataCache
	prober   Prober
	monitor  *monitoring.Monitor
	uploads  *upload.Service
	logger   *logging.Logger

	tempDir        string
	maxUploadBytes int64
	cancelTTL      time.Duration
	metaTTL        time.Duration
	health         map[string]HealthCheck
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Health check endpoint
func (api *API) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	checks := gin.H{}
	healthy := true
	for name, check := range api.health {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			healthy = false
			continue
		}
		checks[name] = "ok"
	}

	if !healthy {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "checks": checks})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "checks": checks})
}

// List supported languages endpoint
func (api *API) listLanguages(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"languages": translate.Languages()})
}

// Upload video endpoint
func (api *API) uploadVideo(c *gin.Context) {
	if api.maxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, api.maxUploadBytes)
	}

	file, err := c.FormFile("video")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Video exceeds the upload limit"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "No video file provided"})
		return
	}

	videoID := uuid.New().String()

	// Save to temporary location
	tempPath := filepath.Join(api.tempDir, "upload-"+videoID+filepath.Ext(file.Filename))
	if err := c.SaveUploadedFile(file, tempPath); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save file"})
		return
	}
	defer os.Remove(tempPath)

	api.ingestVideo(c, videoID, file.Filename, tempPath, file.Size)
}

// ingestVideo probes a local video file, stores it and records it
func (api *API) ingestVideo(c *gin.Context, videoID, filename, path string, size int64) {
	// Extract audio metadata
	meta, err := api.prober.Probe(c.Request.Context(), path)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "File is not a readable video"})
		return
	}

	video := &models.Video{
		ID:       videoID,
		Filename: filepath.Base(filename),
		Size:     size,
		Duration: meta.DurationSeconds(),
	}
	if streams := meta.AudioStreams(); len(streams) > 0 {
		video.HasAudio = true
		video.AudioCodec = streams[0].CodecName
	}

	// Upload to storage
	video.StorageKey = storage.VideoKey(video.ID, filename)
	if err := api.storage.UploadFile(c.Request.Context(), video.StorageKey, path); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to upload: %v", err)})
		return
	}

	// Save to database
	if err := api.repo.CreateVideo(c.Request.Context(), video); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to create video: %v", err)})
		return
	}

	metrics.RecordVideoUpload(video.Size)
	c.JSON(http.StatusCreated, video)
}

// Get video endpoint
func (api *API) getVideo(c *gin.Context) {
	video, err := api.lookupVideo(c.Request.Context(), c.Param("id"))
	if err != nil {
		api.notFoundOrError(c, err, "Video not found")
		return
	}

	c.JSON(http.StatusOK, video)
}

// List videos endpoint
func (api *API) listVideos(c *gin.Context) {
	limit, offset := pagination(c)

	videos, err := api.repo.ListVideos(c.Request.Context(), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"videos": videos,
		"limit":  limit,
		"offset": offset,
	})
}

// Delete video endpoint
func (api *API) deleteVideo(c *gin.Context) {
	videoID := c.Param("id")

	if _, err := api.repo.GetVideo(c.Request.Context(), videoID); err != nil {
		api.notFoundOrError(c, err, "Video not found")
		return
	}

	if api.meta != nil {
		api.forgetVideo(c.Request.Context(), videoID)
	}

	// Source and every subtitle live under the video prefix
	if err := api.storage.DeletePrefix(c.Request.Context(), "videos/"+videoID+"/"); err != nil {
		api.logger.WithVideoID(videoID).WithError(err).Warn("Failed to delete video objects")
	}

	if err := api.repo.DeleteVideo(c.Request.Context(), videoID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to delete video: %v", err)})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Video deleted successfully", "video_id": videoID})
}

type localizeRequest struct {
	TargetLanguages      []models.LanguageCode `json:"target_languages"`
	Denoise              bool                  `json:"denoise"`
	PreserveTechnical    bool                  `json:"preserve_technical"`
	QuickProcess         bool                  `json:"quick_process"`
	DurationLimitSeconds int                   `json:"duration_limit_seconds" binding:"gte=0"`
	CallbackURL          string                `json:"callback_url" binding:"omitempty,url"`
}

// Create localization job endpoint
func (api *API) createLocalizeJob(c *gin.Context) {
	videoID := c.Param("id")

	var req localizeRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	video, err := api.lookupVideo(c.Request.Context(), videoID)
	if err != nil {
		api.notFoundOrError(c, err, "Video not found")
		return
	}
	if !video.HasAudio {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Video has no audio track"})
		return
	}

	options := models.JobOptions{
		Denoise:              req.Denoise,
		TargetLanguages:      models.Request{TargetLanguages: req.TargetLanguages}.Targets(),
		PreserveTechnical:    req.PreserveTechnical,
		DurationLimitSeconds: req.DurationLimitSeconds,
		QuickProcess:         req.QuickProcess,
		CallbackURL:          req.CallbackURL,
	}

	job := &models.Job{
		VideoID: videoID,
		Status:  models.JobStatusQueued,
		Options: options,
	}

	// Save to database
	if err := api.repo.CreateJob(c.Request.Context(), job); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to create job: %v", err)})
		return
	}

	// Publish to queue
	if err := api.queue.PublishJob(c.Request.Context(), job); err != nil {
		if updateErr := api.repo.UpdateJobStatus(c.Request.Context(), job.ID, models.JobStatusFailed); updateErr != nil {
			api.logger.WithJobID(job.ID).WithError(updateErr).Error("Failed to mark unqueued job failed")
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to queue job: %v", err)})
		return
	}

	mode := "full"
	if options.QuickProcess {
		mode = "quick"
	}
	metrics.RecordJobCreated(mode)

	c.JSON(http.StatusCreated, job)
}

// Get job endpoint. Unfinished jobs carry the live progress.
func (api *API) getJob(c *gin.Context) {
	job, err := api.lookupJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		api.notFoundOrError(c, err, "Job not found")
		return
	}

	resp := gin.H{"job": job}
	if !job.Finished() {
		progress, err := api.progress.GetJobProgress(c.Request.Context(), job.ID)
		if err != nil {
			api.logger.WithJobID(job.ID).WithError(err).Warn("Failed to read job progress")
		}
		if progress != nil {
			resp["progress"] = progress
		}
	}

	c.JSON(http.StatusOK, resp)
}

var jobStatuses = map[string]bool{
	models.JobStatusPending:    true,
	models.JobStatusQueued:     true,
	models.JobStatusProcessing: true,
	models.JobStatusCompleted:  true,
	models.JobStatusPartial:    true,
	models.JobStatusFailed:     true,
	models.JobStatusCancelled:  true,
}

// List jobs endpoint, optionally filtered by ?status=
func (api *API) listJobs(c *gin.Context) {
	status := c.Query("status")
	if status != "" && !jobStatuses[status] {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Unknown job status %q", status)})
		return
	}
	limit, offset := pagination(c)

	jobs, err := api.repo.ListJobs(c.Request.Context(), status, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"jobs":   jobs,
		"limit":  limit,
		"offset": offset,
	})
}

// Get video jobs endpoint
func (api *API) getVideoJobs(c *gin.Context) {
	jobs, err := api.repo.GetJobsByVideoID(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

// Cancel job endpoint
func (api *API) cancelJob(c *gin.Context) {
	jobID := c.Param("id")

	if _, err := api.repo.GetJob(c.Request.Context(), jobID); err != nil {
		api.notFoundOrError(c, err, "Job not found")
		return
	}

	cancelled, err := api.repo.CancelJob(c.Request.Context(), jobID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to cancel job: %v", err)})
		return
	}
	if !cancelled {
		c.JSON(http.StatusConflict, gin.H{"error": "Job already finished"})
		return
	}

	// A running worker notices the flag before its next stage
	if err := api.progress.RequestCancel(c.Request.Context(), jobID, api.cancelTTL); err != nil {
		api.logger.WithJobID(jobID).WithError(err).Error("Failed to flag job for cancellation")
	}

	c.JSON(http.StatusOK, gin.H{"message": "Job cancelled successfully", "job_id": jobID})
}

// List job subtitles endpoint, with presigned download URLs
func (api *API) listSubtitles(c *gin.Context) {
	jobID := c.Param("id")

	subs, err := api.repo.GetSubtitlesByJobID(c.Request.Context(), jobID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	for _, sub := range subs {
		url, err := api.storage.GetURL(c.Request.Context(), sub.Path)
		if err != nil {
			api.logger.WithJobID(jobID).WithLanguage(string(sub.Language)).WithError(err).Warn("Failed to presign subtitle URL")
			continue
		}
		sub.URL = url
	}

	c.JSON(http.StatusOK, gin.H{"subtitles": subs})
}

// Download one subtitle file endpoint
func (api *API) downloadSubtitle(c *gin.Context) {
	jobID := c.Param("id")
	lang := models.LanguageCode(c.Param("lang")).Normalize()

	sub, err := api.repo.GetSubtitle(c.Request.Context(), jobID, lang)
	if err != nil {
		api.notFoundOrError(c, err, "Subtitle not found")
		return
	}

	reader, err := api.storage.Download(c.Request.Context(), sub.Path)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to read subtitle: %v", err)})
		return
	}
	defer reader.Close()

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filepath.Base(sub.Path)))
	c.DataFromReader(http.StatusOK, -1, storage.ContentType(sub.Path), reader, nil)
}

// Queue stats endpoint
func (api *API) getQueueStats(c *gin.Context) {
	queueDepth, err := api.queue.GetQueueDepth()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get queue depth"})
		return
	}

	dlqDepth, err := api.queue.GetDLQDepth()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get DLQ depth"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"queue_depth": queueDepth,
		"dlq_depth":   dlqDepth,
	})
}

// System status endpoint
func (api *API) getSystemStatus(c *gin.Context) {
	c.JSON(http.StatusOK, api.monitor.Snapshot())
}

// lookupVideo reads a video through the metadata cache
func (api *API) lookupVideo(ctx context.Context, id string) (*models.Video, error) {
	if api.meta != nil {
		if video, err := api.meta.GetVideo(ctx, id); err == nil && video != nil {
			return video, nil
		} else if err != nil {
			api.logger.WithVideoID(id).WithError(err).Warn("Video cache read failed")
		}
	}

	video, err := api.repo.GetVideo(ctx, id)
	if err != nil {
		return nil, err
	}
	if api.meta != nil {
		if err := api.meta.SetVideo(ctx, video, api.metaTTL); err != nil {
			api.logger.WithVideoID(id).WithError(err).Warn("Video cache write failed")
		}
	}
	return video, nil
}

// lookupJob reads a job through the metadata cache. Only finished jobs are
// cached since running ones change under the worker.
func (api *API) lookupJob(ctx context.Context, id string) (*models.Job, error) {
	if api.meta != nil {
		if job, err := api.meta.GetJob(ctx, id); err == nil && job != nil {
			return job, nil
		} else if err != nil {
			api.logger.WithJobID(id).WithError(err).Warn("Job cache read failed")
		}
	}

	job, err := api.repo.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if api.meta != nil && job.Finished() {
		if err := api.meta.SetJob(ctx, job, api.metaTTL); err != nil {
			api.logger.WithJobID(id).WithError(err).Warn("Job cache write failed")
		}
	}
	return job, nil
}

// forgetVideo drops a video and its cached jobs from the metadata cache
func (api *API) forgetVideo(ctx context.Context, videoID string) {
	logger := api.logger.WithVideoID(videoID)
	if err := api.meta.DeleteVideo(ctx, videoID); err != nil {
		logger.WithError(err).Warn("Failed to evict video from cache")
	}

	jobs, err := api.repo.GetJobsByVideoID(ctx, videoID)
	if err != nil {
		logger.WithError(err).Warn("Failed to list jobs for cache eviction")
		return
	}
	for _, job := range jobs {
		if err := api.meta.DeleteJob(ctx, job.ID); err != nil {
			logger.WithJobID(job.ID).WithError(err).Warn("Failed to evict job from cache")
		}
	}
}

func (api *API) notFoundOrError(c *gin.Context, err error, notFound string) {
	if errors.Is(err, database.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": notFound})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

func pagination(c *gin.Context) (limit, offset int) {
	limit = defaultPageSize
	if v, err := strconv.Atoi(c.Query("limit")); err == nil && v > 0 {
		limit = min(v, maxPageSize)
	}
	if v, err := strconv.Atoi(c.Query("offset")); err == nil && v > 0 {
		offset = v
	}
	return limit, offset
}
