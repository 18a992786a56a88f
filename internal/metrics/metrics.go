package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// API Metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "globalsound_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "globalsound_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Upload Metrics
	VideoUploadsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "globalsound_video_uploads_total",
			Help: "Total number of video uploads",
		},
	)

	VideoUploadSizeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "globalsound_video_upload_size_bytes",
			Help:    "Size of uploaded videos in bytes",
			Buckets: prometheus.ExponentialBuckets(1024*1024, 2, 15), // 1MB to 16GB
		},
	)

	// Job Metrics
	JobsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "globalsound_jobs_created_total",
			Help: "Total number of localization jobs created",
		},
		[]string{"mode"},
	)

	JobsCompletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "globalsound_jobs_completed_total",
			Help: "Total number of finished localization jobs",
		},
		[]string{"status"},
	)

	JobsInProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "globalsound_jobs_in_progress",
			Help: "Number of jobs currently being processed",
		},
	)

	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "globalsound_queue_depth",
			Help: "Messages waiting in each job queue",
		},
		[]string{"queue"},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "globalsound_job_duration_seconds",
			Help:    "End-to-end job duration in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14), // 1s to ~4.5h
		},
		[]string{"status"},
	)

	// Pipeline Metrics
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "globalsound_stage_duration_seconds",
			Help:    "Duration of each pipeline stage",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 15),
		},
		[]string{"stage", "status"},
	)

	LanguagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "globalsound_languages_total",
			Help: "Target languages processed by outcome",
		},
		[]string{"language", "outcome"},
	)

	TranslationFallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "globalsound_translation_fallbacks_total",
			Help: "Batch translations that fell back to per-segment calls",
		},
		[]string{"language"},
	)

	UntranslatedSegmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "globalsound_untranslated_segments_total",
			Help: "Segments that kept their original text after translation failed",
		},
		[]string{"language"},
	)

	SegmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "globalsound_segments_total",
			Help: "Transcribed segments, kept or dropped before emission",
		},
		[]string{"disposition"},
	)

	AudioSecondsProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "globalsound_audio_seconds_processed_total",
			Help: "Total seconds of prepared audio sent to transcription",
		},
	)

	// Worker Metrics
	WorkerActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "globalsound_worker_active",
			Help: "Whether worker is active (1) or idle (0)",
		},
		[]string{"worker_id"},
	)

	WorkerJobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "globalsound_worker_jobs_processed_total",
			Help: "Total number of jobs processed by worker",
		},
		[]string{"worker_id", "status"},
	)

	// Storage Metrics
	StorageOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "globalsound_storage_operations_total",
			Help: "Total number of storage operations",
		},
		[]string{"operation", "status"},
	)

	StorageOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "globalsound_storage_operation_duration_seconds",
			Help:    "Storage operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	StorageBytesTransferred = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "globalsound_storage_bytes_transferred_total",
			Help: "Total bytes transferred to/from storage",
		},
		[]string{"operation"},
	)

	// Database Metrics
	DatabaseOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "globalsound_database_operations_total",
			Help: "Total number of database operations",
		},
		[]string{"operation", "status"},
	)

	DatabaseOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "globalsound_database_operation_duration_seconds",
			Help:    "Database operation duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		},
		[]string{"operation"},
	)

	// Cache Metrics
	CacheHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "globalsound_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMissesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "globalsound_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	// Error Metrics
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "globalsound_errors_total",
			Help: "Total number of errors",
		},
		[]string{"component", "error_type"},
	)
)

// RecordHTTPRequest records an HTTP request
func RecordHTTPRequest(method, endpoint, status string, duration float64) {
	HTTPRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordVideoUpload records an accepted upload
func RecordVideoUpload(size int64) {
	VideoUploadsTotal.Inc()
	VideoUploadSizeBytes.Observe(float64(size))
}

// RecordJobCreated records a job creation
func RecordJobCreated(mode string) {
	JobsCreatedTotal.WithLabelValues(mode).Inc()
}

// RecordJobCompleted records a job reaching a terminal status
func RecordJobCompleted(status string, duration float64) {
	JobsCompletedTotal.WithLabelValues(status).Inc()
	JobDuration.WithLabelValues(status).Observe(duration)
}

// SetQueueDepth updates the depth gauge for a queue
func SetQueueDepth(queue string, depth int) {
	QueueDepth.WithLabelValues(queue).Set(float64(depth))
}

// SetJobsInProgress updates the in-progress gauge
func SetJobsInProgress(n int) {
	JobsInProgress.Set(float64(n))
}

// RecordStage records how long a pipeline stage took
func RecordStage(stage string, duration float64, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	StageDuration.WithLabelValues(stage, status).Observe(duration)
}

// RecordLanguage records the outcome for one target language
// (succeeded, failed or skipped)
func RecordLanguage(language, outcome string) {
	LanguagesTotal.WithLabelValues(language, outcome).Inc()
}

// RecordTranslationFallback records a batch failure and the segments that
// could not be translated afterwards
func RecordTranslationFallback(language string, untranslated int) {
	TranslationFallbacksTotal.WithLabelValues(language).Inc()
	if untranslated > 0 {
		UntranslatedSegmentsTotal.WithLabelValues(language).Add(float64(untranslated))
	}
}

// RecordSegments records kept and dropped segment counts
func RecordSegments(kept, dropped int) {
	SegmentsTotal.WithLabelValues("kept").Add(float64(kept))
	SegmentsTotal.WithLabelValues("dropped").Add(float64(dropped))
}

// RecordAudioSeconds records prepared audio duration
func RecordAudioSeconds(seconds float64) {
	AudioSecondsProcessed.Add(seconds)
}

// SetWorkerActive marks a worker busy or idle
func SetWorkerActive(workerID string, active bool) {
	v := 0.0
	if active {
		v = 1.0
	}
	WorkerActive.WithLabelValues(workerID).Set(v)
}

// RecordWorkerJob records a job handled by a worker
func RecordWorkerJob(workerID, status string) {
	WorkerJobsProcessed.WithLabelValues(workerID, status).Inc()
}

// RecordStorageOperation records a storage operation
func RecordStorageOperation(operation, status string, duration float64, bytesTransferred int64) {
	StorageOperationsTotal.WithLabelValues(operation, status).Inc()
	StorageOperationDuration.WithLabelValues(operation).Observe(duration)
	StorageBytesTransferred.WithLabelValues(operation).Add(float64(bytesTransferred))
}

// RecordDatabaseOperation records a database operation
func RecordDatabaseOperation(operation, status string, duration float64) {
	DatabaseOperationsTotal.WithLabelValues(operation, status).Inc()
	DatabaseOperationDuration.WithLabelValues(operation).Observe(duration)
}

// RecordCacheAccess records cache hit or miss
func RecordCacheAccess(cacheType string, hit bool) {
	if hit {
		CacheHitsTotal.WithLabelValues(cacheType).Inc()
	} else {
		CacheMissesTotal.WithLabelValues(cacheType).Inc()
	}
}

// RecordError records an error
func RecordError(component, errorType string) {
	ErrorsTotal.WithLabelValues(component, errorType).Inc()
}
