package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/therealutkarshpriyadarshi/globalsound/internal/metrics"
	"github.com/therealutkarshpriyadarshi/globalsound/pkg/models"
)

// ErrLockNotHeld is returned when releasing a lock owned by someone else
var ErrLockNotHeld = errors.New("lock not held")

// Cache provides caching functionality using Redis
type Cache struct {
	client *redis.Client
}

// NewCache creates a new cache instance
func NewCache(host string, port int, password string, db int) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Cache{client: client}, nil
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	return c.client.Close()
}

// Video Cache Operations

// SetVideo caches video metadata
func (c *Cache) SetVideo(ctx context.Context, video *models.Video, ttl time.Duration) error {
	return c.SetWithJSON(ctx, fmt.Sprintf("video:%s", video.ID), video, ttl)
}

// GetVideo retrieves video metadata from cache, nil on miss
func (c *Cache) GetVideo(ctx context.Context, videoID string) (*models.Video, error) {
	var video models.Video
	found, err := c.getJSON(ctx, "video", fmt.Sprintf("video:%s", videoID), &video)
	if err != nil || !found {
		return nil, err
	}
	return &video, nil
}

// DeleteVideo removes video from cache
func (c *Cache) DeleteVideo(ctx context.Context, videoID string) error {
	return c.client.Del(ctx, fmt.Sprintf("video:%s", videoID)).Err()
}

// Job Cache Operations

// SetJob caches job metadata
func (c *Cache) SetJob(ctx context.Context, job *models.Job, ttl time.Duration) error {
	return c.SetWithJSON(ctx, fmt.Sprintf("job:%s", job.ID), job, ttl)
}

// GetJob retrieves job metadata from cache, nil on miss
func (c *Cache) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	var job models.Job
	found, err := c.getJSON(ctx, "job", fmt.Sprintf("job:%s", jobID), &job)
	if err != nil || !found {
		return nil, err
	}
	return &job, nil
}

// DeleteJob removes job from cache
func (c *Cache) DeleteJob(ctx context.Context, jobID string) error {
	return c.client.Del(ctx, fmt.Sprintf("job:%s", jobID)).Err()
}

// Progress is the live state of a running job
type Progress struct {
	Stage     string    `json:"stage"`
	Language  string    `json:"language,omitempty"`
	Progress  float64   `json:"progress"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SetJobProgress caches job progress for quick retrieval
func (c *Cache) SetJobProgress(ctx context.Context, jobID string, progress Progress, ttl time.Duration) error {
	if progress.UpdatedAt.IsZero() {
		progress.UpdatedAt = time.Now().UTC()
	}
	return c.SetWithJSON(ctx, fmt.Sprintf("job:progress:%s", jobID), progress, ttl)
}

// GetJobProgress retrieves job progress from cache, nil on miss
func (c *Cache) GetJobProgress(ctx context.Context, jobID string) (*Progress, error) {
	var progress Progress
	found, err := c.getJSON(ctx, "progress", fmt.Sprintf("job:progress:%s", jobID), &progress)
	if err != nil || !found {
		return nil, err
	}
	return &progress, nil
}

// Cancellation flags

// RequestCancel flags a job for cancellation; workers poll IsCancelled
// between stages
func (c *Cache) RequestCancel(ctx context.Context, jobID string, ttl time.Duration) error {
	return c.client.Set(ctx, fmt.Sprintf("job:cancel:%s", jobID), "1", ttl).Err()
}

// IsCancelled reports whether a cancel was requested for jobID
func (c *Cache) IsCancelled(ctx context.Context, jobID string) (bool, error) {
	return c.Exists(ctx, fmt.Sprintf("job:cancel:%s", jobID))
}

// ClearCancel removes the cancel flag once the job has stopped
func (c *Cache) ClearCancel(ctx context.Context, jobID string) error {
	return c.client.Del(ctx, fmt.Sprintf("job:cancel:%s", jobID)).Err()
}

// Rate Limiting Operations

// CheckRateLimit checks if a rate limit has been exceeded
func (c *Cache) CheckRateLimit(ctx context.Context, key string, limit int64, window time.Duration) (bool, error) {
	rateLimitKey := fmt.Sprintf("ratelimit:%s", key)

	// Increment counter
	count, err := c.client.Incr(ctx, rateLimitKey).Result()
	if err != nil {
		return false, fmt.Errorf("failed to increment rate limit: %w", err)
	}

	// Set expiry on first request
	if count == 1 {
		if err := c.client.Expire(ctx, rateLimitKey, window).Err(); err != nil {
			return false, fmt.Errorf("failed to set expiry: %w", err)
		}
	}

	return count <= limit, nil
}

// Locking Operations for Distributed Systems

// Lock is a held distributed lock
type Lock struct {
	key   string
	token string
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// AcquireLock attempts to acquire a distributed lock. It returns nil
// without error when the lock is held elsewhere.
func (c *Cache) AcquireLock(ctx context.Context, resource string, ttl time.Duration) (*Lock, error) {
	lock := &Lock{key: fmt.Sprintf("lock:%s", resource), token: uuid.New().String()}
	ok, err := c.client.SetNX(ctx, lock.key, lock.token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return lock, nil
}

// ReleaseLock releases a lock if it is still owned by the caller
func (c *Cache) ReleaseLock(ctx context.Context, lock *Lock) error {
	if lock == nil {
		return nil
	}
	n, err := releaseScript.Run(ctx, c.client, []string{lock.key}, lock.token).Int64()
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	if n == 0 {
		return ErrLockNotHeld
	}
	return nil
}

// Exists checks if a key exists
func (c *Cache) Exists(ctx context.Context, key string) (bool, error) {
	result, err := c.client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return result > 0, nil
}

// SetWithJSON sets a value with JSON marshaling
func (c *Cache) SetWithJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	return c.client.Set(ctx, key, data, ttl).Err()
}

// GetWithJSON gets a value with JSON unmarshaling. A miss leaves dest untouched.
func (c *Cache) GetWithJSON(ctx context.Context, key string, dest interface{}) error {
	_, err := c.getJSON(ctx, "generic", key, dest)
	return err
}

func (c *Cache) getJSON(ctx context.Context, cacheType, key string, dest interface{}) (bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			metrics.RecordCacheAccess(cacheType, false)
			return false, nil
		}
		return false, fmt.Errorf("failed to get %s from cache: %w", cacheType, err)
	}
	metrics.RecordCacheAccess(cacheType, true)

	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s: %w", cacheType, err)
	}
	return true, nil
}

// Ping checks the connection
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
