package upload

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/therealutkarshpriyadarshi/globalsound/internal/logging"
)

const (
	DefaultPartSize   = 8 * 1024 * 1024
	MaxPartSize       = 100 * 1024 * 1024
	DefaultExpiration = 24 * time.Hour
)

// Session status values
const (
	StatusActive    = "active"
	StatusCompleted = "completed"
)

var (
	ErrNotFound    = errors.New("upload not found")
	ErrNotActive   = errors.New("upload is not active")
	ErrExpired     = errors.New("upload has expired")
	ErrInvalidPart = errors.New("invalid part")
	ErrIncomplete  = errors.New("upload is incomplete")
	ErrTooLarge    = errors.New("upload exceeds the size limit")
)

// Session is one chunked video upload
type Session struct {
	ID          string     `json:"id"`
	Filename    string     `json:"filename"`
	TotalSize   int64      `json:"total_size"`
	PartSize    int64      `json:"part_size"`
	TotalParts  int        `json:"total_parts"`
	Parts       []Part     `json:"parts"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Part is one received chunk
type Part struct {
	Number     int       `json:"part_number"`
	Size       int64     `json:"size"`
	ETag       string    `json:"etag"`
	UploadedAt time.Time `json:"uploaded_at"`
}

type session struct {
	mu sync.Mutex
	Session
	parts map[int]Part
}

func (s *session) snapshot() *Session {
	out := s.Session
	out.Parts = make([]Part, 0, len(s.parts))
	for _, p := range s.parts {
		out.Parts = append(out.Parts, p)
	}
	sort.Slice(out.Parts, func(i, j int) bool { return out.Parts[i].Number < out.Parts[j].Number })
	return &out
}

// Service stages chunked uploads on local disk until they are assembled
type Service struct {
	mu       sync.RWMutex
	sessions map[string]*session
	dir      string
	partSize int64
	maxSize  int64
	ttl      time.Duration
	logger   *logging.Logger
	now      func() time.Time
}

// NewService creates an upload service rooted at tempDir/uploads. maxSize
// of zero leaves the total size unbounded.
func NewService(tempDir string, partSize, maxSize int64, logger *logging.Logger) *Service {
	if partSize <= 0 {
		partSize = DefaultPartSize
	}
	if partSize > MaxPartSize {
		partSize = MaxPartSize
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Service{
		sessions: make(map[string]*session),
		dir:      filepath.Join(tempDir, "uploads"),
		partSize: partSize,
		maxSize:  maxSize,
		ttl:      DefaultExpiration,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *Service) sessionDir(id string) string {
	return filepath.Join(s.dir, id)
}

// Initiate opens a session for a file of totalSize bytes
func (s *Service) Initiate(filename string, totalSize int64) (*Session, error) {
	if totalSize <= 0 {
		return nil, fmt.Errorf("%w: total size must be positive", ErrInvalidPart)
	}
	if s.maxSize > 0 && totalSize > s.maxSize {
		return nil, ErrTooLarge
	}

	now := s.now()
	sess := &session{
		Session: Session{
			ID:         uuid.New().String(),
			Filename:   filepath.Base(filename),
			TotalSize:  totalSize,
			PartSize:   s.partSize,
			TotalParts: int((totalSize + s.partSize - 1) / s.partSize),
			Status:     StatusActive,
			CreatedAt:  now,
			ExpiresAt:  now.Add(s.ttl),
		},
		parts: make(map[int]Part),
	}

	if err := os.MkdirAll(s.sessionDir(sess.ID), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	s.logger.WithField("upload_id", sess.ID).WithField("total_parts", sess.TotalParts).Info("Initiated chunked upload")
	return sess.snapshot(), nil
}

func (s *Service) lookup(id string) (*session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return sess, nil
}

// expectedSize is the byte length part n must have
func (sess *session) expectedSize(n int) int64 {
	if n == sess.TotalParts {
		return sess.TotalSize - int64(n-1)*sess.PartSize
	}
	return sess.PartSize
}

// UploadPart stores part n. Re-sending a part replaces it.
func (s *Service) UploadPart(id string, n int, data io.Reader) (*Part, error) {
	sess, err := s.lookup(id)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.Status != StatusActive {
		return nil, ErrNotActive
	}
	if s.now().After(sess.ExpiresAt) {
		return nil, ErrExpired
	}
	if n < 1 || n > sess.TotalParts {
		return nil, fmt.Errorf("%w: part number %d out of range 1-%d", ErrInvalidPart, n, sess.TotalParts)
	}

	want := sess.expectedSize(n)
	partPath := filepath.Join(s.sessionDir(id), fmt.Sprintf("part_%d", n))
	file, err := os.Create(partPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create part file: %w", err)
	}
	defer file.Close()

	hash := md5.New()
	size, err := io.Copy(io.MultiWriter(file, hash), io.LimitReader(data, want+1))
	if err != nil {
		return nil, fmt.Errorf("failed to write part: %w", err)
	}
	if size != want {
		os.Remove(partPath)
		return nil, fmt.Errorf("%w: part %d has %d bytes, want %d", ErrInvalidPart, n, size, want)
	}

	part := Part{Number: n, Size: size, ETag: hex.EncodeToString(hash.Sum(nil)), UploadedAt: s.now()}
	sess.parts[n] = part
	return &part, nil
}

// Get returns the current state of a session
func (s *Service) Get(id string) (*Session, error) {
	sess, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.snapshot(), nil
}

// Complete concatenates all parts and returns the assembled file path.
// The caller owns the file and must call Release when done with it.
func (s *Service) Complete(id string) (*Session, string, error) {
	sess, err := s.lookup(id)
	if err != nil {
		return nil, "", err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.Status != StatusActive {
		return nil, "", ErrNotActive
	}
	var missing []int
	for i := 1; i <= sess.TotalParts; i++ {
		if _, ok := sess.parts[i]; !ok {
			missing = append(missing, i)
		}
	}
	if len(missing) > 0 {
		return nil, "", fmt.Errorf("%w: missing parts %v", ErrIncomplete, missing)
	}

	dir := s.sessionDir(id)
	finalPath := filepath.Join(dir, "assembled"+filepath.Ext(sess.Filename))
	if err := concatParts(dir, sess.TotalParts, finalPath); err != nil {
		return nil, "", err
	}

	now := s.now()
	sess.Status = StatusCompleted
	sess.CompletedAt = &now

	s.logger.WithField("upload_id", id).Info("Completed chunked upload")
	return sess.snapshot(), finalPath, nil
}

func concatParts(dir string, parts int, dest string) error {
	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create final file: %w", err)
	}
	defer out.Close()

	for i := 1; i <= parts; i++ {
		partPath := filepath.Join(dir, fmt.Sprintf("part_%d", i))
		in, err := os.Open(partPath)
		if err != nil {
			return fmt.Errorf("failed to open part %d: %w", i, err)
		}
		_, err = io.Copy(out, in)
		in.Close()
		if err != nil {
			return fmt.Errorf("failed to copy part %d: %w", i, err)
		}
		os.Remove(partPath)
	}
	return out.Sync()
}

// Release forgets a session and deletes its files
func (s *Service) Release(id string) error {
	s.mu.Lock()
	_, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if !ok {
		return ErrNotFound
	}
	if err := os.RemoveAll(s.sessionDir(id)); err != nil {
		s.logger.WithField("upload_id", id).WithError(err).Warn("Failed to remove upload directory")
	}
	return nil
}

// CleanupExpired releases expired sessions every interval until ctx is done
func (s *Service) CleanupExpired(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.cleanupExpired()
		}
	}
}

func (s *Service) cleanupExpired() int {
	now := s.now()

	s.mu.RLock()
	var expired []string
	for id, sess := range s.sessions {
		sess.mu.Lock()
		if sess.Status == StatusActive && now.After(sess.ExpiresAt) {
			expired = append(expired, id)
		}
		sess.mu.Unlock()
	}
	s.mu.RUnlock()

	for _, id := range expired {
		_ = s.Release(id)
		s.logger.WithField("upload_id", id).Info("Cleaned up expired upload")
	}
	return len(expired)
}
