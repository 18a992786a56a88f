package database

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therealutkarshpriyadarshi/globalsound/internal/config"
	"github.com/therealutkarshpriyadarshi/globalsound/pkg/models"
)

func TestStatements(t *testing.T) {
	stmts := Statements()
	require.NotEmpty(t, stmts)

	var tables []string
	for _, stmt := range stmts {
		assert.NotContains(t, stmt, ";")
		if strings.HasPrefix(stmt, "CREATE TABLE") || strings.Contains(stmt, "\nCREATE TABLE") {
			tables = append(tables, stmt)
		}
		assert.Contains(t, stmt, "IF NOT EXISTS", "statement must be idempotent: %s", stmt)
	}
	assert.Len(t, tables, 3)
}

func TestDSN(t *testing.T) {
	dsn := DSN(config.DatabaseConfig{
		Host: "db", Port: 5432, User: "gs", Password: "secret", DBName: "globalsound",
		SSLMode: "disable", MaxConns: 10, MinConns: 2,
	})
	assert.Equal(t, "host=db port=5432 user=gs password=secret dbname=globalsound sslmode=disable pool_max_conns=10 pool_min_conns=2", dsn)
}

// openTestDB connects to GLOBALSOUND_TEST_DATABASE_URL, skipping when unset
func openTestDB(t *testing.T) *DB {
	t.Helper()
	dsn := os.Getenv("GLOBALSOUND_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("Skipping integration test - GLOBALSOUND_TEST_DATABASE_URL not set")
	}

	db, err := Open(dsn)
	require.NoError(t, err)
	t.Cleanup(db.Close)

	require.NoError(t, db.Migrate(context.Background()))
	// migrations are idempotent
	require.NoError(t, db.Migrate(context.Background()))
	return db
}

func TestRepository_JobLifecycle(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepository(db.Pool)
	ctx := context.Background()

	video := &models.Video{Filename: "talk.mp4", StorageKey: "videos/x/source.mp4", Size: 2048, Duration: 90, HasAudio: true}
	require.NoError(t, repo.CreateVideo(ctx, video))
	t.Cleanup(func() { _ = repo.DeleteVideo(context.Background(), video.ID) })

	job := &models.Job{
		VideoID: video.ID,
		Options: models.JobOptions{TargetLanguages: []models.LanguageCode{"es", "xx"}, QuickProcess: true},
	}
	require.NoError(t, repo.CreateJob(ctx, job))
	assert.Equal(t, models.JobStatusPending, job.Status)

	claimed, err := repo.ClaimJob(ctx, job.ID, "worker-1", 0)
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = repo.ClaimJob(ctx, job.ID, "worker-2", 0)
	require.NoError(t, err)
	assert.False(t, claimed, "another worker must not steal a running job")

	require.NoError(t, repo.UpdateJobProgress(ctx, job.ID, "translating", 0.7))

	summary := &models.Summary{
		SourceLanguage: "en",
		Succeeded:      []models.LanguageCode{"es"},
		Failed:         []models.LanguageFailure{{Language: "xx", Stage: "translating", Error: "unsupported language"}},
	}
	finished, err := repo.FinishJob(ctx, job.ID, models.JobStatusPartial, summary, "")
	require.NoError(t, err)
	assert.True(t, finished)

	finished, err = repo.FinishJob(ctx, job.ID, models.JobStatusFailed, nil, "late")
	require.NoError(t, err)
	assert.False(t, finished, "a finished job keeps its first outcome")

	got, err := repo.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPartial, got.Status)
	assert.Equal(t, 1.0, got.Progress)
	assert.True(t, got.Options.QuickProcess)
	require.NotNil(t, got.Summary)
	assert.Equal(t, models.LanguageCode("xx"), got.Summary.Failed[0].Language)
	assert.NotNil(t, got.CompletedAt)

	counts, err := repo.CountJobsByStatus(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, counts[models.JobStatusPartial], int64(1))

	cancelled, err := repo.CancelJob(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, cancelled, "finished jobs cannot be cancelled")

	sub := &models.Subtitle{JobID: job.ID, VideoID: video.ID, Language: "es", Entries: 12, Path: "videos/x/subtitles/j/subtitles_es.srt"}
	require.NoError(t, repo.CreateSubtitle(ctx, sub))
	src := &models.Subtitle{JobID: job.ID, VideoID: video.ID, Language: "en", Entries: 12, IsSource: true, Path: "videos/x/subtitles/j/subtitles_en.srt"}
	require.NoError(t, repo.CreateSubtitle(ctx, src))

	subs, err := repo.GetSubtitlesByJobID(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, subs, 2)
	assert.True(t, subs[0].IsSource)

	_, err = repo.GetSubtitle(ctx, job.ID, "fr")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, repo.DeleteSubtitles(ctx, job.ID))
	subs, err = repo.GetSubtitlesByJobID(ctx, job.ID)
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestRepository_FinishAfterCancel(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepository(db.Pool)
	ctx := context.Background()

	video := &models.Video{Filename: "talk.mp4", StorageKey: "videos/y/source.mp4", HasAudio: true}
	require.NoError(t, repo.CreateVideo(ctx, video))
	t.Cleanup(func() { _ = repo.DeleteVideo(context.Background(), video.ID) })

	job := &models.Job{VideoID: video.ID}
	require.NoError(t, repo.CreateJob(ctx, job))
	claimed, err := repo.ClaimJob(ctx, job.ID, "worker-1", 0)
	require.NoError(t, err)
	require.True(t, claimed)

	cancelled, err := repo.CancelJob(ctx, job.ID)
	require.NoError(t, err)
	require.True(t, cancelled)

	finished, err := repo.FinishJob(ctx, job.ID, models.JobStatusCompleted, &models.Summary{SourceLanguage: "en"}, "")
	require.NoError(t, err)
	assert.False(t, finished)

	got, err := repo.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, got.Status)
	assert.Nil(t, got.Summary)
}

func TestRepository_NotFound(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepository(db.Pool)

	_, err := repo.GetJob(context.Background(), "00000000-0000-0000-0000-000000000000")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = repo.GetVideo(context.Background(), "00000000-0000-0000-0000-000000000000")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRepository_StaleJobs(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepository(db.Pool)
	ctx := context.Background()

	video := &models.Video{Filename: "talk.mp4", StorageKey: "videos/y/source.mp4", HasAudio: true}
	require.NoError(t, repo.CreateVideo(ctx, video))
	t.Cleanup(func() { _ = repo.DeleteVideo(context.Background(), video.ID) })

	job := &models.Job{VideoID: video.ID}
	require.NoError(t, repo.CreateJob(ctx, job))

	future := time.Now().Add(time.Hour)
	stale, err := repo.ListStaleJobs(ctx, future, future, 100)
	require.NoError(t, err)

	var found bool
	for _, j := range stale {
		found = found || j.ID == job.ID
	}
	assert.True(t, found)

	ok, err := repo.RequeueJob(ctx, job.ID, models.JobStatusPending, "never published")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.RequeueJob(ctx, job.ID, models.JobStatusPending, "never published")
	require.NoError(t, err)
	assert.False(t, ok, "status moved on")

	got, err := repo.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, got.Status)
	assert.Equal(t, "never published", got.ErrorMsg)
}
