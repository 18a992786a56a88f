package main

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/therealutkarshpriyadarshi/globalsound/internal/cache"
	"github.com/therealutkarshpriyadarshi/globalsound/pkg/models"
)

func withMetadataCache(t *testing.T, ta *testAPI) *cache.Cache {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := cache.NewCache(mr.Host(), mr.Server().Addr().Port, "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	ta.api.meta = c
	ta.api.metaTTL = time.Minute
	return c
}

func TestGetVideo_ReadThroughCache(t *testing.T) {
	ta := newTestAPI(t, routerConfig{})
	withMetadataCache(t, ta)
	ta.repo.On("GetVideo", mock.Anything, "v1").Return(&models.Video{ID: "v1", Filename: "talk.mp4", HasAudio: true}, nil)

	for i := 0; i < 3; i++ {
		w := ta.do("GET", "/api/v1/videos/v1", nil, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "talk.mp4", decode(t, w)["filename"])
	}
	ta.repo.AssertNumberOfCalls(t, "GetVideo", 1)
}

func TestGetJob_CachesOnlyFinishedJobs(t *testing.T) {
	ta := newTestAPI(t, routerConfig{})
	c := withMetadataCache(t, ta)
	ta.repo.On("GetJob", mock.Anything, "running").Return(&models.Job{ID: "running", Status: models.JobStatusProcessing}, nil)
	ta.repo.On("GetJob", mock.Anything, "done").Return(&models.Job{ID: "done", Status: models.JobStatusCompleted}, nil)
	ta.progress.On("GetJobProgress", mock.Anything, "running").Return(nil, nil)

	for i := 0; i < 2; i++ {
		require.Equal(t, http.StatusOK, ta.do("GET", "/api/v1/jobs/running", nil, nil).Code)
		require.Equal(t, http.StatusOK, ta.do("GET", "/api/v1/jobs/done", nil, nil).Code)
	}

	ctx := context.Background()
	cached, err := c.GetJob(ctx, "running")
	require.NoError(t, err)
	assert.Nil(t, cached)

	cached, err = c.GetJob(ctx, "done")
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, models.JobStatusCompleted, cached.Status)

	calls := map[string]int{}
	for _, call := range ta.repo.Calls {
		if call.Method == "GetJob" {
			calls[call.Arguments.String(1)]++
		}
	}
	assert.Equal(t, 2, calls["running"])
	assert.Equal(t, 1, calls["done"])
}

func TestDeleteVideo_EvictsCache(t *testing.T) {
	ta := newTestAPI(t, routerConfig{})
	c := withMetadataCache(t, ta)
	ctx := context.Background()

	require.NoError(t, c.SetVideo(ctx, &models.Video{ID: "v1"}, time.Minute))
	require.NoError(t, c.SetJob(ctx, &models.Job{ID: "j1", VideoID: "v1", Status: models.JobStatusCompleted}, time.Minute))

	ta.repo.On("GetVideo", mock.Anything, "v1").Return(&models.Video{ID: "v1"}, nil)
	ta.repo.On("GetJobsByVideoID", mock.Anything, "v1").Return([]*models.Job{{ID: "j1"}}, nil)
	ta.storage.On("DeletePrefix", mock.Anything, "videos/v1/").Return(nil)
	ta.repo.On("DeleteVideo", mock.Anything, "v1").Return(nil)

	w := ta.do("DELETE", "/api/v1/videos/v1", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	video, err := c.GetVideo(ctx, "v1")
	require.NoError(t, err)
	assert.Nil(t, video)

	job, err := c.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Nil(t, job)
	ta.assertExpectations(t)
}
