package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therealutkarshpriyadarshi/globalsound/internal/config"
	"github.com/therealutkarshpriyadarshi/globalsound/pkg/models"
)

func testJob(url string) *models.Job {
	return &models.Job{
		ID:      "job-1",
		VideoID: "video-1",
		Options: models.JobOptions{CallbackURL: url},
	}
}

func TestNotifyJobFinished(t *testing.T) {
	var (
		body    []byte
		headers http.Header
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		headers = r.Header.Clone()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := NewNotifier(config.WebhookConfig{Secret: "test-secret", MaxAttempts: 1}, nil)
	summary := &models.Summary{SourceLanguage: "en", Succeeded: []models.LanguageCode{"es"}}

	err := n.NotifyJobFinished(context.Background(), testJob(server.URL), models.JobStatusCompleted, summary, "")
	require.NoError(t, err)

	var event Event
	require.NoError(t, json.Unmarshal(body, &event))
	assert.Equal(t, EventJobCompleted, event.Event)
	assert.Equal(t, "job-1", event.JobID)
	assert.Equal(t, "video-1", event.VideoID)
	require.NotNil(t, event.Summary)
	assert.Equal(t, models.LanguageCode("en"), event.Summary.SourceLanguage)

	assert.Equal(t, EventJobCompleted, headers.Get(HeaderEvent))
	assert.NotEmpty(t, headers.Get(HeaderDelivery))
	assert.True(t, Verify(body, "test-secret", headers.Get(HeaderSignature)))
}

func TestNotifyJobFinished_NoCallback(t *testing.T) {
	n := NewNotifier(config.WebhookConfig{}, nil)
	assert.NoError(t, n.NotifyJobFinished(context.Background(), testJob(""), models.JobStatusFailed, nil, "boom"))
}

func TestNotifyJobFinished_Retries(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	n := NewNotifier(config.WebhookConfig{MaxAttempts: 3, RetryDelay: time.Millisecond}, nil)
	err := n.NotifyJobFinished(context.Background(), testJob(server.URL), models.JobStatusPartial, nil, "")
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestNotifyJobFinished_GivesUp(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer server.Close()

	n := NewNotifier(config.WebhookConfig{MaxAttempts: 2, RetryDelay: time.Millisecond}, nil)
	err := n.NotifyJobFinished(context.Background(), testJob(server.URL), models.JobStatusFailed, nil, "boom")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 attempts")
	assert.Contains(t, err.Error(), "nope")
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestNotifyJobFinished_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	n := NewNotifier(config.WebhookConfig{MaxAttempts: 5, RetryDelay: time.Hour}, nil)

	done := make(chan error, 1)
	go func() {
		done <- n.NotifyJobFinished(ctx, testJob(server.URL), models.JobStatusFailed, nil, "")
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("notifier did not stop on cancel")
	}
}

func TestEventForStatus(t *testing.T) {
	assert.Equal(t, EventJobCompleted, EventForStatus(models.JobStatusCompleted))
	assert.Equal(t, EventJobPartial, EventForStatus(models.JobStatusPartial))
	assert.Equal(t, EventJobCancelled, EventForStatus(models.JobStatusCancelled))
	assert.Equal(t, EventJobFailed, EventForStatus(models.JobStatusFailed))
}

func TestSignature(t *testing.T) {
	payload := []byte(`{"event":"test"}`)

	signature := Sign(payload, "test-secret")
	assert.Contains(t, signature, "sha256=")
	assert.True(t, Verify(payload, "test-secret", signature))
	assert.False(t, Verify(payload, "other", signature))
}
