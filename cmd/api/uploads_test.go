package main

import (
	"net/http"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/therealutkarshpriyadarshi/globalsound/internal/media"
	"github.com/therealutkarshpriyadarshi/globalsound/internal/upload"
	"github.com/therealutkarshpriyadarshi/globalsound/pkg/models"
)

func newUploadAPI(t *testing.T) *testAPI {
	t.Helper()
	ta := newTestAPI(t, routerConfig{})
	ta.api.uploads = upload.NewService(ta.api.tempDir, 4, 1024, nil)
	ta.router = setupRouter(ta.api, routerConfig{})
	return ta
}

func TestChunkedUpload_Flow(t *testing.T) {
	ta := newUploadAPI(t)
	ta.api.prober = stubProber{meta: &media.Metadata{
		Format:  media.FormatInfo{Duration: "3"},
		Streams: []media.StreamInfo{{CodecType: "audio", CodecName: "opus"}},
	}}

	w := ta.do("POST", "/api/v1/uploads", jsonBody(t, map[string]interface{}{"filename": "talk.webm", "total_size": 6}), nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	sess := decode(t, w)
	id := sess["id"].(string)
	assert.Equal(t, 2.0, sess["total_parts"])

	w = ta.do("PUT", "/api/v1/uploads/"+id+"/parts/2", strings.NewReader("ef"), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = ta.do("POST", "/api/v1/uploads/"+id+"/complete", nil, nil)
	assert.Equal(t, http.StatusConflict, w.Code, "part 1 is still missing")

	w = ta.do("PUT", "/api/v1/uploads/"+id+"/parts/1", strings.NewReader("abcd"), nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = ta.do("GET", "/api/v1/uploads/"+id, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["parts"], 2)

	ta.storage.On("UploadFile", mock.Anything, "videos/"+id+"/source.webm", mock.MatchedBy(func(path string) bool {
		data, err := os.ReadFile(path)
		return err == nil && string(data) == "abcdef"
	})).Return(nil)
	ta.repo.On("CreateVideo", mock.Anything, mock.MatchedBy(func(v *models.Video) bool {
		return v.ID == id && v.Size == 6 && v.HasAudio && v.Filename == "talk.webm"
	})).Return(nil)

	w = ta.do("POST", "/api/v1/uploads/"+id+"/complete", nil, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "opus", decode(t, w)["audio_codec"])

	w = ta.do("GET", "/api/v1/uploads/"+id, nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code, "completed sessions are released")
	ta.assertExpectations(t)
}

func TestChunkedUpload_Errors(t *testing.T) {
	ta := newUploadAPI(t)

	w := ta.do("POST", "/api/v1/uploads", jsonBody(t, map[string]interface{}{"filename": "big.mp4", "total_size": 4096}), nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	w = ta.do("POST", "/api/v1/uploads", jsonBody(t, map[string]interface{}{"filename": "x.mp4"}), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ta.do("PUT", "/api/v1/uploads/nope/parts/1", strings.NewReader("abcd"), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ta.do("POST", "/api/v1/uploads", jsonBody(t, map[string]interface{}{"filename": "x.mp4", "total_size": 4}), nil)
	require.Equal(t, http.StatusCreated, w.Code)
	id := decode(t, w)["id"].(string)

	w = ta.do("PUT", "/api/v1/uploads/"+id+"/parts/one", strings.NewReader("abcd"), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ta.do("PUT", "/api/v1/uploads/"+id+"/parts/1", strings.NewReader("ab"), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ta.do("DELETE", "/api/v1/uploads/"+id, nil, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = ta.do("DELETE", "/api/v1/uploads/"+id, nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	ta.assertExpectations(t)
}

func TestChunkedUpload_RoutesNeedService(t *testing.T) {
	ta := newTestAPI(t, routerConfig{})
	w := ta.do("POST", "/api/v1/uploads", jsonBody(t, map[string]interface{}{"filename": "x.mp4", "total_size": 4}), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
