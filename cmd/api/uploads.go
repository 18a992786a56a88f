package main

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/therealutkarshpriyadarshi/globalsound/internal/upload"
)

type initiateUploadRequest struct {
	Filename  string `json:"filename" binding:"required"`
	TotalSize int64  `json:"total_size" binding:"required,gt=0"`
}

// Initiate chunked upload endpoint
func (api *API) initiateUpload(c *gin.Context) {
	var req initiateUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sess, err := api.uploads.Initiate(req.Filename, req.TotalSize)
	if err != nil {
		api.uploadError(c, err)
		return
	}

	c.JSON(http.StatusCreated, sess)
}

// Upload one chunk endpoint; the request body is the raw chunk
func (api *API) uploadPart(c *gin.Context) {
	n, err := strconv.Atoi(c.Param("part"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid part number"})
		return
	}

	part, err := api.uploads.UploadPart(c.Param("uploadId"), n, c.Request.Body)
	if err != nil {
		api.uploadError(c, err)
		return
	}

	c.JSON(http.StatusOK, part)
}

// Chunked upload status endpoint
func (api *API) getUpload(c *gin.Context) {
	sess, err := api.uploads.Get(c.Param("uploadId"))
	if err != nil {
		api.uploadError(c, err)
		return
	}

	c.JSON(http.StatusOK, sess)
}

// Complete chunked upload endpoint; assembles the parts into a video
func (api *API) completeUpload(c *gin.Context) {
	id := c.Param("uploadId")

	sess, path, err := api.uploads.Complete(id)
	if err != nil {
		api.uploadError(c, err)
		return
	}
	defer func() {
		if err := api.uploads.Release(id); err != nil {
			api.logger.WithField("upload_id", id).WithError(err).Warn("Failed to release upload")
		}
	}()

	api.ingestVideo(c, id, sess.Filename, path, sess.TotalSize)
}

// Abort chunked upload endpoint
func (api *API) abortUpload(c *gin.Context) {
	if err := api.uploads.Release(c.Param("uploadId")); err != nil {
		api.uploadError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (api *API) uploadError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, upload.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, upload.ErrTooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
	case errors.Is(err, upload.ErrNotActive), errors.Is(err, upload.ErrExpired), errors.Is(err, upload.ErrIncomplete):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, upload.ErrInvalidPart):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
