package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/visage/internal/auth"
	"github.com/your-org/visage/internal/models"
	"github.com/your-org/visage/internal/storage"
	"github.com/your-org/visage/pkg/dto"
)

// CaptureUploader stores capture bytes for the worker to fetch.
type CaptureUploader interface {
	PutCapture(ctx context.Context, key string, data []byte, contentType string) error
	DeleteCapture(ctx context.Context, key string) error
}

// CaptureQueue hands a stored capture to the recognition workers.
type CaptureQueue interface {
	PublishCapture(ctx context.Context, task models.CaptureTask) error
}

type CaptureHandler struct {
	uploader CaptureUploader
	queue    CaptureQueue
}

func NewCaptureHandler(uploader CaptureUploader, queue CaptureQueue) *CaptureHandler {
	return &CaptureHandler{uploader: uploader, queue: queue}
}

// Create accepts an image for asynchronous recognition. The outcome is pushed
// to the user's WebSocket clients.
func (h *CaptureHandler) Create(c *gin.Context) {
	data, filename, err := readImage(c)
	if err != nil {
		writeError(c, err)
		return
	}
	threshold, err := optionalThreshold(c)
	if err != nil {
		writeError(c, err)
		return
	}
	addAngle, err := optionalBool(c, "add_angle")
	if err != nil {
		writeError(c, err)
		return
	}

	ctx := c.Request.Context()
	userID := auth.UserID(c)
	id := uuid.New()
	key := storage.CaptureKey(userID, id, filename)

	if err := h.uploader.PutCapture(ctx, key, data, http.DetectContentType(data)); err != nil {
		slog.Error("store capture", "key", key, "error", err)
		c.JSON(http.StatusServiceUnavailable, dto.ErrorResponse{Error: "capture storage unavailable"})
		return
	}

	task := models.CaptureTask{
		CaptureID:  id,
		UserID:     userID,
		ObjectKey:  key,
		Filename:   filename,
		AddAngle:   addAngle,
		ReceivedAt: time.Now().UTC(),
	}
	if threshold > 0 {
		task.Threshold = &threshold
	}

	if err := h.queue.PublishCapture(ctx, task); err != nil {
		slog.Error("enqueue capture", "capture_id", id, "error", err)
		if err := h.uploader.DeleteCapture(context.WithoutCancel(ctx), key); err != nil {
			slog.Warn("remove orphaned capture", "key", key, "error", err)
		}
		c.JSON(http.StatusServiceUnavailable, dto.ErrorResponse{Error: "capture queue unavailable"})
		return
	}

	c.JSON(http.StatusAccepted, dto.CaptureAcceptedResponse{CaptureID: id, Status: "queued"})
}
