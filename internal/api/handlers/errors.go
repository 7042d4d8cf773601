package handlers

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/your-org/visage/internal/enroll"
	"github.com/your-org/visage/internal/gate"
	"github.com/your-org/visage/internal/recognition"
	"github.com/your-org/visage/internal/storage"
	"github.com/your-org/visage/pkg/dto"
)

var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

// writeError maps workflow errors to status codes. Unexpected errors are
// logged and hidden from the client.
func writeError(c *gin.Context, err error) {
	var (
		re *gate.RejectionError
		te *enroll.TransactionError
	)
	switch {
	case errors.As(err, &re):
		c.JSON(http.StatusUnprocessableEntity, dto.ErrorResponse{
			Error:    "no usable face",
			Reason:   string(re.Reason),
			Detected: re.Detected,
		})
	case errors.Is(err, errBadRequest),
		errors.Is(err, gate.ErrInvalidImage),
		errors.Is(err, recognition.ErrNameRequired):
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
	case errors.Is(err, recognition.ErrPersonNotFound):
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "person not found"})
	case errors.As(err, &te):
		slog.Error("enrollment failed", "path", c.FullPath(), "op", te.Op,
			"retryable", recognition.Retryable(err), "error", err)
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "enrollment failed"})
	case recognition.Retryable(err):
		slog.Error("request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusServiceUnavailable, dto.ErrorResponse{Error: "store unavailable"})
	default:
		slog.Error("request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "internal error"})
	}
}

// readImage returns the "image" multipart file, bounded by storage.MaxCaptureBytes.
func readImage(c *gin.Context) ([]byte, string, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, storage.MaxCaptureBytes+1<<20)

	file, header, err := c.Request.FormFile("image")
	if err != nil {
		return nil, "", badRequest("image file required")
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, storage.MaxCaptureBytes+1))
	if err != nil {
		return nil, "", badRequest("read image: %v", err)
	}
	if len(data) > storage.MaxCaptureBytes {
		return nil, "", badRequest("image larger than %d bytes", storage.MaxCaptureBytes)
	}
	return data, header.Filename, nil
}

// optionalThreshold parses the "threshold" form value; absent means 0.
func optionalThreshold(c *gin.Context) (float64, error) {
	v := c.PostForm("threshold")
	if v == "" {
		return 0, nil
	}
	t, err := strconv.ParseFloat(v, 64)
	if err != nil || t <= 0 || t > 2 {
		return 0, badRequest("threshold must be a number in (0, 2]")
	}
	return t, nil
}

func optionalBool(c *gin.Context, key string) (bool, error) {
	v := c.PostForm(key)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, badRequest("%s must be a boolean", key)
	}
	return b, nil
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	v := c.Query(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, badRequest("%s must be a non-negative integer", key)
	}
	return n, nil
}
