package recognition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/your-org/visage/internal/gate"
	"github.com/your-org/visage/internal/models"
	"github.com/your-org/visage/internal/queue"
)

// CaptureStore holds uploaded capture bytes until a worker has processed them.
type CaptureStore interface {
	GetCapture(ctx context.Context, key string) ([]byte, error)
	DeleteCapture(ctx context.Context, key string) error
}

// CaptureProcessor runs the recognize workflow for queued captures.
type CaptureProcessor struct {
	svc      *Service
	captures CaptureStore
}

func NewCaptureProcessor(svc *Service, captures CaptureStore) *CaptureProcessor {
	return &CaptureProcessor{svc: svc, captures: captures}
}

// Handle is a queue.CaptureHandler. Domain outcomes (match, no match, no
// usable face) complete the task. Store failures are returned for redelivery
// and anything else is marked permanent. A redelivered task whose photo was
// already committed is acknowledged without running again.
func (p *CaptureProcessor) Handle(ctx context.Context, task models.CaptureTask) error {
	done, err := p.svc.CaptureProcessed(ctx, task.UserID, task.CaptureID)
	if err != nil {
		return fmt.Errorf("check capture %s: %w", task.CaptureID, err)
	}
	if done {
		slog.Info("capture already processed", "capture_id", task.CaptureID, "user", task.UserID)
		p.discard(ctx, task.ObjectKey)
		return nil
	}

	data, err := p.captures.GetCapture(ctx, task.ObjectKey)
	if err != nil {
		return fmt.Errorf("fetch capture %s: %w", task.CaptureID, err)
	}

	req := RecognizeRequest{
		UserID:    task.UserID,
		Filename:  task.Filename,
		Image:     data,
		AddAngle:  task.AddAngle,
		CaptureID: &task.CaptureID,
	}
	if task.Threshold != nil {
		req.Threshold = *task.Threshold
	}

	res, err := p.svc.Recognize(ctx, req)
	switch {
	case err == nil:
		slog.Info("capture processed", "capture_id", task.CaptureID, "user", task.UserID, "outcome", res.Outcome)
	case errors.Is(err, gate.ErrNoUsableFace):
		slog.Info("capture rejected", "capture_id", task.CaptureID, "user", task.UserID, "reason", gate.ReasonOf(err))
	case Retryable(err), errors.Is(err, context.Canceled):
		return fmt.Errorf("recognize capture %s: %w", task.CaptureID, err)
	default:
		err = queue.Permanent(fmt.Errorf("recognize capture %s: %w", task.CaptureID, err))
	}

	p.discard(ctx, task.ObjectKey)
	if queue.IsPermanent(err) {
		return err
	}
	return nil
}

func (p *CaptureProcessor) discard(ctx context.Context, key string) {
	if err := p.captures.DeleteCapture(context.WithoutCancel(ctx), key); err != nil {
		slog.Warn("delete processed capture", "key", key, "error", err)
	}
}
