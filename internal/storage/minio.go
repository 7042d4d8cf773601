package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/your-org/visage/internal/config"
)

// MaxCaptureBytes bounds a single uploaded image.
const MaxCaptureBytes = 10 << 20

// CaptureStore keeps uploaded images in MinIO until a worker has processed them.
type CaptureStore struct {
	client *minio.Client
	bucket string
}

func NewCaptureStore(cfg config.MinIOConfig) (*CaptureStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	return &CaptureStore{
		client: client,
		bucket: cfg.Bucket,
	}, nil
}

// EnsureBucket creates the bucket if it doesn't exist.
func (s *CaptureStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
	}
	return nil
}

// CaptureKey is the object key of a capture: captures/<user>/<id><ext>.
func CaptureKey(userID string, id uuid.UUID, filename string) string {
	return path.Join("captures", userID, id.String()+path.Ext(filename))
}

// PutCapture uploads image bytes under key.
func (s *CaptureStore) PutCapture(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("put capture %s: %w", key, err)
	}
	return nil
}

// GetCapture reads a capture back, refusing objects larger than MaxCaptureBytes.
func (s *CaptureStore) GetCapture(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get capture %s: %w", key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(io.LimitReader(obj, MaxCaptureBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read capture %s: %w", key, err)
	}
	if len(data) > MaxCaptureBytes {
		return nil, fmt.Errorf("capture %s exceeds %d bytes", key, MaxCaptureBytes)
	}
	return data, nil
}

func (s *CaptureStore) DeleteCapture(ctx context.Context, key string) error {
	return s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
}

// Ping checks MinIO connectivity.
func (s *CaptureStore) Ping(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.bucket)
	return err
}
