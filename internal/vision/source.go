// Package vision is the ONNX Runtime embedding source: RetinaFace detection
// followed by ArcFace embedding of every detected face.
package vision

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/visage/internal/config"
	"github.com/your-org/visage/internal/models"
	"github.com/your-org/visage/internal/observability"
)

// InitRuntime loads the onnxruntime shared library. libPath "" picks the
// platform default name. Call DestroyRuntime on shutdown.
func InitRuntime(libPath string) error {
	if libPath == "" {
		libPath = defaultLibraryPath()
	}
	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("init onnxruntime (%s): %w", libPath, err)
	}
	return nil
}

func DestroyRuntime() {
	if err := ort.DestroyEnvironment(); err != nil {
		slog.Warn("destroy onnxruntime", "error", err)
	}
}

func defaultLibraryPath() string {
	switch runtime.GOOS {
	case "linux":
		return "libonnxruntime.so"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "onnxruntime.dll"
	}
}

// Source implements gate.Source. The ONNX sessions share bound tensors, so
// calls are serialized.
type Source struct {
	mu       sync.Mutex
	detector *retinaFace
	embedder *arcFace
}

// NewSource loads both models from cfg.ModelsDir. dim is the embedding length
// the recognition model produces.
func NewSource(cfg config.VisionConfig, dim int) (*Source, error) {
	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("session options: %w", err)
	}
	defer opts.Destroy()
	if cfg.IntraOpThreads > 0 {
		if err := opts.SetIntraOpNumThreads(cfg.IntraOpThreads); err != nil {
			return nil, fmt.Errorf("set intra-op threads: %w", err)
		}
	}

	detPath := filepath.Join(cfg.ModelsDir, cfg.DetectorModel)
	embPath := filepath.Join(cfg.ModelsDir, cfg.EmbedderModel)

	slog.Info("loading detection model", "path", detPath)
	det, err := newRetinaFace(detPath, float32(cfg.DetectionThreshold), opts)
	if err != nil {
		return nil, fmt.Errorf("load detector: %w", err)
	}

	slog.Info("loading embedding model", "path", embPath)
	emb, err := newArcFace(embPath, dim, opts)
	if err != nil {
		det.Close()
		return nil, fmt.Errorf("load embedder: %w", err)
	}

	slog.Info("embedding source ready", "dim", dim)
	return &Source{detector: det, embedder: emb}, nil
}

// Detect finds faces in img and embeds each one. Boxes are in img pixels.
func (s *Source) Detect(ctx context.Context, img image.Image) ([]models.RawDetection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	start := time.Now()
	input := toCHW(img, s.detector.size, detMean, detStd)
	observability.InferenceDuration.WithLabelValues("preprocess").Observe(time.Since(start).Seconds())

	start = time.Now()
	cands, err := s.detector.run(input, bounds.Dx(), bounds.Dy())
	if err != nil {
		return nil, err
	}
	observability.InferenceDuration.WithLabelValues("detect").Observe(time.Since(start).Seconds())
	observability.FacesDetected.Add(float64(len(cands)))

	out := make([]models.RawDetection, 0, len(cands))
	for _, c := range cands {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		region := faceRegion(c, bounds)
		if region.Empty() {
			continue
		}

		start = time.Now()
		vec, err := s.embedder.extract(toCHW(subImage(img, region), s.embedder.size, embMean, embStd))
		if err != nil {
			slog.Warn("embed face", "error", err)
			continue
		}
		observability.InferenceDuration.WithLabelValues("embed").Observe(time.Since(start).Seconds())

		out = append(out, models.RawDetection{
			Box: models.Box{
				X: int(c.x1),
				Y: int(c.y1),
				W: int(c.x2 - c.x1),
				H: int(c.y2 - c.y1),
			},
			Confidence: c.score,
			Vector:     vec,
		})
	}
	return out, nil
}

// Close releases both ONNX sessions.
func (s *Source) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detector.Close()
	s.embedder.Close()
}
