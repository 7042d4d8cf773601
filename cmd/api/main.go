package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/your-org/visage/internal/api"
	"github.com/your-org/visage/internal/api/handlers"
	"github.com/your-org/visage/internal/api/ws"
	"github.com/your-org/visage/internal/config"
	"github.com/your-org/visage/internal/gate"
	"github.com/your-org/visage/internal/models"
	"github.com/your-org/visage/internal/observability"
	"github.com/your-org/visage/internal/queue"
	"github.com/your-org/visage/internal/recognition"
	"github.com/your-org/visage/internal/storage"
	"github.com/your-org/visage/internal/vision"
)

// unavailableSource stands in when the ONNX models cannot be loaded. Image
// endpoints fail and /readyz reports why; lookups keep working.
type unavailableSource struct{ err error }

func (s unavailableSource) Detect(context.Context, image.Image) ([]models.RawDetection, error) {
	return nil, s.err
}

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting visage API service", "port", cfg.Server.Port, "db", cfg.Database.Driver)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.Open(ctx, cfg.Database)
	if err != nil {
		slog.Error("open identity store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	checks := map[string]handlers.Check{"store": store.Ping}

	// Face detection and embedding
	var source gate.Source
	if err := vision.InitRuntime(cfg.Vision.LibraryPath); err != nil {
		slog.Warn("onnx runtime init failed, image endpoints unavailable", "error", err)
		source = unavailableSource{err: err}
	} else {
		defer vision.DestroyRuntime()
		src, err := vision.NewSource(cfg.Vision, cfg.Recognition.EmbeddingDim)
		if err != nil {
			slog.Warn("load vision models failed, image endpoints unavailable", "error", err)
			source = unavailableSource{err: err}
		} else {
			defer src.Close()
			source = src
		}
	}
	if us, ok := source.(unavailableSource); ok {
		checks["vision"] = func(context.Context) error { return us.err }
	}

	svc := recognition.NewService(store, source,
		gate.New(recognition.GateConfigFrom(cfg.Recognition)),
		recognition.ConfigFrom(cfg.Recognition))

	hub := ws.NewHub()
	go hub.Run()

	routerCfg := api.RouterConfig{
		APIKey:  cfg.Server.APIKey,
		Service: svc,
		Hub:     hub,
		Checks:  checks,
	}

	if cfg.NATS.URL == "" {
		// Single process: events go straight to WebSocket clients.
		svc.WithPublisher(hub)
	} else {
		producer, err := queue.NewProducer(cfg.NATS.URL)
		if err != nil {
			slog.Error("connect to nats", "error", err)
			os.Exit(1)
		}
		defer producer.Close()

		if err := producer.EnsureStreams(ctx); err != nil {
			slog.Warn("ensure nats streams", "error", err)
		}
		svc.WithPublisher(producer)
		routerCfg.Queue = producer
		checks["nats"] = func(context.Context) error { return producer.Ping() }

		// Broadcast every user's events, whichever process produced them.
		consumer, err := queue.NewConsumer(cfg.NATS.URL)
		if err != nil {
			slog.Error("create event consumer", "error", err)
			os.Exit(1)
		}
		defer consumer.Close()

		err = consumer.ConsumeEvents(ctx, "api-events", func(_ context.Context, ev models.RecognitionEvent) error {
			hub.BroadcastEvent(ev)
			return nil
		})
		if err != nil {
			slog.Warn("start event consumer", "error", err)
		}
	}

	if cfg.MinIO.Endpoint != "" {
		captures, err := storage.NewCaptureStore(cfg.MinIO)
		if err != nil {
			slog.Error("connect to minio", "error", err)
			os.Exit(1)
		}
		if err := captures.EnsureBucket(ctx); err != nil {
			slog.Warn("ensure minio bucket", "error", err)
		}
		routerCfg.Uploader = captures
		checks["minio"] = captures.Ping
	}

	router := api.NewRouter(routerCfg)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("API server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down API server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("API server stopped")
}
