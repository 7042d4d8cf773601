package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/your-org/visage/internal/config"
	"github.com/your-org/visage/internal/gate"
	"github.com/your-org/visage/internal/identity"
	"github.com/your-org/visage/internal/observability"
	"github.com/your-org/visage/internal/recognition"
	"github.com/your-org/visage/internal/storage"
	"github.com/your-org/visage/internal/vision"
)

var (
	configPath string
	userID     string
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "visagectl",
	Short: "Manage a visage face gallery",
	Long: `visagectl talks directly to the visage identity store. It enrolls people
from image files, recognizes faces, looks people up by name and calibrates
the match threshold against the enrolled gallery.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath, "path to config file")
	rootCmd.PersistentFlags().StringVar(&userID, "user", os.Getenv("VISAGE_USER"), "user whose gallery to operate on (default $VISAGE_USER)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")
}

// app is what a command needs to run: config, store and the recognition service.
type app struct {
	cfg   *config.Config
	store identity.Store
	svc   *recognition.Service

	closers []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// openApp loads config and opens the store. withVision also loads the ONNX
// models; without it the service can only serve lookups.
func openApp(ctx context.Context, withVision bool) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	observability.SetupLogger(cfg.Logging.Level, "text")

	a := &app{cfg: cfg}
	a.store, err = storage.Open(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.closers = append(a.closers, a.store.Close)

	var source gate.Source
	if withVision {
		if err := vision.InitRuntime(cfg.Vision.LibraryPath); err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, vision.DestroyRuntime)

		src, err := vision.NewSource(cfg.Vision, cfg.Recognition.EmbeddingDim)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("load vision models: %w", err)
		}
		a.closers = append(a.closers, src.Close)
		source = src
	}

	a.svc = recognition.NewService(a.store, source,
		gate.New(recognition.GateConfigFrom(cfg.Recognition)),
		recognition.ConfigFrom(cfg.Recognition))
	return a, nil
}

func requireUser() error {
	if userID == "" {
		return fmt.Errorf("--user is required (or set VISAGE_USER)")
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
