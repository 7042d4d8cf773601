package storage

import (
	"context"
	"fmt"

	"github.com/your-org/visage/internal/config"
	"github.com/your-org/visage/internal/identity"
)

// Open connects to the configured identity store and applies pending migrations.
func Open(ctx context.Context, cfg config.DatabaseConfig) (identity.Store, error) {
	switch cfg.Driver {
	case "sqlite":
		return OpenSQLite(ctx, cfg.Path)
	case "postgres", "":
		s, err := NewPostgresStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			s.Close()
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}
