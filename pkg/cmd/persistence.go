package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/orgflow/pkg/persistence"
	"github.com/dukex/orgflow/pkg/persistence/file"
	"github.com/dukex/orgflow/pkg/persistence/memory"
	"github.com/dukex/orgflow/pkg/persistence/postgresql"
)

// NewPersistence opens the store named by databaseURL's scheme:
// file://<dir>, memory:// or postgres://.
func NewPersistence(ctx context.Context, databaseURL string, logger *slog.Logger) (persistence.Persistence, error) {
	provider, rest, found := strings.Cut(databaseURL, "://")
	if !found {
		return nil, fmt.Errorf("database url %q has no scheme", databaseURL)
	}

	switch provider {
	case "file":
		if rest == "" {
			return nil, fmt.Errorf("database url %q has no directory", databaseURL)
		}

		return file.NewPersistence(rest), nil
	case "memory":
		return memory.NewPersistence(), nil
	case "postgres", "postgresql":
		return postgresql.NewPersistence(ctx, logger, databaseURL)
	default:
		return nil, fmt.Errorf("unsupported persistence provider: %s", provider)
	}
}
