package cmd

import (
	"context"
	"strings"

	"github.com/dukex/orgflow/pkg/config"
	"github.com/dukex/orgflow/pkg/scheduler"
)

// NewTimerStore returns an in-process store for "memory" and a Redis store otherwise.
// The returned close function releases the store's connection.
func NewTimerStore(ctx context.Context, url string) (scheduler.Store, func() error, error) {
	if url == "" || url == config.TimerStoreMemory || strings.HasPrefix(url, "memory://") {
		return scheduler.NewMemoryStore(), func() error { return nil }, nil
	}

	store, err := scheduler.NewRedisStoreFromURL(ctx, url)
	if err != nil {
		return nil, nil, err
	}

	return store, store.Close, nil
}
