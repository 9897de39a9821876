package cmd_test

import (
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/dukex/orgflow/pkg/channels/kafka"
	"github.com/dukex/orgflow/pkg/cmd"
	"github.com/dukex/orgflow/pkg/persistence/file"
	"github.com/dukex/orgflow/pkg/persistence/memory"
	"github.com/dukex/orgflow/pkg/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPersistence(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")

	p, err := cmd.NewPersistence(t.Context(), "file://"+dir, slog.Default())
	require.NoError(t, err)
	assert.IsType(t, &file.Persistence{}, p)

	p, err = cmd.NewPersistence(t.Context(), "memory://", slog.Default())
	require.NoError(t, err)
	assert.IsType(t, &memory.Persistence{}, p)

	_, err = cmd.NewPersistence(t.Context(), "mongodb://localhost", slog.Default())
	require.ErrorContains(t, err, "unsupported persistence provider")

	_, err = cmd.NewPersistence(t.Context(), "./data", slog.Default())
	require.ErrorContains(t, err, "no scheme")

	_, err = cmd.NewPersistence(t.Context(), "file://", slog.Default())
	require.ErrorContains(t, err, "no directory")
}

func TestNewEventBus(t *testing.T) {
	bus, err := cmd.NewEventBus("gochannel", nil, slog.Default())
	require.NoError(t, err)
	require.NoError(t, bus.Close())

	_, err = cmd.NewEventBus("kafka", nil, slog.Default())
	require.ErrorIs(t, err, kafka.ErrNoBrokers)

	_, err = cmd.NewEventBus("nats", nil, slog.Default())
	require.ErrorContains(t, err, "unsupported event bus provider")
}

func TestNewTimerStore(t *testing.T) {
	store, closeStore, err := cmd.NewTimerStore(t.Context(), "memory")
	require.NoError(t, err)
	assert.IsType(t, &scheduler.MemoryStore{}, store)
	require.NoError(t, closeStore())

	_, _, err = cmd.NewTimerStore(t.Context(), "redis://%zz")
	require.Error(t, err)
}
