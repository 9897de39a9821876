package collaborators_test

import (
	"log/slog"
	"testing"

	"github.com/dukex/orgflow/pkg/collaborators"
	"github.com/dukex/orgflow/pkg/collaborators/httpwebhook"
	"github.com/dukex/orgflow/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemberStore(t *testing.T) {
	store := collaborators.NewMemberStore(slog.Default())

	require.NoError(t, store.Update(t.Context(), "m-1", "onboarded", true))
	require.NoError(t, store.AwardPoints(t.Context(), "m-1", 10, "joined"))
	require.NoError(t, store.AwardPoints(t.Context(), "m-1", 5, "survey"))

	assert.Equal(t, map[string]any{"onboarded": true}, store.Record("m-1"))
	assert.Equal(t, 15, store.Points("m-1"))
	assert.Zero(t, store.Points("m-2"))
	assert.Nil(t, store.Record("m-2"))
}

func TestTaskStore(t *testing.T) {
	store := collaborators.NewTaskStore(slog.Default())

	first, err := store.Create(t.Context(), "Call Ada", "", "coordinator", "", "high")
	require.NoError(t, err)

	second, err := store.Create(t.Context(), "Send kit", "welcome kit", "", "2026-01-01", "")
	require.NoError(t, err)

	assert.Equal(t, "task-1", first)
	assert.Equal(t, "task-2", second)

	tasks := store.Tasks()
	require.Len(t, tasks, 2)
	assert.Equal(t, "Send kit", tasks[1].Title)
}

func TestApprovalStore(t *testing.T) {
	store := collaborators.NewApprovalStore(slog.Default())

	id, err := store.Request(t.Context(), []string{"lead"}, "Approve budget", "Q3", testutil.IntPtr(24))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	request, ok := store.Get(id)
	require.True(t, ok)
	assert.Equal(t, []string{"lead"}, request.Approvers)
	assert.Equal(t, 24, *request.TimeoutHours)

	_, ok = store.Get("missing")
	assert.False(t, ok)
}

func TestDefaults(t *testing.T) {
	webhooks := httpwebhook.NewClient(slog.Default())

	collab := collaborators.Defaults(webhooks, slog.Default())

	require.NoError(t, collab.Email.Send(t.Context(), "a@example.org", "s", "b"))
	require.NoError(t, collab.Notification.Send(t.Context(), []string{"m-1"}, "t", "m", "normal"))
	assert.Same(t, webhooks, collab.Webhooks)
	assert.NotNil(t, collab.Members)
	assert.NotNil(t, collab.Tasks)
	assert.NotNil(t, collab.Approvals)
}
