package workflow_test

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dukex/orgflow/pkg/eventbus"
	"github.com/dukex/orgflow/pkg/events"
	"github.com/dukex/orgflow/pkg/mocks"
	"github.com/dukex/orgflow/pkg/models"
	"github.com/dukex/orgflow/pkg/persistence"
	"github.com/dukex/orgflow/pkg/persistence/memory"
	"github.com/dukex/orgflow/pkg/scheduler"
	"github.com/dukex/orgflow/pkg/testutil"
	"github.com/dukex/orgflow/pkg/workflow"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	executor  *workflow.Executor
	store     *memory.Persistence
	timers    *scheduler.MemoryStore
	collab    *mocks.Collaborators
	clock     *clockwork.FakeClock
	publisher *recordingPublisher
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, event eventbus.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = append(p.events, event)

	return nil
}

func (p *recordingPublisher) types() []events.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()

	types := make([]events.EventType, 0, len(p.events))
	for _, event := range p.events {
		types = append(types, event.GetType())
	}

	return types
}

func sequence() func() string {
	var n atomic.Int64

	return func() string {
		return fmt.Sprintf("id-%d", n.Add(1))
	}
}

func newFixture(t *testing.T, opts ...workflow.Option) *fixture {
	t.Helper()

	f := &fixture{
		store:     memory.NewPersistence(),
		timers:    scheduler.NewMemoryStore(),
		collab:    mocks.NewCollaborators(),
		clock:     clockwork.NewFakeClockAt(testutil.Epoch),
		publisher: &recordingPublisher{},
	}

	opts = append([]workflow.Option{
		workflow.WithClock(f.clock),
		workflow.WithIDGenerator(sequence()),
		workflow.WithPublisher(f.publisher),
	}, opts...)

	f.executor = workflow.NewExecutor(
		f.store.Workflows(),
		f.store.Executions(),
		f.collab.Protocol(),
		f.timers,
		slog.Default(),
		opts...,
	)

	return f
}

func (f *fixture) save(t *testing.T, wf *models.Workflow) *models.Workflow {
	t.Helper()
	require.NoError(t, f.store.Workflows().Save(t.Context(), wf))

	return wf
}

func (f *fixture) load(t *testing.T, executionID string) *models.WorkflowExecution {
	t.Helper()

	execution, err := f.store.Executions().GetByID(t.Context(), executionID)
	require.NoError(t, err)

	return execution
}

func (f *fixture) tick(t *testing.T) int {
	t.Helper()

	poller := scheduler.NewPoller(f.timers, f.executor.HandleTimer, slog.Default(), scheduler.WithClock(f.clock))

	handled, err := poller.Tick(t.Context())
	require.NoError(t, err)

	return handled
}

func trace(execution *models.WorkflowExecution) []string {
	nodes := make([]string, 0, len(execution.NodeExecutions))
	for _, ne := range execution.NodeExecutions {
		nodes = append(nodes, ne.NodeID)
	}

	return nodes
}

func task(id, title string) *models.WorkflowNode {
	return testutil.Node(id, &models.CreateTaskConfig{Title: title})
}

func gold() map[string]any {
	return map[string]any{
		"member": map[string]any{"id": "m-1", "name": "Ada", "email": "ada@example.org", "tier": "gold"},
		"event":  map[string]any{"type": "member.joined"},
	}
}

func TestExecutor_LinearChainWithoutEdges(t *testing.T) {
	f := newFixture(t)
	f.collab.Email.On("Send", mock.Anything, "ada@example.org", "Welcome Ada", "Hello").Return(nil)

	wf := f.save(t, testutil.CreateTestWorkflow("wf-1", []*models.WorkflowNode{
		testutil.Trigger("start", "member.joined"),
		testutil.Node("welcome", &models.SendEmailConfig{To: "{{.member.email}}", Subject: "Welcome {{.member.name}}", Body: "Hello"}),
		testutil.End("done"),
	}))

	execution, err := f.executor.Start(t.Context(), wf.ID, gold())
	require.NoError(t, err)

	assert.Equal(t, "id-1", execution.ID)
	assert.Equal(t, models.ExecutionStatusSuccess, execution.Status)
	assert.Equal(t, []string{"start", "welcome", "done"}, trace(execution))
	assert.Equal(t, gold(), execution.NodeExecutions[0].Output)
	assert.Equal(t, "ada@example.org", execution.NodeExecutions[1].Input["to"])
	assert.Equal(t, map[string]any{"sent": true, "to": "ada@example.org"}, execution.NodeExecutions[1].Output)
	require.NotNil(t, execution.CompletedAt)
	assert.Nil(t, execution.Error)

	stored := f.load(t, execution.ID)
	assert.Equal(t, models.ExecutionStatusSuccess, stored.Status)
	assert.Equal(t, []string{"start", "welcome", "done"}, trace(stored))

	assert.Equal(t, []events.EventType{
		events.WorkflowExecutionStartedEvent,
		events.NodeExecutionFinishedEvent,
		events.NodeExecutionFinishedEvent,
		events.NodeExecutionFinishedEvent,
		events.WorkflowExecutionCompletedEvent,
	}, f.publisher.types())
	f.collab.AssertExpectations(t)
}

func TestExecutor_HaltsAtFirstFailedNode(t *testing.T) {
	f := newFixture(t)
	f.collab.Tasks.On("Create", mock.Anything, "one", "", "", "", "").Return("task-1", nil)
	f.collab.Tasks.On("Create", mock.Anything, "two", "", "", "", "").Return("", assert.AnError)

	wf := f.save(t, testutil.CreateTestWorkflow("wf-1", []*models.WorkflowNode{
		testutil.Trigger("start", "member.joined"),
		task("n1", "one"),
		task("n2", "two"),
		task("n3", "three"),
	}))

	execution, err := f.executor.Start(t.Context(), wf.ID, gold())
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
	assert.Equal(t, []string{"start", "n1", "n2"}, trace(execution))
	assert.Equal(t, models.NodeExecutionSuccess, execution.NodeExecutions[1].Status)
	assert.Equal(t, models.NodeExecutionFailed, execution.NodeExecutions[2].Status)
	assert.Equal(t, assert.AnError.Error(), execution.NodeExecutions[2].Error)

	require.NotNil(t, execution.Error)
	assert.Equal(t, "n2", execution.Error.NodeID)
	assert.Equal(t, models.NodeTypeTaskCreate, execution.Error.NodeType)
	assert.Equal(t, models.NodeErrorExecution, execution.Error.Kind)

	f.collab.Tasks.AssertNotCalled(t, "Create", mock.Anything, "three", "", "", "", "")
	assert.Contains(t, f.publisher.types(), events.NodeExecutionFailedEvent)
	assert.Equal(t, events.WorkflowExecutionFailedEvent, f.publisher.types()[len(f.publisher.types())-1])
}

func TestExecutor_NodeOutputsFeedLaterNodes(t *testing.T) {
	f := newFixture(t)
	f.collab.Tasks.On("Create", mock.Anything, "Call Ada", "", "", "", "").Return("task-7", nil)
	f.collab.Email.On("Send", mock.Anything, "ada@example.org", "Task", "Track task-7").Return(nil)

	wf := f.save(t, testutil.CreateTestWorkflow("wf-1", []*models.WorkflowNode{
		testutil.Trigger("start", "member.joined"),
		task("call", "Call {{.member.name}}"),
		testutil.Node("notify", &models.SendEmailConfig{To: "{{.member.email}}", Subject: "Task", Body: "Track {{.nodes.call.task_id}}"}),
	}))

	execution, err := f.executor.Start(t.Context(), wf.ID, gold())
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusSuccess, execution.Status)
	f.collab.AssertExpectations(t)
}

func TestExecutor_ConditionBranches(t *testing.T) {
	tests := []struct {
		name     string
		tier     string
		expected []string
	}{
		{name: "true branch", tier: "gold", expected: []string{"start", "check", "vip"}},
		{name: "false branch", tier: "silver", expected: []string{"start", "check", "regular"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.collab.Tasks.On("Create", mock.Anything, mock.Anything, "", "", "", "").Return("task-1", nil)

			wf := f.save(t, testutil.CreateTestWorkflow("wf-1",
				[]*models.WorkflowNode{
					testutil.Trigger("start", "member.joined"),
					testutil.Node("check", &models.ConditionConfig{Conditions: []models.RuleCondition{
						testutil.Condition("member.tier", models.OperatorEquals, "gold"),
					}}),
					task("vip", "vip"),
					task("regular", "regular"),
				},
				testutil.Link("start", "check"),
				testutil.Link("check", "vip", models.EdgeTrue),
				testutil.Link("check", "regular", models.EdgeFalse),
			))

			data := gold()
			data["member"].(map[string]any)["tier"] = tt.tier

			execution, err := f.executor.Start(t.Context(), wf.ID, data)
			require.NoError(t, err)

			assert.Equal(t, models.ExecutionStatusSuccess, execution.Status)
			assert.Equal(t, tt.expected, trace(execution))
			assert.Equal(t, tt.tier == "gold", execution.NodeExecutions[1].Output["result"])
		})
	}
}

func TestExecutor_FalseConditionEndsEdgelessChain(t *testing.T) {
	f := newFixture(t)

	wf := f.save(t, testutil.CreateTestWorkflow("wf-1", []*models.WorkflowNode{
		testutil.Trigger("start", "member.joined"),
		testutil.Node("check", &models.ConditionConfig{Conditions: []models.RuleCondition{
			testutil.Condition("member.tier", models.OperatorEquals, "platinum"),
		}}),
		task("never", "never"),
	}))

	execution, err := f.executor.Start(t.Context(), wf.ID, gold())
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusSuccess, execution.Status)
	assert.Equal(t, []string{"start", "check"}, trace(execution))
	f.collab.Tasks.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestExecutor_CancelStopsBeforeNextNode(t *testing.T) {
	f := newFixture(t)
	f.collab.Tasks.On("Create", mock.Anything, "one", "", "", "", "").Return("task-1", nil)
	f.collab.Tasks.On("Create", mock.Anything, "two", "", "", "", "").
		Run(func(mock.Arguments) {
			_, _ = f.executor.Cancel(context.Background(), "id-1")
		}).
		Return("task-2", nil)

	wf := f.save(t, testutil.CreateTestWorkflow("wf-1", []*models.WorkflowNode{
		testutil.Trigger("start", "member.joined"),
		task("n1", "one"),
		task("n2", "two"),
		task("n3", "three"),
		task("n4", "four"),
	}))

	execution, err := f.executor.Start(t.Context(), wf.ID, gold())
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusCancelled, execution.Status)
	assert.Equal(t, []string{"start", "n1", "n2"}, trace(execution))
	assert.Equal(t, models.NodeExecutionSuccess, execution.NodeExecutions[2].Status)
	assert.True(t, execution.CancelRequested)
	assert.Nil(t, execution.Error)

	stored := f.load(t, execution.ID)
	assert.Equal(t, models.ExecutionStatusCancelled, stored.Status)
	assert.Len(t, stored.NodeExecutions, 3)
	f.collab.Tasks.AssertNotCalled(t, "Create", mock.Anything, "three", "", "", "", "")
	assert.False(t, f.executor.Recorder().Active(execution.ID))
}

func TestExecutor_ContextEndParksRunForResume(t *testing.T) {
	f := newFixture(t)

	ctx, cancel := context.WithCancel(t.Context())
	f.collab.Tasks.On("Create", mock.Anything, "one", "", "", "", "").
		Run(func(mock.Arguments) { cancel() }).
		Return("task-1", nil)
	f.collab.Tasks.On("Create", mock.Anything, "two", "", "", "", "").Return("task-2", nil).Once()

	wf := f.save(t, testutil.CreateTestWorkflow("wf-1", []*models.WorkflowNode{
		testutil.Trigger("start", "member.joined"),
		task("n1", "one"),
		task("n2", "two"),
	}))

	execution, err := f.executor.Start(ctx, wf.ID, gold())
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusRunning, execution.Status)
	assert.True(t, execution.Suspended())
	assert.False(t, execution.CancelRequested)
	assert.Equal(t, models.WaitResume, execution.Continuation.WaitKind)
	assert.Contains(t, []string{"n1", "n2"}, execution.Continuation.Cursor)
	assert.NotContains(t, trace(execution), "n2")

	pending := f.timers.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, scheduler.TimerResume, pending[0].Kind)
	assert.True(t, testutil.Epoch.Equal(pending[0].DueAt))

	assert.Equal(t, 1, f.tick(t))

	stored := f.load(t, execution.ID)
	assert.Equal(t, models.ExecutionStatusSuccess, stored.Status)
	assert.Equal(t, []string{"start", "n1", "n2"}, trace(stored))
	f.collab.AssertExpectations(t)
}

func TestExecutor_InterruptedNodeRunsAgainOnResume(t *testing.T) {
	f := newFixture(t)

	ctx, cancel := context.WithCancel(t.Context())
	f.collab.Tasks.On("Create", mock.Anything, "one", "", "", "", "").
		Run(func(args mock.Arguments) {
			cancel()
			<-args.Get(0).(context.Context).Done()
		}).
		Return("", context.Canceled).Once()
	f.collab.Tasks.On("Create", mock.Anything, "one", "", "", "", "").Return("task-1", nil).Once()

	wf := f.save(t, testutil.CreateTestWorkflow("wf-1", []*models.WorkflowNode{
		testutil.Trigger("start", "member.joined"),
		task("n1", "one"),
	}))

	execution, err := f.executor.Start(ctx, wf.ID, gold())
	require.NoError(t, err)

	assert.True(t, execution.Suspended())
	assert.Equal(t, "n1", execution.Continuation.Cursor)
	assert.Equal(t, []string{"start"}, trace(execution))

	assert.Equal(t, 1, f.tick(t))

	stored := f.load(t, execution.ID)
	assert.Equal(t, models.ExecutionStatusSuccess, stored.Status)
	assert.Equal(t, []string{"start", "n1"}, trace(stored))
	f.collab.AssertExpectations(t)
}

func TestExecutor_CancelParkedExecution(t *testing.T) {
	f := newFixture(t)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	wf := f.save(t, testutil.CreateTestWorkflow("wf-1", []*models.WorkflowNode{
		testutil.Trigger("start", "member.joined"),
		task("n1", "one"),
	}))

	execution, err := f.executor.Start(ctx, wf.ID, gold())
	require.NoError(t, err)
	require.True(t, execution.Suspended())
	assert.Equal(t, "start", execution.Continuation.Cursor)

	cancelled, err := f.executor.Cancel(t.Context(), execution.ID)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusCancelled, cancelled.Status)
	assert.Empty(t, f.timers.Pending())
	f.collab.Tasks.AssertNotCalled(t, "Create", mock.Anything, "one", "", "", "", "")
}

func TestExecutor_ConcurrentExecutionsOverlap(t *testing.T) {
	f := newFixture(t, workflow.WithCallTimeout(5*time.Second))

	var arrived sync.WaitGroup
	arrived.Add(2)

	both := make(chan struct{})
	go func() {
		arrived.Wait()
		close(both)
	}()

	var overlapped atomic.Int32

	f.collab.Tasks.On("Create", mock.Anything, "work", "", "", "", "").
		Run(func(args mock.Arguments) {
			arrived.Done()

			select {
			case <-both:
				overlapped.Add(1)
			case <-args.Get(0).(context.Context).Done():
			}
		}).
		Return("task", nil).Twice()

	wf := f.save(t, testutil.CreateTestWorkflow("wf-1", []*models.WorkflowNode{
		testutil.Trigger("start", "member.joined"),
		task("n1", "work"),
	}))

	var (
		wg      sync.WaitGroup
		results [2]*models.WorkflowExecution
		errs    [2]error
	)

	for i := range 2 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			results[i], errs[i] = f.executor.Start(t.Context(), wf.ID, gold())
		}()
	}

	wg.Wait()

	assert.Equal(t, int32(2), overlapped.Load())

	for i := range 2 {
		require.NoError(t, errs[i])
		assert.Equal(t, models.ExecutionStatusSuccess, results[i].Status)
	}

	assert.NotEqual(t, results[0].ID, results[1].ID)
}

func TestExecutor_StepLimit(t *testing.T) {
	f := newFixture(t, workflow.WithMaxSteps(5))
	f.collab.Tasks.On("Create", mock.Anything, mock.Anything, "", "", "", "").Return("task-1", nil)

	wf := f.save(t, testutil.CreateTestWorkflow("wf-1",
		[]*models.WorkflowNode{
			testutil.Trigger("start", "member.joined"),
			task("a", "a"),
			task("b", "b"),
		},
		testutil.Link("start", "a"),
		testutil.Link("a", "b"),
		testutil.Link("b", "a"),
	))

	execution, err := f.executor.Start(t.Context(), wf.ID, gold())
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
	assert.Equal(t, []string{"start", "a", "b", "a", "b"}, trace(execution))
	require.NotNil(t, execution.Error)
	assert.Equal(t, models.NodeErrorStepLimit, execution.Error.Kind)
	assert.Equal(t, "a", execution.Error.NodeID)
}

func loopWorkflow(limit *int) *models.Workflow {
	return testutil.CreateTestWorkflow("wf-loop",
		[]*models.WorkflowNode{
			testutil.Trigger("start", "members.imported"),
			testutil.Node("each", &models.LoopConfig{Collection: "members", ItemVariable: "m", MaxIterations: limit}),
			testutil.Node("greet", &models.SendNotificationConfig{Recipients: []string{"{{.m}}"}, Title: "Hi", Message: "Welcome"}),
			testutil.End("done"),
		},
		testutil.Link("start", "each"),
		testutil.Link("each", "greet", models.EdgeLoopBody),
		testutil.Link("each", "done", models.EdgeLoopDone),
	)
}

func members(n int) map[string]any {
	items := make([]any, n)
	for i := range n {
		items[i] = fmt.Sprintf("m-%d", i)
	}

	return map[string]any{"members": items}
}

func TestExecutor_LoopVisitsEveryItem(t *testing.T) {
	f := newFixture(t)
	for i := range 3 {
		f.collab.Notification.On("Send", mock.Anything, []string{fmt.Sprintf("m-%d", i)}, "Hi", "Welcome", "normal").Return(nil).Once()
	}

	wf := f.save(t, loopWorkflow(nil))

	execution, err := f.executor.Start(t.Context(), wf.ID, members(3))
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusSuccess, execution.Status)
	assert.Equal(t, []string{"start", "each", "greet", "each", "greet", "each", "greet", "each", "done"}, trace(execution))
	assert.Equal(t, map[string]any{"index": 1, "item": "m-1"}, execution.NodeExecutions[3].Output)
	assert.Equal(t, map[string]any{"iterations": 3}, execution.NodeExecutions[7].Output)
	f.collab.AssertExpectations(t)
}

func TestExecutor_LoopIterationCap(t *testing.T) {
	tests := []struct {
		name       string
		size       int
		limit      *int
		iterations int
	}{
		{name: "default cap of 1000", size: 1000, iterations: 1000},
		{name: "oversized collection truncated", size: 1500, iterations: 1000},
		{name: "explicit cap", size: 1500, limit: testutil.IntPtr(10), iterations: 10},
		{name: "empty collection", size: 0, iterations: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.collab.Notification.On("Send", mock.Anything, mock.Anything, "Hi", "Welcome", "normal").Return(nil)

			wf := f.save(t, loopWorkflow(tt.limit))

			execution, err := f.executor.Start(t.Context(), wf.ID, members(tt.size))
			require.NoError(t, err)

			assert.Equal(t, models.ExecutionStatusSuccess, execution.Status)
			f.collab.Notification.AssertNumberOfCalls(t, "Send", tt.iterations)

			// trigger, one loop visit per iteration plus the final one, the bodies and the end node
			assert.Len(t, execution.NodeExecutions, 1+(tt.iterations+1)+tt.iterations+1)

			done := execution.NodeExecutions[len(execution.NodeExecutions)-2]
			assert.Equal(t, "each", done.NodeID)
			assert.Equal(t, map[string]any{"iterations": tt.iterations}, done.Output)
		})
	}
}

func TestExecutor_LoopOverNonListFails(t *testing.T) {
	f := newFixture(t)

	wf := f.save(t, loopWorkflow(nil))

	execution, err := f.executor.Start(t.Context(), wf.ID, map[string]any{"members": "m-1"})
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
	require.NotNil(t, execution.Error)
	assert.Equal(t, "each", execution.Error.NodeID)
	assert.Equal(t, models.NodeErrorExecution, execution.Error.Kind)
}

func TestExecutor_LoopWithoutBodyEdgeFails(t *testing.T) {
	f := newFixture(t)

	wf := f.save(t, testutil.CreateTestWorkflow("wf-1", []*models.WorkflowNode{
		testutil.Trigger("start", "members.imported"),
		testutil.Node("each", &models.LoopConfig{Collection: "members", ItemVariable: "m"}),
	}))

	execution, err := f.executor.Start(t.Context(), wf.ID, members(2))
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
	assert.Equal(t, models.NodeErrorValidation, execution.Error.Kind)
}

func TestExecutor_InvalidNodeConfigFailsWithValidation(t *testing.T) {
	f := newFixture(t)

	wf := f.save(t, testutil.CreateTestWorkflow("wf-1", []*models.WorkflowNode{
		testutil.Trigger("start", "member.joined"),
		testutil.Node("mail", &models.SendEmailConfig{To: "{{.member.email}}", Body: "Hi"}),
	}))

	execution, err := f.executor.Start(t.Context(), wf.ID, gold())
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
	assert.Equal(t, "mail", execution.Error.NodeID)
	assert.Equal(t, models.NodeErrorValidation, execution.Error.Kind)
	f.collab.Email.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestExecutor_CollaboratorTimeout(t *testing.T) {
	f := newFixture(t, workflow.WithCallTimeout(20*time.Millisecond))
	f.collab.Email.On("Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(context.DeadlineExceeded)

	wf := f.save(t, testutil.CreateTestWorkflow("wf-1", []*models.WorkflowNode{
		testutil.Trigger("start", "member.joined"),
		testutil.Node("mail", &models.SendEmailConfig{To: "a@example.org", Subject: "s", Body: "b"}),
	}))

	execution, err := f.executor.Start(t.Context(), wf.ID, gold())
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
	assert.Equal(t, models.NodeErrorTimeout, execution.Error.Kind)
}

func TestExecutor_MissingTriggerIsRejected(t *testing.T) {
	f := newFixture(t)

	wf := f.save(t, testutil.CreateTestWorkflow("wf-1", []*models.WorkflowNode{task("n1", "one")}))

	execution, err := f.executor.Start(t.Context(), wf.ID, gold())
	require.ErrorIs(t, err, workflow.ErrNoTrigger)
	assert.Nil(t, execution)

	executions, err := f.store.Executions().ListByWorkflow(t.Context(), wf.ID)
	require.NoError(t, err)
	assert.Empty(t, executions)
}

func TestExecutor_StartUnknownWorkflow(t *testing.T) {
	f := newFixture(t)

	_, err := f.executor.Start(t.Context(), "missing", gold())
	assert.True(t, persistence.IsWorkflowNotFound(err))
}

func delayWorkflow() *models.Workflow {
	return testutil.CreateTestWorkflow("wf-delay", []*models.WorkflowNode{
		testutil.Trigger("start", "member.joined"),
		testutil.Node("wait", &models.DelayConfig{Duration: 2, Unit: models.DelayHours}),
		testutil.Node("followup", &models.SendEmailConfig{To: "{{.member.email}}", Subject: "Still there?", Body: "Hi {{.member.name}}"}),
		testutil.End("done"),
	})
}

func TestExecutor_DelaySuspendsAndResumes(t *testing.T) {
	f := newFixture(t)
	f.collab.Email.On("Send", mock.Anything, "ada@example.org", "Still there?", "Hi Ada").Return(nil)

	wf := f.save(t, delayWorkflow())

	execution, err := f.executor.Start(t.Context(), wf.ID, gold())
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusRunning, execution.Status)
	assert.True(t, execution.Suspended())
	assert.Equal(t, []string{"start", "wait"}, trace(execution))
	assert.Equal(t, models.WaitDelay, execution.Continuation.WaitKind)
	assert.Equal(t, "wait", execution.Continuation.Cursor)

	pending := f.timers.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, scheduler.TimerDelay, pending[0].Kind)
	assert.True(t, testutil.Epoch.Add(2*time.Hour).Equal(pending[0].DueAt))

	f.clock.Advance(time.Hour)
	assert.Equal(t, 0, f.tick(t))
	f.collab.Email.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	f.clock.Advance(time.Hour)
	assert.Equal(t, 1, f.tick(t))

	stored := f.load(t, execution.ID)
	assert.Equal(t, models.ExecutionStatusSuccess, stored.Status)
	assert.Nil(t, stored.Continuation)
	assert.Equal(t, []string{"start", "wait", "followup", "done"}, trace(stored))
	assert.Empty(t, f.timers.Pending())
	assert.Contains(t, f.publisher.types(), events.WorkflowExecutionSuspendedEvent)
	assert.Contains(t, f.publisher.types(), events.WorkflowExecutionResumedEvent)
	f.collab.AssertExpectations(t)
}

func TestExecutor_ResumeHonoursPersistedCancelRequest(t *testing.T) {
	f := newFixture(t)

	wf := f.save(t, delayWorkflow())

	execution, err := f.executor.Start(t.Context(), wf.ID, gold())
	require.NoError(t, err)

	stored := f.load(t, execution.ID)
	stored.CancelRequested = true
	require.NoError(t, f.store.Executions().Update(t.Context(), stored))

	f.clock.Advance(2 * time.Hour)
	f.tick(t)

	assert.Equal(t, models.ExecutionStatusCancelled, f.load(t, execution.ID).Status)
	f.collab.Email.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestExecutor_ResumeAfterWorkflowDeleted(t *testing.T) {
	f := newFixture(t)

	wf := f.save(t, delayWorkflow())

	execution, err := f.executor.Start(t.Context(), wf.ID, gold())
	require.NoError(t, err)

	require.NoError(t, f.store.Workflows().Delete(t.Context(), wf.ID))

	f.clock.Advance(2 * time.Hour)
	f.tick(t)

	stored := f.load(t, execution.ID)
	assert.Equal(t, models.ExecutionStatusFailed, stored.Status)
	assert.Equal(t, models.NodeErrorNotFound, stored.Error.Kind)
}

func TestExecutor_CancelSuspendedExecution(t *testing.T) {
	f := newFixture(t)

	wf := f.save(t, delayWorkflow())

	execution, err := f.executor.Start(t.Context(), wf.ID, gold())
	require.NoError(t, err)

	cancelled, err := f.executor.Cancel(t.Context(), execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCancelled, cancelled.Status)
	assert.Empty(t, f.timers.Pending())

	stored := f.load(t, execution.ID)
	assert.Equal(t, models.ExecutionStatusCancelled, stored.Status)
	assert.Nil(t, stored.Continuation)

	_, err = f.executor.Cancel(t.Context(), execution.ID)
	require.ErrorIs(t, err, workflow.ErrExecutionFinished)
}

func TestExecutor_CancelExecutionRunningElsewhere(t *testing.T) {
	f := newFixture(t)

	running := &models.WorkflowExecution{
		ID:          "remote-1",
		WorkflowID:  "wf-1",
		Status:      models.ExecutionStatusRunning,
		StartedAt:   testutil.Epoch,
		TriggerData: map[string]any{},
	}
	require.NoError(t, f.store.Executions().Create(t.Context(), running))

	execution, err := f.executor.Cancel(t.Context(), "remote-1")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusRunning, execution.Status)
	assert.True(t, f.load(t, "remote-1").CancelRequested)
}

func approvalWorkflow(timeoutHours *int) *models.Workflow {
	return testutil.CreateTestWorkflow("wf-approval",
		[]*models.WorkflowNode{
			testutil.Trigger("start", "expense.submitted"),
			testutil.Node("review", &models.ApprovalConfig{
				Approvers:    []string{"lead"},
				Title:        "Approve {{.member.name}}",
				TimeoutHours: timeoutHours,
			}),
			task("pay", "pay"),
			task("refuse", "refuse"),
		},
		testutil.Link("start", "review"),
		testutil.Link("review", "pay", models.EdgeApproved),
		testutil.Link("review", "refuse", models.EdgeRejected),
	)
}

func TestExecutor_ApprovalDecisions(t *testing.T) {
	tests := []struct {
		name     string
		approved bool
		next     string
	}{
		{name: "approved", approved: true, next: "pay"},
		{name: "rejected", approved: false, next: "refuse"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.collab.Approvals.On("Request", mock.Anything, []string{"lead"}, "Approve Ada", "", mock.Anything).Return("appr-1", nil)
			f.collab.Tasks.On("Create", mock.Anything, tt.next, "", "", "", "").Return("task-1", nil)

			wf := f.save(t, approvalWorkflow(testutil.IntPtr(24)))

			execution, err := f.executor.Start(t.Context(), wf.ID, gold())
			require.NoError(t, err)

			require.True(t, execution.Suspended())
			assert.Equal(t, models.WaitApproval, execution.Continuation.WaitKind)
			assert.Equal(t, "appr-1", execution.Continuation.ApprovalID)
			require.Len(t, f.timers.Pending(), 1)
			assert.Equal(t, scheduler.TimerApprovalTimeout, f.timers.Pending()[0].Kind)

			_, err = f.executor.OnDecision(t.Context(), "appr-1", tt.approved)
			require.NoError(t, err)

			stored := f.load(t, execution.ID)
			assert.Equal(t, models.ExecutionStatusSuccess, stored.Status)
			assert.Equal(t, []string{"start", "review", "review", tt.next}, trace(stored))
			assert.Equal(t, tt.approved, stored.NodeExecutions[2].Output["approved"])
			assert.Equal(t, false, stored.NodeExecutions[2].Output["timed_out"])
			assert.Empty(t, f.timers.Pending())
			f.collab.AssertExpectations(t)

			_, err = f.executor.OnDecision(t.Context(), "appr-1", tt.approved)
			assert.True(t, persistence.IsExecutionNotFound(err))
		})
	}
}

func TestExecutor_ApprovalTimesOutAsRejected(t *testing.T) {
	f := newFixture(t)
	f.collab.Approvals.On("Request", mock.Anything, []string{"lead"}, "Approve Ada", "", mock.Anything).Return("appr-1", nil)
	f.collab.Tasks.On("Create", mock.Anything, "refuse", "", "", "", "").Return("task-1", nil)

	wf := f.save(t, approvalWorkflow(testutil.IntPtr(24)))

	execution, err := f.executor.Start(t.Context(), wf.ID, gold())
	require.NoError(t, err)

	f.clock.Advance(24 * time.Hour)
	assert.Equal(t, 1, f.tick(t))

	stored := f.load(t, execution.ID)
	assert.Equal(t, models.ExecutionStatusSuccess, stored.Status)
	assert.Equal(t, []string{"start", "review", "review", "refuse"}, trace(stored))
	assert.Equal(t, true, stored.NodeExecutions[2].Output["timed_out"])

	_, err = f.executor.OnDecision(t.Context(), "appr-1", true)
	require.Error(t, err)
	f.collab.Tasks.AssertNotCalled(t, "Create", mock.Anything, "pay", "", "", "", "")
}

func TestExecutor_ApprovalWithoutTimeoutSchedulesNoTimer(t *testing.T) {
	f := newFixture(t)
	f.collab.Approvals.On("Request", mock.Anything, []string{"lead"}, "Approve Ada", "", mock.Anything).Return("appr-1", nil)

	wf := f.save(t, approvalWorkflow(nil))

	execution, err := f.executor.Start(t.Context(), wf.ID, gold())
	require.NoError(t, err)

	assert.True(t, execution.Suspended())
	assert.Nil(t, execution.Continuation.ResumeAt)
	assert.Empty(t, f.timers.Pending())
}

func TestExecutor_StaleTimerIsIgnored(t *testing.T) {
	f := newFixture(t)

	wf := f.save(t, delayWorkflow())

	execution, err := f.executor.Start(t.Context(), wf.ID, gold())
	require.NoError(t, err)

	err = f.executor.HandleTimer(t.Context(), &scheduler.Timer{
		ID:          "stale",
		ExecutionID: execution.ID,
		NodeID:      "start",
		Kind:        scheduler.TimerDelay,
	})
	require.NoError(t, err)

	assert.True(t, f.load(t, execution.ID).Suspended())
}
