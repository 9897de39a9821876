package web_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dukex/orgflow/internal/application"
	"github.com/dukex/orgflow/pkg/mocks"
	"github.com/dukex/orgflow/pkg/models"
	"github.com/dukex/orgflow/pkg/persistence/memory"
	"github.com/dukex/orgflow/pkg/services"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const welcomeRule = `{
	"id": "welcome",
	"name": "Welcome points",
	"priority": 10,
	"enabled": true,
	"conditions": [
		{"id": "c1", "field": "event.type", "operator": "equals", "value": "member.joined", "data_type": "string"}
	],
	"actions": [
		{"id": "a1", "type": "award_points", "config": {"points": 25, "reason": "joined"}, "enabled": true, "order": 1}
	]
}`

const onboardingWorkflow = `{
	"id": "onboarding",
	"name": "Onboarding",
	"nodes": [
		{"id": "start", "type": "trigger", "config": {"event": "member.joined"}},
		{"id": "mail", "type": "email", "config": {"to": "{{.member.email}}", "subject": "Welcome", "body": "Hi {{.member.name}}"}}
	],
	"edges": [
		{"source": "start", "target": "mail"}
	]
}`

const approvalWorkflow = `{
	"id": "budget",
	"name": "Budget approval",
	"nodes": [
		{"id": "start", "type": "trigger", "config": {"event": "budget.requested"}},
		{"id": "approve", "type": "approval", "config": {"approvers": ["treasurer"], "title": "Approve {{.amount}}"}},
		{"id": "ok", "type": "notification", "config": {"recipients": ["requester"], "title": "Approved", "message": "Go ahead"}},
		{"id": "no", "type": "notification", "config": {"recipients": ["requester"], "title": "Rejected", "message": "Sorry"}}
	],
	"edges": [
		{"source": "start", "target": "approve"},
		{"source": "approve", "target": "ok", "label": "approved"},
		{"source": "approve", "target": "no", "label": "rejected"}
	]
}`

type problemBody struct {
	Type   string `json:"type"`
	Status int    `json:"status"`
	Detail string `json:"detail"`
}

type apiFixture struct {
	app    *fiber.App
	store  *memory.Persistence
	collab *mocks.Collaborators
}

func setupTestApp(t *testing.T) *apiFixture {
	t.Helper()

	store := memory.NewPersistence()
	collab := mocks.NewCollaborators()

	assembled := application.New(application.Dependencies{
		Persistence:   store,
		Collaborators: collab.Protocol(),
	}, slog.Default())

	return &apiFixture{app: assembled.App(), store: store, collab: collab}
}

func (f *apiFixture) do(t *testing.T, method, path, body string) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()

	var value T
	require.NoError(t, json.Unmarshal(data, &value), string(data))

	return value
}

func TestAPIHandlers_Rules(t *testing.T) {
	f := setupTestApp(t)

	resp, body := f.do(t, http.MethodPost, "/rules", welcomeRule)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	created := decode[models.Rule](t, body)
	assert.Equal(t, "welcome", created.ID)
	assert.Equal(t, &models.AwardPointsConfig{Points: 25, Reason: "joined"}, created.Actions[0].Config)
	assert.False(t, created.CreatedAt.IsZero())

	resp, body = f.do(t, http.MethodGet, "/rules/welcome", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Welcome points", decode[models.Rule](t, body).Name)

	resp, body = f.do(t, http.MethodGet, "/rules", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.InDelta(t, 1, decode[map[string]any](t, body)["total_count"], 0)

	resp, body = f.do(t, http.MethodPost, "/rules/welcome/enabled", `{"enabled": false}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, decode[models.Rule](t, body).Enabled)

	resp, _ = f.do(t, http.MethodDelete, "/rules/welcome", "")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body = f.do(t, http.MethodGet, "/rules/welcome", "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "rule_not_found", decode[problemBody](t, body).Type)
}

func TestAPIHandlers_RuleErrors(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
		wantType   string
	}{
		{
			name:       "missing name",
			method:     http.MethodPost,
			path:       "/rules",
			body:       `{"conditions": [], "actions": []}`,
			wantStatus: http.StatusBadRequest,
			wantType:   "validation_error",
		},
		{
			name:       "enabled without actions",
			method:     http.MethodPost,
			path:       "/rules",
			body:       `{"name": "Empty", "enabled": true}`,
			wantStatus: http.StatusBadRequest,
			wantType:   "validation_error",
		},
		{
			name:       "unknown action type",
			method:     http.MethodPost,
			path:       "/rules",
			body:       `{"name": "x", "actions": [{"id": "a", "type": "teleport", "config": {}}]}`,
			wantStatus: http.StatusBadRequest,
			wantType:   "validation_error",
		},
		{
			name:       "malformed json",
			method:     http.MethodPost,
			path:       "/rules",
			body:       `{"name":`,
			wantStatus: http.StatusBadRequest,
			wantType:   "validation_error",
		},
		{
			name:       "toggle without flag",
			method:     http.MethodPost,
			path:       "/rules/welcome/enabled",
			body:       `{}`,
			wantStatus: http.StatusBadRequest,
			wantType:   "validation_error",
		},
		{
			name:       "delete unknown",
			method:     http.MethodDelete,
			path:       "/rules/missing",
			wantStatus: http.StatusNotFound,
			wantType:   "rule_not_found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupTestApp(t)

			resp, body := f.do(t, tt.method, tt.path, tt.body)

			assert.Equal(t, tt.wantStatus, resp.StatusCode, string(body))
			assert.Equal(t, tt.wantType, decode[problemBody](t, body).Type)
		})
	}
}

func TestAPIHandlers_WorkflowLifecycle(t *testing.T) {
	f := setupTestApp(t)
	f.collab.Email.On("Send", mock.Anything, "ada@example.org", "Welcome", "Hi Ada").Return(nil)

	resp, body := f.do(t, http.MethodPost, "/workflows", onboardingWorkflow)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	resp, body = f.do(t, http.MethodGet, "/workflows/onboarding", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[models.Workflow](t, body).Nodes, 2)

	resp, body = f.do(t, http.MethodPost, "/workflows/onboarding/executions",
		`{"data": {"member": {"name": "Ada", "email": "ada@example.org"}}}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	execution := decode[models.WorkflowExecution](t, body)
	assert.Equal(t, models.ExecutionStatusSuccess, execution.Status)
	assert.Len(t, execution.NodeExecutions, 2)

	resp, body = f.do(t, http.MethodGet, "/executions/"+execution.ID, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, execution.ID, decode[models.WorkflowExecution](t, body).ID)

	resp, body = f.do(t, http.MethodGet, "/workflows/onboarding/executions", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.InDelta(t, 1, decode[map[string]any](t, body)["total_count"], 0)

	resp, body = f.do(t, http.MethodPost, "/executions/"+execution.ID+"/cancel", "")
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "conflict", decode[problemBody](t, body).Type)

	f.collab.AssertExpectations(t)
}

func TestAPIHandlers_WorkflowErrors(t *testing.T) {
	f := setupTestApp(t)

	resp, body := f.do(t, http.MethodPost, "/workflows", `{
		"name": "Bad loop",
		"nodes": [
			{"id": "start", "type": "trigger"},
			{"id": "each", "type": "loop", "config": {"collection": "members", "item_variable": "m", "max_iterations": 1500}}
		]
	}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, decode[problemBody](t, body).Detail, "max_iterations")

	resp, body = f.do(t, http.MethodGet, "/workflows/missing", "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "workflow_not_found", decode[problemBody](t, body).Type)

	resp, _ = f.do(t, http.MethodPost, "/workflows/missing/executions", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/executions/missing", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPIHandlers_DryRunCallsNoCollaborator(t *testing.T) {
	f := setupTestApp(t)

	resp, body := f.do(t, http.MethodPost, "/workflows", approvalWorkflow)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	resp, body = f.do(t, http.MethodPost, "/workflows/budget/dry-run",
		`{"data": {"amount": 300}, "decisions": {"approve": "reject"}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	execution := decode[models.WorkflowExecution](t, body)
	assert.Equal(t, models.ExecutionStatusSuccess, execution.Status)

	last := execution.NodeExecutions[len(execution.NodeExecutions)-1]
	assert.Equal(t, "no", last.NodeID)

	resp, _ = f.do(t, http.MethodPost, "/workflows/budget/dry-run", `{"decisions": {"approve": "maybe"}}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	stored, err := f.store.Executions().ListByWorkflow(t.Context(), "budget")
	require.NoError(t, err)
	assert.Empty(t, stored)

	f.collab.Approvals.AssertNotCalled(t, "Request", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestAPIHandlers_ApprovalDecision(t *testing.T) {
	f := setupTestApp(t)
	f.collab.Approvals.On("Request", mock.Anything, []string{"treasurer"}, "Approve 300", "", (*int)(nil)).Return("approval-1", nil)
	f.collab.Notification.On("Send", mock.Anything, []string{"requester"}, "Approved", "Go ahead", mock.Anything).Return(nil)

	resp, body := f.do(t, http.MethodPost, "/workflows", approvalWorkflow)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	resp, body = f.do(t, http.MethodPost, "/workflows/budget/executions", `{"data": {"amount": 300}}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	started := decode[models.WorkflowExecution](t, body)
	assert.True(t, started.Suspended())

	resp, _ = f.do(t, http.MethodPost, "/approvals/approval-1/decision", `{}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = f.do(t, http.MethodPost, "/approvals/approval-1/decision", `{"approved": true}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Equal(t, models.ExecutionStatusSuccess, decode[models.WorkflowExecution](t, body).Status)

	resp, body = f.do(t, http.MethodPost, "/approvals/approval-1/decision", `{"approved": false}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "execution_not_found", decode[problemBody](t, body).Type)

	resp, _ = f.do(t, http.MethodPost, "/approvals/unknown/decision", `{"approved": true}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	f.collab.AssertExpectations(t)
}

func TestAPIHandlers_SubmitEvent(t *testing.T) {
	f := setupTestApp(t)
	f.collab.Members.On("AwardPoints", mock.Anything, "m-1", 25, "joined").Return(nil)
	f.collab.Email.On("Send", mock.Anything, "ada@example.org", "Welcome", "Hi Ada").Return(nil)

	resp, body := f.do(t, http.MethodPost, "/rules", welcomeRule)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	resp, body = f.do(t, http.MethodPost, "/workflows", onboardingWorkflow)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	resp, body = f.do(t, http.MethodPost, "/events", `{
		"name": "member.joined",
		"data": {"member": {"id": "m-1", "name": "Ada", "email": "ada@example.org"}}
	}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(body))

	result := decode[services.EventResult](t, body)
	assert.Equal(t, "member.joined", result.EventName)
	require.Len(t, result.Rules, 1)
	require.Len(t, result.Executions, 1)
	assert.Equal(t, models.ExecutionStatusSuccess, result.Executions[0].Status)

	rule, err := f.store.Rules().GetByID(t.Context(), "welcome")
	require.NoError(t, err)
	assert.Equal(t, int64(1), rule.ExecutionCount)

	resp, _ = f.do(t, http.MethodPost, "/events", `{"data": {}}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	f.collab.AssertExpectations(t)
}

func TestAPIHandlers_HealthAndRequestID(t *testing.T) {
	f := setupTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "req-42")

	resp, err := f.app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "req-42", resp.Header.Get("X-Request-ID"))

	resp, _ = f.do(t, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestAPIHandlers_StorageFailures(t *testing.T) {
	store := mocks.NewMockPersistence()
	store.On("HealthCheck", mock.Anything).Return(errors.New("connection refused"))
	store.RuleRepository.On("List", mock.Anything).Return(nil, errors.New("connection refused"))

	assembled := application.New(application.Dependencies{
		Persistence:   store,
		Collaborators: mocks.NewCollaborators().Protocol(),
	}, slog.Default())
	f := &apiFixture{app: assembled.App()}

	resp, body := f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "unhealthy", decode[map[string]any](t, body)["status"])

	resp, body = f.do(t, http.MethodGet, "/rules", "")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "internal_error", decode[problemBody](t, body).Type)

	store.AssertExpectations(t)
	store.RuleRepository.AssertExpectations(t)
}
