package mocks

import (
	"context"

	"github.com/dukex/orgflow/pkg/protocol"
	"github.com/stretchr/testify/mock"
)

// MockEmailSender is a mock implementation of protocol.EmailSender interface.
type MockEmailSender struct {
	mock.Mock
}

func (m *MockEmailSender) Send(ctx context.Context, to, subject, body string) error {
	args := m.Called(ctx, to, subject, body)

	return args.Error(0)
}

// MockNotificationSender is a mock implementation of protocol.NotificationSender interface.
type MockNotificationSender struct {
	mock.Mock
}

func (m *MockNotificationSender) Send(ctx context.Context, recipients []string, title, message, urgency string) error {
	args := m.Called(ctx, recipients, title, message, urgency)

	return args.Error(0)
}

// MockMemberStore is a mock implementation of protocol.MemberStore interface.
type MockMemberStore struct {
	mock.Mock
}

func (m *MockMemberStore) Update(ctx context.Context, recordID, field string, value any) error {
	args := m.Called(ctx, recordID, field, value)

	return args.Error(0)
}

func (m *MockMemberStore) AwardPoints(ctx context.Context, recordID string, points int, reason string) error {
	args := m.Called(ctx, recordID, points, reason)

	return args.Error(0)
}

// MockTaskStore is a mock implementation of protocol.TaskStore interface.
type MockTaskStore struct {
	mock.Mock
}

func (m *MockTaskStore) Create(ctx context.Context, title, description, assignee, dueDate, priority string) (string, error) {
	args := m.Called(ctx, title, description, assignee, dueDate, priority)

	return args.String(0), args.Error(1)
}

// MockWebhookClient is a mock implementation of protocol.WebhookClient interface.
type MockWebhookClient struct {
	mock.Mock
}

func (m *MockWebhookClient) Call(ctx context.Context, url, method string, headers map[string]string, body any) (int, string, error) {
	args := m.Called(ctx, url, method, headers, body)

	return args.Int(0), args.String(1), args.Error(2)
}

// MockApprovalStore is a mock implementation of protocol.ApprovalStore interface.
type MockApprovalStore struct {
	mock.Mock
}

func (m *MockApprovalStore) Request(ctx context.Context, approvers []string, title, description string, timeoutHours *int) (string, error) {
	args := m.Called(ctx, approvers, title, description, timeoutHours)

	return args.String(0), args.Error(1)
}

// Collaborators bundles one mock per collaborator.
type Collaborators struct {
	Email        *MockEmailSender
	Notification *MockNotificationSender
	Members      *MockMemberStore
	Tasks        *MockTaskStore
	Webhooks     *MockWebhookClient
	Approvals    *MockApprovalStore
}

// NewCollaborators creates a fresh set of collaborator mocks.
func NewCollaborators() *Collaborators {
	return &Collaborators{
		Email:        &MockEmailSender{},
		Notification: &MockNotificationSender{},
		Members:      &MockMemberStore{},
		Tasks:        &MockTaskStore{},
		Webhooks:     &MockWebhookClient{},
		Approvals:    &MockApprovalStore{},
	}
}

// Protocol returns the mocks as the engine's collaborator bundle.
func (c *Collaborators) Protocol() protocol.Collaborators {
	return protocol.Collaborators{
		Email:        c.Email,
		Notification: c.Notification,
		Members:      c.Members,
		Tasks:        c.Tasks,
		Webhooks:     c.Webhooks,
		Approvals:    c.Approvals,
	}
}

// AssertExpectations asserts every mock in the bundle.
func (c *Collaborators) AssertExpectations(t mock.TestingT) {
	c.Email.AssertExpectations(t)
	c.Notification.AssertExpectations(t)
	c.Members.AssertExpectations(t)
	c.Tasks.AssertExpectations(t)
	c.Webhooks.AssertExpectations(t)
	c.Approvals.AssertExpectations(t)
}
