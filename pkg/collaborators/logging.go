// Package collaborators provides the reference collaborators used when orgflow
// runs without external services: senders that log, and in-memory member, task
// and approval stores.
package collaborators

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync"

	"github.com/dukex/orgflow/pkg/protocol"
	"github.com/google/uuid"
)

// LogEmailSender writes each email to the log instead of delivering it.
type LogEmailSender struct {
	logger *slog.Logger
}

func NewLogEmailSender(logger *slog.Logger) *LogEmailSender {
	return &LogEmailSender{logger: logger.With("module", "email_sender")}
}

func (s *LogEmailSender) Send(ctx context.Context, to, subject, body string) error {
	s.logger.InfoContext(ctx, "Email sent", "to", to, "subject", subject, "body_length", len(body))

	return nil
}

// LogNotificationSender writes each notification to the log.
type LogNotificationSender struct {
	logger *slog.Logger
}

func NewLogNotificationSender(logger *slog.Logger) *LogNotificationSender {
	return &LogNotificationSender{logger: logger.With("module", "notification_sender")}
}

func (s *LogNotificationSender) Send(ctx context.Context, recipients []string, title, message, urgency string) error {
	s.logger.InfoContext(ctx, "Notification sent",
		"recipients", recipients,
		"title", title,
		"urgency", urgency,
		"message_length", len(message))

	return nil
}

// MemberStore keeps member field updates and point balances in memory.
type MemberStore struct {
	mu      sync.Mutex
	records map[string]map[string]any
	points  map[string]int
	logger  *slog.Logger
}

func NewMemberStore(logger *slog.Logger) *MemberStore {
	return &MemberStore{
		records: make(map[string]map[string]any),
		points:  make(map[string]int),
		logger:  logger.With("module", "member_store"),
	}
}

func (m *MemberStore) Update(ctx context.Context, recordID, field string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.records[recordID]
	if !ok {
		record = make(map[string]any)
		m.records[recordID] = record
	}

	record[field] = value

	m.logger.InfoContext(ctx, "Member updated", "record_id", recordID, "field", field)

	return nil
}

func (m *MemberStore) AwardPoints(ctx context.Context, recordID string, points int, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.points[recordID] += points

	m.logger.InfoContext(ctx, "Points awarded",
		"record_id", recordID,
		"points", points,
		"balance", m.points[recordID],
		"reason", reason)

	return nil
}

// Record returns a copy of the fields written for recordID.
func (m *MemberStore) Record(recordID string) map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()

	return maps.Clone(m.records[recordID])
}

// Points returns the balance of recordID.
func (m *MemberStore) Points(recordID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.points[recordID]
}

// Task is a task created through TaskStore.
type Task struct {
	ID          string
	Title       string
	Description string
	Assignee    string
	DueDate     string
	Priority    string
}

// TaskStore keeps created tasks in memory.
type TaskStore struct {
	mu     sync.Mutex
	tasks  []Task
	logger *slog.Logger
}

func NewTaskStore(logger *slog.Logger) *TaskStore {
	return &TaskStore{logger: logger.With("module", "task_store")}
}

func (s *TaskStore) Create(ctx context.Context, title, description, assignee, dueDate, priority string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task := Task{
		ID:          fmt.Sprintf("task-%d", len(s.tasks)+1),
		Title:       title,
		Description: description,
		Assignee:    assignee,
		DueDate:     dueDate,
		Priority:    priority,
	}
	s.tasks = append(s.tasks, task)

	s.logger.InfoContext(ctx, "Task created", "task_id", task.ID, "assignee", assignee, "priority", priority)

	return task.ID, nil
}

// Tasks returns the created tasks in creation order.
func (s *TaskStore) Tasks() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]Task(nil), s.tasks...)
}

// ApprovalRequest is an approval opened through ApprovalStore.
type ApprovalRequest struct {
	ID           string
	Approvers    []string
	Title        string
	Description  string
	TimeoutHours *int
}

// ApprovalStore records approval requests. Decisions are posted back to the
// executor by the host API.
type ApprovalStore struct {
	mu       sync.Mutex
	requests map[string]ApprovalRequest
	logger   *slog.Logger
}

func NewApprovalStore(logger *slog.Logger) *ApprovalStore {
	return &ApprovalStore{
		requests: make(map[string]ApprovalRequest),
		logger:   logger.With("module", "approval_store"),
	}
}

func (s *ApprovalStore) Request(ctx context.Context, approvers []string, title, description string, timeoutHours *int) (string, error) {
	request := ApprovalRequest{
		ID:           uuid.NewString(),
		Approvers:    append([]string(nil), approvers...),
		Title:        title,
		Description:  description,
		TimeoutHours: timeoutHours,
	}

	s.mu.Lock()
	s.requests[request.ID] = request
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "Approval requested", "approval_id", request.ID, "approvers", approvers, "title", title)

	return request.ID, nil
}

// Get returns the request with id.
func (s *ApprovalStore) Get(id string) (ApprovalRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	request, ok := s.requests[id]

	return request, ok
}

// Defaults returns log-backed senders, in-memory stores and webhooks.
func Defaults(webhooks protocol.WebhookClient, logger *slog.Logger) protocol.Collaborators {
	return protocol.Collaborators{
		Email:        NewLogEmailSender(logger),
		Notification: NewLogNotificationSender(logger),
		Members:      NewMemberStore(logger),
		Tasks:        NewTaskStore(logger),
		Webhooks:     webhooks,
		Approvals:    NewApprovalStore(logger),
	}
}
