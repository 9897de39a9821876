// Package protocol defines the interfaces the engine uses to reach external collaborators.
package protocol

import "context"

// EmailSender delivers a single email.
type EmailSender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// NotificationSender delivers an in-app notification to a list of recipients.
type NotificationSender interface {
	Send(ctx context.Context, recipients []string, title, message, urgency string) error
}

// MemberStore mutates member records.
type MemberStore interface {
	Update(ctx context.Context, recordID, field string, value any) error
	AwardPoints(ctx context.Context, recordID string, points int, reason string) error
}

// TaskStore creates tasks and returns their identifier.
type TaskStore interface {
	Create(ctx context.Context, title, description, assignee, dueDate, priority string) (string, error)
}

// WebhookClient performs an outbound HTTP call.
type WebhookClient interface {
	Call(ctx context.Context, url, method string, headers map[string]string, body any) (int, string, error)
}

// ApprovalStore opens an approval request. A nil timeoutHours never expires.
// Decisions come back through the workflow executor.
type ApprovalStore interface {
	Request(ctx context.Context, approvers []string, title, description string, timeoutHours *int) (string, error)
}

// Collaborators bundles every external dependency the engine calls.
type Collaborators struct {
	Email        EmailSender
	Notification NotificationSender
	Members      MemberStore
	Tasks        TaskStore
	Webhooks     WebhookClient
	Approvals    ApprovalStore
}
