// Package web provides HTTP request and response types for the orgflow API.
package web

import (
	"time"

	"github.com/dukex/orgflow/pkg/harness"
)

// SetRuleEnabledRequest turns a rule on or off.
type SetRuleEnabledRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

// StartExecutionRequest carries the trigger data for a manual run.
type StartExecutionRequest struct {
	Data map[string]any `json:"data"`
}

// DryRunRequest runs a stored workflow in the harness.
type DryRunRequest struct {
	Data            map[string]any    `json:"data"`
	Seed            uint64            `json:"seed"`
	FailureRate     float64           `json:"failure_rate"     validate:"gte=0,lte=1"`
	LatencyMs       int64             `json:"latency_ms"       validate:"gte=0"`
	Decisions       map[string]string `json:"decisions"        validate:"dive,oneof=approve reject expire"`
	DefaultDecision string            `json:"default_decision" validate:"omitempty,oneof=approve reject expire"`
}

// Options converts the request to harness options.
func (r DryRunRequest) Options() []harness.Option {
	opts := []harness.Option{
		harness.WithSeed(r.Seed),
		harness.WithFailureRate(r.FailureRate),
		harness.WithLatency(time.Duration(r.LatencyMs) * time.Millisecond),
	}

	if r.DefaultDecision != "" {
		opts = append(opts, harness.WithDefaultDecision(harness.Decision(r.DefaultDecision)))
	}

	for nodeID, decision := range r.Decisions {
		opts = append(opts, harness.WithDecision(nodeID, harness.Decision(decision)))
	}

	return opts
}

// DecisionRequest answers an approval.
type DecisionRequest struct {
	Approved *bool `json:"approved" validate:"required"`
}

// EventRequest submits a domain event.
type EventRequest struct {
	Name string         `json:"name" validate:"required"`
	Data map[string]any `json:"data"`
}

// ListResponse wraps collections so they can grow metadata later.
type ListResponse[T any] struct {
	Items      []T `json:"items"`
	TotalCount int `json:"total_count"`
}

func newListResponse[T any](items []T) ListResponse[T] {
	if items == nil {
		items = []T{}
	}

	return ListResponse[T]{Items: items, TotalCount: len(items)}
}
