package workflow

import (
	"log/slog"
	"strings"

	"github.com/dukex/orgflow/pkg/models"
)

// TriggerMatcher selects the workflows an inbound domain event starts.
type TriggerMatcher struct {
	logger *slog.Logger
}

// MatchResult is a workflow whose trigger accepts the event.
type MatchResult struct {
	Workflow *models.Workflow
	Trigger  *models.TriggerConfig
	// Score is 2 for an exact event name and 1 for a wildcard.
	Score int
}

func NewTriggerMatcher(logger *slog.Logger) *TriggerMatcher {
	return &TriggerMatcher{
		logger: logger.With("module", "trigger_matcher"),
	}
}

// MatchWorkflows returns the workflows whose trigger event matches eventName,
// in the given order. Scheduled-only triggers never match an event.
func (tm *TriggerMatcher) MatchWorkflows(eventName string, workflows []*models.Workflow) []MatchResult {
	results := make([]MatchResult, 0)

	for _, workflow := range workflows {
		trigger := workflow.TriggerConfig()
		if trigger == nil || trigger.Event == "" {
			continue
		}

		score := matchEvent(trigger.Event, eventName)
		if score == 0 {
			continue
		}

		results = append(results, MatchResult{Workflow: workflow, Trigger: trigger, Score: score})

		tm.logger.Debug("Found matching workflow",
			"workflow_id", workflow.ID,
			"event", eventName,
			"score", score)
	}

	tm.logger.Debug("Completed trigger matching", "event", eventName, "matches_found", len(results))

	return results
}

// matchEvent compares a trigger pattern with an event name. "*" matches
// everything and "member.*" matches every event under "member.".
func matchEvent(pattern, eventName string) int {
	switch {
	case pattern == eventName:
		return 2
	case pattern == "*":
		return 1
	case strings.HasSuffix(pattern, ".*") && strings.HasPrefix(eventName, strings.TrimSuffix(pattern, "*")):
		return 1
	default:
		return 0
	}
}
