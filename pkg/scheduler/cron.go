package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/dukex/orgflow/pkg/models"
	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
)

// FireFunc starts a scheduled workflow.
type FireFunc func(ctx context.Context, workflowID string, triggerData map[string]any) error

type cronEntry struct {
	id       cron.EntryID
	schedule string
}

// CronTriggers keeps one cron entry per workflow whose trigger has a schedule.
type CronTriggers struct {
	cron    *cron.Cron
	fire    FireFunc
	clock   clockwork.Clock
	logger  *slog.Logger
	mu      sync.Mutex
	entries map[string]cronEntry
}

func NewCronTriggers(fire FireFunc, clock clockwork.Clock, logger *slog.Logger) *CronTriggers {
	logger = logger.With("module", "cron_triggers")
	cronLogger := slogCronLogger{logger: logger}

	return &CronTriggers{
		cron: cron.New(
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.SkipIfStillRunning(cronLogger), cron.Recover(cronLogger)),
		),
		fire:    fire,
		clock:   clock,
		logger:  logger,
		entries: make(map[string]cronEntry),
	}
}

// Sync registers the schedules of the given workflows and drops entries for
// workflows that are gone or no longer scheduled.
func (c *CronTriggers) Sync(workflows []*models.Workflow) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	wanted := make(map[string]string)

	for _, workflow := range workflows {
		trigger := workflow.TriggerConfig()
		if trigger == nil || trigger.Schedule == "" {
			continue
		}

		wanted[workflow.ID] = trigger.Schedule
	}

	for workflowID, entry := range c.entries {
		if schedule, ok := wanted[workflowID]; !ok || schedule != entry.schedule {
			c.cron.Remove(entry.id)
			delete(c.entries, workflowID)
		}
	}

	for _, workflowID := range slices.Sorted(maps.Keys(wanted)) {
		if _, ok := c.entries[workflowID]; ok {
			continue
		}

		schedule := wanted[workflowID]

		id, err := c.cron.AddFunc(schedule, c.job(workflowID, schedule))
		if err != nil {
			return fmt.Errorf("failed to schedule workflow %s: %w", workflowID, err)
		}

		c.entries[workflowID] = cronEntry{id: id, schedule: schedule}
		c.logger.Info("Scheduled workflow", "workflow_id", workflowID, "schedule", schedule)
	}

	return nil
}

// Scheduled returns the ids of the workflows with an active cron entry.
func (c *CronTriggers) Scheduled() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return slices.Sorted(maps.Keys(c.entries))
}

// Fire runs the scheduled trigger of a workflow immediately.
func (c *CronTriggers) Fire(ctx context.Context, workflowID string) error {
	c.mu.Lock()
	entry, ok := c.entries[workflowID]
	c.mu.Unlock()

	if !ok {
		return fmt.Errorf("workflow %s has no schedule", workflowID)
	}

	return c.fire(ctx, workflowID, c.triggerData(entry.schedule))
}

func (c *CronTriggers) job(workflowID, schedule string) func() {
	return func() {
		ctx := context.Background()

		err := c.fire(ctx, workflowID, c.triggerData(schedule))
		if err != nil {
			c.logger.ErrorContext(ctx, "Scheduled workflow failed to start", "workflow_id", workflowID, "error", err)
		}
	}
}

func (c *CronTriggers) triggerData(schedule string) map[string]any {
	return map[string]any{
		"event": map[string]any{
			"type":         "schedule",
			"schedule":     schedule,
			"scheduled_at": c.clock.Now().UTC().Format(time.RFC3339),
		},
	}
}

func (c *CronTriggers) Start() {
	c.cron.Start()
}

// Stop stops the cron loop and waits for running jobs.
func (c *CronTriggers) Stop(ctx context.Context) error {
	select {
	case <-c.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type slogCronLogger struct {
	logger *slog.Logger
}

func (l slogCronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l slogCronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
