package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/orgflow/pkg/config"
	"github.com/dukex/orgflow/pkg/harness"
	"github.com/dukex/orgflow/pkg/log"
	"github.com/dukex/orgflow/pkg/models"
	"github.com/dukex/orgflow/pkg/schema"
	"github.com/urfave/cli/v3"
)

var ErrInvalidDecision = errors.New("decisions must look like node=approve|reject|expire")

// Trace is the dry-run report: the final execution and every simulated
// collaborator call in order.
type Trace struct {
	Execution *models.WorkflowExecution `json:"execution"`
	Calls     []TracedCall              `json:"calls"`
}

type TracedCall struct {
	Op         string `json:"op"`
	Args       []any  `json:"args"`
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

func NewDryRunCommand() *cli.Command {
	return &cli.Command{
		Name:      "dry-run",
		Aliases:   []string{"d"},
		Usage:     "Simulate a workflow document against fake collaborators and a fake clock",
		ArgsUsage: "<workflow-file>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "data",
				Usage: "Trigger data document (JSON or YAML)",
			},
			&cli.UintFlag{
				Name:  "seed",
				Usage: "Seed of the simulated failures and latencies",
			},
			&cli.FloatFlag{
				Name:  "failure-rate",
				Usage: "Probability in [0,1] that a collaborator call fails",
			},
			&cli.DurationFlag{
				Name:  "latency",
				Usage: "Upper bound of the simulated call latency",
			},
			&cli.StringSliceFlag{
				Name:  "decision",
				Usage: "Scripted approval answer, node=approve|reject|expire",
			},
			&cli.StringFlag{
				Name:  "default-decision",
				Usage: "Answer for approvals without a scripted decision",
				Value: string(harness.Approve),
			},
			&cli.StringFlag{
				Name:  "log-level",
				Value: "warn",
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			if command.Args().Len() != 1 {
				return ErrMissingDocument
			}

			log.Setup(command.String("log-level"))

			opts, err := harnessOptions(command)
			if err != nil {
				return err
			}

			trace, err := dryRun(ctx, command.Args().First(), command.String("data"), slog.Default(), opts...)
			if err != nil {
				return err
			}

			encoder := json.NewEncoder(command.Root().Writer)
			encoder.SetIndent("", "  ")

			return encoder.Encode(trace)
		},
	}
}

func harnessOptions(command *cli.Command) ([]harness.Option, error) {
	rate := command.Float("failure-rate")
	if rate < 0 || rate > 1 {
		return nil, fmt.Errorf("failure-rate must be within [0,1], got %v", rate)
	}

	fallback, err := parseDecision(command.String("default-decision"))
	if err != nil {
		return nil, err
	}

	opts := []harness.Option{
		harness.WithSeed(uint64(command.Uint("seed"))),
		harness.WithFailureRate(rate),
		harness.WithLatency(command.Duration("latency")),
		harness.WithDefaultDecision(fallback),
	}

	for _, entry := range command.StringSlice("decision") {
		nodeID, value, ok := strings.Cut(entry, "=")
		if !ok || nodeID == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidDecision, entry)
		}

		decision, err := parseDecision(value)
		if err != nil {
			return nil, err
		}

		opts = append(opts, harness.WithDecision(nodeID, decision))
	}

	return opts, nil
}

func parseDecision(value string) (harness.Decision, error) {
	switch decision := harness.Decision(value); decision {
	case harness.Approve, harness.Reject, harness.Expire:
		return decision, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidDecision, value)
	}
}

func dryRun(ctx context.Context, workflowPath, dataPath string, logger *slog.Logger, opts ...harness.Option) (*Trace, error) {
	validator := schema.New()

	workflow, err := readWorkflow(validator, workflowPath)
	if err != nil {
		return nil, err
	}

	if errs := validator.ValidateWorkflow(workflow); len(errs) > 0 {
		return nil, errs
	}

	if workflow.ID == "" {
		workflow.ID = "dry-run"
	}

	data := map[string]any{}

	if dataPath != "" {
		raw, err := config.ReadDocument(dataPath)
		if err != nil {
			return nil, err
		}

		err = json.Unmarshal(raw, &data)
		if err != nil {
			return nil, fmt.Errorf("failed to decode trigger data: %w", err)
		}
	}

	h := harness.New(logger, opts...)

	execution, err := h.Run(ctx, workflow, data)
	if err != nil {
		return nil, err
	}

	trace := &Trace{Execution: execution, Calls: make([]TracedCall, 0)}

	for _, call := range h.Simulator().Calls() {
		traced := TracedCall{Op: call.Op, Args: call.Args, DurationMs: call.Duration.Milliseconds()}
		if call.Err != nil {
			traced.Error = call.Err.Error()
		}

		trace.Calls = append(trace.Calls, traced)
	}

	return trace, nil
}

