package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dukex/orgflow/pkg/config"
	"github.com/dukex/orgflow/pkg/models"
	"github.com/dukex/orgflow/pkg/schema"
	"github.com/dukex/orgflow/pkg/services"
	"github.com/urfave/cli/v3"
)

var ErrMissingDocument = errors.New("a rule or workflow document is required")

func NewValidateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Aliases:   []string{"v"},
		Usage:     "Check rule and workflow documents (JSON or YAML) without running them",
		ArgsUsage: "<file>...",
		Action: func(_ context.Context, command *cli.Command) error {
			if command.Args().Len() == 0 {
				return ErrMissingDocument
			}

			validator := schema.New()

			var errs []error

			for _, path := range command.Args().Slice() {
				kind, name, err := validateFile(validator, path)
				if err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", path, err))

					continue
				}

				_, _ = fmt.Fprintf(command.Root().Writer, "%s: valid %s %q\n", path, kind, name)
			}

			return errors.Join(errs...)
		},
	}
}

// validateFile decodes and validates one document. Documents with a nodes
// list are workflows, everything else is a rule.
func validateFile(validator *schema.Validator, path string) (string, string, error) {
	data, err := config.ReadDocument(path)
	if err != nil {
		return "", "", err
	}

	if isWorkflow(data) {
		workflow, err := services.DecodeWorkflow(validator, data)
		if err != nil {
			return "workflow", "", err
		}

		if errs := validator.ValidateWorkflow(workflow); len(errs) > 0 {
			return "workflow", workflow.Name, errs
		}

		return "workflow", workflow.Name, nil
	}

	rule, err := services.DecodeRule(data)
	if err != nil {
		return "rule", "", err
	}

	if errs := validator.ValidateRule(rule); len(errs) > 0 {
		return "rule", rule.Name, errs
	}

	return "rule", rule.Name, nil
}

func isWorkflow(data []byte) bool {
	var probe struct {
		Nodes json.RawMessage `json:"nodes"`
	}

	return json.Unmarshal(data, &probe) == nil && len(probe.Nodes) > 0
}

func readWorkflow(validator *schema.Validator, path string) (*models.Workflow, error) {
	data, err := config.ReadDocument(path)
	if err != nil {
		return nil, err
	}

	return services.DecodeWorkflow(validator, data)
}
