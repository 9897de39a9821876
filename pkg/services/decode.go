package services

import (
	"encoding/json"
	"fmt"

	"github.com/dukex/orgflow/pkg/models"
	"github.com/dukex/orgflow/pkg/schema"
)

// DecodeRule parses a rule document. Malformed JSON and unknown action types
// are reported as validation errors.
func DecodeRule(data []byte) (*models.Rule, error) {
	var rule models.Rule

	err := json.Unmarshal(data, &rule)
	if err != nil {
		return nil, invalid("DecodeRule", "INVALID_RULE", models.ValidationErrors{{Message: err.Error()}})
	}

	return &rule, nil
}

// DecodeWorkflow parses a workflow document. Every node config is first
// checked against its type's JSON schema so type mismatches are reported per
// field instead of as a decoding failure.
func DecodeWorkflow(validator *schema.Validator, data []byte) (*models.Workflow, error) {
	var raw struct {
		Nodes []struct {
			Type   models.NodeType `json:"type"`
			Config json.RawMessage `json:"config"`
		} `json:"nodes"`
	}

	err := json.Unmarshal(data, &raw)
	if err != nil {
		return nil, invalid("DecodeWorkflow", "INVALID_WORKFLOW", models.ValidationErrors{{Message: err.Error()}})
	}

	var errs models.ValidationErrors
	for i, node := range raw.Nodes {
		errs.Merge(fmt.Sprintf("nodes[%d].config", i), validator.ValidateRaw(node.Type, node.Config))
	}

	if len(errs) > 0 {
		return nil, invalid("DecodeWorkflow", "INVALID_WORKFLOW", errs)
	}

	var workflow models.Workflow

	err = json.Unmarshal(data, &workflow)
	if err != nil {
		return nil, invalid("DecodeWorkflow", "INVALID_WORKFLOW", models.ValidationErrors{{Message: err.Error()}})
	}

	return &workflow, nil
}
