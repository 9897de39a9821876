package workflow

import (
	"slices"

	"github.com/dukex/orgflow/pkg/models"
)

// successor returns the node that follows nodeID on the given branch, or ""
// when the branch ends there.
//
// Without edges the declaration order is a linear chain: false and rejected
// branches end the run and a loop has no body. With edges a labelled branch
// takes the first edge carrying that label; the true, approved and loop-done
// branches fall back to the first unlabelled edge. An unlabelled step takes
// its first unlabelled edge, or its first edge of any label.
func successor(workflow *models.Workflow, nodeID string, label models.EdgeLabel) string {
	if len(workflow.Edges) == 0 {
		return nextDeclared(workflow, nodeID, label)
	}

	edges := workflow.Outgoing(nodeID)

	if label == "" {
		for _, edge := range edges {
			if edge.Label == "" {
				return edge.Target
			}
		}

		if len(edges) > 0 {
			return edges[0].Target
		}

		return ""
	}

	for _, edge := range edges {
		if edge.Label == label {
			return edge.Target
		}
	}

	if fallsBack(label) {
		for _, edge := range edges {
			if edge.Label == "" {
				return edge.Target
			}
		}
	}

	return ""
}

func fallsBack(label models.EdgeLabel) bool {
	return label == models.EdgeTrue || label == models.EdgeApproved || label == models.EdgeLoopDone
}

func nextDeclared(workflow *models.Workflow, nodeID string, label models.EdgeLabel) string {
	switch label {
	case models.EdgeFalse, models.EdgeRejected, models.EdgeLoopBody:
		return ""
	}

	index := slices.IndexFunc(workflow.Nodes, func(node *models.WorkflowNode) bool {
		return node.ID == nodeID
	})

	if index < 0 || index+1 >= len(workflow.Nodes) {
		return ""
	}

	return workflow.Nodes[index+1].ID
}
