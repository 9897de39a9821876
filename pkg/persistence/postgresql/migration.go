package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE rules (
				id TEXT PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				priority INTEGER NOT NULL DEFAULT 0,
				enabled BOOLEAN NOT NULL DEFAULT false,
				conditions JSONB NOT NULL DEFAULT '[]',
				actions JSONB NOT NULL DEFAULT '[]',
				created_by VARCHAR(255) NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				execution_count BIGINT NOT NULL DEFAULT 0
			);

			CREATE INDEX idx_rules_enabled ON rules(enabled);
			CREATE INDEX idx_rules_created_at ON rules(created_at, id);

			CREATE TABLE workflows (
				id TEXT PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				nodes JSONB NOT NULL DEFAULT '[]',
				edges JSONB NOT NULL DEFAULT '[]',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_workflows_created_at ON workflows(created_at, id);

			CREATE TABLE workflow_executions (
				id TEXT PRIMARY KEY,
				workflow_id TEXT NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
				status VARCHAR(20) NOT NULL CHECK (status IN ('pending', 'running', 'success', 'failed', 'cancelled')),
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE,
				trigger_data JSONB,
				error JSONB,
				duration_ms BIGINT NOT NULL DEFAULT 0,
				continuation JSONB,
				approval_id TEXT,
				cancel_requested BOOLEAN NOT NULL DEFAULT false
			);

			CREATE INDEX idx_workflow_executions_workflow_id ON workflow_executions(workflow_id, started_at);
			CREATE INDEX idx_workflow_executions_status ON workflow_executions(status);
			CREATE INDEX idx_workflow_executions_approval_id ON workflow_executions(approval_id) WHERE approval_id IS NOT NULL;

			CREATE TABLE node_executions (
				seq BIGSERIAL PRIMARY KEY,
				id TEXT NOT NULL UNIQUE,
				execution_id TEXT NOT NULL REFERENCES workflow_executions(id) ON DELETE CASCADE,
				node_id TEXT NOT NULL,
				node_type VARCHAR(50) NOT NULL,
				status VARCHAR(20) NOT NULL,
				input JSONB,
				output JSONB,
				duration_ms BIGINT NOT NULL DEFAULT 0,
				error TEXT NOT NULL DEFAULT '',
				started_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_node_executions_execution_id ON node_executions(execution_id, seq);
		`,
	}
}
