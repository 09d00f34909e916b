package main

import "github.com/lodestar-dev/lodestar/internal/envelope"

// init registers a JSON-shape stub for every stable operation name so
// --schema has something to print without opening a repository. The
// shapes list the main fields of each command's payload (optional
// fields such as an agent's session_meta or a task's prd binding are
// left out, and list payloads are shown under an "items" key); they
// are descriptive, not a formal JSON Schema document.
func init() {
	envelope.Register("repo.status", "Summarize repository state across both planes.", map[string]any{
		"root": "string", "project_name": "string", "task_count": "int", "ready_count": "int",
		"done_count": "int", "verified_count": "int", "deleted_count": "int", "agent_count": "int",
		"protocol_version": "string", "schema_compat": "string",
	})
	envelope.Register("health.check", "Confirm both planes are reachable.", map[string]any{
		"ok": "bool", "repo_root": "string", "spec_readable": "bool", "runtime_queryable": "bool",
	})
	envelope.Register("export.snapshot", "Export a point-in-time snapshot of both planes.", map[string]any{
		"taken_at": "string (RFC3339)", "spec": "object", "agents": "array",
	})
	envelope.Register("init", "Initialize a new repository anchor.", map[string]any{
		"root": "string", "project_name": "string", "default_branch": "string",
		"spec_path": "string", "runtime_path": "string",
	})

	envelope.Register("agent.join", "Register a new agent.", agentShape)
	envelope.Register("agent.list", "List registered agents.", map[string]any{"items": []any{agentShape}})
	envelope.Register("agent.find", "Find a single agent by ID.", agentShape)
	envelope.Register("agent.heartbeat", "Record a liveness heartbeat.", map[string]any{})
	envelope.Register("agent.leave", "Record a graceful departure.", map[string]any{})

	envelope.Register("task.list", "List tasks in the spec.", map[string]any{"items": []any{taskShape}})
	envelope.Register("task.get", "Get a single task.", taskShape)
	envelope.Register("task.next", "List the best claimable tasks.", map[string]any{
		"items": []any{map[string]any{"task": taskShape, "rationale": "string"}},
	})
	envelope.Register("task.create", "Create a new ready task.", taskShape)
	envelope.Register("task.update", "Overwrite a task's mutable fields.", taskShape)
	envelope.Register("task.delete", "Soft-delete a task.", map[string]any{})
	envelope.Register("task.claim", "Claim a lease on a claimable task.", leaseShape)
	envelope.Register("task.renew", "Extend the acting agent's active lease.", leaseShape)
	envelope.Register("task.release", "Release the acting agent's active lease.", map[string]any{})
	envelope.Register("task.done", "Transition ready -> done.", taskShape)
	envelope.Register("task.verify", "Transition done -> verified.", verifyShape)
	envelope.Register("task.complete", "Transition ready -> verified atomically.", verifyShape)
	envelope.Register("task.context", "Deliver a task's bound PRD context.", map[string]any{
		"frozen_excerpt": "string", "body": "string", "truncated": "bool",
		"drift_changed": "bool", "affected_refs": "array<string>",
	})
	envelope.Register("task.graph", "Show the task dependency graph.", map[string]any{
		"topo_order": "array<string>", "dependents": "map<string, array<string>>",
	})

	envelope.Register("message.send", "Send a message to an agent or a task's thread.", messageShape)
	envelope.Register("message.list", "List messages addressed to an agent.", map[string]any{"items": []any{messageShape}})
	envelope.Register("message.thread", "List a task's message thread.", map[string]any{"items": []any{messageShape}})
	envelope.Register("message.search", "Search messages by keyword and/or sender.", map[string]any{"items": []any{messageShape}})
	envelope.Register("message.ack", "Mark a message read.", map[string]any{"acked": "bool"})

	envelope.Register("events.pull", "Pull events after a cursor.", map[string]any{
		"events": "array<object>", "next_cursor": "int64",
	})
}

var agentShape = map[string]any{
	"agent_id": "string", "display_name": "string", "role": "string",
	"capabilities": "array<string>", "registered_at": "string (RFC3339)", "last_seen_at": "string (RFC3339)",
}

var taskShape = map[string]any{
	"id": "string", "title": "string", "description": "string", "acceptance_criteria": "string",
	"status": "ready|done|verified|deleted", "priority": "int", "labels": "array<string>",
	"depends_on": "array<string>", "locks": "array<string>",
	"created_at": "string (RFC3339)", "updated_at": "string (RFC3339)",
}

var leaseShape = map[string]any{
	"lease_id": "string", "task_id": "string", "agent_id": "string",
	"created_at": "string (RFC3339)", "expires_at": "string (RFC3339)",
}

var verifyShape = map[string]any{
	"task": taskShape, "newly_ready_task_ids": "array<string>",
}

var messageShape = map[string]any{
	"message_id": "int64", "created_at": "string (RFC3339)", "from_agent_id": "string",
	"to_type": "agent|task", "to_id": "string", "subject": "string", "body": "string",
	"severity": "string", "task_id": "string", "read_at": "string (RFC3339) | null",
}
