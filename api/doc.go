// Package api holds the wire types of the agentmesh control plane.
//
// # API Overview
//
// The orchestrator (agentmesh serve) exposes a JSON-over-HTTP API used by
// agent processes and operators:
//   - agent registration, discovery and lifecycle (start, stop, create, delete)
//   - runbook publication and lookup
//   - action-server assignment and action execution
//   - chat history and the websocket bridge at /ws/{session_id}
//   - health, readiness and version probes
//
// Every endpoint answers with an Envelope:
//
//	{"ok": true, "message": "...", "data": {...}, "timestamp": "..."}
//	{"ok": false, "error": "...", "code": "AGENT_NOT_FOUND", "timestamp": "..."}
//
// # Base URL
//
// The default base URL is:
//
//	http://localhost:9000
package api
