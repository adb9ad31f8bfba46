package types

import (
	"strings"
	"time"
)

// AgentStatus is the liveness state of an agent process.
type AgentStatus string

const (
	AgentStopped AgentStatus = "stopped"
	AgentRunning AgentStatus = "running"
	AgentFailed  AgentStatus = "failed"
)

// AssistantName is the agent that owns user sessions and coordinates collaborations.
const AssistantName = "assistant"

// AgentInfo is the control plane's view of one agent.
type AgentInfo struct {
	ID               string      `json:"id"`
	Name             string      `json:"name"`
	Role             string      `json:"role"`
	InboxTopic       string      `json:"inbox_topic"`
	StatusEndpoint   string      `json:"status_endpoint,omitempty"`
	Status           AgentStatus `json:"status"`
	PID              *int        `json:"pid,omitempty"`
	LastSeenAt       *time.Time  `json:"last_seen_at,omitempty"`
	ActionServerName string      `json:"action_server_name,omitempty"`
	Actions          []Action    `json:"actions,omitempty"`
}

// IsRunning reports whether the agent is recorded as running.
func (a AgentInfo) IsRunning() bool {
	return a.Status == AgentRunning
}

// Capability is one entry of an agent's runbook.
type Capability struct {
	Name         string            `json:"name"`
	Description  string            `json:"description"`
	Parameters   map[string]string `json:"parameters,omitempty"`
	ExampleUsage string            `json:"example_usage,omitempty"`
	Tags         []string          `json:"tags,omitempty"`
}

// Tag returns the capability name normalised into a delegation hint.
func (c Capability) Tag() string {
	return NormalizeName(c.Name)
}

// Action is a callable operation exposed by an action server.
type Action struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	Description    string            `json:"description"`
	Endpoint       string            `json:"endpoint"`
	Method         string            `json:"method"`
	Parameters     []ActionParameter `json:"parameters"`
	ResponseSchema map[string]any    `json:"response_schema,omitempty"`
	Enabled        bool              `json:"enabled"`
}

// ActionParameter describes one input of an Action.
type ActionParameter struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
	Default     any    `json:"default,omitempty"`
}

// NormalizeName lowercases a display name and replaces spaces with underscores.
func NormalizeName(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "_")
}

// DisplayName turns an agent name like "data_analyst" into "Data Analyst".
func DisplayName(name string) string {
	parts := strings.Split(name, "_")
	for i, p := range parts {
		if p == "" {
			continue
		}
		parts[i] = strings.ToUpper(p[:1]) + p[1:]
	}
	return strings.Join(parts, " ")
}
