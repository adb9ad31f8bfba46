package collaboration

import (
	"time"

	"github.com/BaSui01/agentmesh/agent/protocol"
	"github.com/BaSui01/agentmesh/config"
)

// Modes label the two correlation schemes in logs and metrics.
const (
	ModeDecomposed = "decomposed"
	ModeAdHoc      = "adhoc"
)

// Outcomes reported to an Observer.
const (
	OutcomeComplete = "complete"
	OutcomeTimeout  = "timeout"
	OutcomeEmpty    = "empty"
)

// Config tunes a Coordinator.
type Config struct {
	// Timeout bounds an ad-hoc session.
	Timeout time.Duration
	// PlanTimeout bounds a decomposed collaboration.
	PlanTimeout time.Duration
	// HistoryTurns is how many turns per peer are injected into prompts.
	HistoryTurns int
	// DefaultUserTopic receives results that carry no user topic.
	DefaultUserTopic string
}

// DefaultConfig returns the stock coordinator settings.
func DefaultConfig() Config {
	return ConfigFrom(config.DefaultMeshConfig())
}

// ConfigFrom derives a Config from the mesh section of the process config.
func ConfigFrom(m config.MeshConfig) Config {
	cfg := Config{
		Timeout:          m.CollaborationTimeout,
		HistoryTurns:     m.HistoryTurns,
		DefaultUserTopic: protocol.UserTopic(m.SessionID),
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	cfg.PlanTimeout = 10 * cfg.Timeout
	if cfg.HistoryTurns <= 0 {
		cfg.HistoryTurns = 5
	}
	if m.SessionID == "" {
		cfg.DefaultUserTopic = protocol.UserTopic("main")
	}
	return cfg
}

// Observer receives the outcome of each finished collaboration.
type Observer interface {
	ObserveCollaboration(mode, outcome string, seconds float64)
}
