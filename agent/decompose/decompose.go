// Package decompose turns one free-text task into an ordered list of subtasks.
//
// The completion service is asked first. When it is unavailable, or answers
// with anything other than a JSON array of subtasks, a deterministic heuristic
// takes over; decomposition therefore never fails and always yields at least
// one subtask.
package decompose

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/BaSui01/agentmesh/llm"
	"github.com/BaSui01/agentmesh/types"
)

// MaxSubtasks caps the size of a decomposition.
const MaxSubtasks = 5

// ComplexKeywords push a task into the multi-agent buckets.
var ComplexKeywords = []string{
	"research", "analyze", "strategy", "future",
	"development", "comprehensive", "explore", "investigate",
}

const systemPrompt = "You are a task decomposition specialist. Break down complex tasks into actionable subtasks."

const promptTemplate = `Break down this complex task into 3-5 smaller, manageable subtasks that different agents can handle:

Task: %s

Create concise subtasks that can be completed quickly. Consider:
- Research/Planning agents for gathering information
- Creative agents for content generation
- Review agents for quality assurance

Return a JSON array (3-5 items max) where each object has:
- "task": the specific subtask (keep under 100 characters)
- "agent_type": suggested agent specialization (1-2 words)
- "priority": 1-5 (5 being highest)
- "dependencies": array of other subtask indices this depends on

Focus on efficiency - fewer, more focused tasks work better.`

// Subtask is one unit of delegated work.
type Subtask struct {
	Task         string `json:"task"`
	AgentType    string `json:"agent_type"`
	Priority     int    `json:"priority"`
	Dependencies []int  `json:"dependencies"`
	// CollaborationID ties the subtask to the collaboration that created it.
	CollaborationID string `json:"-"`
}

// Agent describes a known agent for capability hints.
type Agent struct {
	Name         string
	Capabilities []types.Capability
}

// PrimaryCapability returns the agent's first capability as a hint tag, or
// "general" when it declares none.
func (a Agent) PrimaryCapability() string {
	if len(a.Capabilities) == 0 || strings.TrimSpace(a.Capabilities[0].Name) == "" {
		return "general"
	}
	return a.Capabilities[0].Tag()
}

// Decomposer splits tasks with the completion service and a heuristic fallback.
type Decomposer struct {
	completer llm.Completer
	logger    *zap.Logger
}

// New creates a Decomposer. completer may be nil, in which case only the
// heuristic is used.
func New(completer llm.Completer, logger *zap.Logger) *Decomposer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Decomposer{
		completer: completer,
		logger:    logger.With(zap.String("component", "decomposer")),
	}
}

// Decompose returns 1 to MaxSubtasks subtasks for task. agents are the known
// agents in discovery order and only feed the fallback's capability hints.
func (d *Decomposer) Decompose(ctx context.Context, task string, agents []Agent) []Subtask {
	if d.completer != nil {
		out, ok := d.completer.Complete(ctx,
			[]types.Message{types.NewUserMessage(fmt.Sprintf(promptTemplate, task))},
			llm.WithSystem(systemPrompt),
		)
		if ok {
			subtasks, err := Parse(out)
			if err == nil {
				d.logger.Debug("decomposed with completion service", zap.Int("subtasks", len(subtasks)))
				return subtasks
			}
			d.logger.Info("completion output unusable, using heuristic", zap.Error(err))
		} else {
			d.logger.Info("completion service unavailable, using heuristic")
		}
	}
	return Fallback(task, hints(agents))
}

func hints(agents []Agent) []string {
	out := make([]string, 0, len(agents))
	for _, a := range agents {
		out = append(out, a.PrimaryCapability())
	}
	return out
}

// Parse decodes a completion into subtasks. It accepts only a non-empty JSON
// array of objects that each carry a task string.
func Parse(output string) ([]Subtask, error) {
	raw := llm.ExtractJSON(output)
	var items []map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, fmt.Errorf("not a JSON array of objects: %w", err)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("empty decomposition")
	}
	if len(items) > MaxSubtasks {
		items = items[:MaxSubtasks]
	}

	subtasks := make([]Subtask, 0, len(items))
	for i, item := range items {
		var st Subtask
		if err := json.Unmarshal(item["task"], &st.Task); err != nil || strings.TrimSpace(st.Task) == "" {
			return nil, fmt.Errorf("subtask %d has no task", i)
		}
		st.AgentType = "general"
		if v, ok := item["agent_type"]; ok {
			var at string
			if json.Unmarshal(v, &at) == nil && strings.TrimSpace(at) != "" {
				st.AgentType = at
			}
		}
		st.Priority = 3
		if v, ok := item["priority"]; ok {
			var p float64
			if json.Unmarshal(v, &p) == nil {
				st.Priority = clamp(int(p), 1, 5)
			}
		}
		st.Dependencies = []int{}
		if v, ok := item["dependencies"]; ok {
			var deps []int
			if json.Unmarshal(v, &deps) == nil {
				for _, dep := range deps {
					if dep >= 0 && dep < len(items) && dep != i {
						st.Dependencies = append(st.Dependencies, dep)
					}
				}
			}
		}
		subtasks = append(subtasks, st)
	}
	return subtasks, nil
}

// Fallback is the deterministic, total heuristic used whenever the completion
// service cannot produce a decomposition. hints are the primary capability
// tags of the known agents, in discovery order.
//
//   - fewer than 8 words and no complex keyword: 1 subtask
//   - fewer than 15 words, or any complex keyword: 2 subtasks, chained 0→1
//   - otherwise: 3 subtasks, chained 0→1→2
func Fallback(task string, hints []string) []Subtask {
	words := len(strings.Fields(task))
	complexTask := HasComplexKeyword(task)
	excerpt := truncate(task, 50)

	switch {
	case words < 8 && !complexTask:
		return []Subtask{
			{Task: task, AgentType: "general", Priority: 5, Dependencies: []int{}},
		}
	case words < 15 || complexTask:
		first, second := "research", "creative"
		if len(hints) >= 2 {
			first, second = hints[0], hints[1]
		}
		return []Subtask{
			{Task: "Research and gather information about: " + excerpt + "...", AgentType: first, Priority: 5, Dependencies: []int{}},
			{Task: "Create comprehensive response for: " + excerpt + "...", AgentType: second, Priority: 4, Dependencies: []int{0}},
		}
	default:
		first, second, third := "research", "creative", "review"
		switch {
		case len(hints) >= 3:
			first, second, third = hints[0], hints[1], hints[2]
		case len(hints) == 2:
			first, second, third = hints[0], hints[1], hints[1]
		}
		return []Subtask{
			{Task: "Research and gather information about: " + excerpt + "...", AgentType: first, Priority: 5, Dependencies: []int{}},
			{Task: "Create content based on: " + excerpt + "...", AgentType: second, Priority: 4, Dependencies: []int{0}},
			{Task: "Review and improve the content for: " + excerpt + "...", AgentType: third, Priority: 3, Dependencies: []int{1}},
		}
	}
}

// HasComplexKeyword reports whether task contains any ComplexKeywords entry.
func HasComplexKeyword(task string) bool {
	lower := strings.ToLower(task)
	for _, kw := range ComplexKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
