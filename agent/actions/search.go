package actions

import (
	"sort"
	"strings"

	"github.com/BaSui01/agentmesh/types"
)

// Relevance of a search match.
const (
	RelevanceHigh   = "high"
	RelevanceMedium = "medium"
)

// Owned is an action together with the agent that owns it.
type Owned struct {
	AgentName string       `json:"agent_name"`
	AgentRole string       `json:"agent_role"`
	Action    types.Action `json:"action"`
}

// Match is one search hit.
type Match struct {
	Owned
	Relevance string `json:"relevance"`
}

// Collect flattens the actions of agents in their given order.
func Collect(agents []types.AgentInfo) []Owned {
	var out []Owned
	for _, a := range agents {
		for _, act := range a.Actions {
			out = append(out, Owned{AgentName: a.Name, AgentRole: a.Role, Action: act})
		}
	}
	return out
}

// Search finds actions whose name, description or owning agent contains
// query, case-insensitively. Name hits rank high and come first; the order
// within a relevance class follows agents.
func Search(agents []types.AgentInfo, query string) []Match {
	q := strings.ToLower(query)
	matches := []Match{}
	for _, o := range Collect(agents) {
		name := strings.ToLower(o.Action.Name)
		if !strings.Contains(name, q) &&
			!strings.Contains(strings.ToLower(o.Action.Description), q) &&
			!strings.Contains(strings.ToLower(o.AgentName), q) {
			continue
		}
		rel := RelevanceMedium
		if strings.Contains(name, q) {
			rel = RelevanceHigh
		}
		matches = append(matches, Match{Owned: o, Relevance: rel})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Relevance == RelevanceHigh && matches[j].Relevance != RelevanceHigh
	})
	return matches
}

// Find returns the action with id from actions.
func Find(actions []types.Action, id string) (types.Action, bool) {
	for _, a := range actions {
		if a.ID == id {
			return a, true
		}
	}
	return types.Action{}, false
}
