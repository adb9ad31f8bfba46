package collaboration

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/BaSui01/agentmesh/types"
)

// History keeps the conversation this agent had with each peer. Storage is
// unbounded for the life of the process; only the most recent turns are
// handed to the completion service.
type History struct {
	limit int

	mu    sync.Mutex
	turns map[string][]types.Message
}

// NewHistory creates an empty history that injects limit turns per peer.
func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = 5
	}
	return &History{limit: limit, turns: make(map[string][]types.Message)}
}

// Append records one turn with peer.
func (h *History) Append(peer string, m types.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns[peer] = append(h.turns[peer], m)
}

// DropLast removes the most recent turn with peer, used when a send fails.
func (h *History) DropLast(peer string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if n := len(h.turns[peer]); n > 0 {
		h.turns[peer] = h.turns[peer][:n-1]
	}
}

// All returns a copy of every turn with peer.
func (h *History) All(peer string) []types.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]types.Message(nil), h.turns[peer]...)
}

// Recent returns a copy of the last limit turns with peer.
func (h *History) Recent(peer string) []types.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.recentLocked(peer)
}

func (h *History) recentLocked(peer string) []types.Message {
	t := h.turns[peer]
	if len(t) > h.limit {
		t = t[len(t)-h.limit:]
	}
	return append([]types.Message(nil), t...)
}

// Peers lists peers with at least one turn, sorted.
func (h *History) Peers() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.turns))
	for p, t := range h.turns {
		if len(t) > 0 {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

// Inject prepends one system message per peer summarising the recent turns,
// so the completion service sees earlier exchanges with other agents.
func (h *History) Inject(messages []types.Message) []types.Message {
	peers := h.Peers()
	if len(peers) == 0 {
		return messages
	}

	h.mu.Lock()
	out := make([]types.Message, 0, len(peers)+len(messages))
	for _, p := range peers {
		var b strings.Builder
		fmt.Fprintf(&b, "Previous conversation with %s:\n", p)
		for _, m := range h.recentLocked(p) {
			fmt.Fprintf(&b, "%s: %s\n", titleRole(m.Role), m.Content)
		}
		out = append(out, types.NewSystemMessage(b.String()))
	}
	h.mu.Unlock()

	return append(out, messages...)
}

func titleRole(r types.Role) string {
	s := string(r)
	if s == "" {
		return "Unknown"
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
