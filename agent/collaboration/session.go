package collaboration

import (
	"sort"
	"time"

	"github.com/BaSui01/agentmesh/agent/protocol"
)

// State is the lifecycle position of a collaboration.
type State int

const (
	StatePending State = iota
	StateComplete
	StateTimedOut
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateComplete:
		return "complete"
	case StateTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Response is one agent's answer to a delegated task.
type Response struct {
	Agent  string
	Result string
	Task   protocol.TaskPayload
}

// Session tracks an ad-hoc collaboration: one task sent to a named set of
// agents, completed when all of them have answered.
type Session struct {
	Key       string
	Task      string
	UserTopic string
	Expected  []string
	Received  []Response
	StartedAt time.Time
	Timeout   time.Duration
	State     State
}

// SessionKey builds the key an ad-hoc session is stored under.
func SessionKey(task, replyTo string) string {
	return "collaboration_" + task + "_" + replyTo
}

func (s *Session) expects(agent string) bool {
	for _, a := range s.Expected {
		if a == agent {
			return true
		}
	}
	return false
}

func (s *Session) answered(agent string) bool {
	for _, r := range s.Received {
		if r.Agent == agent {
			return true
		}
	}
	return false
}

// Missing lists expected agents that have not answered, in delegation order.
func (s *Session) Missing() []string {
	var out []string
	for _, a := range s.Expected {
		if !s.answered(a) {
			out = append(out, a)
		}
	}
	return out
}

// Responders lists the agents that have answered, in arrival order.
func (s *Session) Responders() []string {
	out := make([]string, 0, len(s.Received))
	for _, r := range s.Received {
		out = append(out, r.Agent)
	}
	return out
}

// Complete reports whether every expected agent has answered.
func (s *Session) Complete() bool {
	return len(s.Missing()) == 0
}

// Expired reports whether the session outlived its timeout at now.
func (s *Session) Expired(now time.Time) bool {
	return now.Sub(s.StartedAt) > s.Timeout
}

// Verdict says what happened to a response offered to Sessions.Record.
type Verdict int

const (
	// VerdictNoSession means no session matches the key.
	VerdictNoSession Verdict = iota
	// VerdictUnexpected means the sender was not asked to take part.
	VerdictUnexpected
	// VerdictRepeat means the sender already answered; the first answer stands.
	VerdictRepeat
	// VerdictWaiting means the response was stored and others are outstanding.
	VerdictWaiting
	// VerdictComplete means the response finished the session, which is removed.
	VerdictComplete
)

// Sessions is the set of live ad-hoc collaborations. It is not safe for
// concurrent use; the Coordinator serialises access.
type Sessions struct {
	items map[string]*Session
}

// NewSessions creates an empty set.
func NewSessions() *Sessions {
	return &Sessions{items: make(map[string]*Session)}
}

// Open starts tracking s, replacing any live session with the same key.
// It reports whether a session was replaced.
func (ss *Sessions) Open(s *Session) bool {
	_, replaced := ss.items[s.Key]
	s.State = StatePending
	ss.items[s.Key] = s
	return replaced
}

// Get returns the live session stored under key.
func (ss *Sessions) Get(key string) (*Session, bool) {
	s, ok := ss.items[key]
	return s, ok
}

// Len returns the number of live sessions.
func (ss *Sessions) Len() int {
	return len(ss.items)
}

// Record attributes r to the session under key. Completed sessions are
// removed and never come back under the same key unless reopened.
func (ss *Sessions) Record(key string, r Response) (*Session, Verdict) {
	s, ok := ss.items[key]
	if !ok {
		return nil, VerdictNoSession
	}
	if !s.expects(r.Agent) {
		return s, VerdictUnexpected
	}
	if s.answered(r.Agent) {
		return s, VerdictRepeat
	}
	s.Received = append(s.Received, r)
	if !s.Complete() {
		return s, VerdictWaiting
	}
	s.State = StateComplete
	delete(ss.items, key)
	return s, VerdictComplete
}

// Sweep removes every session that expired at now and returns them oldest
// first, marked timed out.
func (ss *Sessions) Sweep(now time.Time) []*Session {
	var expired []*Session
	for k, s := range ss.items {
		if s.Expired(now) {
			s.State = StateTimedOut
			expired = append(expired, s)
			delete(ss.items, k)
		}
	}
	sort.Slice(expired, func(i, j int) bool {
		return expired[i].StartedAt.Before(expired[j].StartedAt)
	})
	return expired
}
