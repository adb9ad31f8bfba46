package collaboration

import (
	"fmt"
	"sort"
	"time"

	"github.com/BaSui01/agentmesh/agent/protocol"
)

// Entry is one stored subtask result.
type Entry struct {
	Agent     string
	Result    string
	Task      protocol.TaskPayload
	UserTopic string
}

// Query returns the original query the entry belongs to.
func (e Entry) Query() string {
	return QueryOf(e.Task)
}

// QueryOf groups a subtask under its original query, falling back to the
// subtask text for delegations that carry none.
func QueryOf(t protocol.TaskPayload) string {
	if t.OriginalQuery != "" {
		return t.OriginalQuery
	}
	return t.Task
}

// IndexKey builds the key a subtask result is stored under.
func IndexKey(task string, subtaskIndex int) string {
	return fmt.Sprintf("%s_%d", task, subtaskIndex)
}

// Index is the pending-response index of decomposed collaborations. It is
// not safe for concurrent use; the Coordinator serialises access.
type Index struct {
	entries map[string]Entry
	// done remembers purged queries so a late repeat cannot reopen them.
	done map[string]time.Time
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{
		entries: make(map[string]Entry),
		done:    make(map[string]time.Time),
	}
}

// Add stores e unless its (task, index) slot is already filled, in which case
// the first result is kept and returned with conflict set.
func (x *Index) Add(e Entry) (first Entry, conflict bool) {
	key := IndexKey(e.Task.Task, e.Task.SubtaskIndex)
	if prev, ok := x.entries[key]; ok {
		return prev, true
	}
	x.entries[key] = e
	return e, false
}

// Found counts the distinct subtask indices reported for query.
func (x *Index) Found(query string) int {
	seen := make(map[int]struct{})
	for _, e := range x.entries {
		if e.Query() == query {
			seen[e.Task.SubtaskIndex] = struct{}{}
		}
	}
	return len(seen)
}

// Collect returns the entries for query ordered by subtask index.
func (x *Index) Collect(query string) []Entry {
	var out []Entry
	for _, e := range x.entries {
		if e.Query() == query {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Task.SubtaskIndex != out[j].Task.SubtaskIndex {
			return out[i].Task.SubtaskIndex < out[j].Task.SubtaskIndex
		}
		return out[i].Agent < out[j].Agent
	})
	return out
}

// Purge removes every entry for query and marks it finished at now.
func (x *Index) Purge(query string, now time.Time) int {
	n := 0
	for k, e := range x.entries {
		if e.Query() == query {
			delete(x.entries, k)
			n++
		}
	}
	x.done[query] = now
	return n
}

// Finished reports whether query was purged and not reopened since.
func (x *Index) Finished(query string) bool {
	_, ok := x.done[query]
	return ok
}

// Reopen forgets that query finished, for a new collaboration on the same text.
func (x *Index) Reopen(query string) {
	delete(x.done, query)
}

// Forget drops finished markers older than horizon.
func (x *Index) Forget(now time.Time, horizon time.Duration) {
	for q, t := range x.done {
		if now.Sub(t) > horizon {
			delete(x.done, q)
		}
	}
}

// Len returns the number of stored entries.
func (x *Index) Len() int {
	return len(x.entries)
}
