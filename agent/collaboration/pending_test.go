package collaboration

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/agentmesh/agent/protocol"
)

func entry(agent, task, query string, idx, total int) Entry {
	return Entry{
		Agent:     agent,
		Result:    agent + " result",
		UserTopic: "user_session:main",
		Task: protocol.TaskPayload{
			Task:          task,
			SubtaskIndex:  idx,
			TotalSubtasks: total,
			OriginalQuery: query,
		},
	}
}

func TestIndex_FirstResponderWins(t *testing.T) {
	x := NewIndex()
	_, conflict := x.Add(entry("researcher", "find sources", "q", 0, 2))
	assert.False(t, conflict)

	first, conflict := x.Add(entry("writer", "find sources", "q", 0, 2))
	assert.True(t, conflict)
	assert.Equal(t, "researcher", first.Agent)
	assert.Equal(t, 1, x.Found("q"))
	assert.Equal(t, 1, x.Len())
}

func TestIndex_FoundCountsDistinctIndicesPerQuery(t *testing.T) {
	x := NewIndex()
	x.Add(entry("writer", "draft", "q1", 1, 2))
	x.Add(entry("researcher", "research", "q1", 0, 2))
	x.Add(entry("critic", "review", "q2", 0, 3))

	assert.Equal(t, 2, x.Found("q1"))
	assert.Equal(t, 1, x.Found("q2"))

	got := x.Collect("q1")
	require.Len(t, got, 2)
	assert.Equal(t, "researcher", got[0].Agent)
	assert.Equal(t, "writer", got[1].Agent)
}

func TestIndex_PurgeMarksFinished(t *testing.T) {
	x := NewIndex()
	now := time.Unix(1000, 0)
	x.Add(entry("writer", "draft", "q1", 0, 1))
	x.Add(entry("critic", "review", "q2", 0, 1))

	assert.Equal(t, 1, x.Purge("q1", now))
	assert.True(t, x.Finished("q1"))
	assert.False(t, x.Finished("q2"))
	assert.Equal(t, 1, x.Len())

	x.Reopen("q1")
	assert.False(t, x.Finished("q1"))

	x.Purge("q2", now)
	x.Forget(now.Add(time.Minute), 30*time.Second)
	assert.False(t, x.Finished("q2"))
}

func TestQueryOf_FallsBackToTask(t *testing.T) {
	assert.Equal(t, "q", QueryOf(protocol.TaskPayload{Task: "t", OriginalQuery: "q"}))
	assert.Equal(t, "t", QueryOf(protocol.TaskPayload{Task: "t"}))
	assert.Equal(t, "t_3", IndexKey("t", 3))
}
