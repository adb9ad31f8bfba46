package collaboration

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/agentmesh/agent/bus"
	"github.com/BaSui01/agentmesh/agent/discovery"
	"github.com/BaSui01/agentmesh/agent/protocol"
	"github.com/BaSui01/agentmesh/llm"
	"github.com/BaSui01/agentmesh/testutil"
	"github.com/BaSui01/agentmesh/testutil/fixtures"
	"github.com/BaSui01/agentmesh/testutil/mocks"
	"github.com/BaSui01/agentmesh/types"
)

const userTopic = "user_session:main"

type fakeDirectory struct {
	mu          sync.Mutex
	peers       []discovery.Peer
	err         error
	started     []string
	failStart   map[string]bool
	invalidated int
}

func (d *fakeDirectory) Peers(context.Context) ([]discovery.Peer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]discovery.Peer(nil), d.peers...), d.err
}

func (d *fakeDirectory) StartAgent(_ context.Context, name string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failStart[name] {
		return "", errors.New("runbook not found")
	}
	d.started = append(d.started, name)
	return "started", nil
}

func (d *fakeDirectory) Invalidate() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.invalidated++
}

// recSender records sends synchronously.
type recSender struct {
	mu     sync.Mutex
	texts  map[string][]string
	agents map[string][]protocol.Message
	fail   map[string]bool
	// onSend runs after a successful agent send, outside the lock.
	onSend func(agent string, msg protocol.Message)
}

func newRecSender() *recSender {
	return &recSender{texts: map[string][]string{}, agents: map[string][]protocol.Message{}, fail: map[string]bool{}}
}

func (s *recSender) SendText(_ context.Context, topic, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts[topic] = append(s.texts[topic], text)
	return nil
}

func (s *recSender) SendToAgent(_ context.Context, agent string, msg protocol.Message) error {
	s.mu.Lock()
	if s.fail[agent] {
		s.mu.Unlock()
		return errors.New("bus down")
	}
	s.agents[agent] = append(s.agents[agent], msg)
	hook := s.onSend
	s.mu.Unlock()
	if hook != nil {
		hook(agent, msg)
	}
	return nil
}

func (s *recSender) Texts(topic string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.texts[topic]...)
}

func (s *recSender) To(agent string) []protocol.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.Message(nil), s.agents[agent]...)
}

type outcome struct{ mode, result string }

type recObserver struct {
	mu   sync.Mutex
	seen []outcome
}

func (o *recObserver) ObserveCollaboration(mode, result string, _ float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.seen = append(o.seen, outcome{mode, result})
}

func (o *recObserver) Outcomes() []outcome {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]outcome(nil), o.seen...)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestCoordinator(t *testing.T, peers []discovery.Peer, completer llm.Completer) (*Coordinator, *recSender, *fakeDirectory, *clock, *recObserver) {
	t.Helper()
	dir := &fakeDirectory{peers: peers, failStart: map[string]bool{}}
	sender := newRecSender()
	clk := &clock{now: time.Unix(10_000, 0)}
	obs := &recObserver{}
	c := NewCoordinator("assistant", DefaultConfig(), sender, dir, completer, zap.NewNop())
	c.now = clk.Now
	c.SetObserver(obs)
	return c, sender, dir, clk, obs
}

func count(texts []string, substr string) int {
	n := 0
	for _, s := range texts {
		if strings.Contains(s, substr) {
			n++
		}
	}
	return n
}

// =============================================================================
// Ad-hoc sessions
// =============================================================================

func TestCoordinator_SessionCompletes(t *testing.T) {
	m := mocks.NewMockCompleter().WithResponse("Both agree. Ship Nova.")
	c, sender, _, _, obs := newTestCoordinator(t, fixtures.TwoWorkers(), m)
	ctx := context.Background()

	require.NoError(t, c.StartSession(ctx, "pick a name", []string{"Researcher", "writer"}, userTopic))
	assert.Equal(t, 1, c.ActiveSessions())

	msgs := sender.To("researcher")
	require.Len(t, msgs, 1)
	d, ok := msgs[0].(*protocol.Delegation)
	require.True(t, ok)
	assert.Equal(t, "agent:assistant:inbox", d.ReplyTo)
	assert.Equal(t, userTopic, d.UserTopic)
	assert.Equal(t, 0, d.Task.SubtaskIndex)
	assert.Equal(t, 1, d.Task.TotalSubtasks)
	assert.Equal(t, "web_research", d.Task.AgentType)

	task := d.Task
	c.HandleResult(ctx, fixtures.Result("critic", "not invited", task, userTopic))
	c.HandleResult(ctx, fixtures.Result("writer", "Name it Nova", task, userTopic))
	assert.Contains(t, sender.Texts(userTopic), "⏳ Still waiting for: researcher")

	c.HandleResult(ctx, fixtures.Result("writer", "again", task, userTopic))
	c.HandleResult(ctx, fixtures.Result("researcher", "Nova is free", task, userTopic))

	texts := sender.Texts(userTopic)
	assert.Contains(t, texts, "**Writer:**\n\nName it Nova")
	assert.Contains(t, texts, "**Researcher:**\n\nNova is free")
	assert.Contains(t, texts, "✅ Received responses from: writer, researcher")
	assert.Contains(t, texts, "📋 Collaboration complete!")
	assert.Contains(t, texts, "🧠 Synthesizing 2 agent responses...")
	assert.Contains(t, texts, "🎯 **Final Answer:**\n\nBoth agree.\nShip Nova.", "sentences are split onto lines")
	assert.Equal(t, 0, count(texts, "again"))
	assert.Equal(t, 0, c.ActiveSessions())
	assert.Equal(t, []outcome{{ModeAdHoc, OutcomeComplete}}, obs.Outcomes())

	// a late answer neither reopens the session nor reaches the user
	c.HandleResult(ctx, fixtures.Result("writer", "late", task, userTopic))
	assert.Equal(t, 0, c.ActiveSessions())
	assert.Equal(t, 0, c.PendingResults())
	assert.Equal(t, 0, count(sender.Texts(userTopic), "late"))
	assert.Equal(t, 1, count(sender.Texts(userTopic), "📋 Collaboration complete!"))
}

func TestCoordinator_SessionUnavailableAgents(t *testing.T) {
	peers := []discovery.Peer{fixtures.Peer("writer", true), fixtures.Peer("critic", false)}
	c, sender, _, _, _ := newTestCoordinator(t, peers, mocks.NewMockCompleter())
	ctx := context.Background()

	err := c.StartSession(ctx, "review", []string{"critic", "ghost"}, userTopic)
	require.Error(t, err)
	assert.Equal(t, []string{
		"⚠️ The following agents are not available: critic, ghost",
		"❌ No requested agents are currently available for collaboration.",
	}, sender.Texts(userTopic))

	require.NoError(t, c.StartSession(ctx, "review", []string{"critic", "writer"}, userTopic))
	texts := sender.Texts(userTopic)
	assert.Contains(t, texts, "🤝 Starting collaboration with 1 agent(s): writer")
	assert.Contains(t, texts, "📤 Sending task to writer...")
	assert.Contains(t, texts, "📤 All tasks sent! Waiting for agent responses...")
}

func TestCoordinator_SessionDiscoveryFailure(t *testing.T) {
	c, sender, dir, _, _ := newTestCoordinator(t, nil, mocks.NewMockCompleter())
	dir.err = errors.New("orchestrator down")

	require.Error(t, c.StartSession(context.Background(), "x", []string{"writer"}, userTopic))
	assert.Equal(t, []string{"❌ Unable to discover agents for collaboration."}, sender.Texts(userTopic))
}

func TestCoordinator_SessionTimeouts(t *testing.T) {
	peers := []discovery.Peer{
		fixtures.Peer("a", true), fixtures.Peer("b", true), fixtures.Peer("c", true),
	}

	t.Run("no responses", func(t *testing.T) {
		c, sender, _, clk, obs := newTestCoordinator(t, peers, mocks.NewMockCompleter())
		require.NoError(t, c.StartSession(context.Background(), "t0", []string{"a"}, userTopic))
		clk.Advance(31 * time.Second)
		c.Sweep(context.Background())

		assert.Contains(t, sender.Texts(userTopic), "⏰ Collaboration timed out with no responses received.")
		assert.Equal(t, 0, c.ActiveSessions())
		assert.Equal(t, []outcome{{ModeAdHoc, OutcomeEmpty}}, obs.Outcomes())
	})

	t.Run("one response", func(t *testing.T) {
		m := mocks.NewMockCompleter()
		c, sender, _, clk, obs := newTestCoordinator(t, peers, m)
		ctx := context.Background()
		require.NoError(t, c.StartSession(ctx, "t1", []string{"a", "b"}, userTopic))
		task := sender.To("a")[0].(*protocol.Delegation).Task
		c.HandleResult(ctx, fixtures.Result("a", "partial", task, userTopic))

		clk.Advance(31 * time.Second)
		// the sweep rides on the next inbound response, even an unrelated one
		c.HandleResult(ctx, fixtures.Result("c", "unrelated", fixtures.Subtask("other", "other", 0, 1), userTopic))

		texts := sender.Texts(userTopic)
		assert.Contains(t, texts, "⏰ Collaboration timed out! Processing 1 received response...")
		assert.Contains(t, texts, "📋 **Response from A:**\n\npartial")
		assert.Zero(t, m.CallCount())
		assert.Contains(t, obs.Outcomes(), outcome{ModeAdHoc, OutcomeTimeout})
	})

	t.Run("several responses", func(t *testing.T) {
		m := mocks.NewMockCompleter().WithResponse("Use a. Then b.")
		c, sender, _, clk, _ := newTestCoordinator(t, peers, m)
		ctx := context.Background()
		require.NoError(t, c.StartSession(ctx, "t2", []string{"a", "b", "c"}, userTopic))
		task := sender.To("a")[0].(*protocol.Delegation).Task
		c.HandleResult(ctx, fixtures.Result("a", "ra", task, userTopic))
		c.HandleResult(ctx, fixtures.Result("b", "rb", task, userTopic))

		clk.Advance(40 * time.Second)
		c.Sweep(ctx)

		texts := sender.Texts(userTopic)
		assert.Contains(t, texts, "⏰ Collaboration timed out! Processing 2 received responses...")
		assert.Contains(t, texts, "🎯 **Final Answer:**\n\nUse a.\nThen b.")
		assert.Equal(t, 1, m.CallCount())
	})
}

// =============================================================================
// Decomposed collaborations
// =============================================================================

func TestCoordinator_IndexedCompletion(t *testing.T) {
	m := mocks.NewMockCompleter().WithResponse("Part one. Part two.")
	c, sender, _, _, obs := newTestCoordinator(t, fixtures.TwoWorkers(), m)
	ctx := context.Background()

	r0 := fixtures.Result("researcher", "sources", fixtures.Subtask("research x", "q", 0, 2), userTopic)
	r1 := fixtures.Result("writer", "draft", fixtures.Subtask("write x", "q", 1, 2), userTopic)
	conflict := fixtures.Result("critic", "other sources", fixtures.Subtask("research x", "q", 0, 2), userTopic)

	c.HandleResult(ctx, r0)
	c.HandleResult(ctx, conflict)
	assert.Equal(t, 1, c.PendingResults())
	c.HandleResult(ctx, r1)

	texts := sender.Texts(userTopic)
	assert.Equal(t, []string{
		"✅ Researcher completed their task",
		"✅ Writer completed their task",
		"🎯 All agents completed! 🧠 Synthesizing 2 agent responses into final answer...",
		"Part one.\nPart two.",
		"🎉 **Complete!** 2 agents collaborated successfully.",
	}, texts)
	assert.Equal(t, 0, c.PendingResults())
	assert.Equal(t, []outcome{{ModeDecomposed, OutcomeComplete}}, obs.Outcomes())

	call, _ := m.LastCall()
	assert.NotContains(t, call.Messages[0].Content, "other sources")

	c.HandleResult(ctx, r1)
	assert.Equal(t, 0, c.PendingResults(), "late result for a finished query is dropped")
}

func TestCoordinator_IndexedSynthesisFailure(t *testing.T) {
	c, sender, _, _, _ := newTestCoordinator(t, fixtures.TwoWorkers(), mocks.NewMockCompleter().WithFailure())
	ctx := context.Background()
	c.HandleResult(ctx, fixtures.Result("researcher", "a", fixtures.Subtask("s0", "q", 0, 2), userTopic))
	c.HandleResult(ctx, fixtures.Result("writer", "b", fixtures.Subtask("s1", "q", 1, 2), userTopic))

	texts := sender.Texts(userTopic)
	assert.Equal(t, SynthesisFailedText, texts[len(texts)-1])
	assert.Equal(t, 0, c.PendingResults())
}

func TestCoordinator_SingleSubtaskPassesThrough(t *testing.T) {
	m := mocks.NewMockCompleter()
	c, sender, _, _, _ := newTestCoordinator(t, fixtures.TwoWorkers(), m)
	c.HandleResult(context.Background(), &protocol.TaskResult{
		FromAgent:    "writer",
		TaskResult:   "just this",
		OriginalTask: fixtures.Subtask("say hi", "say hi", 0, 1),
	})
	assert.Equal(t, []string{"just this"}, sender.Texts(userTopic), "default user topic is used")
	assert.Zero(t, m.CallCount())
}

func TestCoordinator_PlanTimeout(t *testing.T) {
	m := mocks.NewMockCompleter().WithResponses("not json")
	c, sender, _, clk, obs := newTestCoordinator(t, fixtures.TwoWorkers(), m)
	ctx := context.Background()

	require.NoError(t, c.Collaborate(ctx, "research tea", userTopic))
	d := sender.To("researcher")[0].(*protocol.Delegation)
	c.HandleResult(ctx, fixtures.Result("researcher", "tea facts", d.Task, userTopic))

	clk.Advance(c.cfg.PlanTimeout + time.Second)
	c.Sweep(ctx)

	texts := sender.Texts(userTopic)
	assert.Contains(t, texts, "⏰ Collaboration timed out! Processing 1 received response...")
	assert.Contains(t, texts, "📋 **Response from Researcher:**\n\ntea facts")
	assert.Equal(t, 0, c.PendingResults())
	assert.Contains(t, obs.Outcomes(), outcome{ModeDecomposed, OutcomeTimeout})
}

func TestCoordinator_PartialDelegationCompletes(t *testing.T) {
	const query = "research AI trends and write a summary"

	t.Run("result after delegation", func(t *testing.T) {
		m := mocks.NewMockCompleter().WithResponses("no json here")
		c, sender, _, clk, obs := newTestCoordinator(t, fixtures.TwoWorkers(), m)
		ctx := context.Background()
		sender.fail["writer"] = true

		require.NoError(t, c.Collaborate(ctx, query, userTopic))
		texts := sender.Texts(userTopic)
		assert.Equal(t, 1, count(texts, "❌ **writer** unreachable"))
		assert.Contains(t, texts, "📤 1 of 2 tasks delegated! Agents are now working...")

		d := sender.To("researcher")[0].(*protocol.Delegation)
		assert.Equal(t, 2, d.Task.TotalSubtasks)
		c.HandleResult(ctx, fixtures.Result("researcher", "trend report", d.Task, userTopic))

		assert.Contains(t, sender.Texts(userTopic), "trend report")
		assert.Equal(t, 0, c.PendingResults())
		assert.Equal(t, []outcome{{ModeDecomposed, OutcomeComplete}}, obs.Outcomes())

		// nothing is left for the plan timeout to report
		clk.Advance(c.cfg.PlanTimeout + time.Second)
		c.Sweep(ctx)
		assert.Equal(t, 0, count(sender.Texts(userTopic), "⏰"))
		assert.Equal(t, []outcome{{ModeDecomposed, OutcomeComplete}}, obs.Outcomes())
	})

	t.Run("result during delegation", func(t *testing.T) {
		m := mocks.NewMockCompleter().WithResponses("no json here")
		c, sender, _, _, obs := newTestCoordinator(t, fixtures.TwoWorkers(), m)
		ctx := context.Background()
		sender.fail["writer"] = true
		sender.onSend = func(agent string, msg protocol.Message) {
			d := msg.(*protocol.Delegation)
			c.HandleResult(ctx, fixtures.Result(agent, "fast answer", d.Task, userTopic))
		}

		require.NoError(t, c.Collaborate(ctx, query, userTopic))

		texts := sender.Texts(userTopic)
		assert.Equal(t, 1, count(texts, "fast answer"))
		assert.Equal(t, 0, c.PendingResults())
		assert.Equal(t, []outcome{{ModeDecomposed, OutcomeComplete}}, obs.Outcomes())
	})
}

func TestCoordinator_CollaborateStartsStoppedAgents(t *testing.T) {
	peers := []discovery.Peer{
		fixtures.Peer("researcher", true, "Web Research"),
		fixtures.Peer("writer", false, "Copy Writing"),
		fixtures.Peer("critic", false, "Review"),
	}
	c, sender, dir, _, _ := newTestCoordinator(t, peers, mocks.NewMockCompleter().WithFailure())
	dir.failStart["critic"] = true

	require.NoError(t, c.Collaborate(context.Background(), "summarize the meeting", userTopic))

	texts := sender.Texts(userTopic)
	assert.Contains(t, texts, "🚀 Starting 2 agent(s) needed for this task: writer, critic")
	assert.Contains(t, texts, "✅ writer started successfully")
	assert.Contains(t, texts, "❌ Failed to start critic")
	assert.Contains(t, texts, "🚀 **Collaboration Started** - Found 2 agents (researcher, writer) and broke down into 1 tasks")
	assert.Equal(t, []string{"writer"}, dir.started)
	assert.Equal(t, 1, dir.invalidated)
}

func TestCoordinator_CollaborateWithoutAgents(t *testing.T) {
	c, sender, _, _, _ := newTestCoordinator(t, nil, mocks.NewMockCompleter())
	err := c.Collaborate(context.Background(), "anything", userTopic)
	require.Error(t, err)
	assert.Equal(t, types.ErrAgentNotFound, types.GetErrorCode(err))
	assert.Equal(t, []string{"🤖 Analyzing your request...", "❌ No agents available for collaboration."}, sender.Texts(userTopic))
}

func TestCoordinator_PickRoundRobin(t *testing.T) {
	peers := []discovery.Peer{fixtures.Peer("a", true, "Alpha"), fixtures.Peer("b", true), fixtures.Peer("c", true)}
	c, _, _, _, _ := newTestCoordinator(t, peers, nil)
	c.mu.Lock()
	defer c.mu.Unlock()

	var got []string
	for i := 0; i < 4; i++ {
		name, ok := c.pick(peers, "")
		require.True(t, ok)
		got = append(got, name)
	}
	assert.Equal(t, []string{"a", "b", "c", "a"}, got)

	name, _ := c.pick(peers, "alpha")
	assert.Equal(t, "a", name, "capability tag match wins")

	_, ok := c.pick(nil, "")
	assert.False(t, ok)
}

// =============================================================================
// Natural conversation
// =============================================================================

func TestCoordinator_NaturalResponse(t *testing.T) {
	c, sender, _, _, _ := newTestCoordinator(t, fixtures.TwoWorkers(), nil)
	ctx := context.Background()

	forwarded := c.HandleNaturalResponse(ctx, &protocol.NaturalResponse{
		FromAgent:         "writer",
		Response:          "Draft attached",
		Timestamp:         protocol.FromTime(c.StartedAt().Add(time.Second)),
		OriginalUserTopic: userTopic,
	})
	assert.True(t, forwarded)
	assert.Equal(t, []string{"Writer: Draft attached"}, sender.Texts(userTopic))
	assert.Len(t, c.History().All("writer"), 1)

	stale := c.HandleNaturalResponse(ctx, &protocol.NaturalResponse{
		FromAgent:         "writer",
		Response:          "old news",
		Timestamp:         protocol.FromTime(c.StartedAt().Add(-time.Minute)),
		OriginalUserTopic: userTopic,
	})
	assert.False(t, stale)

	assert.False(t, c.HandleNaturalResponse(ctx, &protocol.NaturalResponse{FromAgent: "writer", Response: "lost"}))
	assert.Len(t, sender.Texts(userTopic), 1)
}

func TestCoordinator_SendNatural(t *testing.T) {
	peers := []discovery.Peer{fixtures.Peer("writer", true), fixtures.Peer("critic", false)}
	c, sender, _, _, _ := newTestCoordinator(t, peers, nil)
	ctx := context.Background()

	require.NoError(t, c.SendNatural(ctx, "writer", "draft the intro", userTopic))
	require.NoError(t, c.SendNatural(ctx, "writer", "make it shorter", userTopic))
	msgs := sender.To("writer")
	require.Len(t, msgs, 2)
	nm := msgs[1].(*protocol.NaturalMessage)
	assert.Equal(t, protocol.ContextCoordination, nm.Context)
	assert.Equal(t, userTopic, nm.OriginalUserTopic)
	assert.Equal(t, "agent:assistant:inbox", nm.ReplyTo)
	testutil.AssertMessagesEqual(t, []types.Message{
		types.NewUserMessage("draft the intro"),
		types.NewUserMessage("make it shorter"),
	}, nm.Messages)

	err := c.SendNatural(ctx, "critic", "hello", userTopic)
	assert.Equal(t, types.ErrAgentNotRunning, types.GetErrorCode(err))

	sender.fail["writer"] = true
	require.Error(t, c.SendNatural(ctx, "writer", "lost", userTopic))
	assert.Len(t, c.History().All("writer"), 2, "failed send is rolled back")
}

// =============================================================================
// End to end over the bus
// =============================================================================

func TestCoordinator_EndToEnd(t *testing.T) {
	ctx := testutil.TestContext(t)
	rec := mocks.NewRecordingBus(bus.NewMemoryBus(zap.NewNop()))
	t.Cleanup(func() { _ = rec.Close() })

	// decomposition fails over to the heuristic, then synthesis succeeds
	m := mocks.NewMockCompleter().WithResponses("no json here", "Trends are up. Summary follows.")
	dir := &fakeDirectory{peers: fixtures.TwoWorkers()}
	c := NewCoordinator("assistant", DefaultConfig(), bus.NewMessenger(rec, "assistant", nil), dir, m, zap.NewNop())

	_, err := bus.SubscribeMessages(ctx, rec, protocol.InboxTopic("assistant"), func(ctx context.Context, _ string, msg protocol.Message) {
		if r, ok := msg.(*protocol.TaskResult); ok {
			c.HandleResult(ctx, r)
		}
	}, nil)
	require.NoError(t, err)

	for _, name := range []string{"researcher", "writer"} {
		worker := bus.NewMessenger(rec, name, nil)
		name := name
		_, err := bus.SubscribeMessages(ctx, rec, protocol.InboxTopic(name), func(ctx context.Context, _ string, msg protocol.Message) {
			d, ok := msg.(*protocol.Delegation)
			if !ok {
				return
			}
			_ = worker.Send(ctx, d.ReplyTo, &protocol.TaskResult{
				FromAgent:    name,
				TaskResult:   name + " did " + d.Task.Task,
				OriginalTask: d.Task,
				UserTopic:    d.UserTopic,
			})
		}, nil)
		require.NoError(t, err)
	}

	require.NoError(t, c.Collaborate(ctx, "research AI trends and write a summary", userTopic))

	done := func() bool {
		return count(rec.Texts(userTopic), "🎉 **Complete!**") == 1
	}
	testutil.AssertEventuallyTrue(t, done, testutil.DefaultWait)

	texts := rec.Texts(userTopic)
	assert.Equal(t, 1, count(texts, "Trends are up.\nSummary follows."))
	assert.Contains(t, texts, "🎉 **Complete!** 2 agents collaborated successfully.")
	assert.Equal(t, 0, c.PendingResults())
	assert.Equal(t, 2, m.CallCount())

	delegations := rec.Messages(protocol.InboxTopic("researcher"))
	require.Len(t, delegations, 1)
	d := delegations[0].(*protocol.Delegation)
	assert.Equal(t, "agent:assistant:inbox", d.ReplyTo)
	assert.Equal(t, "research AI trends and write a summary", d.Task.OriginalQuery)
	assert.Equal(t, 0, d.Task.SubtaskIndex)
}
