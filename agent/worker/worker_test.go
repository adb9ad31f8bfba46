package worker

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/agentmesh/agent/bus"
	"github.com/BaSui01/agentmesh/agent/protocol"
	"github.com/BaSui01/agentmesh/agent/runbook"
	"github.com/BaSui01/agentmesh/agent/runtime"
	"github.com/BaSui01/agentmesh/api"
	"github.com/BaSui01/agentmesh/llm"
	"github.com/BaSui01/agentmesh/testutil"
	"github.com/BaSui01/agentmesh/testutil/fixtures"
	"github.com/BaSui01/agentmesh/testutil/mocks"
	"github.com/BaSui01/agentmesh/types"
)

const userTopic = "user_session:main"

type fakeControl struct {
	mu       sync.Mutex
	actions  []types.Action
	result   map[string]any
	err      error
	executed []map[string]any
}

func (f *fakeControl) Register(context.Context, api.RegisterRequest) error    { return nil }
func (f *fakeControl) PublishRunbook(context.Context, *runbook.Runbook) error { return nil }

func (f *fakeControl) Actions(_ context.Context, name string) (*api.AgentActions, error) {
	return &api.AgentActions{AgentName: name, Actions: f.actions}, nil
}

func (f *fakeControl) ExecuteAction(_ context.Context, _, _ string, params map[string]any) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executed = append(f.executed, params)
	return f.result, f.err
}

type dedupCounter struct{ n int }

func (d *dedupCounter) ObserveDedupSuppressed() { d.n++ }

type harness struct {
	w   *Worker
	rt  *runtime.Runtime
	rec *mocks.RecordingBus
	llm *mocks.MockCompleter
	ctl *fakeControl
}

func newHarness(t *testing.T, completer *mocks.MockCompleter, ctl *fakeControl) *harness {
	t.Helper()
	inner := bus.NewMemoryBus(zap.NewNop())
	t.Cleanup(func() { _ = inner.Close() })
	rec := mocks.NewRecordingBus(inner)

	opts := runtime.Options{Name: "writer", Runbook: fixtures.WriterRunbook(), Bus: rec}
	if ctl != nil {
		opts.Control = ctl
	}
	rt, err := runtime.New(opts)
	require.NoError(t, err)
	if ctl != nil {
		require.NoError(t, rt.LoadActions(context.Background()))
	}
	w := New(rt, completer, Config{DefaultUserTopic: userTopic})
	return &harness{w: w, rt: rt, rec: rec, llm: completer, ctl: ctl}
}

func natural(from, text, ctxName, replyTo string) *protocol.NaturalMessage {
	m := fixtures.Natural(from, text, ctxName, replyTo)
	m.Timestamp = 0
	return m
}

func responses(t *testing.T, rec *mocks.RecordingBus, topic string) []*protocol.NaturalResponse {
	t.Helper()
	var out []*protocol.NaturalResponse
	for _, m := range rec.Messages(topic) {
		r, ok := m.(*protocol.NaturalResponse)
		require.True(t, ok, "unexpected %s on %s", m.Kind(), topic)
		out = append(out, r)
	}
	return out
}

// =============================================================================
// Delegated tasks
// =============================================================================

func TestDelegation_RepliesWithTaskResult(t *testing.T) {
	h := newHarness(t, mocks.NewMockCompleter().WithResponse("  a draft  "), nil)
	task := fixtures.Subtask("draft the intro", "write a post", 1, 2)

	h.w.Handle(testutil.TestContext(t), "agent:writer:inbox", fixtures.Delegation("assistant", task, ""))

	msgs := h.rec.Messages("agent:assistant:inbox")
	require.Len(t, msgs, 1)
	res, ok := msgs[0].(*protocol.TaskResult)
	require.True(t, ok)
	assert.Equal(t, "writer", res.FromAgent)
	assert.Equal(t, "a draft", res.TaskResult)
	assert.Equal(t, task, res.OriginalTask)
	assert.Equal(t, userTopic, res.UserTopic, "missing user topic falls back to the default session")

	call, _ := h.llm.LastCall()
	assert.Contains(t, call.Options.System, "You are writer, Writes clear, engaging copy.")
	assert.Contains(t, call.Options.System, "Keep answers under 300 words.")
	assert.Equal(t, "draft the intro", call.Messages[0].Content)
}

func TestDelegation_CompletionFailure(t *testing.T) {
	h := newHarness(t, mocks.NewMockCompleter().WithFailure(), nil)
	d := fixtures.Delegation("assistant", fixtures.Subtask("t", "q", 0, 1), "user_session:other")
	d.ReplyTo = ""

	h.w.Handle(testutil.TestContext(t), "", d)

	msgs := h.rec.Messages("agent:assistant:inbox")
	require.Len(t, msgs, 1)
	res := msgs[0].(*protocol.TaskResult)
	assert.Equal(t, TaskFailedText, res.TaskResult)
	assert.Equal(t, "user_session:other", res.UserTopic)
}

// =============================================================================
// Natural conversation
// =============================================================================

func TestConverse_Greetings(t *testing.T) {
	h := newHarness(t, mocks.NewMockCompleter(), nil)
	ctx := testutil.TestContext(t)

	h.w.Handle(ctx, "", natural("assistant", "  Hello ", protocol.ContextCoordination, ""))
	h.w.Handle(ctx, "", natural("assistant", "please acknowledge", protocol.ContextCoordination, ""))

	got := responses(t, h.rec, "agent:assistant:inbox")
	require.Len(t, got, 2)
	assert.Equal(t, "Hello! I'm writer, ready to help.", got[0].Response)
	assert.Equal(t, AcknowledgedText, got[1].Response)
	assert.Equal(t, "assistant", got[0].OriginalFrom)
	assert.Zero(t, h.llm.CallCount())
}

func TestConverse_PeerAgentGetsAcknowledgement(t *testing.T) {
	h := newHarness(t, mocks.NewMockCompleter(), nil)
	long := strings.Repeat("x", 80)

	h.w.Handle(testutil.TestContext(t), "", natural("researcher", long, protocol.ContextAgentConversation, ""))

	got := responses(t, h.rec, "agent:researcher:inbox")
	require.Len(t, got, 1)
	assert.Equal(t, "Hello researcher! This is writer. I received your message: "+strings.Repeat("x", 50)+"...", got[0].Response)
	assert.Zero(t, h.llm.CallCount())
}

func TestConverse_UnderstandAndExecute(t *testing.T) {
	h := newHarness(t, mocks.NewMockCompleter().WithResponses("Here is the tagline.", ""), nil)
	ctx := testutil.TestContext(t)

	h.w.Handle(ctx, "", natural("assistant", "write a tagline", protocol.ContextCoordination, ""))
	call, _ := h.llm.LastCall()
	assert.Contains(t, call.Options.System, "Capabilities: Copy Writing, Editing")
	assert.Contains(t, call.Options.System, "TASK: write a tagline")

	h.w.Handle(ctx, "", natural("assistant", "write another tagline", protocol.ContextCoordination, ""))

	got := responses(t, h.rec, "agent:assistant:inbox")
	require.Len(t, got, 2)
	assert.Equal(t, "Here is the tagline.", got[0].Response)
	assert.Equal(t, "Understood. I'm writer and I'll help with that.", got[1].Response)
}

func TestConverse_StaleAndDuplicate(t *testing.T) {
	h := newHarness(t, mocks.NewMockCompleter(), nil)
	obs := &dedupCounter{}
	h.w.SetObserver(obs)
	ctx := testutil.TestContext(t)

	stale := natural("assistant", "old news", protocol.ContextCoordination, "")
	stale.Timestamp = protocol.FromTime(h.rt.StartedAt().Add(-time.Hour))
	h.w.Handle(ctx, "", stale)
	assert.Zero(t, h.rec.Count("agent:assistant:inbox"))

	h.w.Handle(ctx, "", natural("assistant", "summarize this", protocol.ContextCoordination, ""))
	h.w.Handle(ctx, "", natural("Assistant", "SUMMARIZE this", protocol.ContextCoordination, ""))
	assert.Equal(t, 1, h.rec.Count("agent:assistant:inbox"))
	assert.Equal(t, 1, obs.n)
}

func TestConverse_ChatRequestAnswersUserSession(t *testing.T) {
	h := newHarness(t, mocks.NewMockCompleter().WithResponse("Sure, here it is."), nil)
	history := []types.Message{
		types.NewUserMessage("draft a haiku about tea"),
		types.NewAssistantMessage("Steam curls from the cup"),
		types.NewUserMessage("make it shorter"),
	}

	h.w.Handle(testutil.TestContext(t), "", &protocol.ChatRequest{
		Messages: history,
		ReplyTo:  "user_session:s1",
		Agent:    "writer",
	})

	assert.Equal(t, []string{"Sure, here it is."}, h.rec.Texts("user_session:s1"))
	assert.Zero(t, h.rec.Count("agent:user:inbox"), "the user has no inbox")

	call, _ := h.llm.LastCall()
	assert.Equal(t, history, call.Messages)
	assert.Contains(t, call.Options.System, "Role: Writes clear, engaging copy.\n\nCore Capabilities:\n- Copy Writing")
}

func TestConverse_ForwardsToDistinctReplyTopic(t *testing.T) {
	h := newHarness(t, mocks.NewMockCompleter().WithResponse("done"), nil)
	m := natural("assistant", "proofread this", protocol.ContextCoordination, "agent:critic:inbox")

	h.w.Handle(testutil.TestContext(t), "", m)

	assert.Len(t, responses(t, h.rec, "agent:assistant:inbox"), 1)
	fwd := responses(t, h.rec, "agent:critic:inbox")
	require.Len(t, fwd, 1)
	assert.Equal(t, "done", fwd[0].Response)
}

func TestHandle_LegacyAndUnknown(t *testing.T) {
	h := newHarness(t, mocks.NewMockCompleter().WithResponse("ok"), nil)
	ctx := testutil.TestContext(t)

	h.w.Handle(ctx, "", &protocol.LegacyTask{FromAgent: "assistant", Task: "list ideas"})
	got := responses(t, h.rec, "agent:assistant:inbox")
	require.Len(t, got, 1)
	assert.Equal(t, protocol.ContextLegacyTask, got[0].Context)
	call, _ := h.llm.LastCall()
	assert.Equal(t, "assistant asks: list ideas", call.Messages[0].Content)

	h.w.Handle(ctx, "", protocol.Decode([]byte(`{"from_agent":"critic","note":"hi there"}`)))
	got = responses(t, h.rec, "agent:critic:inbox")
	require.Len(t, got, 1)
	assert.Equal(t, protocol.ContextUnknownFormat, got[0].Context)
	assert.True(t, strings.HasPrefix(got[0].Response, "Hello critic! This is writer."))
}

// =============================================================================
// Actions
// =============================================================================

func sendEmail() types.Action {
	return types.Action{
		ID:          "send_email",
		Name:        "Send Email",
		Description: "Sends an email",
		Enabled:     true,
		Parameters: []types.ActionParameter{
			{Name: "to", Type: "string", Required: true},
			{Name: "subject", Type: "string"},
			{Name: "priority", Type: "string", Default: "normal"},
		},
	}
}

func TestActions_SelectedAndExecuted(t *testing.T) {
	ctl := &fakeControl{actions: []types.Action{sendEmail()}, result: map[string]any{"result": "queued"}}
	completer := mocks.NewMockCompleter().WithResponses("send_email", "```json\n{\"to\": \"ana@example.com\", \"subject\": null}\n```")
	h := newHarness(t, completer, ctl)

	h.w.Handle(testutil.TestContext(t), "", &protocol.ChatRequest{
		Messages: []types.Message{types.NewUserMessage("email ana@example.com")},
		ReplyTo:  userTopic,
	})

	assert.Equal(t, []string{"🔧 Executing: Send Email...", "✅ Send Email completed:\n\nqueued"}, h.rec.Texts(userTopic))
	require.Len(t, ctl.executed, 1)
	assert.Equal(t, map[string]any{"to": "ana@example.com", "subject": "", "priority": "normal"}, ctl.executed[0])

	first := completer.Calls()[0]
	assert.Contains(t, first.Messages[0].Content, "- send_email: Send Email - Sends an email")
	assert.Equal(t, 0.1, *first.Options.Temperature)
}

func TestActions_NoneFallsBackToCompletion(t *testing.T) {
	ctl := &fakeControl{actions: []types.Action{sendEmail()}}
	h := newHarness(t, mocks.NewMockCompleter().WithResponses("NONE", "just chatting"), ctl)

	h.w.Handle(testutil.TestContext(t), "", &protocol.ChatRequest{
		Messages: []types.Message{types.NewUserMessage("how are you?")},
		ReplyTo:  userTopic,
	})

	assert.Equal(t, []string{"just chatting"}, h.rec.Texts(userTopic))
	assert.Empty(t, ctl.executed)
	call, _ := h.llm.LastCall()
	assert.Contains(t, call.Options.System, "Available Actions:\n- Send Email: Sends an email")
}

func TestActions_ErrorResult(t *testing.T) {
	ctl := &fakeControl{actions: []types.Action{sendEmail()}, result: map[string]any{"error": "Failed to execute action: timeout"}}
	h := newHarness(t, mocks.NewMockCompleter().WithResponses("send_email", "{}"), ctl)

	h.w.Handle(testutil.TestContext(t), "", &protocol.ChatRequest{
		Messages: []types.Message{types.NewUserMessage("email bob")},
		ReplyTo:  userTopic,
	})

	texts := h.rec.Texts(userTopic)
	require.Len(t, texts, 2)
	assert.Equal(t, "❌ Error executing Send Email: Failed to execute action: timeout", texts[1])
}

func TestRespondWithHistory_Failures(t *testing.T) {
	h := newHarness(t, mocks.NewMockCompleter().WithResponses("  "), nil)
	ctx := testutil.TestContext(t)
	chat := func(text string) *protocol.ChatRequest {
		return &protocol.ChatRequest{Messages: []types.Message{types.NewUserMessage(text)}, ReplyTo: userTopic}
	}

	h.w.Handle(ctx, "", chat("first question"))
	h.llm.WithFailure()
	h.w.Handle(ctx, "", chat("second question"))

	assert.Equal(t, []string{EmptyResponseText, RequestFailedText}, h.rec.Texts(userTopic))
}

func TestFormatResult(t *testing.T) {
	assert.Equal(t, "(no output)", formatResult(nil))
	assert.Equal(t, "text", formatResult("text"))
	assert.Equal(t, "{\n  \"n\": 1\n}", formatResult(map[string]any{"n": 1}))
}

var _ llm.Completer = (*mocks.MockCompleter)(nil)
