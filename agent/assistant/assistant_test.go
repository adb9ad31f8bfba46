package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/agentmesh/agent/bus"
	"github.com/BaSui01/agentmesh/agent/collaboration"
	"github.com/BaSui01/agentmesh/agent/discovery"
	"github.com/BaSui01/agentmesh/agent/mention"
	"github.com/BaSui01/agentmesh/agent/protocol"
	"github.com/BaSui01/agentmesh/agent/runbook"
	"github.com/BaSui01/agentmesh/agent/runtime"
	"github.com/BaSui01/agentmesh/api"
	"github.com/BaSui01/agentmesh/testutil"
	"github.com/BaSui01/agentmesh/testutil/fixtures"
	"github.com/BaSui01/agentmesh/testutil/mocks"
	"github.com/BaSui01/agentmesh/types"
)

const userTopic = "user_session:main"

type fakeControl struct {
	mu       sync.Mutex
	agents   []types.AgentInfo
	runbooks []*runbook.Runbook
	servers  []api.ActionServerInfo
	calls    []string
	fail     map[string]error
	created  []api.CreateAgentRequest
}

func newFakeControl() *fakeControl {
	return &fakeControl{
		agents: []types.AgentInfo{
			fixtures.AgentRecord("assistant", types.AgentRunning),
			fixtures.AgentRecord("writer", types.AgentRunning),
			fixtures.AgentRecord("web_researcher", types.AgentStopped),
		},
		runbooks: []*runbook.Runbook{fixtures.WriterRunbook(), fixtures.ResearcherRunbook()},
		fail:     map[string]error{},
	}
}

func (f *fakeControl) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.fail[call]
}

func (f *fakeControl) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeControl) Register(context.Context, api.RegisterRequest) error    { return nil }
func (f *fakeControl) PublishRunbook(context.Context, *runbook.Runbook) error { return nil }

func (f *fakeControl) Actions(_ context.Context, name string) (*api.AgentActions, error) {
	return &api.AgentActions{AgentName: name}, nil
}

func (f *fakeControl) ExecuteAction(context.Context, string, string, map[string]any) (map[string]any, error) {
	return nil, errors.New("not supported")
}

func (f *fakeControl) Peers(context.Context) ([]discovery.Peer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []discovery.Peer
	for _, a := range f.agents {
		if a.Name == "assistant" {
			continue
		}
		out = append(out, fixtures.Peer(a.Name, a.IsRunning()))
	}
	return out, nil
}

func (f *fakeControl) StartAgent(_ context.Context, name string) (string, error) {
	if err := f.record("start " + name); err != nil {
		return "", err
	}
	return "started", nil
}

func (f *fakeControl) StopAgent(_ context.Context, name string) (string, error) {
	if err := f.record("stop " + name); err != nil {
		return "", err
	}
	return "stopped", nil
}

func (f *fakeControl) Invalidate() {}

func (f *fakeControl) Agents(context.Context) ([]types.AgentInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.AgentInfo(nil), f.agents...), nil
}

func (f *fakeControl) Names(context.Context) mention.Names {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.agents))
	for _, a := range f.agents {
		names = append(names, a.Name)
	}
	return mention.NewNames(names...)
}

func (f *fakeControl) Runbooks(context.Context) ([]*runbook.Runbook, error) {
	return f.runbooks, nil
}

func (f *fakeControl) CreateAgent(_ context.Context, req api.CreateAgentRequest) (string, error) {
	if err := f.record("create " + req.Name); err != nil {
		return "", err
	}
	f.mu.Lock()
	f.created = append(f.created, req)
	f.mu.Unlock()
	return "created", nil
}

func (f *fakeControl) DeleteAgent(_ context.Context, req api.DeleteAgentRequest) (string, *api.DeleteResult, error) {
	if err := f.record("delete " + req.Name); err != nil {
		return "", nil, err
	}
	return "deleted", &api.DeleteResult{RunbookRemoved: req.RemoveRunbook, ProcessStopped: true}, nil
}

func (f *fakeControl) ActionServers(context.Context) ([]api.ActionServerInfo, error) {
	return f.servers, nil
}

func (f *fakeControl) AssignActionServer(_ context.Context, agent, server string) (string, *api.AssignResult, error) {
	if err := f.record("assign " + agent + " " + server); err != nil {
		return "", nil, err
	}
	return "Assigned " + server + " to " + agent, &api.AssignResult{ActionCount: 2, AgentRestarted: true}, nil
}

func (f *fakeControl) RemoveActionServer(_ context.Context, agent string) (string, error) {
	if err := f.record("remove " + agent); err != nil {
		return "", err
	}
	return "Removed action server from " + agent, nil
}

type harness struct {
	a   *Assistant
	rec *mocks.RecordingBus
	llm *mocks.MockCompleter
	ctl *fakeControl
}

func newHarness(t *testing.T, completer *mocks.MockCompleter) *harness {
	t.Helper()
	inner := bus.NewMemoryBus(zap.NewNop())
	t.Cleanup(func() { _ = inner.Close() })
	rec := mocks.NewRecordingBus(inner)

	rb := runbook.Parse("assistant", "## Job Title\nPersonal Assistant\n\n## Role\nHelps the user and coordinates agents.\n\n## Capabilities\n- Coordination\n  - Routes work\n\n## System Prompt Instructions\nBe brief.\n")
	rt, err := runtime.New(runtime.Options{Name: "assistant", Runbook: rb, Bus: rec})
	require.NoError(t, err)

	ctl := newFakeControl()
	cfg := collaboration.DefaultConfig()
	cfg.DefaultUserTopic = userTopic
	a := New(rt, completer, ctl, cfg)
	return &harness{a: a, rec: rec, llm: completer, ctl: ctl}
}

func toolCall(name string, args any) types.ToolCall {
	raw, _ := json.Marshal(args)
	return types.ToolCall{ID: "call_" + name, Name: name, Arguments: raw}
}

func chat(text string) *protocol.ChatRequest {
	return &protocol.ChatRequest{Messages: []types.Message{types.NewUserMessage(text)}, ReplyTo: userTopic}
}

// =============================================================================
// Direct responses
// =============================================================================

func TestRespond_TextReply(t *testing.T) {
	h := newHarness(t, mocks.NewMockCompleter().WithResponse("  Happy to help.  "))

	h.a.Handle(testutil.TestContext(t), "", chat("hi"))

	assert.Equal(t, []string{"Happy to help."}, h.rec.Texts(userTopic))
	call, _ := h.llm.LastCall()
	assert.Len(t, call.Tools, len(toolSchemas))
	sys := call.Options.System
	assert.Contains(t, sys, "You are the Personal Assistant.")
	assert.Contains(t, sys, "- Writer (writer, running)")
	assert.Contains(t, sys, "- Web Researcher (web_researcher, stopped)")
	assert.Contains(t, sys, "## Agent Delegation")
	assert.Contains(t, sys, "## Instructions\nBe brief.")
}

func TestRespond_CompletionFailure(t *testing.T) {
	h := newHarness(t, mocks.NewMockCompleter().WithFailure())
	h.a.Handle(testutil.TestContext(t), "", &protocol.Text{Body: "hello?"})
	assert.Equal(t, []string{NoResponseText}, h.rec.Texts(userTopic))
}

func TestRespond_ToolResultsGoToUser(t *testing.T) {
	m := mocks.NewMockCompleter().
		WithToolCalls(toolCall(ToolManageAgents, manageArgs{Action: "start", AgentName: "web_researcher"})).
		WithResponse("Starting it now.")
	h := newHarness(t, m)

	h.a.Handle(testutil.TestContext(t), "", chat("start the researcher"))

	assert.Equal(t, []string{"✅ Agent 'web_researcher' started successfully.", "Starting it now."}, h.rec.Texts(userTopic))
	assert.Equal(t, []string{"start web_researcher"}, h.ctl.Calls())
}

func TestRespond_SilentToolFeedsFollowUp(t *testing.T) {
	m := mocks.NewMockCompleter().
		WithToolCalls(toolCall(ToolGetAgentInfo, struct{}{})).
		WithResponses("", "Two agents are registered.")
	h := newHarness(t, m)

	h.a.Handle(testutil.TestContext(t), "", chat("who is around?"))

	assert.Equal(t, []string{"Two agents are registered."}, h.rec.Texts(userTopic))
	calls := m.Calls()
	require.Len(t, calls, 2)
	followUp := calls[1].Messages
	last := followUp[len(followUp)-1]
	assert.Equal(t, types.RoleTool, last.Role)
	assert.Contains(t, last.Content, "🟢 **Running Agents (1):**")
}

func TestRespond_BadAndUnknownTools(t *testing.T) {
	m := mocks.NewMockCompleter().WithToolCalls(
		types.ToolCall{ID: "1", Name: ToolCreateAgent, Arguments: json.RawMessage(`{"name": 3}`)},
		types.ToolCall{ID: "2", Name: "launch_rocket"},
	).WithResponse("")
	h := newHarness(t, m)

	h.a.Handle(testutil.TestContext(t), "", chat("do things"))

	texts := h.rec.Texts(userTopic)
	require.Len(t, texts, 2)
	assert.True(t, strings.HasPrefix(texts[0], "❌ Failed to parse function arguments: "))
	assert.Equal(t, "❌ Unknown function 'launch_rocket'", texts[1])
}

func TestRespond_ForwardsAgentLines(t *testing.T) {
	h := newHarness(t, mocks.NewMockCompleter().WithResponse("Sure.\nWriter, write a haiku about tea.\nWeb Researcher, find sources."))

	h.a.Handle(testutil.TestContext(t), "", chat("get me a haiku"))

	msgs := h.rec.Messages("agent:writer:inbox")
	require.Len(t, msgs, 1)
	nm, ok := msgs[0].(*protocol.NaturalMessage)
	require.True(t, ok)
	assert.Equal(t, "write a haiku about tea", nm.Text())
	assert.Equal(t, "agent:assistant:inbox", nm.ReplyTo)
	assert.Equal(t, userTopic, nm.OriginalUserTopic)
	assert.Zero(t, h.rec.Count("agent:web_researcher:inbox"), "stopped agents are not contacted")
}

func TestAgentInstruction(t *testing.T) {
	text, ok := agentInstruction("Writer: please review the draft.", "writer")
	assert.True(t, ok)
	assert.Equal(t, "please review the draft", text)

	_, ok = agentInstruction("Writer, the draft is good.", "writer")
	assert.False(t, ok, "no delegation verb")

	_, ok = agentInstruction("Copywriter, write it.", "writer")
	assert.False(t, ok, "word boundary")

	text, ok = agentInstruction("Data Analyst, analyze the sales numbers", "data_analyst")
	assert.True(t, ok)
	assert.Equal(t, "analyze the sales numbers", text)
}

// =============================================================================
// Inbox routing
// =============================================================================

func TestHandle_NaturalResponseForwarded(t *testing.T) {
	h := newHarness(t, mocks.NewMockCompleter())
	ctx := testutil.TestContext(t)

	h.a.Handle(ctx, "", &protocol.NaturalResponse{FromAgent: "writer", Response: "Here you go."})
	assert.Empty(t, h.rec.Texts(userTopic), "responses without routing are ignored")

	h.a.Handle(ctx, "", &protocol.NaturalResponse{
		FromAgent:         "web_researcher",
		Response:          "Found three sources.",
		ReplyTo:           "agent:assistant:inbox",
		OriginalUserTopic: userTopic,
	})
	assert.Equal(t, []string{"Web Researcher: Found three sources."}, h.rec.Texts(userTopic))
	assert.Len(t, h.a.Coordinator().History().All("web_researcher"), 1)
}

func TestHandle_TaskResultReachesCoordinator(t *testing.T) {
	h := newHarness(t, mocks.NewMockCompleter())
	task := fixtures.Subtask("draft", "write a post", 0, 1)

	h.a.Handle(testutil.TestContext(t), "", fixtures.Result("writer", "the draft", task, userTopic))

	assert.Equal(t, []string{"the draft"}, h.rec.Texts(userTopic))
}

// =============================================================================
// Tools
// =============================================================================

func TestManageAgent(t *testing.T) {
	h := newHarness(t, mocks.NewMockCompleter())
	ctx := testutil.TestContext(t)

	assert.Equal(t, "❌ Agent name is required.", h.a.manageAgent(ctx, "start", " "))
	assert.Equal(t, "❌ Invalid action 'pause'. Must be 'start', 'stop', or 'restart'.", h.a.manageAgent(ctx, "pause", "writer"))
	assert.Equal(t, "✅ Agent 'writer' restarted successfully.", h.a.manageAgent(ctx, "restart", "writer"))
	assert.Equal(t, []string{"stop writer", "start writer"}, h.ctl.Calls())

	h.ctl.fail["start writer"] = types.NewError(types.ErrAgentAlreadyRunning, "Agent 'writer' is already running.")
	assert.Equal(t, "ℹ️ Agent 'writer' is already running.", h.a.manageAgent(ctx, "start", "writer"))

	h.ctl.fail["stop writer"] = errors.New("boom")
	assert.Equal(t, "❌ Failed to stop agent 'writer': boom", h.a.manageAgent(ctx, "stop", "writer"))
}

func TestSmartOperation(t *testing.T) {
	h := newHarness(t, mocks.NewMockCompleter().WithResponses("web_researcher", "NONE"))
	ctx := testutil.TestContext(t)

	out := h.a.smartOperation(ctx, "start", "the research person", userTopic)
	assert.Equal(t, "🔍 Resolved 'the research person' to 'web_researcher'\n📊 Start complete: 1/1 agents successful", out)
	assert.Equal(t, []string{
		"🚀 Starting 1 agent(s): web_researcher",
		"⚙️ Starting web_researcher...",
		"✅ web_researcher started successfully",
	}, h.rec.Texts(userTopic))

	out = h.a.smartOperation(ctx, "stop", "nobody", userTopic)
	assert.Equal(t, "❌ No agent found matching 'nobody'. Available agents: web_researcher, writer", out)

	assert.Equal(t, "ℹ️ All target agents are already running.", h.a.smartOperation(ctx, "start", "Writer", userTopic))

	out = h.a.smartOperation(ctx, "stop", "all", userTopic)
	assert.Equal(t, "📊 Stop complete: 1/1 agents successful", out)
	assert.Contains(t, h.rec.Texts(userTopic), "⚙️ Stopping writer...")

	assert.Equal(t, "✅ Agent 'writer' deleted successfully (including runbook).", h.a.smartOperation(ctx, "delete", "writer", userTopic))
	assert.Equal(t, "❌ Invalid operation 'pause'. Must be 'start', 'stop', or 'delete'.", h.a.smartOperation(ctx, "pause", "writer", userTopic))
}

func TestCreateAndDeleteAgent(t *testing.T) {
	h := newHarness(t, mocks.NewMockCompleter())
	ctx := testutil.TestContext(t)

	assert.Equal(t, "❌ Agent name and role are required.", h.a.createAgent(ctx, createArgs{Name: "x"}))
	assert.Equal(t, "❌ At least one capability is required.", h.a.createAgent(ctx, createArgs{Name: "x", Role: "r"}))

	out := h.a.createAgent(ctx, createArgs{
		Name:         "Data Analyst",
		Role:         "Analyzes data.",
		Capabilities: []api.CapabilityInput{{Name: "Charts", Description: "Draws charts"}, {Name: "SQL"}},
		ActionServer: "warehouse",
	})
	assert.Equal(t, "🎉 Successfully created agent 'data_analyst' and started it!\n\nThe agent has been configured with the following capabilities:\n• Charts: Draws charts\n• SQL\n\n🔧 Tools assigned: warehouse", out)
	require.Len(t, h.ctl.created, 1)
	assert.Equal(t, "data_analyst", h.ctl.created[0].Name)

	assert.Equal(t, "✅ Successfully deleted agent 'data_analyst' (runbook preserved).", h.a.deleteAgent(ctx, deleteArgs{AgentName: "data_analyst"}))
	assert.Equal(t, "✅ Successfully deleted agent 'data_analyst' and removed its runbook.", h.a.deleteAgent(ctx, deleteArgs{AgentName: "data_analyst", RemoveRunbook: true}))
}

func TestActionServerTools(t *testing.T) {
	h := newHarness(t, mocks.NewMockCompleter())
	ctx := testutil.TestContext(t)

	assert.Equal(t, "ℹ️ No action servers are currently configured.", h.a.actionServers(ctx))
	h.ctl.servers = []api.ActionServerInfo{{ID: "mail", Description: "Email tools", Type: "openapi"}}
	assert.Equal(t, "Available MCP Action Servers:\n\n• **mail** - Email tools\n  Type: openapi", h.a.actionServers(ctx))

	assert.Equal(t, "❌ Both agent_name and action_server are required.", h.a.assignActionServer(ctx, assignArgs{AgentName: "writer"}))
	assert.Equal(t, "✅ Assigned mail to writer\n🔄 Agent restarted - tools are now active!", h.a.assignActionServer(ctx, assignArgs{AgentName: "writer", ActionServer: "mail"}))
	assert.Equal(t, "✅ Removed action server from writer", h.a.removeActionServer(ctx, "writer"))
}

func TestInfoTools(t *testing.T) {
	h := newHarness(t, mocks.NewMockCompleter())
	ctx := testutil.TestContext(t)

	info := h.a.agentInfo(ctx)
	assert.Contains(t, info, "  • **writer**: Writer - Copy Writing, Editing\n")
	assert.Contains(t, info, "⚪ **Stopped Agents (1):**\n  • **web_researcher**")
	assert.True(t, strings.HasSuffix(info, "📈 **Total agents:** 2"))

	ex := h.a.runbookExamples(ctx)
	assert.Contains(t, ex, "**writer** (Content Writer)")
	assert.Contains(t, ex, "**researcher** (Research Analyst)")

	h.ctl.runbooks = nil
	assert.Equal(t, "📚 No existing runbooks found", h.a.runbookExamples(ctx))
}
