package controlplane

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/agentmesh/agent/actions"
	"github.com/BaSui01/agentmesh/agent/bus"
	"github.com/BaSui01/agentmesh/agent/protocol"
	"github.com/BaSui01/agentmesh/agent/runbook"
	"github.com/BaSui01/agentmesh/api"
	"github.com/BaSui01/agentmesh/config"
	"github.com/BaSui01/agentmesh/internal/database"
	"github.com/BaSui01/agentmesh/internal/migration"
	"github.com/BaSui01/agentmesh/internal/registry"
	"github.com/BaSui01/agentmesh/testutil/fixtures"
	"github.com/BaSui01/agentmesh/testutil/mocks"
	"github.com/BaSui01/agentmesh/types"
)

// =============================================================================
// 🧪 测试替身
// =============================================================================

type fakeSupervisor struct {
	store *registry.Store

	mu        sync.Mutex
	running   map[string]int
	nextPID   int
	failStart map[string]bool
	started   []string
	stopped   []string
}

func newFakeSupervisor(store *registry.Store) *fakeSupervisor {
	return &fakeSupervisor{store: store, running: map[string]int{}, nextPID: 100, failStart: map[string]bool{}}
}

func (f *fakeSupervisor) Start(_ context.Context, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.running[name]; ok {
		return "", types.Errorf(types.ErrAgentAlreadyRunning, "Agent '%s' is already running.", name)
	}
	if f.failStart[name] {
		return "", types.Errorf(types.ErrRunbookNotFound, "Runbook not found for agent '%s'", name)
	}
	f.nextPID++
	f.running[name] = f.nextPID
	f.started = append(f.started, name)
	return "started " + name, nil
}

func (f *fakeSupervisor) Stop(ctx context.Context, name string) (string, error) {
	return f.StopLocked(ctx, name)
}

func (f *fakeSupervisor) StopLocked(ctx context.Context, name string) (string, error) {
	f.mu.Lock()
	delete(f.running, name)
	f.stopped = append(f.stopped, name)
	f.mu.Unlock()
	if err := f.store.SetStatus(ctx, name, types.AgentStopped, nil); err != nil {
		return "", types.Errorf(types.ErrAgentNotFound, "Agent '%s' not found in database", name)
	}
	return "Agent '" + name + "' stopped", nil
}

func (f *fakeSupervisor) StopAll(context.Context, bool) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.running)
	f.running = map[string]int{}
	return n
}

func (f *fakeSupervisor) Reconcile(context.Context) (int, error) { return 0, nil }
func (f *fakeSupervisor) Lock(string) func()                     { return func() {} }

func (f *fakeSupervisor) PID(name string) *int {
	f.mu.Lock()
	defer f.mu.Unlock()
	pid, ok := f.running[name]
	if !ok {
		return nil
	}
	return &pid
}

func (f *fakeSupervisor) startedNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]string(nil), f.started...)
	sort.Strings(out)
	return out
}

type fakeActions struct {
	found    []types.Action
	err      error
	executed []string
}

func (f *fakeActions) Discover(context.Context, actions.Server) ([]types.Action, error) {
	return f.found, f.err
}

func (f *fakeActions) Execute(_ context.Context, _ actions.Server, action types.Action, params map[string]any) map[string]any {
	f.executed = append(f.executed, action.ID)
	return map[string]any{"result": map[string]any{"echo": params["q"]}}
}

type harness struct {
	svc     *Service
	store   *registry.Store
	sup     *fakeSupervisor
	acts    *fakeActions
	rec     *mocks.RecordingBus
	runbook *runbook.Store
	configs *actions.ConfigStore
}

const serversJSON = `{
  "servers": {
    "search": {"name": "Search", "description": "Web search", "type": "http", "url": "http://search.local", "auto_discover": true},
    "files": {"name": "Files", "type": "http", "url": "http://files.local"}
  }
}`

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := database.Open(config.DatabaseConfig{Driver: "sqlite", Name: ":memory:"}, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, migration.Run(context.Background(), db, "sqlite", nil))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	dir := t.TempDir()
	serversFile := filepath.Join(dir, "action_servers.json")
	require.NoError(t, os.WriteFile(serversFile, []byte(serversJSON), 0o644))

	store := registry.NewStore(db, zap.NewNop())
	sup := newFakeSupervisor(store)
	acts := &fakeActions{found: []types.Action{
		{ID: "web_search", Name: "Web Search", Description: "Search the web", Method: "POST", Enabled: true},
		{ID: "crawl", Name: "Crawl", Description: "Fetch a page", Method: "GET", Enabled: false},
	}}
	rec := mocks.NewRecordingBus(bus.NewMemoryBus(zap.NewNop()))
	rbs := runbook.NewStore(filepath.Join(dir, "runbooks"), zap.NewNop())
	cfgs := actions.NewConfigStore(filepath.Join(dir, "agent_configs"))

	svc := New(Config{SessionID: "main", ServersFile: serversFile, AutoStart: true}, Deps{
		Store:      store,
		Supervisor: sup,
		Runbooks:   rbs,
		Configs:    cfgs,
		Actions:    acts,
		Bus:        rec,
		Logger:     zap.NewNop(),
	})
	require.NoError(t, svc.ReloadServers())
	return &harness{svc: svc, store: store, sup: sup, acts: acts, rec: rec, runbook: rbs, configs: cfgs}
}

func (h *harness) register(t *testing.T, name string) {
	t.Helper()
	_, err := h.svc.Register(context.Background(), api.RegisterRequest{ID: "id-" + name, Name: name, Role: "Role of " + name})
	require.NoError(t, err)
}

func requireCode(t *testing.T, err error, code types.ErrorCode) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, code, types.GetErrorCode(err), "error: %v", err)
}

// =============================================================================
// 🤖 注册与生命周期
// =============================================================================

func TestRegister_AssistantAnnouncesReadiness(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.sup.Start(ctx, "assistant")
	require.NoError(t, err)

	info, err := h.svc.Register(ctx, api.RegisterRequest{ID: "a1", Name: "Assistant", Role: "Personal Assistant"})
	require.NoError(t, err)

	assert.Equal(t, "assistant", info.Name)
	assert.Equal(t, types.AgentRunning, info.Status)
	assert.Equal(t, "agent:assistant:inbox", info.InboxTopic)
	require.NotNil(t, info.PID)
	assert.Equal(t, 101, *info.PID)
	assert.Equal(t, []string{AssistantReady}, h.rec.Texts("user_session:main"))

	h.register(t, "writer")
	assert.Equal(t, 1, h.rec.Count("user_session:main"))
}

func TestRegister_RequiresName(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Register(context.Background(), api.RegisterRequest{})
	requireCode(t, err, types.ErrInvalidRequest)
}

func TestStopByIDAndInvoke(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.register(t, "writer")

	msg, err := h.svc.Invoke(ctx, "id-writer", "draft a haiku")
	require.NoError(t, err)
	assert.Equal(t, "Message sent to writer", msg)

	got := h.rec.Messages("agent:writer:inbox")
	require.Len(t, got, 1)
	chat, ok := got[0].(*protocol.ChatRequest)
	require.True(t, ok)
	assert.Equal(t, "user_session:main", chat.ReplyTo)
	assert.Equal(t, "draft a haiku", chat.LastUserMessage())

	msg, err = h.svc.StopByID(ctx, "id-writer")
	require.NoError(t, err)
	assert.Equal(t, "Agent 'writer' stopped", msg)

	_, err = h.svc.StopByID(ctx, "missing")
	requireCode(t, err, types.ErrAgentNotFound)
	_, err = h.svc.Invoke(ctx, "missing", "hi")
	requireCode(t, err, types.ErrAgentNotFound)
}

func TestAvailable_IncludesAssistant(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.runbook.Write("writer", fixtures.WriterMarkdown))
	require.NoError(t, h.runbook.Write("analyst", fixtures.ResearcherMarkdown))

	names, err := h.svc.Available()
	require.NoError(t, err)
	assert.Equal(t, []string{"analyst", "assistant", "writer"}, names)
}

// =============================================================================
// 🛠️ 创建与删除
// =============================================================================

func TestCreate_WritesRunbookAndStarts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	msg, err := h.svc.Create(ctx, api.CreateAgentRequest{
		Name:         "Data Analyst",
		Role:         "Analyses datasets. Produces charts.",
		Capabilities: []api.CapabilityInput{{Name: "Charting", Description: "Draws charts"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Agent 'data_analyst' created and started successfully", msg)
	assert.True(t, h.runbook.Exists("data_analyst"))
	assert.Equal(t, []string{"data_analyst"}, h.sup.startedNames())

	rb, err := h.svc.Runbook("data_analyst")
	require.NoError(t, err)
	assert.Equal(t, "Analyses datasets", rb.JobTitle)
	assert.Equal(t, []string{"Charting"}, rb.CapabilityNames())
}

func TestCreate_Validation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Create(ctx, api.CreateAgentRequest{Name: "bad-name!", Role: "x"})
	requireCode(t, err, types.ErrInvalidRequest)
	assert.Contains(t, err.Error(), "only letters, numbers, and underscores")

	h.register(t, "writer")
	_, err = h.svc.Create(ctx, api.CreateAgentRequest{Name: "writer", Role: "Writes"})
	requireCode(t, err, types.ErrAgentAlreadyExists)
	assert.Contains(t, err.Error(), "Agent 'writer' already exists")

	_, err = h.svc.Create(ctx, api.CreateAgentRequest{Name: "tooled", Role: "Uses tools", ActionServer: "nope"})
	requireCode(t, err, types.ErrActionServerNotFound)
	assert.False(t, h.runbook.Exists("tooled"))
}

func TestCreate_WithActionServerLoadsActions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Create(ctx, api.CreateAgentRequest{Name: "scout", Role: "Finds things", ActionServer: "search"})
	require.NoError(t, err)

	cfg, err := h.configs.Load("scout")
	require.NoError(t, err)
	assert.Equal(t, "search", cfg.ActionServer)

	rec, err := h.store.Get(ctx, "scout")
	require.NoError(t, err)
	assert.Equal(t, "search", rec.ActionServerName)
	assert.Len(t, rec.Actions, 2)
	assert.Equal(t, types.AgentStopped, rec.Status)
}

func TestCreate_StartFailureRollsBack(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.sup.failStart["broken"] = true

	_, err := h.svc.Create(ctx, api.CreateAgentRequest{Name: "broken", Role: "Breaks", ActionServer: "files"})
	requireCode(t, err, types.ErrRunbookNotFound)
	assert.Contains(t, err.Error(), "Agent created but failed to start")

	assert.False(t, h.runbook.Exists("broken"))
	_, err = h.configs.Load("broken")
	assert.True(t, errors.Is(err, actions.ErrConfigNotFound))
	_, err = h.store.Get(ctx, "broken")
	assert.ErrorIs(t, err, registry.ErrNotFound)
	_, err = h.svc.Runbook("broken")
	requireCode(t, err, types.ErrRunbookNotFound)
}

func TestDelete(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, _, err := h.svc.Delete(ctx, api.DeleteAgentRequest{Name: "assistant"})
	requireCode(t, err, types.ErrForbidden)

	_, _, err = h.svc.Delete(ctx, api.DeleteAgentRequest{Name: "ghost"})
	requireCode(t, err, types.ErrAgentNotFound)

	_, err = h.svc.Create(ctx, api.CreateAgentRequest{Name: "scout", Role: "Finds things", ActionServer: "files"})
	require.NoError(t, err)
	h.register(t, "scout")

	msg, res, err := h.svc.Delete(ctx, api.DeleteAgentRequest{Name: "scout"})
	require.NoError(t, err)
	assert.Equal(t, "Agent 'scout' deleted successfully", msg)
	assert.Equal(t, &api.DeleteResult{RunbookRemoved: false, ConfigRemoved: true, ProcessStopped: true}, res)
	assert.True(t, h.runbook.Exists("scout"))
	_, err = h.store.Get(ctx, "scout")
	assert.ErrorIs(t, err, registry.ErrNotFound)

	// 只剩 runbook 的 Agent 仍可删除
	_, res, err = h.svc.Delete(ctx, api.DeleteAgentRequest{Name: "scout", RemoveRunbook: true})
	require.NoError(t, err)
	assert.Equal(t, &api.DeleteResult{RunbookRemoved: true}, res)
	assert.False(t, h.runbook.Exists("scout"))
}

func TestDelete_StopsUnregisteredChild(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Create(ctx, api.CreateAgentRequest{Name: "fresh", Role: "Just created"})
	require.NoError(t, err)
	require.NotNil(t, h.sup.PID("fresh"))
	_, err = h.store.Get(ctx, "fresh")
	require.ErrorIs(t, err, registry.ErrNotFound)

	_, res, err := h.svc.Delete(ctx, api.DeleteAgentRequest{Name: "fresh", RemoveRunbook: true})
	require.NoError(t, err)
	assert.True(t, res.ProcessStopped)
	assert.True(t, res.RunbookRemoved)
	assert.Nil(t, h.sup.PID("fresh"))

	h.sup.mu.Lock()
	stopped := append([]string(nil), h.sup.stopped...)
	h.sup.mu.Unlock()
	assert.Equal(t, []string{"fresh"}, stopped)
}

// =============================================================================
// 🔧 动作服务器
// =============================================================================

func TestActionServers_HideTokens(t *testing.T) {
	h := newHarness(t)
	got := h.svc.ActionServers()
	require.Len(t, got, 2)
	assert.Equal(t, "files", got[0].ID)
	assert.Equal(t, "search", got[1].ID)
	assert.True(t, got[1].AutoDiscover)
}

func TestAssignActionServer_RestartsRunningAgent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.sup.Start(ctx, "writer")
	require.NoError(t, err)
	h.register(t, "writer")

	msg, res, err := h.svc.AssignActionServer(ctx, "writer", "search")
	require.NoError(t, err)
	assert.Equal(t, "Action server 'search' assigned to agent 'writer'", msg)
	assert.Equal(t, 2, res.ActionCount)
	assert.True(t, res.AgentRestarted)
	assert.Equal(t, []string{"writer", "writer"}, h.sup.startedNames())

	_, _, err = h.svc.AssignActionServer(ctx, "writer", "nope")
	requireCode(t, err, types.ErrActionServerNotFound)
	_, _, err = h.svc.AssignActionServer(ctx, "ghost", "search")
	requireCode(t, err, types.ErrAgentNotFound)
}

func TestAssignActionServer_DiscoveryFailureFallsBackToFile(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.register(t, "writer")
	h.acts.err = errors.New("server down")
	require.NoError(t, h.configs.Write(actions.AgentConfig{
		AgentName:    "writer",
		ActionServer: "search",
		Actions:      []types.Action{{ID: "cached", Name: "Cached", Enabled: true}},
	}))

	n, err := h.svc.LoadAgentConfigs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	rec, err := h.store.Get(ctx, "writer")
	require.NoError(t, err)
	require.Len(t, rec.Actions, 1)
	assert.Equal(t, "cached", rec.Actions[0].ID)
}

func TestLoadAgentConfigs_StubsUnknownAgentsAndSkipsUnknownServers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.configs.Write(actions.AgentConfig{AgentName: "newcomer", ActionServer: "files",
		Actions: []types.Action{{ID: "read", Name: "Read", Enabled: true}}}))
	require.NoError(t, h.configs.Write(actions.AgentConfig{AgentName: "orphan", ActionServer: "gone"}))

	n, err := h.svc.LoadAgentConfigs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rec, err := h.store.Get(ctx, "newcomer")
	require.NoError(t, err)
	assert.Equal(t, "agent_newcomer", rec.ID)
	assert.Equal(t, types.AgentStopped, rec.Status)
	assert.Equal(t, "files", rec.ActionServerName)
	_, err = h.store.Get(ctx, "orphan")
	assert.ErrorIs(t, err, registry.ErrNotFound)
}

func TestRemoveActionServer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.register(t, "writer")

	_, err := h.svc.RemoveActionServer(ctx, "writer")
	requireCode(t, err, types.ErrActionServerNotFound)
	assert.Contains(t, err.Error(), "has no action server assigned")

	_, _, err = h.svc.AssignActionServer(ctx, "writer", "search")
	require.NoError(t, err)
	msg, err := h.svc.RemoveActionServer(ctx, "writer")
	require.NoError(t, err)
	assert.Equal(t, "Action server removed from agent 'writer'", msg)

	got, err := h.svc.AgentActions(ctx, "writer")
	require.NoError(t, err)
	assert.Empty(t, got.Actions)
	assert.Nil(t, got.ActionServer)
}

func TestExecuteAction(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.register(t, "writer")

	_, err := h.svc.ExecuteAction(ctx, "writer", "web_search", nil)
	requireCode(t, err, types.ErrActionServerNotFound)

	_, _, err = h.svc.AssignActionServer(ctx, "writer", "search")
	require.NoError(t, err)

	_, err = h.svc.ExecuteAction(ctx, "writer", "missing", nil)
	requireCode(t, err, types.ErrActionNotFound)
	_, err = h.svc.ExecuteAction(ctx, "writer", "crawl", nil)
	requireCode(t, err, types.ErrActionDisabled)
	_, err = h.svc.ExecuteAction(ctx, "ghost", "web_search", nil)
	requireCode(t, err, types.ErrAgentNotFound)

	out, err := h.svc.ExecuteAction(ctx, "writer", "web_search", map[string]any{"q": "go"})
	require.NoError(t, err)
	assert.Equal(t, "Web Search", out["action_name"])
	assert.Equal(t, map[string]any{"echo": "go"}, out["result"])
	_, hasErr := out["error"]
	assert.False(t, hasErr)
	assert.Equal(t, []string{"web_search"}, h.acts.executed)

	info, err := h.svc.AgentActions(ctx, "writer")
	require.NoError(t, err)
	require.NotNil(t, info.ActionServer)
	assert.Equal(t, "http://search.local", info.ActionServer.URL)
}

func TestSearchAndCatalog(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.register(t, "writer")
	h.register(t, "searcher")
	require.NoError(t, h.store.SetActions(ctx, "writer", "files", []types.Action{
		{ID: "a", Name: "Archive", Description: "store search results", Enabled: true},
	}))
	require.NoError(t, h.store.SetActions(ctx, "searcher", "search", []types.Action{
		{ID: "s", Name: "Search Web", Description: "query", Enabled: true},
	}))

	cat, err := h.svc.AllActions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, cat.TotalAgents)
	assert.Equal(t, 2, cat.TotalActions)

	res, err := h.svc.SearchActions(ctx, "search")
	require.NoError(t, err)
	require.Equal(t, 2, res.TotalMatches)
	assert.Equal(t, actions.RelevanceHigh, res.Matches[0].Relevance)
	assert.Equal(t, "s", res.Matches[0].Action.ID)
	assert.Equal(t, actions.RelevanceMedium, res.Matches[1].Relevance)
}

func TestDiscoverAndRefresh(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	got, err := h.svc.DiscoverActions(ctx, "search")
	require.NoError(t, err)
	assert.Equal(t, 2, got.TotalActions)
	assert.Equal(t, "http://search.local", got.ServerURL)

	_, err = h.svc.DiscoverActions(ctx, "nope")
	requireCode(t, err, types.ErrActionServerNotFound)

	h.register(t, "writer")
	_, _, err = h.svc.AssignActionServer(ctx, "writer", "files")
	require.NoError(t, err)
	_, err = h.svc.RefreshActions(ctx, "writer")
	requireCode(t, err, types.ErrInvalidRequest)
	assert.Contains(t, err.Error(), "does not have auto_discover enabled")

	_, _, err = h.svc.AssignActionServer(ctx, "writer", "search")
	require.NoError(t, err)
	h.acts.found = h.acts.found[:1]
	got, err = h.svc.RefreshActions(ctx, "writer")
	require.NoError(t, err)
	assert.Equal(t, "writer", got.AgentName)
	assert.Equal(t, 1, got.TotalActions)
}

// =============================================================================
// 📖 Runbook 与启动
// =============================================================================

func TestRunbooks(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.PutRunbook(&runbook.Runbook{})
	requireCode(t, err, types.ErrInvalidRequest)

	msg, err := h.svc.PutRunbook(fixtures.WriterRunbook())
	require.NoError(t, err)
	assert.Equal(t, "Runbook registered for writer", msg)
	_, err = h.svc.PutRunbook(fixtures.ResearcherRunbook())
	require.NoError(t, err)

	all := h.svc.Runbooks()
	require.Len(t, all, 2)
	assert.Equal(t, "researcher", all[0].AgentName)

	caps := h.svc.Capabilities()
	require.Len(t, caps, 3)
	assert.Equal(t, "researcher", caps[0].Agent)
	assert.Equal(t, "Web Research", caps[0].Capability.Name)

	_, err = h.svc.Runbook("nobody")
	requireCode(t, err, types.ErrRunbookNotFound)
}

func TestRunbookHTML(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.runbook.Write("writer", fixtures.WriterMarkdown))

	html, err := h.svc.RunbookHTML("writer")
	require.NoError(t, err)
	assert.Contains(t, html, "<h2")
	assert.Contains(t, html, "Content Writer")

	_, err = h.svc.RunbookHTML("nobody")
	requireCode(t, err, types.ErrRunbookNotFound)
}

func TestBootAndAutoStart(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.runbook.Write("writer", fixtures.WriterMarkdown))
	require.NoError(t, h.runbook.Write("researcher", fixtures.ResearcherMarkdown))
	h.sup.failStart["researcher"] = true

	require.NoError(t, h.svc.Boot(ctx))
	assert.Len(t, h.svc.Runbooks(), 2)

	started, failed := h.svc.AutoStart(ctx)
	assert.Equal(t, 2, started)
	assert.Equal(t, 1, failed)
	assert.Equal(t, []string{"assistant", "writer"}, h.sup.startedNames())

	assert.Equal(t, 2, h.svc.Shutdown(ctx, false))
}

func TestAutoStart_DisabledOrCancelled(t *testing.T) {
	h := newHarness(t)
	h.svc.cfg.AutoStart = false
	started, failed := h.svc.AutoStart(context.Background())
	assert.Zero(t, started+failed)

	h.svc.cfg.AutoStart = true
	h.svc.cfg.AutoStartDelay = 1 << 40
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	started, failed = h.svc.AutoStart(ctx)
	assert.Zero(t, started+failed)
	assert.Empty(t, h.sup.startedNames())
}
