package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/agentmesh/agent/protocol"
	"github.com/BaSui01/agentmesh/api"
	"github.com/BaSui01/agentmesh/internal/controlplane"
	"github.com/BaSui01/agentmesh/testutil"
	"github.com/BaSui01/agentmesh/testutil/fixtures"
	"github.com/BaSui01/agentmesh/types"
)

// =============================================================================
// 🧪 SessionStore 测试
// =============================================================================

func TestSessionStore(t *testing.T) {
	s := NewSessionStore()
	assert.False(t, s.Open("s1"))
	assert.True(t, s.Open("s1"))

	s.Append("s1", "writer", types.Message{Role: types.RoleUser, Content: "hi"})
	history := s.Append("s1", "writer", types.Message{Role: types.RoleAssistant, Content: "hello"})
	s.Append("s1", "assistant", types.Message{Role: types.RoleUser, Content: "yo"})
	require.Len(t, history, 2)

	// 返回值是副本
	history[0].Content = "mutated"
	assert.Equal(t, api.ChatHistory{SessionID: "s1", MessageCount: 3, Agents: map[string]int{"writer": 2, "assistant": 1}}, s.Summary("s1"))

	n, ok := s.Clear("s1")
	assert.True(t, ok)
	assert.Equal(t, 3, n)
	assert.Equal(t, 0, s.Summary("s1").MessageCount)

	_, ok = s.Clear("ghost")
	assert.False(t, ok)
}

func TestChatHandler_HistoryEndpoints(t *testing.T) {
	e := newTestEnv(t)

	_, env := e.do(t, http.MethodPost, "/chat/s1/clear", "")
	assert.Equal(t, "No chat history found for session s1", env.Message)

	_, env = e.do(t, http.MethodGet, "/chat/s1/history", "")
	var hist api.ChatHistory
	require.NoError(t, env.DecodeData(&hist))
	assert.Equal(t, "s1", hist.SessionID)
	assert.Equal(t, 0, hist.MessageCount)
}

// =============================================================================
// 🧪 WebSocket 桥接测试
// =============================================================================

func dialSession(t *testing.T, e *testEnv, session string) (*websocket.Conn, context.Context) {
	t.Helper()
	srv := httptest.NewServer(e.mux)
	t.Cleanup(srv.Close)

	ctx := testutil.TestContext(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/" + session
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.CloseNow() })
	return conn, ctx
}

func readText(t *testing.T, ctx context.Context, conn *websocket.Conn) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	return string(data)
}

func TestChatHandler_RoutesMentionsAndForwardsReplies(t *testing.T) {
	e := newTestEnv(t)
	e.register(t, "writer")
	conn, ctx := dialSession(t, e, "s1")

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte("@writer draft a tagline")))

	inbox := protocol.InboxTopic("writer")
	testutil.AssertEventuallyTrue(t, func() bool { return e.bus.Count(inbox) == 1 }, 3*time.Second)
	req, ok := e.bus.Messages(inbox)[0].(*protocol.ChatRequest)
	require.True(t, ok)
	assert.Equal(t, "draft a tagline", req.LastUserMessage())
	assert.Equal(t, "user_session:s1", req.ReplyTo)
	assert.Equal(t, "writer", req.Agent)

	reply, err := protocol.Encode(&protocol.UserEvent{Sender: "writer", Content: "Fresh ideas, daily."})
	require.NoError(t, err)
	require.NoError(t, e.bus.Publish(ctx, protocol.UserTopic("s1"), reply))
	assert.Equal(t, "[Writer]: Fresh ideas, daily.", readText(t, ctx, conn))

	require.NoError(t, e.bus.Publish(ctx, protocol.UserTopic("s1"), []byte("plain notice")))
	assert.Equal(t, "plain notice", readText(t, ctx, conn))

	_, env := e.do(t, http.MethodGet, "/chat/s1/history", "")
	var hist api.ChatHistory
	require.NoError(t, env.DecodeData(&hist))
	assert.Equal(t, 2, hist.Agents["writer"])
}

func TestChatHandler_ReportsUnavailableAgents(t *testing.T) {
	e := newTestEnv(t)
	conn, ctx := dialSession(t, e, "s2")

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte("hello there")))
	assert.Equal(t, "⚠️  Some agents were unavailable: assistant (not available)", readText(t, ctx, conn))
	assert.Equal(t, noAgentsAvailable, readText(t, ctx, conn))
}

func TestChatHandler_RoutesAgentMentionsPerLine(t *testing.T) {
	e := newTestEnv(t)
	e.register(t, "writer")
	e.register(t, "researcher")
	conn, ctx := dialSession(t, e, "s3")

	// 先发一条消息，确保订阅已建立
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte("@researcher ping")))
	researcherInbox := protocol.InboxTopic("researcher")
	testutil.AssertEventuallyTrue(t, func() bool { return e.bus.Count(researcherInbox) == 1 }, 3*time.Second)

	content := "@writer please polish the intro\nThanks both!"
	reply, err := protocol.Encode(&protocol.UserEvent{Sender: "assistant", Content: content})
	require.NoError(t, err)
	require.NoError(t, e.bus.Publish(ctx, protocol.UserTopic("s3"), reply))

	assert.Equal(t, content, readText(t, ctx, conn))
	writerInbox := protocol.InboxTopic("writer")
	testutil.AssertEventuallyTrue(t, func() bool { return e.bus.Count(writerInbox) == 1 }, 3*time.Second)
	req := e.bus.Messages(writerInbox)[0].(*protocol.ChatRequest)
	assert.Equal(t, "please polish the intro\nThanks both!", req.LastUserMessage())
}

func TestChatHandler_AssistantIntroduction(t *testing.T) {
	e := newTestEnv(t)
	conn, ctx := dialSession(t, e, "main")

	// 先确认桥接已就绪
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte("hi")))
	readText(t, ctx, conn)
	readText(t, ctx, conn)

	assistant := fixtures.WriterRunbook()
	assistant.AgentName = types.AssistantName
	assistant.JobTitle = "Personal Assistant"
	_, err := e.svc.PutRunbook(assistant)
	require.NoError(t, err)

	e.register(t, "assistant")
	assert.Equal(t,
		"🤖 Hello! I'm your Personal Assistant.\n\nFeel free to ask me anything or request complex tasks that I can help with!\n",
		readText(t, ctx, conn))

	_, _ = e.do(t, http.MethodPost, "/agents/stop", `{"name":"assistant"}`)
	require.NoError(t, e.bus.Publish(ctx, protocol.UserTopic("main"), []byte(controlplane.AssistantReady)))
	assert.Equal(t, assistantOffline, readText(t, ctx, conn))
}
