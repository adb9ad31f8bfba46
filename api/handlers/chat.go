package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/coder/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/agentmesh/agent/bus"
	"github.com/BaSui01/agentmesh/agent/mention"
	"github.com/BaSui01/agentmesh/agent/protocol"
	"github.com/BaSui01/agentmesh/api"
	"github.com/BaSui01/agentmesh/internal/controlplane"
	"github.com/BaSui01/agentmesh/internal/registry"
	"github.com/BaSui01/agentmesh/types"
)

// =============================================================================
// 💬 会话历史
// =============================================================================

// SessionStore 按会话、按 Agent 保存聊天历史（进程生命周期）
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]map[string][]types.Message
}

// NewSessionStore 创建会话存储
func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]map[string][]types.Message)}
}

// Open 确保会话存在，返回会话此前是否已存在
func (s *SessionStore) Open(session string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session]; ok {
		return true
	}
	s.sessions[session] = make(map[string][]types.Message)
	return false
}

// Append 追加一条消息，返回该 Agent 历史的副本
func (s *SessionStore) Append(session, agent string, msg types.Message) []types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	agents, ok := s.sessions[session]
	if !ok {
		agents = make(map[string][]types.Message)
		s.sessions[session] = agents
	}
	agents[agent] = append(agents[agent], msg)
	out := make([]types.Message, len(agents[agent]))
	copy(out, agents[agent])
	return out
}

// Clear 清空会话，返回被清除的消息数与会话是否存在
func (s *SessionStore) Clear(session string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	agents, ok := s.sessions[session]
	if !ok {
		return 0, false
	}
	n := 0
	for _, msgs := range agents {
		n += len(msgs)
	}
	s.sessions[session] = make(map[string][]types.Message)
	return n, true
}

// Summary 返回会话的按 Agent 消息计数
func (s *SessionStore) Summary(session string) api.ChatHistory {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := api.ChatHistory{SessionID: session, Agents: map[string]int{}}
	for agent, msgs := range s.sessions[session] {
		out.Agents[agent] = len(msgs)
		out.MessageCount += len(msgs)
	}
	return out
}

// =============================================================================
// 🔌 WebSocket 桥接 Handler
// =============================================================================

const (
	noAgentsAvailable = "⚠️  No agents were available to handle your message. Please check the dashboard."
	assistantOffline  = "🤖 Assistant agent is currently offline. Please start the assistant agent to begin our conversation.\n"
	assistantMissing  = "🤖 No assistant agent available. Please ensure the assistant agent is running.\n"
	assistantGeneric  = "🤖 Hello! I'm your AI assistant. I'm here to help with various tasks and can coordinate with other specialized agents when needed.\n"
)

// ChatHandler 浏览器聊天与消息总线之间的桥接
type ChatHandler struct {
	svc      *controlplane.Service
	bus      bus.Bus
	store    *registry.Store
	sessions *SessionStore
	origins  []string
	logger   *zap.Logger
}

// NewChatHandler 创建聊天桥接处理器。origins 为允许的跨域 Origin 模式。
func NewChatHandler(svc *controlplane.Service, sessions *SessionStore, origins []string, logger *zap.Logger) *ChatHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sessions == nil {
		sessions = NewSessionStore()
	}
	return &ChatHandler{
		svc:      svc,
		bus:      svc.Bus(),
		store:    svc.Store(),
		sessions: sessions,
		origins:  origins,
		logger:   logger.With(zap.String("component", "chat_bridge")),
	}
}

// Sessions 返回会话存储
func (h *ChatHandler) Sessions() *SessionStore {
	return h.sessions
}

// HandleClear POST /chat/{session}/clear
func (h *ChatHandler) HandleClear(w http.ResponseWriter, r *http.Request) {
	session := r.PathValue("session")
	n, ok := h.sessions.Clear(session)
	if !ok {
		WriteOK(w, fmt.Sprintf("No chat history found for session %s", session), nil)
		return
	}
	WriteOK(w, fmt.Sprintf("Cleared %d messages for session %s", n, session), nil)
}

// HandleHistory GET /chat/{session}/history
func (h *ChatHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	WriteData(w, h.sessions.Summary(r.PathValue("session")))
}

// HandleWebSocket GET /ws/{session}
func (h *ChatHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	session := r.PathValue("session")
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		h.logger.Warn("websocket accept failed", zap.String("session", session), zap.Error(err))
		return
	}
	defer conn.CloseNow()

	logger := h.logger.With(zap.String("session", session))
	logger.Info("websocket connected", zap.Bool("restored", h.sessions.Open(session)))

	err = h.bridge(r.Context(), conn, session, logger)
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		logger.Info("websocket closed")
		conn.Close(websocket.StatusNormalClosure, "")
	default:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("websocket bridge ended", zap.Error(err))
		}
		conn.Close(websocket.StatusInternalError, "bridge closed")
	}
}

// bridge 运行 ws→bus 与 bus→ws 两个方向，任一方向结束即全部结束
func (h *ChatHandler) bridge(ctx context.Context, conn *websocket.Conn, session string, logger *zap.Logger) error {
	g, gctx := errgroup.WithContext(ctx)

	inbound := make(chan []byte, 64)
	sub, err := h.bus.Subscribe(gctx, protocol.UserTopic(session), func(_ context.Context, _ string, payload []byte) {
		select {
		case inbound <- payload:
		case <-gctx.Done():
		}
	})
	if err != nil {
		return types.NewError(types.ErrBusUnavailable, "subscribe user session").WithCause(err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case payload := <-inbound:
				if err := h.fromBus(gctx, conn, session, payload, logger); err != nil {
					return err
				}
			}
		}
	})

	g.Go(func() error {
		for {
			_, data, err := conn.Read(gctx)
			if err != nil {
				return err
			}
			if err := h.fromUser(gctx, conn, session, string(data), logger); err != nil {
				return err
			}
		}
	})

	return g.Wait()
}

func send(ctx context.Context, conn *websocket.Conn, text string) error {
	return conn.Write(ctx, websocket.MessageText, []byte(text))
}

func (h *ChatHandler) names(ctx context.Context) mention.Names {
	names, err := h.store.Names(ctx)
	if err != nil {
		h.logger.Warn("list agent names failed", zap.Error(err))
	}
	return mention.NewNames(names...)
}

// deliver 把一条用户轮次写入目标 Agent 的历史并发布到其 inbox。
// 不可用时返回原因（"not available" 或 "not running"）。
func (h *ChatHandler) deliver(ctx context.Context, session, agent, content string) (string, error) {
	rec, err := h.store.Get(ctx, agent)
	if errors.Is(err, registry.ErrNotFound) {
		return "not available", nil
	}
	if err != nil {
		return "", err
	}
	if rec.Status != types.AgentRunning {
		return "not running", nil
	}

	history := h.sessions.Append(session, agent, types.Message{Role: types.RoleUser, Content: content})
	payload, err := protocol.Encode(&protocol.ChatRequest{
		Messages: history,
		ReplyTo:  protocol.UserTopic(session),
		Agent:    agent,
	})
	if err != nil {
		return "", err
	}
	if err := h.bus.Publish(ctx, rec.InboxTopic, payload); err != nil {
		return "", types.NewError(types.ErrBusUnavailable, "publish to "+rec.InboxTopic).WithCause(err)
	}
	return "", nil
}

// fromUser 处理浏览器输入：按 @mention 路由到 Agent
func (h *ChatHandler) fromUser(ctx context.Context, conn *websocket.Conn, session, prompt string, logger *zap.Logger) error {
	route := mention.RouteUserMessage(prompt, h.names(ctx), types.AssistantName)
	logger.Debug("routing user message", zap.Strings("targets", route.Targets))

	var delivered int
	var failed []string
	for _, target := range route.Targets {
		reason, err := h.deliver(ctx, session, target, route.Text)
		if err != nil {
			logger.Warn("deliver user message failed", zap.String("agent", target), zap.Error(err))
			failed = append(failed, target+" (not available)")
			continue
		}
		if reason != "" {
			failed = append(failed, fmt.Sprintf("%s (%s)", target, reason))
			continue
		}
		delivered++
	}

	if len(failed) > 0 {
		if err := send(ctx, conn, "⚠️  Some agents were unavailable: "+strings.Join(failed, ", ")); err != nil {
			return err
		}
	}
	if delivered == 0 {
		return send(ctx, conn, noAgentsAvailable)
	}
	return nil
}

// fromBus 处理 user_session 主题上的消息并推给浏览器
func (h *ChatHandler) fromBus(ctx context.Context, conn *websocket.Conn, session string, payload []byte, logger *zap.Logger) error {
	if string(payload) == controlplane.AssistantReady {
		return send(ctx, conn, h.introduction(ctx))
	}

	ev, ok := protocol.Decode(payload).(*protocol.UserEvent)
	if !ok {
		return send(ctx, conn, string(payload))
	}
	sender := ev.Sender
	if sender == "" {
		sender = types.AssistantName
	}
	h.sessions.Append(session, sender, types.Message{Role: types.RoleAssistant, Content: ev.Content})

	// Agent 回复中 @ 其他 Agent 时按行拆分转发
	parts := mention.SplitPerAgent(ev.Content, h.names(ctx))
	targets := make([]string, 0, len(parts))
	for agent := range parts {
		targets = append(targets, agent)
	}
	sort.Strings(targets)
	for _, agent := range targets {
		reason, err := h.deliver(ctx, session, agent, parts[agent])
		switch {
		case err != nil:
			logger.Warn("route agent mention failed", zap.String("from", sender), zap.String("to", agent), zap.Error(err))
		case reason != "":
			logger.Info("cannot route agent mention", zap.String("to", agent), zap.String("reason", reason))
		default:
			logger.Debug("routed agent mention", zap.String("from", sender), zap.String("to", agent))
		}
	}

	text := ev.Content
	if sender != types.AssistantName {
		text = "[" + types.DisplayName(sender) + "]: " + text
	}
	return send(ctx, conn, text)
}

func (h *ChatHandler) introduction(ctx context.Context) string {
	rb, rbErr := h.svc.Runbook(types.AssistantName)
	rec, err := h.store.Get(ctx, types.AssistantName)
	if err != nil || rec.Status != types.AgentRunning {
		if rbErr == nil {
			return assistantOffline
		}
		return assistantMissing
	}
	if rbErr != nil || rb.JobTitle == "" {
		return assistantGeneric
	}
	return "🤖 Hello! I'm your " + rb.JobTitle + ".\n\nFeel free to ask me anything or request complex tasks that I can help with!\n"
}
