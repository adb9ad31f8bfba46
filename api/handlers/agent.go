package handlers

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/agentmesh/api"
	"github.com/BaSui01/agentmesh/internal/controlplane"
	"github.com/BaSui01/agentmesh/types"
)

// =============================================================================
// 🤖 Agent 管理 Handler
// =============================================================================

// AgentHandler Agent 注册表与生命周期接口
type AgentHandler struct {
	svc        *controlplane.Service
	onShutdown func()
	logger     *zap.Logger
}

// NewAgentHandler 创建 Agent 管理处理器。onShutdown 在 /shutdown 停止所有
// Agent 后异步调用，用于关闭 HTTP 服务。
func NewAgentHandler(svc *controlplane.Service, onShutdown func(), logger *zap.Logger) *AgentHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AgentHandler{
		svc:        svc,
		onShutdown: onShutdown,
		logger:     logger.With(zap.String("component", "agent_handler")),
	}
}

func requireName(name string) error {
	if strings.TrimSpace(name) == "" {
		return types.NewError(types.ErrInvalidRequest, "name is required")
	}
	return nil
}

// HandleList GET /agents
func (h *AgentHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	agents, err := h.svc.Agents(r.Context())
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteData(w, agents)
}

// HandleAvailable GET /agents/available
func (h *AgentHandler) HandleAvailable(w http.ResponseWriter, r *http.Request) {
	names, err := h.svc.Available()
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteData(w, names)
}

// HandleRegister POST /agents/register
func (h *AgentHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req api.RegisterRequest
	if err := DecodeJSONBody(w, r, &req, false, h.logger); err != nil {
		return
	}
	info, err := h.svc.Register(r.Context(), req)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteOK(w, "Agent '"+info.Name+"' registered", info)
}

// HandleStart POST /agents/start
func (h *AgentHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	var req api.NameRequest
	if err := DecodeJSONBody(w, r, &req, false, h.logger); err != nil {
		return
	}
	if err := requireName(req.Name); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	msg, err := h.svc.Start(r.Context(), req.Name)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteOK(w, msg, nil)
}

// HandleStop POST /agents/stop
func (h *AgentHandler) HandleStop(w http.ResponseWriter, r *http.Request) {
	var req api.NameRequest
	if err := DecodeJSONBody(w, r, &req, false, h.logger); err != nil {
		return
	}
	if err := requireName(req.Name); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	msg, err := h.svc.Stop(r.Context(), req.Name)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteOK(w, msg, nil)
}

// HandleStopByID POST /agents/{id}/stop
func (h *AgentHandler) HandleStopByID(w http.ResponseWriter, r *http.Request) {
	msg, err := h.svc.StopByID(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteOK(w, msg, nil)
}

// HandleCreate POST /agents/create
func (h *AgentHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req api.CreateAgentRequest
	if err := DecodeJSONBody(w, r, &req, false, h.logger); err != nil {
		return
	}
	msg, err := h.svc.Create(r.Context(), req)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteOK(w, msg, nil)
}

// HandleDelete POST /agents/delete
func (h *AgentHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	var req api.DeleteAgentRequest
	if err := DecodeJSONBody(w, r, &req, false, h.logger); err != nil {
		return
	}
	if err := requireName(req.Name); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	msg, res, err := h.svc.Delete(r.Context(), req)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteOK(w, msg, res)
}

// HandleInvoke POST /agents/{id}/invoke
func (h *AgentHandler) HandleInvoke(w http.ResponseWriter, r *http.Request) {
	var req api.InvokeRequest
	if err := DecodeJSONBody(w, r, &req, false, h.logger); err != nil {
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		WriteErrorMessage(w, types.ErrInvalidRequest, "message is required", h.logger)
		return
	}
	msg, err := h.svc.Invoke(r.Context(), r.PathValue("id"), req.Message)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteOK(w, msg, nil)
}

// HandleShutdown POST /shutdown
func (h *AgentHandler) HandleShutdown(w http.ResponseWriter, r *http.Request) {
	var req api.ShutdownRequest
	if err := DecodeJSONBody(w, r, &req, true, h.logger); err != nil {
		return
	}
	n := h.svc.Shutdown(r.Context(), req.Force)
	WriteOK(w, "Shutdown complete", map[string]int{"stopped": n})
	if h.onShutdown != nil {
		go h.onShutdown()
	}
}

// =============================================================================
// 🔀 共享模式分发
// =============================================================================

// AgentResource 分发 GET /agents/{first}/{second}。ServeMux 无法同时注册
// /agents/runbooks/{name} 与 /agents/{name}/actions，两者在此按字面段区分。
func AgentResource(runbook, actions http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		first, second := r.PathValue("first"), r.PathValue("second")
		switch {
		case first == "runbooks":
			r.SetPathValue("name", second)
			runbook(w, r)
		case second == "actions":
			r.SetPathValue("name", first)
			actions(w, r)
		default:
			http.NotFound(w, r)
		}
	}
}
