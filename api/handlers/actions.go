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
// 🔧 动作服务器与动作 Handler
// =============================================================================

// ActionHandler 动作服务器绑定、动作查询与执行接口
type ActionHandler struct {
	svc    *controlplane.Service
	logger *zap.Logger
}

// NewActionHandler 创建动作处理器
func NewActionHandler(svc *controlplane.Service, logger *zap.Logger) *ActionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ActionHandler{svc: svc, logger: logger.With(zap.String("component", "action_handler"))}
}

// HandleServers GET /action-servers/available
func (h *ActionHandler) HandleServers(w http.ResponseWriter, r *http.Request) {
	WriteData(w, h.svc.ActionServers())
}

// HandleAssign POST /agents/assign-action-server
func (h *ActionHandler) HandleAssign(w http.ResponseWriter, r *http.Request) {
	var req api.AssignActionServerRequest
	if err := DecodeJSONBody(w, r, &req, false, h.logger); err != nil {
		return
	}
	if req.AgentName == "" || req.ActionServer == "" {
		WriteErrorMessage(w, types.ErrInvalidRequest, "agent_name and action_server are required", h.logger)
		return
	}
	msg, res, err := h.svc.AssignActionServer(r.Context(), req.AgentName, req.ActionServer)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteOK(w, msg, res)
}

// HandleRemove POST /agents/remove-action-server
func (h *ActionHandler) HandleRemove(w http.ResponseWriter, r *http.Request) {
	var req api.RemoveActionServerRequest
	if err := DecodeJSONBody(w, r, &req, false, h.logger); err != nil {
		return
	}
	if req.AgentName == "" {
		WriteErrorMessage(w, types.ErrInvalidRequest, "agent_name is required", h.logger)
		return
	}
	msg, err := h.svc.RemoveActionServer(r.Context(), req.AgentName)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteOK(w, msg, nil)
}

// HandleAgentActions GET /agents/{name}/actions
func (h *ActionHandler) HandleAgentActions(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.AgentActions(r.Context(), r.PathValue("name"))
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteData(w, out)
}

// HandleExecute POST /agents/{name}/actions/execute
func (h *ActionHandler) HandleExecute(w http.ResponseWriter, r *http.Request) {
	var req api.ExecuteActionRequest
	if err := DecodeJSONBody(w, r, &req, false, h.logger); err != nil {
		return
	}
	if req.ActionID == "" {
		WriteErrorMessage(w, types.ErrInvalidRequest, "action_id is required", h.logger)
		return
	}
	out, err := h.svc.ExecuteAction(r.Context(), r.PathValue("name"), req.ActionID, req.Parameters)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteData(w, out)
}

// HandleAll GET /actions/all
func (h *ActionHandler) HandleAll(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.AllActions(r.Context())
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteData(w, out)
}

// HandleSearch GET /actions/search?query=
func (h *ActionHandler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("query"))
	if query == "" {
		WriteErrorMessage(w, types.ErrInvalidRequest, "query is required", h.logger)
		return
	}
	out, err := h.svc.SearchActions(r.Context(), query)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteData(w, out)
}

// HandleReload POST /actions/reload
func (h *ActionHandler) HandleReload(w http.ResponseWriter, r *http.Request) {
	msg, err := h.svc.ReloadActions(r.Context())
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteOK(w, msg, nil)
}

// HandleDiscover POST /actions/discover/{server}
func (h *ActionHandler) HandleDiscover(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.DiscoverActions(r.Context(), r.PathValue("server"))
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteData(w, out)
}

// HandleRefresh POST /agents/{name}/actions/refresh
func (h *ActionHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.RefreshActions(r.Context(), r.PathValue("name"))
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteData(w, out)
}
