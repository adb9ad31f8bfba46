package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/agentmesh/agent/runbook"
	"github.com/BaSui01/agentmesh/internal/controlplane"
)

// =============================================================================
// 📖 Runbook Handler
// =============================================================================

// RunbookHandler Agent 上报的 runbook 与能力目录
type RunbookHandler struct {
	svc    *controlplane.Service
	logger *zap.Logger
}

// NewRunbookHandler 创建 runbook 处理器
func NewRunbookHandler(svc *controlplane.Service, logger *zap.Logger) *RunbookHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunbookHandler{svc: svc, logger: logger.With(zap.String("component", "runbook_handler"))}
}

// HandleRegister POST /agents/runbooks
func (h *RunbookHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var rb runbook.Runbook
	if err := DecodeJSONBody(w, r, &rb, false, h.logger); err != nil {
		return
	}
	msg, err := h.svc.PutRunbook(&rb)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	h.logger.Info("runbook registered", zap.String("agent", rb.AgentName))
	WriteOK(w, msg, nil)
}

// HandleList GET /agents/runbooks
func (h *RunbookHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	WriteData(w, h.svc.Runbooks())
}

// HandleGet GET /agents/runbooks/{name}；?format=html 返回渲染后的文件
func (h *RunbookHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if r.URL.Query().Get("format") == "html" {
		html, err := h.svc.RunbookHTML(name)
		if err != nil {
			WriteError(w, err, h.logger)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(html))
		return
	}
	rb, err := h.svc.Runbook(name)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteData(w, rb)
}

// HandleCapabilities GET /agents/capabilities
func (h *RunbookHandler) HandleCapabilities(w http.ResponseWriter, r *http.Request) {
	WriteData(w, h.svc.Capabilities())
}
