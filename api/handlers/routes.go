package handlers

import "net/http"

// =============================================================================
// 🗺️ 路由注册
// =============================================================================

// Set 控制面全部 Handler
type Set struct {
	Health   *HealthHandler
	Agents   *AgentHandler
	Runbooks *RunbookHandler
	Actions  *ActionHandler
	Chat     *ChatHandler
}

// Register 把控制面端点注册到 mux
func (s Set) Register(mux *http.ServeMux) {
	// 健康检查
	mux.HandleFunc("GET /health", s.Health.HandleHealth)
	mux.HandleFunc("GET /ready", s.Health.HandleReady)
	mux.HandleFunc("GET /version", s.Health.HandleVersion)
	mux.HandleFunc("GET /startup_time", s.Health.HandleStartupTime)

	// Agent 注册表与生命周期
	mux.HandleFunc("POST /shutdown", s.Agents.HandleShutdown)
	mux.HandleFunc("GET /agents", s.Agents.HandleList)
	mux.HandleFunc("GET /agents/available", s.Agents.HandleAvailable)
	mux.HandleFunc("POST /agents/register", s.Agents.HandleRegister)
	mux.HandleFunc("POST /agents/start", s.Agents.HandleStart)
	mux.HandleFunc("POST /agents/stop", s.Agents.HandleStop)
	mux.HandleFunc("POST /agents/create", s.Agents.HandleCreate)
	mux.HandleFunc("POST /agents/delete", s.Agents.HandleDelete)
	mux.HandleFunc("POST /agents/{id}/stop", s.Agents.HandleStopByID)
	mux.HandleFunc("POST /agents/{id}/invoke", s.Agents.HandleInvoke)

	// Runbook
	mux.HandleFunc("POST /agents/runbooks", s.Runbooks.HandleRegister)
	mux.HandleFunc("GET /agents/runbooks", s.Runbooks.HandleList)
	mux.HandleFunc("GET /agents/capabilities", s.Runbooks.HandleCapabilities)
	mux.HandleFunc("GET /agents/{first}/{second}", AgentResource(s.Runbooks.HandleGet, s.Actions.HandleAgentActions))

	// 动作服务器与动作
	mux.HandleFunc("GET /action-servers/available", s.Actions.HandleServers)
	mux.HandleFunc("POST /agents/assign-action-server", s.Actions.HandleAssign)
	mux.HandleFunc("POST /agents/remove-action-server", s.Actions.HandleRemove)
	mux.HandleFunc("POST /agents/{name}/actions/execute", s.Actions.HandleExecute)
	mux.HandleFunc("POST /agents/{name}/actions/refresh", s.Actions.HandleRefresh)
	mux.HandleFunc("GET /actions/all", s.Actions.HandleAll)
	mux.HandleFunc("GET /actions/search", s.Actions.HandleSearch)
	mux.HandleFunc("POST /actions/reload", s.Actions.HandleReload)
	mux.HandleFunc("POST /actions/discover/{server}", s.Actions.HandleDiscover)

	// 聊天
	mux.HandleFunc("POST /chat/{session}/clear", s.Chat.HandleClear)
	mux.HandleFunc("GET /chat/{session}/history", s.Chat.HandleHistory)
	mux.HandleFunc("GET /ws/{session}", s.Chat.HandleWebSocket)
}
