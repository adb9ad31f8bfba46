package api

import (
	"encoding/json"
	"time"

	"github.com/BaSui01/agentmesh/agent/actions"
	"github.com/BaSui01/agentmesh/agent/runbook"
	"github.com/BaSui01/agentmesh/types"
)

// =============================================================================
// 📦 统一响应信封
// =============================================================================

// Envelope 控制面统一响应结构
// @Description 所有控制面接口的响应信封
type Envelope struct {
	// 是否成功
	OK bool `json:"ok"`
	// 面向人的结果描述
	Message string `json:"message,omitempty" example:"Agent 'writer' stopped"`
	// 失败原因
	Error string `json:"error,omitempty" example:"Agent 'writer' not found in database"`
	// 错误码
	Code string `json:"code,omitempty" example:"AGENT_NOT_FOUND"`
	// 业务数据
	Data json.RawMessage `json:"data,omitempty" swaggertype:"object"`
	// 响应时间
	Timestamp time.Time `json:"timestamp"`
}

// DecodeData 将 Data 解码到 dst
func (e *Envelope) DecodeData(dst any) error {
	if len(e.Data) == 0 {
		return nil
	}
	return json.Unmarshal(e.Data, dst)
}

// =============================================================================
// 🤖 Agent 生命周期
// =============================================================================

// RegisterRequest Agent 进程启动后的注册请求
type RegisterRequest struct {
	ID             string `json:"id"`
	Name           string `json:"name" binding:"required"`
	Role           string `json:"role"`
	InboxTopic     string `json:"inbox_topic"`
	StatusEndpoint string `json:"status_endpoint"`
}

// NameRequest 只携带 Agent 名称的请求（start / stop）
type NameRequest struct {
	Name string `json:"name" binding:"required"`
}

// CapabilityInput 创建 Agent 时的能力描述
type CapabilityInput struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// CreateAgentRequest 创建 Agent 请求
type CreateAgentRequest struct {
	Name         string            `json:"name" binding:"required"`
	Role         string            `json:"role" binding:"required"`
	Capabilities []CapabilityInput `json:"capabilities"`
	ActionServer string            `json:"action_server,omitempty"`
}

// DeleteAgentRequest 删除 Agent 请求
type DeleteAgentRequest struct {
	Name          string `json:"name" binding:"required"`
	RemoveRunbook bool   `json:"remove_runbook"`
}

// DeleteResult 删除 Agent 的结果明细
type DeleteResult struct {
	RunbookRemoved bool `json:"runbook_removed"`
	ConfigRemoved  bool `json:"config_removed"`
	ProcessStopped bool `json:"process_stopped"`
}

// InvokeRequest 直接向 Agent 收件箱投递一条用户消息
type InvokeRequest struct {
	Message string `json:"message" binding:"required"`
}

// ShutdownRequest 关闭控制面
type ShutdownRequest struct {
	Force bool `json:"force"`
}

// =============================================================================
// 🔧 动作服务器
// =============================================================================

// ActionServerInfo 动作服务器概要（不含 token）
type ActionServerInfo struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	Type         string `json:"type,omitempty"`
	URL          string `json:"url"`
	AutoDiscover bool   `json:"auto_discover"`
}

// AssignActionServerRequest 为 Agent 绑定动作服务器
type AssignActionServerRequest struct {
	AgentName    string `json:"agent_name" binding:"required"`
	ActionServer string `json:"action_server" binding:"required"`
}

// AssignResult 绑定结果
type AssignResult struct {
	ActionCount    int  `json:"action_count"`
	AgentRestarted bool `json:"agent_restarted"`
}

// RemoveActionServerRequest 解除绑定
type RemoveActionServerRequest struct {
	AgentName string `json:"agent_name" binding:"required"`
}

// AgentActions 某个 Agent 的动作清单
type AgentActions struct {
	AgentName    string            `json:"agent_name"`
	ActionServer *ActionServerInfo `json:"action_server,omitempty"`
	Actions      []types.Action    `json:"actions"`
}

// ExecuteActionRequest 执行动作请求
type ExecuteActionRequest struct {
	ActionID   string         `json:"action_id" binding:"required"`
	Parameters map[string]any `json:"parameters"`
}

// ActionCatalog 所有 Agent 的动作汇总
type ActionCatalog struct {
	TotalAgents  int             `json:"total_agents"`
	TotalActions int             `json:"total_actions"`
	Actions      []actions.Owned `json:"actions"`
}

// ActionSearch 动作搜索结果（high 相关度在前）
type ActionSearch struct {
	Query        string          `json:"query"`
	TotalMatches int             `json:"total_matches"`
	Matches      []actions.Match `json:"matches"`
}

// DiscoveredActions 从动作服务器发现（或刷新）的动作
type DiscoveredActions struct {
	AgentName    string         `json:"agent_name,omitempty"`
	ServerName   string         `json:"server_name"`
	ServerURL    string         `json:"server_url,omitempty"`
	TotalActions int            `json:"total_actions"`
	Actions      []types.Action `json:"actions"`
}

// =============================================================================
// 📖 Runbook 与会话
// =============================================================================

// RunbookPayload Agent 上报的解析后 runbook
type RunbookPayload = runbook.Runbook

// AgentCapability 扁平化的 Agent 能力条目
type AgentCapability struct {
	Agent      string           `json:"agent"`
	Capability types.Capability `json:"capability"`
}

// ChatHistory 会话历史概要
type ChatHistory struct {
	SessionID    string         `json:"session_id"`
	MessageCount int            `json:"message_count"`
	Agents       map[string]int `json:"agents"`
}

// VersionInfo 版本信息
type VersionInfo struct {
	Version   string `json:"version"`
	BuildTime string `json:"build_time"`
	GitCommit string `json:"git_commit"`
}
