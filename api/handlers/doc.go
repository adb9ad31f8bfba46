// Copyright (c) AgentMesh Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 AgentMesh 控制面 HTTP API 的请求处理器实现。

# 概述

handlers 包把 internal/controlplane.Service 暴露为 HTTP 端点：Agent 注册与
生命周期、runbook 目录、动作服务器与动作执行、聊天历史与 WebSocket 桥接，
以及健康检查。所有 Handler 均遵循标准 net/http 接口，路由使用 Go 1.22
ServeMux 的方法与通配符模式。

# 核心类型

  - AgentHandler   — Agent 列表、注册、启动/停止、创建/删除、invoke、shutdown
  - RunbookHandler — runbook 上报与查询（JSON 或 HTML 渲染）、能力目录
  - ActionHandler  — 动作服务器绑定、动作发现/刷新/搜索/执行
  - ChatHandler    — /ws/{session} 浏览器与消息总线之间的桥接
  - SessionStore   — 按会话、按 Agent 的聊天历史
  - HealthHandler  — /health、/ready、/version、/startup_time
  - ResponseWriter — 包装 http.ResponseWriter 以捕获状态码

# 主要能力

  - 统一信封：WriteOK / WriteData / WriteError，{ok, message, error, code, data, timestamp}
  - ErrorCode → HTTP 状态码映射（4xx/5xx）
  - 请求体解码：DecodeJSONBody（1 MB 限制）
  - AgentResource 分发共享前缀的 GET /agents/{first}/{second}
*/
package handlers
