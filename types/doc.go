// Copyright (c) AgentMesh Authors.
// Licensed under the MIT License.

/*
Package types 提供 AgentMesh 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 agent、llm、internal 与
api 等上层模块提供统一的类型契约，避免循环依赖。

# 核心类型

  - Message / Role    — 对话消息与角色（system / user / assistant / tool）
  - ToolSchema        — 工具定义（name + description + JSON Schema parameters）
  - ToolCall          — 模型返回的工具调用请求
  - AgentStatus       — Agent 存活状态（stopped / running / failed）
  - AgentInfo         — 控制面返回的 Agent 视图
  - Capability        — runbook 中声明的能力
  - Action            — 动作服务器暴露的可调用操作
  - Error / ErrorCode — 结构化错误体系，含 HTTP 状态码与 Retryable 标记
*/
package types
