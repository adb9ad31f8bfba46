// Copyright (c) AgentMesh Authors.
// Licensed under the MIT License.

/*
Package main 提供 AgentMesh 的可执行入口。

# 概述

同一个 agentmesh 二进制承担三种角色：编排器（serve）、协调型
assistant 进程与 worker Agent 进程。编排器的 supervisor 以
`agentmesh assistant` / `agentmesh worker --name <agent>` 重新执行
自身来拉起 Agent，并通过 AGENTMESH_CONFIG 传递配置文件路径。

# 核心类型

  - orchestrator  — 编排器进程：注册表数据库、Redis 总线、控制面、
    HTTP API 与 /metrics 两个端点
  - agentProcess  — Agent 进程骨架：遥测、总线、发现客户端、补全服务
    与本地状态端点
  - Middleware    — HTTP 中间件函数签名 func(http.Handler) http.Handler

# 主要能力

  - 子命令：serve、assistant、worker、migrate、version、health
  - 中间件链：Recovery、RequestID、SecurityHeaders、RequestLogger、
    OTelTracing、MetricsMiddleware、CORS、RateLimiter（基于 IP）
  - 优雅关闭：SIGINT/SIGTERM 或 POST /shutdown → 关闭端点 → 停止 Agent
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
