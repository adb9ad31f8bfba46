// Copyright (c) AgentMesh Authors.
// Licensed under the MIT License.

/*
包 server 管理编排器进程内的 HTTP 端点生命周期。

# 概述

编排器同时暴露 REST/WebSocket API 与 Prometheus /metrics 两个端点。
Manager 以名称登记多个 http.Server，统一监听、后台服务，并在
上下文取消（信号或 /shutdown 请求）时并发优雅关闭。

# 核心类型

  - Manager：端点集合，提供 Add/Start/Run/Shutdown/Addr/Errors/IsRunning。
  - Config：单个端点的监听地址、读写超时、空闲超时与最大请求头大小。

# 主要能力

  - 原子启动：任一端点监听失败时回收已打开的监听器。
  - 优雅关闭：Shutdown 在 shutdownTimeout 内排空所有端点的请求。
  - 错误传播：端点异常退出时 Run 返回该错误并关闭其余端点。
*/
package server
