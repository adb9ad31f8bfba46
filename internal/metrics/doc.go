// 版权所有 2024 AgentMesh Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的网格指标采集能力，覆盖
HTTP、消息总线、协作、补全服务、Agent 与数据库连接池。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标，使用 promauto
自动注册机制，避免手动管理 Registry。所有指标按 namespace（默认
agentmesh）隔离。Collector 以观察者接口的形式注入各组件，组件本身
不依赖 Prometheus。

# 核心类型

  - Collector：指标收集器，实现 bus.Observer、collaboration.Observer、
    llm.Observer、worker.Observer 与 database.StatsObserver。

# 主要能力

  - HTTP 指标：请求总数、耗时、请求/响应体大小，状态码归类为 2xx/3xx/4xx/5xx。
  - 总线指标：bus_messages_total{direction,kind}。
  - 协作指标：collaborations_total{mode,outcome} 与耗时直方图。
  - 补全指标：completions_total{status} 与耗时直方图。
  - Agent 指标：agent_state_transitions_total{agent,from,to}、dedup_suppressed_total。
  - 数据库指标：打开/空闲/使用中连接数与等待次数。
*/
package metrics
