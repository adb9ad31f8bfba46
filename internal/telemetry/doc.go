// Package telemetry 封装 OpenTelemetry SDK 初始化逻辑，
// 为 AgentMesh 的每个进程（编排器、assistant、各 worker）提供 TracerProvider
// 和 MeterProvider，并以 agentmesh.process 属性区分进程。
// 当遥测功能禁用时，使用 noop 实现，不连接任何外部服务。
package telemetry
