// Package config 提供 AgentMesh 的配置管理功能。
//
// 配置优先级为 默认值 → YAML 文件 → 环境变量（前缀 AGENTMESH），
// 覆盖控制面、消息总线、注册表数据库、LLM、日志、遥测、
// 协作协调与进程监督等全部配置段。
package config
