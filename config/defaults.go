// =============================================================================
// 📦 AgentMesh 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:     DefaultServerConfig(),
		Redis:      DefaultRedisConfig(),
		Database:   DefaultDatabaseConfig(),
		LLM:        DefaultLLMConfig(),
		Log:        DefaultLogConfig(),
		Telemetry:  DefaultTelemetryConfig(),
		Mesh:       DefaultMeshConfig(),
		Supervisor: DefaultSupervisorConfig(),
		Actions:    DefaultActionsConfig(),
		TLS:        DefaultTLSConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        9000,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    50,
		RateLimitBurst:  100,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "sqlite",
		Host:            "localhost",
		Port:            5432,
		User:            "agentmesh",
		Password:        "",
		Name:            "agentmesh.db",
		SSLMode:         "disable",
		MaxOpenConns:    10,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
		AutoMigrate:     true,
	}
}

// DefaultLLMConfig 返回默认 LLM 配置
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Model:       "gpt-5-nano",
		Temperature: 0.7,
		APIKey:      "",
		BaseURL:     "",
		Timeout:     2 * time.Minute,
		MaxRetries:  2,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "agentmesh",
		SampleRate:   0.1,
	}
}

// DefaultMeshConfig 返回默认协作配置
func DefaultMeshConfig() MeshConfig {
	return MeshConfig{
		OrchestratorURL:      "http://localhost:9000",
		CollaborationTimeout: 30 * time.Second,
		DedupWindow:          5 * time.Second,
		DedupCapacity:        50,
		HistoryTurns:         5,
		DiscoveryTTL:         60 * time.Second,
		SessionID:            "main",
	}
}

// DefaultSupervisorConfig 返回默认进程监督配置
func DefaultSupervisorConfig() SupervisorConfig {
	return SupervisorConfig{
		Executable:     "",
		LogsDir:        "logs",
		RunbooksDir:    "runbooks",
		GracePeriod:    3 * time.Second,
		KillWait:       2 * time.Second,
		AutoStart:      true,
		AutoStartDelay: 2 * time.Second,
	}
}

// DefaultActionsConfig 返回默认动作服务器配置
func DefaultActionsConfig() ActionsConfig {
	return ActionsConfig{
		ServersFile:    "action_servers.json",
		ConfigsDir:     "agent_configs",
		RequestTimeout: 30 * time.Second,
		RateLimitRPS:   5,
	}
}

// DefaultTLSConfig 返回默认出站 TLS 配置
func DefaultTLSConfig() TLSConfig {
	return TLSConfig{MinVersion: "1.2"}
}
