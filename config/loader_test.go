// 配置加载器与默认配置测试。
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- 默认配置测试 ---

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 9000, cfg.Server.HTTPPort)
	assert.Equal(t, 9091, cfg.Server.MetricsPort)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)

	assert.Equal(t, "gpt-5-nano", cfg.LLM.Model)
	assert.Equal(t, 0.7, cfg.LLM.Temperature)

	assert.Equal(t, 30*time.Second, cfg.Mesh.CollaborationTimeout)
	assert.Equal(t, 5*time.Second, cfg.Mesh.DedupWindow)
	assert.Equal(t, 50, cfg.Mesh.DedupCapacity)
	assert.Equal(t, 5, cfg.Mesh.HistoryTurns)
	assert.Equal(t, 60*time.Second, cfg.Mesh.DiscoveryTTL)
	assert.Equal(t, "main", cfg.Mesh.SessionID)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.True(t, cfg.Database.AutoMigrate)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)

	assert.Equal(t, 3*time.Second, cfg.Supervisor.GracePeriod)
	assert.Equal(t, 2*time.Second, cfg.Supervisor.KillWait)
	assert.Equal(t, "runbooks", cfg.Supervisor.RunbooksDir)

	assert.Equal(t, "action_servers.json", cfg.Actions.ServersFile)
	assert.Equal(t, "agent_configs", cfg.Actions.ConfigsDir)

	require.NoError(t, cfg.Validate())
}

// --- Loader 测试 ---

func TestLoader_LoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 9000, cfg.Server.HTTPPort)
}

func TestLoader_LoadFromYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "agentmesh.yaml")

	yamlContent := `
server:
  http_port: 8888
  read_timeout: 60s

llm:
  model: "gpt-4o-mini"
  temperature: 0.2

mesh:
  collaboration_timeout: 45s
  history_turns: 3

supervisor:
  runbooks_dir: "/srv/runbooks"
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0o644))

	cfg, err := NewLoader().WithConfigPath(configPath).Load()
	require.NoError(t, err)

	assert.Equal(t, 8888, cfg.Server.HTTPPort)
	assert.Equal(t, 60*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	assert.Equal(t, 0.2, cfg.LLM.Temperature)
	assert.Equal(t, 45*time.Second, cfg.Mesh.CollaborationTimeout)
	assert.Equal(t, 3, cfg.Mesh.HistoryTurns)
	assert.Equal(t, "/srv/runbooks", cfg.Supervisor.RunbooksDir)

	// 未覆盖的字段保持默认值
	assert.Equal(t, 50, cfg.Mesh.DedupCapacity)
	assert.Equal(t, 9091, cfg.Server.MetricsPort)
}

func TestLoader_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath(filepath.Join(t.TempDir(), "nope.yaml")).Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Mesh, cfg.Mesh)
}

func TestLoader_InvalidYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("server: [unclosed"), 0o644))

	_, err := NewLoader().WithConfigPath(configPath).Load()
	assert.Error(t, err)
}

func TestLoader_EnvOverride(t *testing.T) {
	t.Setenv("AGENTMESH_SERVER_HTTP_PORT", "7000")
	t.Setenv("AGENTMESH_MESH_DEDUP_WINDOW", "10s")
	t.Setenv("AGENTMESH_LLM_API_KEY", "sk-test")
	t.Setenv("AGENTMESH_SERVER_CORS_ALLOWED_ORIGINS", "http://a.test, http://b.test")
	t.Setenv("AGENTMESH_SUPERVISOR_AUTO_START", "false")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 7000, cfg.Server.HTTPPort)
	assert.Equal(t, 10*time.Second, cfg.Mesh.DedupWindow)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.Server.CORSAllowedOrigins)
	assert.False(t, cfg.Supervisor.AutoStart)
}

func TestLoader_EnvBeatsYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "agentmesh.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("mesh:\n  session_id: yaml\n"), 0o644))
	t.Setenv("TEST_MESH_SESSION_ID", "env")

	cfg, err := NewLoader().WithConfigPath(configPath).WithEnvPrefix("TEST").Load()
	require.NoError(t, err)
	assert.Equal(t, "env", cfg.Mesh.SessionID)
}

func TestLoader_InvalidEnvValue(t *testing.T) {
	t.Setenv("AGENTMESH_MESH_DEDUP_CAPACITY", "many")

	_, err := NewLoader().Load()
	assert.Error(t, err)
}

func TestLoader_Validator(t *testing.T) {
	_, err := NewLoader().WithValidator(func(c *Config) error { return c.Validate() }).Load()
	require.NoError(t, err)

	t.Setenv("AGENTMESH_DATABASE_DRIVER", "oracle")
	_, err = NewLoader().WithValidator(func(c *Config) error { return c.Validate() }).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database driver")
}

func TestLoader_TLSSection(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	assert.Equal(t, "1.2", cfg.TLS.MinVersion)

	t.Setenv("AGENTMESH_TLS_CA_FILE", "/etc/agentmesh/ca.pem")
	t.Setenv("AGENTMESH_TLS_MIN_VERSION", "1.3")
	cfg, err = NewLoader().Load()
	require.NoError(t, err)
	assert.Equal(t, "/etc/agentmesh/ca.pem", cfg.TLS.CAFile)
	assert.Equal(t, "1.3", cfg.TLS.MinVersion)
	assert.NoError(t, cfg.Validate())

	cfg.TLS.MinVersion = "1.1"
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported tls min_version")
}

func TestConfig_ValidateCollectsErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.HTTPPort = 0
	cfg.LLM.Temperature = 3
	cfg.Mesh.DedupCapacity = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid HTTP port")
	assert.Contains(t, err.Error(), "temperature must be between 0 and 2")
	assert.Contains(t, err.Error(), "dedup_capacity must be positive")
}

func TestDatabaseConfig_DSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  DatabaseConfig
		want string
	}{
		{
			name: "postgres",
			cfg:  DatabaseConfig{Driver: "postgres", Host: "db", Port: 5432, User: "u", Password: "p", Name: "mesh", SSLMode: "disable"},
			want: "host=db port=5432 user=u password=p dbname=mesh sslmode=disable",
		},
		{
			name: "mysql",
			cfg:  DatabaseConfig{Driver: "mysql", Host: "db", Port: 3306, User: "u", Password: "p", Name: "mesh"},
			want: "u:p@tcp(db:3306)/mesh?parseTime=true&multiStatements=true",
		},
		{
			name: "sqlite",
			cfg:  DatabaseConfig{Driver: "sqlite", Name: "agentmesh.db"},
			want: "agentmesh.db",
		},
		{
			name: "unknown",
			cfg:  DatabaseConfig{Driver: "oracle"},
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.DSN())
		})
	}
}

func TestServerConfig_Addrs(t *testing.T) {
	s := DefaultServerConfig()
	assert.Equal(t, ":9000", s.HTTPAddr())
	assert.Equal(t, ":9091", s.MetricsAddr())
}
