// =============================================================================
// AgentMesh 主入口
// =============================================================================
// 同一个二进制承担编排器与全部 Agent 进程，由子命令区分角色
//
// 使用方法:
//
//	agentmesh serve                       # 启动编排器（控制面 + 聊天桥）
//	agentmesh serve --config mesh.yaml    # 指定配置文件
//	agentmesh assistant                   # 运行协调型 assistant（由编排器拉起）
//	agentmesh worker --name writer        # 运行 worker Agent（由编排器拉起）
//	agentmesh migrate up                  # 运行数据库迁移
//	agentmesh version                     # 显示版本信息
//	agentmesh health                      # 健康检查
// =============================================================================

package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/agentmesh/api"
	"github.com/BaSui01/agentmesh/config"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// envConfigPath 让子进程继承编排器的配置文件路径
const envConfigPath = "AGENTMESH_CONFIG"

func versionInfo() api.VersionInfo {
	return api.VersionInfo{Version: Version, BuildTime: BuildTime, GitCommit: GitCommit}
}

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(os.Args[2:])
	case "assistant":
		err = runAssistant(os.Args[2:])
	case "worker":
		err = runWorker(os.Args[2:])
	case "migrate":
		err = runMigrate(os.Args[2:])
	case "version":
		printVersion()
	case "health":
		err = runHealthCheck(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "agentmesh %s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

// =============================================================================
// ⚙️ 配置加载
// =============================================================================

// configFlag 注册 --config，默认取 AGENTMESH_CONFIG
func configFlag(fs *flag.FlagSet) *string {
	return fs.String("config", os.Getenv(envConfigPath), "Path to config file")
}

func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader()
	if path != "" {
		loader = loader.WithConfigPath(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// =============================================================================
// 🏥 健康检查命令
// =============================================================================

func runHealthCheck(args []string) error {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:9000", "Orchestrator address")
	_ = fs.Parse(args)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(*addr + "/health")
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed: status %d", resp.StatusCode)
	}

	fmt.Println("OK")
	return nil
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion() {
	fmt.Printf("AgentMesh %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`AgentMesh - multi-agent orchestration mesh

Usage:
  agentmesh <command> [options]

Commands:
  serve      Start the orchestrator (control plane, chat bridge, metrics)
  assistant  Run the coordinating assistant agent
  worker     Run a worker agent (--name <agent>)
  migrate    Database migration commands
  version    Show version information
  health     Check orchestrator health
  help       Show this help message

Options:
  --config <path>   Path to configuration file (YAML), defaults to $AGENTMESH_CONFIG

Migration subcommands:
  migrate up         Apply all pending migrations
  migrate down       Rollback the last migration
  migrate status     Show migration status
  migrate version    Show current migration version
  migrate info       Show migration summary
  migrate steps <n>  Apply or roll back n migrations
  migrate goto <v>   Migrate to a specific version
  migrate force <v>  Force set migration version
  migrate reset      Rollback all migrations

Examples:
  agentmesh serve --config /etc/agentmesh/mesh.yaml
  agentmesh worker --name writer
  agentmesh migrate up
  agentmesh health --addr http://localhost:9000`)
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

func initLogger(cfg config.LogConfig, process string) *zap.Logger {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}

	zapConfig := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       encoding == "console",
		Encoding:          encoding,
		EncoderConfig:     encoderConfig,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: !cfg.EnableStacktrace,
	}

	logger, err := zapConfig.Build()
	if err != nil {
		// 回退到基本 logger
		logger, _ = zap.NewProduction()
	}

	return logger.With(zap.String("process", process))
}
