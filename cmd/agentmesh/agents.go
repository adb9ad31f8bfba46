package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/agentmesh/agent/assistant"
	"github.com/BaSui01/agentmesh/agent/collaboration"
	"github.com/BaSui01/agentmesh/agent/discovery"
	"github.com/BaSui01/agentmesh/agent/runbook"
	"github.com/BaSui01/agentmesh/agent/runtime"
	"github.com/BaSui01/agentmesh/agent/worker"
	"github.com/BaSui01/agentmesh/api/handlers"
	"github.com/BaSui01/agentmesh/config"
	"github.com/BaSui01/agentmesh/internal/metrics"
	"github.com/BaSui01/agentmesh/internal/server"
	"github.com/BaSui01/agentmesh/internal/supervisor"
	"github.com/BaSui01/agentmesh/internal/telemetry"
	"github.com/BaSui01/agentmesh/internal/tlsutil"
	"github.com/BaSui01/agentmesh/llm"
	"github.com/BaSui01/agentmesh/types"
)

// =============================================================================
// 🤖 Agent 进程（assistant / worker）
// =============================================================================

// agentProcess 是 assistant 与 worker 共用的进程骨架
type agentProcess struct {
	name      string
	cfg       *config.Config
	logger    *zap.Logger
	otel      *telemetry.Providers
	collector *metrics.Collector
	control   *discovery.Client
	completer *llm.OpenAICompleter
	status    *server.Manager
	rt        *runtime.Runtime
	closeBus  func() error
}

func runAssistant(args []string) error {
	fs := flag.NewFlagSet("assistant", flag.ExitOnError)
	configPath := configFlag(fs)
	_ = fs.Parse(args)

	return runAgent(*configPath, types.AssistantName, func(ctx context.Context, p *agentProcess) error {
		a := assistant.New(p.rt, p.completer, p.control, collaboration.ConfigFrom(p.cfg.Mesh))
		a.Coordinator().SetObserver(p.collector)
		return a.Run(ctx)
	})
}

func runWorker(args []string) error {
	fs := flag.NewFlagSet("worker", flag.ExitOnError)
	configPath := configFlag(fs)
	name := fs.String("name", os.Getenv(supervisor.EnvAgentName), "Agent name")
	_ = fs.Parse(args)

	agentName := types.NormalizeName(*name)
	if agentName == "" {
		return fmt.Errorf("--name is required")
	}
	if agentName == types.AssistantName {
		return fmt.Errorf("%q is reserved for the assistant process", agentName)
	}

	return runAgent(*configPath, agentName, func(ctx context.Context, p *agentProcess) error {
		w := worker.New(p.rt, p.completer, worker.ConfigFrom(p.cfg.Mesh))
		w.SetObserver(p.collector)
		return w.Run(ctx)
	})
}

// runAgent 初始化公共依赖后执行 body，直到收到信号
func runAgent(configPath, name string, body func(ctx context.Context, p *agentProcess) error) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := initLogger(cfg.Log, name)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := newAgentProcess(cfg, name, logger)
	if err != nil {
		return err
	}
	defer p.close()

	logger.Info("agent process started",
		zap.String("version", Version),
		zap.String("inbox", p.rt.Inbox()),
		zap.String("status", p.status.Addr("status")),
	)
	return body(ctx, p)
}

func newAgentProcess(cfg *config.Config, name string, logger *zap.Logger) (*agentProcess, error) {
	p := &agentProcess{name: name, cfg: cfg, logger: logger}

	providers, err := telemetry.Init(cfg.Telemetry, name, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	p.otel = providers
	p.collector = metrics.NewCollector("agentmesh", logger)

	b, err := newRedisBus(cfg.Redis, logger)
	if err != nil {
		return nil, err
	}
	p.closeBus = b.Close

	dc := discovery.ConfigFrom(cfg.Mesh, name)
	if dc.HTTPClient, err = tlsutil.NewHTTPClient(cfg.TLS, dc.Timeout); err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("control-plane client: %w", err)
	}
	p.control = discovery.New(dc, logger)

	p.completer = llm.NewOpenAICompleter(llm.Config{
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLM.Timeout,
		MaxRetries:  cfg.LLM.MaxRetries,
	}, logger)
	p.completer.SetObserver(p.collector)

	// 每个 Agent 进程在本地随机端口上暴露 /health 与 /metrics，注册时上报
	health := handlers.NewHealthHandler(time.Now(), versionInfo(), logger)
	health.RegisterCheck(handlers.NewPingCheck("bus", b.Ping))
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", health.HandleHealth)
	mux.HandleFunc("GET /ready", health.HandleReady)
	mux.Handle("GET /metrics", promhttp.Handler())
	p.status = server.NewManager(cfg.Server.ShutdownTimeout, logger)
	p.status.Add("status", mux, server.DefaultConfig("127.0.0.1:0"))
	statusEndpoint := ""
	if err := p.status.Start(); err != nil {
		logger.Warn("status endpoint unavailable", zap.Error(err))
	} else {
		statusEndpoint = "http://" + p.status.Addr("status")
	}

	rb := runtime.LoadRunbook(runbook.NewStore(cfg.Supervisor.RunbooksDir, logger), name, logger)
	p.rt, err = runtime.New(runtime.Options{
		Name:           name,
		Runbook:        rb,
		Bus:            b,
		Control:        p.control,
		Logger:         logger,
		Observer:       p.collector,
		StatusEndpoint: statusEndpoint,
	})
	if err != nil {
		p.close()
		return nil, err
	}
	return p, nil
}

func (p *agentProcess) close() {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.Server.ShutdownTimeout)
	defer cancel()
	if p.status != nil {
		_ = p.status.Shutdown(ctx)
	}
	if p.closeBus != nil {
		if err := p.closeBus(); err != nil {
			p.logger.Error("bus close error", zap.Error(err))
		}
	}
	if err := p.otel.Shutdown(ctx); err != nil {
		p.logger.Error("telemetry shutdown error", zap.Error(err))
	}
}
