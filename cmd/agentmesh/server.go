package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/agentmesh/agent/actions"
	"github.com/BaSui01/agentmesh/agent/bus"
	"github.com/BaSui01/agentmesh/agent/runbook"
	"github.com/BaSui01/agentmesh/api/handlers"
	"github.com/BaSui01/agentmesh/config"
	"github.com/BaSui01/agentmesh/internal/controlplane"
	"github.com/BaSui01/agentmesh/internal/database"
	"github.com/BaSui01/agentmesh/internal/metrics"
	"github.com/BaSui01/agentmesh/internal/migration"
	"github.com/BaSui01/agentmesh/internal/registry"
	"github.com/BaSui01/agentmesh/internal/server"
	"github.com/BaSui01/agentmesh/internal/supervisor"
	"github.com/BaSui01/agentmesh/internal/telemetry"
	"github.com/BaSui01/agentmesh/internal/tlsutil"
)

// =============================================================================
// 🖥️ serve 命令
// =============================================================================

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := configFlag(fs)
	_ = fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *configPath != "" {
		// Agent 子进程通过环境变量拿到同一份配置
		_ = os.Setenv(envConfigPath, *configPath)
	}

	logger := initLogger(cfg.Log, "orchestrator")
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting AgentMesh orchestrator",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	o, err := newOrchestrator(ctx, cfg, logger)
	if err != nil {
		return err
	}
	return o.run(ctx)
}

// =============================================================================
// 🧩 编排器
// =============================================================================

// orchestrator 持有编排器进程的全部组件
type orchestrator struct {
	cfg    *config.Config
	logger *zap.Logger

	otel      *telemetry.Providers
	pool      *database.PoolManager
	bus       bus.Bus
	collector *metrics.Collector
	svc       *controlplane.Service
	http      *server.Manager

	// /shutdown 请求触发
	shutdown chan struct{}
}

func newOrchestrator(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*orchestrator, error) {
	o := &orchestrator{cfg: cfg, logger: logger, shutdown: make(chan struct{}, 1)}

	providers, err := telemetry.Init(cfg.Telemetry, "orchestrator", logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	o.otel = providers

	o.collector = metrics.NewCollector("agentmesh", logger)

	actionHTTP, err := tlsutil.NewHTTPClient(cfg.TLS, cfg.Actions.RequestTimeout)
	if err != nil {
		return nil, fmt.Errorf("action-server client: %w", err)
	}

	// 1. 注册表数据库
	db, err := database.Open(cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	if cfg.Database.AutoMigrate {
		if err := migration.Run(ctx, db, cfg.Database.Driver, logger); err != nil {
			return nil, fmt.Errorf("migrate registry: %w", err)
		}
	}
	o.pool, err = database.NewPoolManager(db, database.PoolConfigFrom(cfg.Database), logger)
	if err != nil {
		return nil, err
	}
	o.pool.SetObserver(o.collector)
	o.pool.StartHealthCheck(ctx)

	// 2. 消息总线
	o.bus, err = newRedisBus(cfg.Redis, logger)
	if err != nil {
		_ = o.pool.Close()
		return nil, err
	}

	// 3. 控制面
	store := registry.NewStore(o.pool.DB(), logger)
	sup := supervisor.New(supervisor.ConfigFrom(cfg.Supervisor), store, nil, logger)
	sup.OnTransition(o.collector.RecordAgentStateTransition)

	o.svc = controlplane.New(controlplane.ConfigFrom(cfg), controlplane.Deps{
		Store:      store,
		Supervisor: sup,
		Runbooks:   runbook.NewStore(cfg.Supervisor.RunbooksDir, logger),
		Configs:    actions.NewConfigStore(cfg.Actions.ConfigsDir),
		Actions: actions.NewClient(actions.ClientConfig{
			Timeout:      cfg.Actions.RequestTimeout,
			RateLimitRPS: cfg.Actions.RateLimitRPS,
			HTTPClient:   actionHTTP,
		}, logger),
		Bus:    o.bus,
		Logger: logger,
	})

	// 4. HTTP 端点
	o.http = server.NewManager(cfg.Server.ShutdownTimeout, logger)
	o.http.Add("api", o.apiHandler(ctx), server.Config{
		Addr:           cfg.Server.HTTPAddr(),
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   0, // WebSocket 长连接不设写超时
		IdleTimeout:    2 * cfg.Server.ReadTimeout,
		MaxHeaderBytes: 1 << 20,
	})
	metricsMux := http.NewServeMux()
	metricsMux.Handle("GET /metrics", promhttp.Handler())
	o.http.Add("metrics", metricsMux, server.DefaultConfig(cfg.Server.MetricsAddr()))

	return o, nil
}

func newRedisBus(cfg config.RedisConfig, logger *zap.Logger) (*bus.RedisBus, error) {
	bc := bus.DefaultConfig()
	bc.Addr = cfg.Addr
	bc.Password = cfg.Password
	bc.DB = cfg.DB
	if cfg.PoolSize > 0 {
		bc.PoolSize = cfg.PoolSize
	}
	bc.MinIdleConns = cfg.MinIdleConns
	return bus.NewRedisBus(bc, logger)
}

// apiHandler 组装控制面路由与中间件链
func (o *orchestrator) apiHandler(ctx context.Context) http.Handler {
	health := handlers.NewHealthHandler(o.svc.StartedAt(), versionInfo(), o.logger)
	health.RegisterCheck(handlers.NewPingCheck("database", o.pool.Ping))
	health.RegisterCheck(handlers.NewPingCheck("bus", o.bus.Ping))

	set := handlers.Set{
		Health:   health,
		Agents:   handlers.NewAgentHandler(o.svc, o.requestShutdown, o.logger),
		Runbooks: handlers.NewRunbookHandler(o.svc, o.logger),
		Actions:  handlers.NewActionHandler(o.svc, o.logger),
		Chat:     handlers.NewChatHandler(o.svc, handlers.NewSessionStore(), o.cfg.Server.CORSAllowedOrigins, o.logger),
	}
	mux := http.NewServeMux()
	set.Register(mux)

	return Chain(mux,
		Recovery(o.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(o.logger),
		OTelTracing(),
		MetricsMiddleware(o.collector),
		CORS(o.cfg.Server.CORSAllowedOrigins),
		RateLimiter(ctx, o.cfg.Server.RateLimitRPS, o.cfg.Server.RateLimitBurst, o.logger),
	)
}

func (o *orchestrator) requestShutdown() {
	select {
	case o.shutdown <- struct{}{}:
	default:
	}
}

// =============================================================================
// 🚀 运行与关闭
// =============================================================================

// run 启动后台任务与 HTTP 端点，直到收到信号或 /shutdown 请求
func (o *orchestrator) run(ctx context.Context) error {
	defer o.close()

	if err := o.svc.Boot(ctx); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := o.svc.WatchRunbooks(gctx); err != nil && !errors.Is(err, context.Canceled) {
			o.logger.Warn("runbook watcher stopped", zap.Error(err))
		}
		return nil
	})
	g.Go(func() error {
		return o.http.Run(gctx)
	})
	g.Go(func() error {
		started, failed := o.svc.AutoStart(gctx)
		if started+failed > 0 {
			o.logger.Info("auto-start finished", zap.Int("started", started), zap.Int("failed", failed))
		}
		return nil
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-o.shutdown:
			o.logger.Info("shutdown endpoint called")
			cancel()
		}
		return nil
	})

	o.logger.Info("AgentMesh orchestrator started",
		zap.String("api", o.cfg.Server.HTTPAddr()),
		zap.String("metrics", o.cfg.Server.MetricsAddr()),
	)

	err := g.Wait()

	// 信号退出时也要回收子进程
	stopCtx, stopCancel := context.WithTimeout(context.Background(), o.cfg.Server.ShutdownTimeout+o.cfg.Supervisor.GracePeriod)
	defer stopCancel()
	o.svc.Shutdown(stopCtx, false)
	return err
}

func (o *orchestrator) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := o.bus.Close(); err != nil {
		o.logger.Error("bus close error", zap.Error(err))
	}
	if err := o.pool.Close(); err != nil {
		o.logger.Error("database close error", zap.Error(err))
	}
	if err := o.otel.Shutdown(ctx); err != nil {
		o.logger.Error("telemetry shutdown error", zap.Error(err))
	}
	o.logger.Info("AgentMesh orchestrator stopped")
}
