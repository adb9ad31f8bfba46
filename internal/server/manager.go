package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// 🌐 HTTP 服务器管理器
// =============================================================================

// Config 单个监听端点配置
type Config struct {
	// 监听地址
	Addr string `yaml:"addr" json:"addr"`

	// 读取超时；WebSocket 连接在升级后不受其约束
	ReadTimeout time.Duration `yaml:"read_timeout" json:"read_timeout"`

	// 写入超时
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`

	// 空闲超时
	IdleTimeout time.Duration `yaml:"idle_timeout" json:"idle_timeout"`

	// 最大请求头大小
	MaxHeaderBytes int `yaml:"max_header_bytes" json:"max_header_bytes"`
}

// DefaultConfig 返回默认端点配置
func DefaultConfig(addr string) Config {
	return Config{
		Addr:           addr,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1 MB
	}
}

type endpoint struct {
	name     string
	server   *http.Server
	listener net.Listener
}

// Manager 管理编排器的多个 HTTP 端点（API 与 /metrics），统一启动与优雅关闭
type Manager struct {
	shutdownTimeout time.Duration
	logger          *zap.Logger

	mu        sync.Mutex
	endpoints []*endpoint
	started   bool
	closed    bool
	errCh     chan error
}

// NewManager 创建服务器管理器
func NewManager(shutdownTimeout time.Duration, logger *zap.Logger) *Manager {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 15 * time.Second
	}
	return &Manager{
		shutdownTimeout: shutdownTimeout,
		logger:          logger.With(zap.String("component", "http_server")),
		errCh:           make(chan error, 1),
	}
}

// Add 注册一个端点，必须在 Start 之前调用
func (m *Manager) Add(name string, handler http.Handler, cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.endpoints = append(m.endpoints, &endpoint{
		name: name,
		server: &http.Server{
			Addr:           cfg.Addr,
			Handler:        handler,
			ReadTimeout:    cfg.ReadTimeout,
			WriteTimeout:   cfg.WriteTimeout,
			IdleTimeout:    cfg.IdleTimeout,
			MaxHeaderBytes: cfg.MaxHeaderBytes,
		},
	})
}

// =============================================================================
// 🎯 核心方法
// =============================================================================

// Start 监听所有端点并在后台提供服务（非阻塞）。任一端点监听失败时
// 已打开的监听器会被关闭。
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("server is closed")
	}
	if m.started {
		return fmt.Errorf("server already started")
	}

	for i, ep := range m.endpoints {
		ln, err := net.Listen("tcp", ep.server.Addr)
		if err != nil {
			for _, prev := range m.endpoints[:i] {
				_ = prev.listener.Close()
				prev.listener = nil
			}
			return fmt.Errorf("failed to listen on %s (%s): %w", ep.server.Addr, ep.name, err)
		}
		ep.listener = ln
	}

	for _, ep := range m.endpoints {
		m.logger.Info("starting HTTP server", zap.String("name", ep.name), zap.String("addr", ep.listener.Addr().String()))
		go m.serve(ep)
	}
	m.started = true
	return nil
}

func (m *Manager) serve(ep *endpoint) {
	if err := ep.server.Serve(ep.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		m.logger.Error("HTTP server failed", zap.String("name", ep.name), zap.Error(err))
		select {
		case m.errCh <- fmt.Errorf("%s: %w", ep.name, err):
		default:
		}
	}
}

// Run 启动所有端点并阻塞，直到 ctx 结束或某个端点异常退出，随后优雅关闭
func (m *Manager) Run(ctx context.Context) error {
	if err := m.Start(); err != nil {
		return err
	}

	var serveErr error
	select {
	case <-ctx.Done():
		m.logger.Info("shutdown requested")
	case serveErr = <-m.errCh:
		m.logger.Error("server exited unexpectedly", zap.Error(serveErr))
	}

	if err := m.Shutdown(context.Background()); err != nil {
		return errors.Join(serveErr, err)
	}
	return serveErr
}

// Shutdown 并发关闭所有端点，等待进行中的请求在 shutdownTimeout 内完成
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	endpoints := append([]*endpoint(nil), m.endpoints...)
	m.mu.Unlock()

	shutdownCtx, cancel := context.WithTimeout(ctx, m.shutdownTimeout)
	defer cancel()

	g, gctx := errgroup.WithContext(shutdownCtx)
	for _, ep := range endpoints {
		g.Go(func() error {
			if err := ep.server.Shutdown(gctx); err != nil {
				m.logger.Error("HTTP server shutdown failed", zap.String("name", ep.name), zap.Error(err))
				return fmt.Errorf("%s: %w", ep.name, err)
			}
			m.logger.Info("HTTP server stopped", zap.String("name", ep.name))
			return nil
		})
	}
	return g.Wait()
}

// Errors returns asynchronous server errors.
func (m *Manager) Errors() <-chan error {
	return m.errCh
}

// =============================================================================
// 🔧 辅助方法
// =============================================================================

// Addr 返回端点的实际监听地址（未启动时为配置地址）
func (m *Manager) Addr(name string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ep := range m.endpoints {
		if ep.name != name {
			continue
		}
		if ep.listener != nil {
			return ep.listener.Addr().String()
		}
		return ep.server.Addr
	}
	return ""
}

// IsRunning 检查服务器是否运行中
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started && !m.closed
}
