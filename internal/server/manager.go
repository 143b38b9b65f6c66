package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/copp1723/team-crm-sub000/config"
)

// phase 生命周期阶段,只单向推进:未启动 → 服务中 → 已停止
type phase int

const (
	phaseIdle phase = iota
	phaseServing
	phaseStopped
)

// 请求头上限不暴露为配置,运维面没有大头部的正当场景
const maxHeaderBytes = 1 << 20 // 1 MB

const defaultShutdownTimeout = 30 * time.Second

// Manager 拉起并照看运维 HTTP 面:非阻塞启动、信号监听、优雅排空。
// TLS 在进程外的反向代理终结,这里只开明文端口。
type Manager struct {
	cfg    config.ServerConfig
	logger *zap.Logger

	srv      *http.Server
	listener net.Listener
	fatalCh  chan error

	mu    sync.Mutex
	phase phase
}

// NewManager 从服务配置装配 HTTP 服务器。空闲超时取读超时的两倍,
// 给保活连接留余量;关闭超时未配置时回落到 30 秒。
func NewManager(handler http.Handler, cfg config.ServerConfig, logger *zap.Logger) *Manager {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	return &Manager{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "ops-http")),
		srv: &http.Server{
			Handler:        handler,
			ReadTimeout:    cfg.ReadTimeout,
			WriteTimeout:   cfg.WriteTimeout,
			IdleTimeout:    2 * cfg.ReadTimeout,
			MaxHeaderBytes: maxHeaderBytes,
		},
		fatalCh: make(chan error, 1),
	}
}

// Start 监听配置端口并在后台 goroutine 中服务,立即返回
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.phase {
	case phaseServing:
		return errors.New("ops server already serving")
	case phaseStopped:
		return errors.New("ops server already stopped")
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", m.cfg.HTTPPort))
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", m.cfg.HTTPPort, err)
	}
	m.listener = ln
	m.phase = phaseServing

	go func() {
		if err := m.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("ops server exited", zap.Error(err))
			select {
			case m.fatalCh <- err:
			default:
			}
		}
	}()

	m.logger.Info("ops server listening", zap.String("addr", ln.Addr().String()))
	return nil
}

// Shutdown 在配置的关闭超时内排空在途请求。幂等。
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	serving := m.phase == phaseServing
	m.phase = phaseStopped
	m.mu.Unlock()

	if !serving {
		return nil
	}

	drainCtx, cancel := context.WithTimeout(ctx, m.cfg.ShutdownTimeout)
	defer cancel()

	m.logger.Info("draining ops server")
	if err := m.srv.Shutdown(drainCtx); err != nil {
		return fmt.Errorf("drain ops server: %w", err)
	}
	m.logger.Info("ops server stopped")
	return nil
}

// WaitForShutdown 阻塞到收到 SIGINT/SIGTERM 或服务异常退出,
// 然后执行优雅关闭
func (m *Manager) WaitForShutdown() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		m.logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-m.fatalCh:
		m.logger.Error("ops server failed, shutting down", zap.Error(err))
	}

	if err := m.Shutdown(context.Background()); err != nil {
		m.logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// Fatal 返回服务异常退出的错误通道,供调用方自行监控
func (m *Manager) Fatal() <-chan error {
	return m.fatalCh
}

// Addr 返回实际监听地址;端口配 0 时是系统分配的端口
func (m *Manager) Addr() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listener == nil {
		return fmt.Sprintf(":%d", m.cfg.HTTPPort)
	}
	return m.listener.Addr().String()
}

// Serving 返回服务器是否在对外服务
func (m *Manager) Serving() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase == phaseServing
}
