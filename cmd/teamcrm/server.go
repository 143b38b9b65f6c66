package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/copp1723/team-crm-sub000/analysis"
	"github.com/copp1723/team-crm-sub000/config"
	"github.com/copp1723/team-crm-sub000/engine"
	"github.com/copp1723/team-crm-sub000/internal/archive"
	"github.com/copp1723/team-crm-sub000/internal/metrics"
	"github.com/copp1723/team-crm-sub000/internal/server"
	"github.com/copp1723/team-crm-sub000/internal/telemetry"
	"github.com/copp1723/team-crm-sub000/llm"
	"github.com/copp1723/team-crm-sub000/memory"
	"github.com/copp1723/team-crm-sub000/retrieval"
	"github.com/copp1723/team-crm-sub000/summarizer"
	"github.com/copp1723/team-crm-sub000/types"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 把引擎与运维 HTTP 面装配到一起
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	engine  *engine.Engine
	store   memory.RecordStore
	archive *archive.Archive

	collector     *metrics.Collector
	otelProviders *telemetry.Providers
	httpManager   *server.Manager

	rateLimiterCancel context.CancelFunc
}

// NewServer 按配置装配全部组件。记忆后端与归档不可用时降级,
// 不阻止进程启动。
func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	otelProviders, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}

	store, err := memory.Open(cfg.Memory, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open memory store: %w", err)
	}

	// 补全器缺失时引擎走启发式降级
	var completer llm.Completer
	if inner := llm.NewOpenAICompleter(cfg.LLM, logger); inner != nil {
		completer = llm.NewResilientCompleter(inner, cfg.LLM, logger)
	} else {
		logger.Info("no completion provider configured, running degraded")
	}

	var summaryArchive *archive.Archive
	var sinks []summarizer.SummarySink
	if cfg.Archive.Enabled {
		summaryArchive, err = archive.Open(cfg.Archive, logger)
		if err != nil {
			logger.Warn("summary archive unavailable, summaries stay in memory only", zap.Error(err))
		} else {
			sinks = append(sinks, summaryArchive)
		}
	}

	generator := summarizer.NewGenerator(completer, cfg.Summarizer.TokenBudget, logger)
	batcher := summarizer.NewBatcher(cfg.Summarizer, generator, store, logger, sinks...)

	collector := metrics.NewCollector("teamcrm", logger)

	var sweeper *memory.Sweeper
	if redisStore, ok := store.(*memory.RedisStore); ok {
		sweeper = memory.NewSweeper(redisStore, cfg.Engine.Sweep, logger)
		sweeper.OnResult = func(res memory.SweepResult) {
			collector.RecordSweepOrphans(res.Removed)
		}
	}

	eng := engine.New(cfg.Engine, engine.Options{
		Store:     store,
		Retriever: retrieval.NewRetriever(store, cfg.Retrieval, logger),
		Analyzer:  analysis.NewAnalyzer(logger),
		Batcher:   batcher,
		Completer: completer,
		Sweeper:   sweeper,
		Metrics:   collector,
		Logger:    logger,
	})

	return &Server{
		cfg:           cfg,
		logger:        logger,
		engine:        eng,
		store:         store,
		archive:       summaryArchive,
		collector:     collector,
		otelProviders: otelProviders,
	}, nil
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 初始化引擎并启动 HTTP 服务器
func (s *Server) Start() error {
	ctx := context.Background()

	if err := s.engine.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize engine: %w", err)
	}

	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	s.logger.Info("All services started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Bool("memory_enabled", s.store.Enabled()),
		zap.Bool("archive_enabled", s.archive != nil),
		zap.Bool("auth_enabled", s.cfg.Auth.Enabled),
	)
	return nil
}

// startHTTPServer 注册路由并拉起 HTTP 服务器
func (s *Server) startHTTPServer() error {
	mux := http.NewServeMux()

	// 探活与指标端点,不走鉴权
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/version", s.handleVersion)
	mux.Handle("/metrics", promhttp.Handler())

	// 业务 API
	mux.HandleFunc("/api/v1/messages", s.handleMessage)
	mux.HandleFunc("/api/v1/updates", s.handleUpdate)
	mux.HandleFunc("/api/v1/decisions", s.handleDecision)
	mux.HandleFunc("/api/v1/escalations", s.handleEscalation)
	mux.HandleFunc("/api/v1/summary/force", s.handleForceSummary)
	mux.HandleFunc("/api/v1/summaries", s.handleSummaries)
	mux.HandleFunc("/api/v1/stats", s.handleStats)

	skipAuthPaths := []string{"/health", "/healthz", "/version", "/metrics"}
	rateLimiterCtx, rateLimiterCancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = rateLimiterCancel

	middlewares := []Middleware{
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.collector),
		RateLimiter(rateLimiterCtx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger),
	}
	if s.cfg.Auth.Enabled {
		middlewares = append(middlewares, JWTAuth(s.cfg.Auth, skipAuthPaths, s.logger))
	}
	handler := Chain(mux, middlewares...)

	s.httpManager = server.NewManager(handler, s.cfg.Server, s.logger)
	if err := s.httpManager.Start(); err != nil {
		return err
	}

	s.logger.Info("HTTP server started", zap.Int("port", s.cfg.Server.HTTPPort))
	return nil
}

// =============================================================================
// 🌐 HTTP Handlers
// =============================================================================

// handleHealth 汇报各子系统状态。进程活着就是 200,
// 降级状态通过响应体暴露。
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	memoryStatus := "ok"
	if err := s.store.Ping(ctx); err != nil {
		if types.IsCode(err, types.ErrStoreDisabled) {
			memoryStatus = "disabled"
		} else {
			memoryStatus = "degraded"
		}
	}

	archiveStatus := "disabled"
	if s.archive != nil {
		archiveStatus = "ok"
		if err := s.archive.Ping(ctx); err != nil {
			archiveStatus = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": Version,
		"memory":  memoryStatus,
		"archive": archiveStatus,
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "ok")
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"version":    Version,
		"build_time": BuildTime,
		"git_commit": GitCommit,
	})
}

// handleMessage 对话入口: POST ConversationInput → ConversationResult
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var in types.ConversationInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	result, err := s.engine.ProcessMessage(r.Context(), in)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleUpdate 更新投递入口: POST StructuredUpdate → 批处理结果
func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var u types.StructuredUpdate
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	outcome, err := s.engine.HandleUpdate(r.Context(), u)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, outcome)
}

// handleDecision 高管决策入口
func (s *Server) handleDecision(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var c types.ExecutiveContent
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := s.engine.RecordExecutiveDecision(r.Context(), c); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "recorded"})
}

// handleEscalation 升级事件入口
func (s *Server) handleEscalation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var c types.EscalationContent
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := s.engine.RecordEscalation(r.Context(), c); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "recorded"})
}

// handleForceSummary 无视触发条件立刻汇总当前批次
func (s *Server) handleForceSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	outcome := s.engine.Batcher().ForceSummarize(r.Context())
	writeJSON(w, http.StatusOK, outcome)
}

// handleSummaries 返回滚动摘要历史,最新在前
func (s *Server) handleSummaries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	summaries, err := s.store.RecentSummaries(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "summary history unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":     len(summaries),
		"summaries": summaries,
	})
}

// handleStats 返回引擎统计快照
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Stats())
}

// =============================================================================
// 🔧 响应辅助函数
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"error":   http.StatusText(status),
		"message": message,
	})
}

// writeEngineError 把引擎错误映射为 HTTP 响应,错误码优先于消息文本
func writeEngineError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	var typed *types.Error
	if errors.As(err, &typed) {
		switch {
		case typed.HTTPStatus != 0:
			status = typed.HTTPStatus
		case typed.Code == types.ErrValidation:
			status = http.StatusBadRequest
		case typed.Code == types.ErrEngineClosed:
			status = http.StatusServiceUnavailable
		case typed.Code == types.ErrRateLimited:
			status = http.StatusTooManyRequests
		}
		writeJSON(w, status, map[string]any{
			"error":   string(typed.Code),
			"message": typed.Message,
		})
		return
	}
	writeError(w, status, err.Error())
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 等待关闭信号并优雅关闭
func (s *Server) WaitForShutdown() {
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}
	s.Shutdown()
}

// Shutdown 按依赖顺序关闭:先停外部流量,再停引擎,最后释放存储
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")
	ctx := context.Background()

	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}

	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}

	if err := s.engine.Shutdown(ctx); err != nil {
		s.logger.Error("Engine shutdown error", zap.Error(err))
	}

	if s.archive != nil {
		if err := s.archive.Close(); err != nil {
			s.logger.Error("Archive close error", zap.Error(err))
		}
	}

	if err := s.store.Close(); err != nil {
		s.logger.Error("Memory store close error", zap.Error(err))
	}

	if s.otelProviders != nil {
		if err := s.otelProviders.Shutdown(ctx); err != nil {
			s.logger.Error("Telemetry shutdown error", zap.Error(err))
		}
	}

	s.logger.Info("Graceful shutdown completed")
}
