// Package api 暴露实时连接与会话管理的 HTTP/WebSocket 接口
package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"sessionhub-core/internal/broadcast"
	"sessionhub-core/internal/config"
	"sessionhub-core/internal/core/dispose"
	corelog "sessionhub-core/internal/core/log"
	"sessionhub-core/internal/recovery"
	"sessionhub-core/internal/session"

	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"
)

// Server 实时接口服务
type Server struct {
	*dispose.ServiceBase

	config      *config.HTTPConfig
	sessionTTL  time.Duration
	nodeID      string
	manager     *recovery.Manager
	broadcaster *broadcast.Broadcaster
	store       *session.FailoverStore

	router *mux.Router
	server *http.Server
	helper *ResponseHelper

	pollMu    sync.Mutex
	pollSinks map[string]*pollSink
}

// NewServer 创建 API 服务
func NewServer(parentCtx context.Context, cfg *config.Config, manager *recovery.Manager,
	broadcaster *broadcast.Broadcaster, store *session.FailoverStore) *Server {
	s := &Server{
		ServiceBase: dispose.NewService("APIServer", parentCtx),
		config:      &cfg.HTTP,
		sessionTTL:  cfg.Session.TTL,
		nodeID:      cfg.NodeID,
		manager:     manager,
		broadcaster: broadcaster,
		store:       store,
		router:      mux.NewRouter(),
		helper:      NewResponseHelper(),
		pollSinks:   make(map[string]*pollSink),
	}

	s.setupRoutes()
	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
	return s
}

// setupRoutes 注册路由
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/healthz", s.handleHealth).Methods("GET")

	api := s.router.PathPrefix("/api/v1").Subrouter()

	// 实时连接（WebSocket 握手与恢复）
	api.HandleFunc("/realtime", s.handleRealtime).Methods("GET")

	// 轮询降级通道
	api.HandleFunc("/poll/{connection_id}", s.handlePoll).Methods("POST")

	// 会话管理与自省
	api.HandleFunc("/sessions", s.handleCreateSession).Methods("POST")
	api.HandleFunc("/sessions/{session_id}", s.handleGetSession).Methods("GET")
	api.HandleFunc("/sessions/{session_id}/platform", s.handleSwitchPlatform).Methods("PUT")
	api.HandleFunc("/sessions/{session_id}", s.handleDeleteSession).Methods("DELETE")

	// 恢复指标
	api.HandleFunc("/metrics/recovery", s.handleMetricsSnapshot).Methods("GET")
	api.HandleFunc("/metrics/recovery/reset", s.handleMetricsReset).Methods("POST")
}

// Start 启动 HTTP 服务（阻塞直到 context 取消或服务出错）
func (s *Server) Start() error {
	corelog.Infof("APIServer: listening on %s", s.config.Listen)

	g, gCtx := errgroup.WithContext(s.Ctx())
	g.Go(func() error {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// handleHealth 健康检查
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.helper.Success(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"node_id":     s.nodeID,
		"connections": s.manager.Registry().Count(),
	})
}
