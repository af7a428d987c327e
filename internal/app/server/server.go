// Package server 组装并运行 sessionhub 服务
package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sessionhub-core/internal/api"
	"sessionhub-core/internal/broadcast"
	"sessionhub-core/internal/broker"
	"sessionhub-core/internal/config"
	corelog "sessionhub-core/internal/core/log"
	"sessionhub-core/internal/core/metrics"
	"sessionhub-core/internal/core/safe"
	"sessionhub-core/internal/recovery"
	"sessionhub-core/internal/registry"
	"sessionhub-core/internal/session"
)

// Server 服务根对象，持有全部组件并控制启动/关闭顺序
type Server struct {
	config *config.Config
	ctx    context.Context
	cancel context.CancelFunc

	redisStore  *session.RedisStore
	pgStore     *session.PostgresStore
	store       *session.FailoverStore
	msgBus      broker.MessageBroker
	registry    *registry.Registry
	coordinator *recovery.FallbackCoordinator
	manager     *recovery.Manager
	monitor     *recovery.Monitor
	broadcaster *broadcast.Broadcaster
	apiServer   *api.Server
}

// New 按依赖顺序组装全部组件
func New(parentCtx context.Context, cfg *config.Config) (*Server, error) {
	if err := corelog.Init(&cfg.Log); err != nil {
		return nil, fmt.Errorf("init logging failed: %w", err)
	}

	ctx, cancel := context.WithCancel(parentCtx)
	s := &Server{config: cfg, ctx: ctx, cancel: cancel}

	metrics.SetGlobalMetrics(metrics.NewMemoryMetrics(ctx))

	if err := s.buildStorage(); err != nil {
		cancel()
		return nil, err
	}
	s.buildRecovery()

	s.apiServer = api.NewServer(ctx, cfg, s.manager, s.broadcaster, s.store)

	corelog.Infof("Server: all components assembled (node: %s)", cfg.NodeID)
	return s, nil
}

// buildStorage 组装存储链路：Redis 主存储 + 可选 PostgreSQL 备用 + 消息代理
func (s *Server) buildStorage() error {
	redisStore, err := session.NewRedisStore(s.ctx, &session.RedisConfig{
		Addr:     s.config.Redis.Addr,
		Password: s.config.Redis.Password,
		DB:       s.config.Redis.DB,
		PoolSize: s.config.Redis.PoolSize,
	})
	if err != nil {
		return fmt.Errorf("create redis store failed: %w", err)
	}
	s.redisStore = redisStore

	var fallback session.FallbackStore
	if s.config.Postgres.DSN != "" {
		pgStore, err := session.NewPostgresStore(s.ctx, &session.PostgresConfig{
			DSN:      s.config.Postgres.DSN,
			MaxConns: s.config.Postgres.MaxConns,
		})
		if err != nil {
			return fmt.Errorf("create postgres store failed: %w", err)
		}
		s.pgStore = pgStore
		fallback = pgStore
	} else {
		corelog.Warnf("Server: no postgres DSN configured, running without fallback store")
	}

	// 消息代理与主存储共享 Redis 连接
	s.msgBus = broker.NewRedisBrokerFromClient(s.ctx, redisStore.Client(), s.config.NodeID)

	s.store = session.NewFailoverStore(s.ctx, redisStore, fallback, s.msgBus, &session.FailoverConfig{
		StoreTimeout: s.config.Session.StoreTimeout,
		CacheSize:    s.config.Session.CacheSize,
		CacheTTL:     s.config.Session.CacheTTL,
	})
	return nil
}

// buildRecovery 组装连接恢复链路：注册表、降级协调器、管理器、监控循环、广播器
func (s *Server) buildRecovery() {
	s.registry = registry.NewRegistry(s.ctx)

	s.coordinator = recovery.NewFallbackCoordinator(
		s.config.Recovery.FallbackTransports,
		s.config.Recovery.FallbackTimeout,
		recovery.TransportProberFunc(s.probeTransport),
	)

	s.manager = recovery.NewManager(s.ctx, &s.config.Recovery, s.registry, s.store, s.coordinator)
	s.monitor = recovery.NewMonitor(s.ctx, s.manager, &s.config.Recovery, s.config.Session.TTL)
	s.broadcaster = broadcast.NewBroadcaster(s.ctx, s.registry, s.store, s.msgBus)
}

// probeTransport 升级探测：降级通道上近期有活动才认为客户端仍在线，
// 允许其重新尝试首选传输；真正的升级握手由客户端发起
func (s *Server) probeTransport(ctx context.Context, info *registry.ConnectionInfo) bool {
	return time.Since(info.LastActivity) < s.config.Recovery.FallbackTimeout
}

// Run 启动全部组件并阻塞到退出信号
func (s *Server) Run() error {
	if err := s.broadcaster.Start(); err != nil {
		return fmt.Errorf("start broadcaster failed: %w", err)
	}
	s.monitor.Start()

	apiErr := make(chan error, 1)
	safe.Go("api-server", func() {
		apiErr <- s.apiServer.Start()
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		corelog.Infof("Server: received signal %v, shutting down", sig)
	case err := <-apiErr:
		if err != nil {
			corelog.Errorf("Server: api server failed: %v", err)
			s.shutdown()
			return err
		}
	}

	s.shutdown()
	return nil
}

// shutdown 按依赖反序关闭组件
func (s *Server) shutdown() {
	s.cancel()

	// 取消 ctx 已触发各组件的 dispose 清理，这里按序兜底
	s.monitor.Close()
	s.broadcaster.Close()
	s.manager.Close()
	s.registry.Close()
	s.store.Close()
	s.msgBus.Close()
	if s.pgStore != nil {
		s.pgStore.Close()
	}
	s.redisStore.Close()

	if m := metrics.GetGlobalMetrics(); m != nil {
		m.Close()
	}

	corelog.Info("Server: shutdown complete")
}

// Config 返回服务配置（启动横幅使用）
func (s *Server) Config() *config.Config {
	return s.config
}
