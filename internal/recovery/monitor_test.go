package recovery

import (
	"context"
	"sync"
	"testing"
	"time"

	"sessionhub-core/internal/broker"
	"sessionhub-core/internal/config"
	coreerrors "sessionhub-core/internal/core/errors"
	"sessionhub-core/internal/registry"
	"sessionhub-core/internal/session"
)

// fakeStore 内存会话存储，可模拟主存储故障
type fakeStore struct {
	mu       sync.Mutex
	sessions map[string]*session.Context
	fail     bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{sessions: make(map[string]*session.Context)}
}

func (f *fakeStore) Get(ctx context.Context, sessionID string) (*session.Context, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, coreerrors.New(coreerrors.ErrorTypeStoreUnavailable, "fake store down")
	}
	sc, ok := f.sessions[sessionID]
	if !ok {
		return nil, coreerrors.ErrSessionNotFound
	}
	if sc.Expired(time.Now()) {
		return nil, coreerrors.ErrSessionExpired
	}
	return sc.Clone(), nil
}

func (f *fakeStore) Put(ctx context.Context, sc *session.Context, expectedVersion int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return coreerrors.New(coreerrors.ErrorTypeStoreUnavailable, "fake store down")
	}
	sc.Version++
	f.sessions[sc.SessionID] = sc.Clone()
	return nil
}

func (f *fakeStore) Touch(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return coreerrors.New(coreerrors.ErrorTypeStoreUnavailable, "fake store down")
	}
	if sc, ok := f.sessions[sessionID]; ok {
		sc.Touch()
		return nil
	}
	return coreerrors.ErrSessionNotFound
}

func (f *fakeStore) Delete(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, sessionID)
	return nil
}

func (f *fakeStore) Close() error { return nil }

func (f *fakeStore) has(sessionID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.sessions[sessionID]
	return ok
}

func testRecoveryConfig() *config.RecoveryConfig {
	return &config.RecoveryConfig{
		MaxReconnectAttempts:    10,
		ReconnectTimeout:        300 * time.Second,
		ActivityTimeout:         600 * time.Second,
		CleanupInterval:         300 * time.Second,
		StaleConnectionTimeout:  1800 * time.Second,
		EnableTransportFallback: true,
		FallbackTransports:      []string{"polling"},
		FallbackTimeout:         30 * time.Second,
		SuspensionThreshold:     120 * time.Second,
		PollingModeTimeout:      600 * time.Second,
	}
}

type monitorFixture struct {
	manager *Manager
	monitor *Monitor
	reg     *registry.Registry
	primary *fakeStore
	msgBus  *broker.MemoryBroker
}

func newMonitorFixture(t *testing.T) *monitorFixture {
	t.Helper()
	ctx := context.Background()
	cfg := testRecoveryConfig()

	primary := newFakeStore()
	msgBus := broker.NewMemoryBroker(ctx, "test-node")
	t.Cleanup(func() { msgBus.Close() })

	store := session.NewFailoverStore(ctx, primary, nil, msgBus, &session.FailoverConfig{
		StoreTimeout: time.Second,
		CacheSize:    16,
		CacheTTL:     time.Millisecond, // 测试里缓存立即过期，读写直达 fake store
	})
	t.Cleanup(func() { store.Close() })

	reg := registry.NewRegistry(ctx)
	t.Cleanup(func() { reg.Close() })

	coordinator := NewFallbackCoordinator(cfg.FallbackTransports, cfg.FallbackTimeout, nil)
	manager := NewManager(ctx, cfg, reg, store, coordinator)
	monitor := NewMonitor(ctx, manager, cfg, 24*time.Hour)

	return &monitorFixture{manager: manager, monitor: monitor, reg: reg, primary: primary, msgBus: msgBus}
}

func (f *monitorFixture) registerConn(connID, sessionID string) {
	info := registry.NewConnectionInfo(connID, sessionID, "user-1", "/app",
		"websocket", []string{"websocket", "polling"})
	f.manager.HandleConnect(info)
}

func (f *monitorFixture) setLastActivity(connID string, at time.Time) {
	f.reg.Update(connID, func(info *registry.ConnectionInfo) {
		info.LastActivity = at
	})
}

func (f *monitorFixture) state(t *testing.T, connID string) registry.ConnState {
	t.Helper()
	info, err := f.reg.Lookup(connID)
	if err != nil {
		t.Fatalf("lookup %s failed: %v", connID, err)
	}
	return info.State
}

// 心跳间隔恰好等于阈值不算挂起，超过一秒才算
func TestMonitor_SuspensionBoundary(t *testing.T) {
	f := newMonitorFixture(t)
	now := time.Now()

	f.registerConn("at-threshold", "sess-1")
	f.setLastActivity("at-threshold", now.Add(-120*time.Second))

	f.registerConn("past-threshold", "sess-1")
	f.setLastActivity("past-threshold", now.Add(-121*time.Second))

	f.monitor.RunCycle(context.Background(), now)

	if got := f.state(t, "at-threshold"); got != registry.Connected {
		t.Errorf("connection exactly at threshold flagged suspended: %s", got)
	}
	if got := f.state(t, "past-threshold"); got != registry.Suspended {
		t.Errorf("connection past threshold not suspended: %s", got)
	}
}

// 心跳超阈值进入 Suspended，fallback_timeout 内未恢复降级轮询
func TestMonitor_SuspensionToPollingMode(t *testing.T) {
	f := newMonitorFixture(t)
	now := time.Now()

	f.registerConn("conn-1", "sess-1")
	f.setLastActivity("conn-1", now.Add(-121*time.Second))

	f.monitor.RunCycle(context.Background(), now)
	if got := f.state(t, "conn-1"); got != registry.Suspended {
		t.Fatalf("expected SUSPENDED, got %s", got)
	}

	// 31 秒后仍无心跳，挂起裁决降级
	later := now.Add(31 * time.Second)
	f.monitor.RunCycle(context.Background(), later)
	if got := f.state(t, "conn-1"); got != registry.PollingMode {
		t.Errorf("expected POLLING_MODE after fallback timeout, got %s", got)
	}
}

// 同一轮里断开先到：挂起扫描不得覆盖断开状态
func TestMonitor_DisconnectBeatsSuspension(t *testing.T) {
	f := newMonitorFixture(t)
	now := time.Now()

	f.registerConn("conn-1", "sess-1")
	f.setLastActivity("conn-1", now.Add(-200*time.Second))

	f.manager.HandleDisconnect("conn-1", "peer closed")
	f.monitor.RunCycle(context.Background(), now)

	if got := f.state(t, "conn-1"); got != registry.Disconnected {
		t.Errorf("suspension scan overrode disconnect: %s", got)
	}
}

// 超过 activity_timeout 无活动的连接被强制断开，而不是停在挂起态
func TestMonitor_ActivityTimeoutForcesDisconnect(t *testing.T) {
	f := newMonitorFixture(t)
	now := time.Now()

	f.registerConn("idle-700", "sess-1")
	f.setLastActivity("idle-700", now.Add(-700*time.Second))

	f.registerConn("at-limit", "sess-1")
	f.setLastActivity("at-limit", now.Add(-600*time.Second))

	f.monitor.RunCycle(context.Background(), now)

	if got := f.state(t, "idle-700"); got != registry.Disconnected {
		t.Errorf("connection idle past activity_timeout left in %s, want DISCONNECTED", got)
	}
	if got := f.state(t, "at-limit"); got == registry.Disconnected {
		t.Error("connection exactly at activity_timeout must not be disconnected")
	}

	// 强制断开后连接仍在注册表里，重连窗口照常生效
	if _, err := f.reg.Lookup("idle-700"); err != nil {
		t.Errorf("disconnected connection evicted prematurely: %v", err)
	}
}

// 挂起中的连接越过 activity_timeout 同样被强制断开
func TestMonitor_ActivityTimeoutOverridesSuspension(t *testing.T) {
	f := newMonitorFixture(t)
	now := time.Now()

	f.registerConn("conn-1", "sess-1")
	f.setLastActivity("conn-1", now.Add(-200*time.Second))
	f.monitor.RunCycle(context.Background(), now)
	if got := f.state(t, "conn-1"); got != registry.Suspended {
		t.Fatalf("expected SUSPENDED, got %s", got)
	}

	later := now.Add(500 * time.Second) // 闲置总计 700s，越过 600s 的活跃超时
	f.monitor.RunCycle(context.Background(), later)
	if got := f.state(t, "conn-1"); got != registry.Disconnected {
		t.Errorf("suspended connection past activity_timeout left in %s, want DISCONNECTED", got)
	}
}

// 长期无活动的连接被注销
func TestMonitor_StaleEviction(t *testing.T) {
	f := newMonitorFixture(t)
	now := time.Now()

	f.registerConn("stale", "sess-1")
	f.setLastActivity("stale", now.Add(-1801*time.Second))

	f.monitor.RunCycle(context.Background(), now)

	if _, err := f.reg.Lookup("stale"); err == nil {
		t.Error("stale connection still registered after cycle")
	}
}

// 重连序列超出 reconnect_timeout 落入 RecoveryFailed
func TestMonitor_ReconnectTimeout(t *testing.T) {
	f := newMonitorFixture(t)
	now := time.Now()

	f.registerConn("conn-1", "sess-1")
	f.manager.HandleDisconnect("conn-1", "network lost")
	f.manager.HandleReconnectAttempt("conn-1")

	f.reg.Update("conn-1", func(info *registry.ConnectionInfo) {
		info.RecoveryStartTime = now.Add(-301 * time.Second)
		info.LastActivity = now // 避开僵尸清理
	})

	f.monitor.RunCycle(context.Background(), now)
	if got := f.state(t, "conn-1"); got != registry.RecoveryFailed {
		t.Errorf("expected RECOVERY_FAILED after reconnect timeout, got %s", got)
	}
}

// 轮询模式长时间无拉取视为断开
func TestMonitor_PollingModeTimeout(t *testing.T) {
	f := newMonitorFixture(t)
	now := time.Now()

	f.registerConn("conn-1", "sess-1")
	f.reg.Update("conn-1", func(info *registry.ConnectionInfo) {
		info.State = registry.PollingMode
		info.LastActivity = now.Add(-601 * time.Second)
	})

	f.monitor.RunCycle(context.Background(), now)
	if got := f.state(t, "conn-1"); got != registry.Disconnected {
		t.Errorf("expected DISCONNECTED after polling timeout, got %s", got)
	}
}

// 重试耗尽后的重连尝试返回 ErrRecoveryExhausted，客户端据此重新握手
func TestManager_ReconnectAttemptExhausted(t *testing.T) {
	f := newMonitorFixture(t)

	f.registerConn("conn-1", "sess-1")
	f.manager.HandleDisconnect("conn-1", "network lost")

	for i := 0; i < 10; i++ {
		if err := f.manager.HandleReconnectAttempt("conn-1"); err != nil {
			t.Fatalf("attempt %d rejected early: %v", i+1, err)
		}
	}

	err := f.manager.HandleReconnectAttempt("conn-1")
	if !coreerrors.IsType(err, coreerrors.ErrorTypeRecoveryExhausted) {
		t.Fatalf("expected recovery_exhausted after limit, got %v", err)
	}

	// 终态上的后续尝试同样被拒
	err = f.manager.HandleReconnectAttempt("conn-1")
	if !coreerrors.IsType(err, coreerrors.ErrorTypeRecoveryExhausted) {
		t.Errorf("expected recovery_exhausted on RECOVERY_FAILED, got %v", err)
	}
}

// 临近过期且仍有活跃连接的会话被续期
func TestMonitor_SessionRenewal(t *testing.T) {
	f := newMonitorFixture(t)
	now := time.Now()

	sc := session.NewContext("user-1", 5*time.Minute) // 过期时间落在 2×cleanup_interval 内
	f.primary.Put(context.Background(), sc, session.VersionAny)
	f.registerConn("conn-1", sc.SessionID)

	f.monitor.RunCycle(context.Background(), now)

	renewed, err := f.primary.Get(context.Background(), sc.SessionID)
	if err != nil {
		t.Fatalf("session gone after renewal cycle: %v", err)
	}
	if renewed.ExpiresAt.Sub(now) < 23*time.Hour {
		t.Errorf("session not renewed: expires %v", renewed.ExpiresAt)
	}
}

// 临近过期且无活跃连接的会话被删除并广播强制登出
func TestMonitor_SessionExpiryForcedLogout(t *testing.T) {
	f := newMonitorFixture(t)
	now := time.Now()

	logoutCh, err := f.msgBus.Subscribe(context.Background(), broker.TopicForcedLogout)
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	sc := session.NewContext("user-1", 5*time.Minute)
	f.primary.Put(context.Background(), sc, session.VersionAny)
	f.registerConn("conn-1", sc.SessionID)
	f.reg.Update("conn-1", func(info *registry.ConnectionInfo) {
		info.State = registry.RecoveryFailed
	})

	f.monitor.RunCycle(context.Background(), now)

	if f.primary.has(sc.SessionID) {
		t.Error("expiring session with no active connections not deleted")
	}

	select {
	case msg := <-logoutCh:
		if msg.Topic != broker.TopicForcedLogout {
			t.Errorf("unexpected topic %s", msg.Topic)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for forced logout broadcast")
	}
}
