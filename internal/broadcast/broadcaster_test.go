package broadcast

import (
	"context"
	"sync"
	"testing"
	"time"

	"sessionhub-core/internal/broker"
	coreerrors "sessionhub-core/internal/core/errors"
	"sessionhub-core/internal/registry"
	"sessionhub-core/internal/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore 内存会话存储
type memStore struct {
	mu       sync.Mutex
	sessions map[string]*session.Context
}

func newMemStore() *memStore {
	return &memStore{sessions: make(map[string]*session.Context)}
}

func (m *memStore) Get(ctx context.Context, sessionID string) (*session.Context, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sc, ok := m.sessions[sessionID]; ok {
		return sc.Clone(), nil
	}
	return nil, coreerrors.ErrSessionNotFound
}

func (m *memStore) Put(ctx context.Context, sc *session.Context, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sc.Version++
	m.sessions[sc.SessionID] = sc.Clone()
	return nil
}

func (m *memStore) Touch(ctx context.Context, sessionID string) error { return nil }
func (m *memStore) Delete(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
	return nil
}
func (m *memStore) Close() error { return nil }

// chanSink 把推送写入通道，供测试断言
type chanSink struct {
	updates chan *Update
}

func newChanSink() *chanSink {
	return &chanSink{updates: make(chan *Update, 8)}
}

func (c *chanSink) Push(update *Update) error {
	c.updates <- update
	return nil
}

func setupBroadcast(t *testing.T) (*Broadcaster, *registry.Registry, *session.FailoverStore) {
	t.Helper()
	ctx := context.Background()

	msgBus := broker.NewMemoryBroker(ctx, "test-node")
	t.Cleanup(func() { msgBus.Close() })

	store := session.NewFailoverStore(ctx, newMemStore(), nil, msgBus, &session.FailoverConfig{
		StoreTimeout: time.Second,
		CacheSize:    16,
		CacheTTL:     time.Millisecond,
	})
	t.Cleanup(func() { store.Close() })

	reg := registry.NewRegistry(ctx)
	t.Cleanup(func() { reg.Close() })

	b := NewBroadcaster(ctx, reg, store, msgBus)
	require.NoError(t, b.Start())
	t.Cleanup(func() { b.Close() })

	return b, reg, store
}

func registerTab(reg *registry.Registry, connID, sessionID string) {
	reg.Register(registry.NewConnectionInfo(connID, sessionID, "user-1", "/app",
		"websocket", []string{"websocket", "polling"}))
}

// 两个标签页共享会话：平台切换写入后双方都收到新上下文
func TestBroadcaster_PlatformSwitchReachesAllTabs(t *testing.T) {
	b, reg, store := setupBroadcast(t)
	ctx := context.Background()

	sc := session.NewContext("user-1", time.Hour)
	require.NoError(t, store.Put(ctx, sc, session.VersionAny))

	registerTab(reg, "tab-a", sc.SessionID)
	registerTab(reg, "tab-b", sc.SessionID)

	sinkA := newChanSink()
	sinkB := newChanSink()
	b.RegisterSink("tab-a", sinkA)
	b.RegisterSink("tab-b", sinkB)

	// 丢弃初次 Put 可能残留的事件
	drainSink(sinkA)
	drainSink(sinkB)

	sc.SwitchPlatform(42, "platform-42")
	require.NoError(t, store.Put(ctx, sc, sc.Version))

	for name, sink := range map[string]*chanSink{"tab-a": sinkA, "tab-b": sinkB} {
		select {
		case update := <-sink.updates:
			assert.Equal(t, UpdateSessionChanged, update.Type)
			require.NotNil(t, update.Context, "%s got update without context", name)
			require.NotNil(t, update.Context.PlatformConnectionID)
			assert.Equal(t, int64(42), *update.Context.PlatformConnectionID)
		case <-time.After(2 * time.Second):
			t.Fatalf("%s did not receive platform switch", name)
		}
	}
}

// 其它会话的连接不收到广播
func TestBroadcaster_OtherSessionsUnaffected(t *testing.T) {
	b, reg, store := setupBroadcast(t)
	ctx := context.Background()

	sc := session.NewContext("user-1", time.Hour)
	require.NoError(t, store.Put(ctx, sc, session.VersionAny))

	registerTab(reg, "mine", sc.SessionID)
	registerTab(reg, "other", "unrelated-session")

	mine := newChanSink()
	other := newChanSink()
	b.RegisterSink("mine", mine)
	b.RegisterSink("other", other)
	drainSink(mine)

	sc.Touch()
	require.NoError(t, store.Put(ctx, sc, session.VersionAny))

	select {
	case <-mine.updates:
	case <-time.After(2 * time.Second):
		t.Fatal("own session update not delivered")
	}

	select {
	case update := <-other.updates:
		t.Fatalf("unrelated connection received %s for session %s", update.Type, update.SessionID)
	case <-time.After(100 * time.Millisecond):
	}
}

// 删除会话广播 session_deleted
func TestBroadcaster_DeleteBroadcast(t *testing.T) {
	b, reg, store := setupBroadcast(t)
	ctx := context.Background()

	sc := session.NewContext("user-1", time.Hour)
	require.NoError(t, store.Put(ctx, sc, session.VersionAny))

	registerTab(reg, "tab-a", sc.SessionID)
	sink := newChanSink()
	b.RegisterSink("tab-a", sink)
	drainSink(sink)

	require.NoError(t, store.Delete(ctx, sc.SessionID))

	select {
	case update := <-sink.updates:
		assert.Equal(t, UpdateSessionDeleted, update.Type)
		assert.Equal(t, sc.SessionID, update.SessionID)
	case <-time.After(2 * time.Second):
		t.Fatal("delete broadcast not delivered")
	}
}

// 注销出口后不再投递
func TestBroadcaster_UnregisterSink(t *testing.T) {
	b, reg, store := setupBroadcast(t)
	ctx := context.Background()

	sc := session.NewContext("user-1", time.Hour)
	require.NoError(t, store.Put(ctx, sc, session.VersionAny))

	registerTab(reg, "tab-a", sc.SessionID)
	sink := newChanSink()
	b.RegisterSink("tab-a", sink)
	drainSink(sink)
	b.UnregisterSink("tab-a")

	sc.Touch()
	require.NoError(t, store.Put(ctx, sc, session.VersionAny))

	select {
	case update := <-sink.updates:
		t.Fatalf("unregistered sink received %s", update.Type)
	case <-time.After(100 * time.Millisecond):
	}
}

// drainSink 清空出口里已排队的更新
func drainSink(sink *chanSink) {
	deadline := time.After(50 * time.Millisecond)
	for {
		select {
		case <-sink.updates:
		case <-deadline:
			return
		}
	}
}
