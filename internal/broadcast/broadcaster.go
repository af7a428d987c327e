// Package broadcast 把会话级变更扇出到同会话的所有实时连接
package broadcast

import (
	"context"
	"encoding/json"
	"sync"

	"sessionhub-core/internal/broker"
	"sessionhub-core/internal/core/dispose"
	corelog "sessionhub-core/internal/core/log"
	"sessionhub-core/internal/core/safe"
	"sessionhub-core/internal/registry"
	"sessionhub-core/internal/session"
)

// Update 推送给单个连接的会话更新
// 投递语义为尽力而为、至少一次；接收方按 Context.Version 幂等去重
type Update struct {
	Type      string           `json:"type"` // session_updated / session_deleted / forced_logout
	SessionID string           `json:"session_id"`
	Reason    string           `json:"reason,omitempty"`
	Context   *session.Context `json:"context,omitempty"`
}

// 更新类型常量
const (
	UpdateSessionChanged = "session_updated"
	UpdateSessionDeleted = "session_deleted"
	UpdateForcedLogout   = "forced_logout"
)

// Sink 单个连接的推送出口（WebSocket 写循环或轮询队列）
// Push 不允许阻塞广播循环，队列满应立即返回错误
type Sink interface {
	Push(update *Update) error
}

// Broadcaster 跨连接广播器
//
// 订阅消息代理上的会话事件，按 session_id 枚举本节点注册的连接，
// 把新上下文推给每条连接的出口。单条连接投递失败只记日志，
// 不影响其它连接。
type Broadcaster struct {
	*dispose.ServiceBase

	registry *registry.Registry
	store    *session.FailoverStore
	msgBus   broker.MessageBroker

	mu    sync.RWMutex
	sinks map[string]Sink // connection_id -> sink
}

// NewBroadcaster 创建跨连接广播器
func NewBroadcaster(parentCtx context.Context, reg *registry.Registry,
	store *session.FailoverStore, msgBus broker.MessageBroker) *Broadcaster {
	return &Broadcaster{
		ServiceBase: dispose.NewService("Broadcaster", parentCtx),
		registry:    reg,
		store:       store,
		msgBus:      msgBus,
		sinks:       make(map[string]Sink),
	}
}

// Start 订阅会话事件主题并启动分发循环
func (b *Broadcaster) Start() error {
	topics := []string{
		broker.TopicSessionUpdated,
		broker.TopicSessionDeleted,
		broker.TopicForcedLogout,
	}

	for _, topic := range topics {
		ch, err := b.msgBus.Subscribe(b.Ctx(), topic)
		if err != nil {
			return err
		}
		t := topic
		safe.GoWithContext(b.Ctx(), "broadcast-"+t, func(ctx context.Context) {
			b.dispatchLoop(ctx, t, ch)
		})
	}

	corelog.Infof("Broadcaster: subscribed to %d session event topics", len(topics))
	return nil
}

// RegisterSink 注册连接的推送出口
func (b *Broadcaster) RegisterSink(connectionID string, sink Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks[connectionID] = sink
}

// UnregisterSink 注销连接的推送出口
func (b *Broadcaster) UnregisterSink(connectionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sinks, connectionID)
}

// SinkCount 当前已注册的出口数（用于测试）
func (b *Broadcaster) SinkCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.sinks)
}

// dispatchLoop 消费单个主题的事件并扇出
func (b *Broadcaster) dispatchLoop(ctx context.Context, topic string, ch <-chan *broker.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			b.handleMessage(topic, msg)
		}
	}
}

// handleMessage 处理一条会话事件消息
func (b *Broadcaster) handleMessage(topic string, msg *broker.Message) {
	var event broker.SessionEventMessage
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		corelog.Errorf("Broadcaster: unmarshal event on %s failed: %v", topic, err)
		return
	}

	// 本地缓存立即失效，后续读取回源拿到新版本
	b.store.Invalidate(event.SessionID)

	update := &Update{SessionID: event.SessionID, Reason: event.Reason}
	switch topic {
	case broker.TopicSessionUpdated:
		update.Type = UpdateSessionChanged
		if len(event.Context) > 0 {
			var sc session.Context
			if err := json.Unmarshal(event.Context, &sc); err == nil {
				update.Context = &sc
			}
		}
	case broker.TopicSessionDeleted:
		update.Type = UpdateSessionDeleted
	case broker.TopicForcedLogout:
		update.Type = UpdateForcedLogout
	default:
		return
	}

	b.fanOut(update)
}

// fanOut 把更新推给会话的每条活跃连接
func (b *Broadcaster) fanOut(update *Update) {
	connections := b.registry.AllForSession(update.SessionID)
	if len(connections) == 0 {
		return
	}

	delivered := 0
	for _, info := range connections {
		if !info.State.Active() {
			continue
		}

		b.mu.RLock()
		sink, ok := b.sinks[info.ConnectionID]
		b.mu.RUnlock()
		if !ok {
			continue
		}

		if err := sink.Push(update); err != nil {
			corelog.Warnf("Broadcaster: push %s to connection %s failed: %v",
				update.Type, info.ConnectionID, err)
			continue
		}
		delivered++
	}

	corelog.Debugf("Broadcaster: %s for session %s delivered to %d/%d connections",
		update.Type, update.SessionID, delivered, len(connections))
}
