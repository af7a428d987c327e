package broker

import (
	"context"
	"time"
)

// MessageBroker 节点间消息代理接口
// 会话写入节点通过它把会话变更扇出到所有持有该会话连接的节点
type MessageBroker interface {
	// Publish 发布消息到指定主题
	Publish(ctx context.Context, topic string, message []byte) error

	// Subscribe 订阅主题，返回消息通道
	Subscribe(ctx context.Context, topic string) (<-chan *Message, error)

	// Unsubscribe 取消订阅
	Unsubscribe(ctx context.Context, topic string) error

	// Ping 检查代理可用性
	Ping(ctx context.Context) error

	// Close 关闭连接
	Close() error
}

// Message 消息结构
type Message struct {
	Topic     string    // 消息主题
	Payload   []byte    // 消息内容
	Timestamp time.Time // 发布时间戳
	NodeID    string    // 发布者节点ID
}

// Topic 常量定义
const (
	TopicSessionUpdated = "session.updated" // 会话上下文变更
	TopicSessionDeleted = "session.deleted" // 会话删除
	TopicForcedLogout   = "session.logout"  // 强制登出（会话过期回收）
)
