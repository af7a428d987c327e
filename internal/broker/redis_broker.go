package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"sessionhub-core/internal/core/dispose"
	corelog "sessionhub-core/internal/core/log"

	"github.com/redis/go-redis/v9"
)

// channelPrefix Redis 频道前缀，避免与其它业务冲突
const channelPrefix = "sessionhub:"

// RedisBrokerConfig Redis Broker 配置
type RedisBrokerConfig struct {
	Addr     string // Redis 地址
	Password string // 密码
	DB       int    // 数据库编号
	PoolSize int    // 连接池大小
}

// RedisBroker Redis 消息代理（基于 Pub/Sub）
// 多节点部署时跨节点广播会话事件
type RedisBroker struct {
	*dispose.ServiceBase
	client      *redis.Client
	pubsub      *redis.PubSub
	subscribers map[string]chan *Message // topic -> channel
	mu          sync.RWMutex
	nodeID      string
	closed      bool
	ownsClient  bool
}

// NewRedisBroker 创建 Redis 消息代理
func NewRedisBroker(parentCtx context.Context, config *RedisBrokerConfig, nodeID string) (*RedisBroker, error) {
	if config == nil {
		return nil, fmt.Errorf("redis broker config is required")
	}
	if config.PoolSize <= 0 {
		config.PoolSize = 10
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
		PoolSize: config.PoolSize,
	})

	// 测试连接
	pingCtx, cancel := context.WithTimeout(parentCtx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	b := newRedisBroker(parentCtx, client, nodeID)
	b.ownsClient = true

	corelog.Infof("RedisBroker initialized for node: %s (addr: %s)", nodeID, config.Addr)
	return b, nil
}

// NewRedisBrokerFromClient 复用已有客户端创建（与会话主存储共享连接池）
func NewRedisBrokerFromClient(parentCtx context.Context, client *redis.Client, nodeID string) *RedisBroker {
	b := newRedisBroker(parentCtx, client, nodeID)
	corelog.Infof("RedisBroker initialized for node: %s (shared client)", nodeID)
	return b
}

func newRedisBroker(parentCtx context.Context, client *redis.Client, nodeID string) *RedisBroker {
	return &RedisBroker{
		ServiceBase: dispose.NewService("RedisBroker", parentCtx),
		client:      client,
		subscribers: make(map[string]chan *Message),
		nodeID:      nodeID,
	}
}

// Publish 发布消息到指定主题
func (r *RedisBroker) Publish(ctx context.Context, topic string, message []byte) error {
	if r.IsClosed() {
		return fmt.Errorf("broker is closed")
	}

	msg := &Message{
		Topic:     topic,
		Payload:   message,
		Timestamp: time.Now(),
		NodeID:    r.nodeID,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if err := r.client.Publish(ctx, channelPrefix+topic, data).Err(); err != nil {
		corelog.Errorf("RedisBroker: failed to publish to %s: %v", topic, err)
		return fmt.Errorf("failed to publish to Redis: %w", err)
	}

	corelog.Debugf("RedisBroker: published message to topic %s", topic)
	return nil
}

// Subscribe 订阅主题，返回消息通道
// 每个主题只允许一个本地订阅者，跨组件扇出由上层广播器完成
func (r *RedisBroker) Subscribe(ctx context.Context, topic string) (<-chan *Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, fmt.Errorf("broker is closed")
	}
	if _, exists := r.subscribers[topic]; exists {
		return nil, fmt.Errorf("already subscribed to topic: %s", topic)
	}

	msgChan := make(chan *Message, 100)
	r.subscribers[topic] = msgChan

	// 首次订阅时创建 PubSub 并启动接收循环
	if r.pubsub == nil {
		r.pubsub = r.client.Subscribe(r.Ctx())
	}

	if err := r.pubsub.Subscribe(r.Ctx(), channelPrefix+topic); err != nil {
		delete(r.subscribers, topic)
		close(msgChan)
		return nil, fmt.Errorf("failed to subscribe to Redis: %w", err)
	}

	if len(r.subscribers) == 1 {
		go r.receiveLoop()
	}

	corelog.Infof("RedisBroker: subscribed to topic %s (total topics: %d)", topic, len(r.subscribers))
	return msgChan, nil
}

// receiveLoop 接收 Redis 消息并分发到本地订阅者
func (r *RedisBroker) receiveLoop() {
	corelog.Infof("RedisBroker: receive loop started")

	for {
		select {
		case <-r.Ctx().Done():
			corelog.Infof("RedisBroker: receive loop stopped")
			return
		default:
			msg, err := r.pubsub.ReceiveMessage(r.Ctx())
			if err != nil {
				if r.IsClosed() {
					return
				}
				corelog.Errorf("RedisBroker: failed to receive message: %v", err)
				time.Sleep(100 * time.Millisecond)
				continue
			}

			var message Message
			if err := json.Unmarshal([]byte(msg.Payload), &message); err != nil {
				corelog.Errorf("RedisBroker: failed to unmarshal message: %v", err)
				continue
			}

			r.mu.RLock()
			ch, exists := r.subscribers[message.Topic]
			r.mu.RUnlock()

			if exists {
				select {
				case ch <- &message:
					corelog.Debugf("RedisBroker: delivered message to topic %s", message.Topic)
				case <-r.Ctx().Done():
					return
				default:
					corelog.Warnf("RedisBroker: subscriber channel full for topic %s, dropping message", message.Topic)
				}
			}
		}
	}
}

// Unsubscribe 取消订阅
func (r *RedisBroker) Unsubscribe(ctx context.Context, topic string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return fmt.Errorf("broker is closed")
	}

	ch, exists := r.subscribers[topic]
	if !exists {
		return fmt.Errorf("not subscribed to topic: %s", topic)
	}

	if r.pubsub != nil {
		if err := r.pubsub.Unsubscribe(ctx, channelPrefix+topic); err != nil {
			corelog.Warnf("RedisBroker: failed to unsubscribe from Redis: %v", err)
		}
	}

	close(ch)
	delete(r.subscribers, topic)

	corelog.Infof("RedisBroker: unsubscribed from topic %s", topic)
	return nil
}

// Ping 检查 Redis 连接
func (r *RedisBroker) Ping(ctx context.Context) error {
	if r.IsClosed() {
		return fmt.Errorf("broker is closed")
	}
	return r.client.Ping(ctx).Err()
}

// Close 关闭消息代理
func (r *RedisBroker) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true

	if r.pubsub != nil {
		if err := r.pubsub.Close(); err != nil {
			corelog.Warnf("RedisBroker: failed to close pubsub: %v", err)
		}
	}

	for topic, ch := range r.subscribers {
		close(ch)
		corelog.Debugf("RedisBroker: closed subscriber for topic %s", topic)
	}
	r.subscribers = make(map[string]chan *Message)

	// 共享客户端由拥有方关闭
	if r.ownsClient {
		if err := r.client.Close(); err != nil {
			corelog.Warnf("RedisBroker: failed to close Redis client: %v", err)
		}
	}
	r.mu.Unlock()

	corelog.Infof("RedisBroker closed for node: %s", r.nodeID)
	return r.ServiceBase.Close()
}

// GetSubscriberCount 获取订阅者数量（用于测试）
func (r *RedisBroker) GetSubscriberCount(topic string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, exists := r.subscribers[topic]; !exists {
		return 0
	}
	return 1
}
