package broker

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestMemoryBroker_PublishSubscribe(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBroker(ctx, "test-node")
	defer b.Close()

	msgChan, err := b.Subscribe(ctx, TopicSessionUpdated)
	if err != nil {
		t.Fatalf("failed to subscribe: %v", err)
	}

	event := SessionEventMessage{
		SessionID: "sess-1",
		UserID:    "user-1",
		Version:   3,
		Timestamp: time.Now().Unix(),
	}
	payload, _ := json.Marshal(event)
	if err := b.Publish(ctx, TopicSessionUpdated, payload); err != nil {
		t.Fatalf("failed to publish: %v", err)
	}

	select {
	case msg := <-msgChan:
		if msg.Topic != TopicSessionUpdated {
			t.Errorf("expected topic %s, got %s", TopicSessionUpdated, msg.Topic)
		}
		if msg.NodeID != "test-node" {
			t.Errorf("expected nodeID test-node, got %s", msg.NodeID)
		}

		var received SessionEventMessage
		if err := json.Unmarshal(msg.Payload, &received); err != nil {
			t.Fatalf("failed to unmarshal event: %v", err)
		}
		if received.SessionID != event.SessionID || received.Version != event.Version {
			t.Errorf("event mismatch: %+v", received)
		}

	case <-time.After(1 * time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestMemoryBroker_MultipleSubscribers(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBroker(ctx, "test-node")
	defer b.Close()

	sub1, _ := b.Subscribe(ctx, TopicForcedLogout)
	sub2, _ := b.Subscribe(ctx, TopicForcedLogout)
	sub3, _ := b.Subscribe(ctx, TopicForcedLogout)

	if err := b.Publish(ctx, TopicForcedLogout, []byte("logout")); err != nil {
		t.Fatalf("failed to publish: %v", err)
	}

	for i, ch := range []<-chan *Message{sub1, sub2, sub3} {
		select {
		case msg := <-ch:
			if string(msg.Payload) != "logout" {
				t.Errorf("subscriber %d got unexpected payload %s", i, msg.Payload)
			}
		case <-time.After(1 * time.Second):
			t.Fatalf("subscriber %d did not receive message", i)
		}
	}
}

func TestMemoryBroker_NoSubscribersDropsMessage(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBroker(ctx, "test-node")
	defer b.Close()

	// 无订阅者时发布不报错（Pub/Sub 语义）
	if err := b.Publish(ctx, TopicSessionDeleted, []byte("dropped")); err != nil {
		t.Errorf("publish without subscribers should not fail: %v", err)
	}
}

func TestMemoryBroker_Unsubscribe(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBroker(ctx, "test-node")
	defer b.Close()

	ch, err := b.Subscribe(ctx, TopicSessionUpdated)
	if err != nil {
		t.Fatalf("failed to subscribe: %v", err)
	}
	if got := b.GetSubscriberCount(TopicSessionUpdated); got != 1 {
		t.Errorf("expected 1 subscriber, got %d", got)
	}

	if err := b.Unsubscribe(ctx, TopicSessionUpdated); err != nil {
		t.Fatalf("failed to unsubscribe: %v", err)
	}
	if got := b.GetSubscriberCount(TopicSessionUpdated); got != 0 {
		t.Errorf("expected 0 subscribers, got %d", got)
	}

	// 通道应已关闭
	if _, ok := <-ch; ok {
		t.Error("channel still open after unsubscribe")
	}
}

func TestMemoryBroker_ClosedBrokerRejectsOps(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBroker(ctx, "test-node")
	b.Close()

	if err := b.Publish(ctx, TopicSessionUpdated, []byte("x")); err == nil {
		t.Error("publish on closed broker should fail")
	}
	if _, err := b.Subscribe(ctx, TopicSessionUpdated); err == nil {
		t.Error("subscribe on closed broker should fail")
	}
	if err := b.Ping(ctx); err == nil {
		t.Error("ping on closed broker should fail")
	}
}
