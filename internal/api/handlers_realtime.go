package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"sessionhub-core/internal/broadcast"
	coreerrors "sessionhub-core/internal/core/errors"
	corelog "sessionhub-core/internal/core/log"
	"sessionhub-core/internal/core/safe"
	"sessionhub-core/internal/registry"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// 会话归属由 session_id 校验，不做 Origin 限制
	CheckOrigin: func(r *http.Request) bool { return true },
}

// realtimeTransports 新连接的完整传输能力集合
var realtimeTransports = []string{"websocket", "polling"}

// clientMessage 客户端上行消息
type clientMessage struct {
	Type string `json:"type"` // heartbeat / close
}

// handleRealtime WebSocket 握手入口
//
// 无 connection_id 参数为全新握手；携带 connection_id 为断线恢复，
// 先投递 reconnect_attempt，被拒（重试耗尽/恢复失败）时返回 410，
// 客户端必须丢弃旧连接 ID 重新握手。
func (s *Server) handleRealtime(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	connectionID := r.URL.Query().Get("connection_id")
	namespace := r.URL.Query().Get("namespace")

	resuming := false
	if connectionID != "" {
		if _, err := s.manager.Registry().Lookup(connectionID); err == nil {
			if err := s.manager.HandleReconnectAttempt(connectionID); err != nil {
				s.helper.Error(w, http.StatusGone, err.Error()+", start a fresh handshake")
				return
			}
			resuming = true
		} else {
			// 旧连接已被清理，按全新握手处理
			connectionID = ""
		}
	}

	// 解析会话；存储完全不可用时降级为匿名连接而非拒绝
	userID := ""
	if sessionID != "" {
		sc, err := s.store.Get(r.Context(), sessionID)
		switch {
		case err == nil:
			userID = sc.UserID
		case coreerrors.IsType(err, coreerrors.ErrorTypeStoreUnavailable):
			corelog.Warnf("APIServer: session store unavailable, accepting %s as anonymous", sessionID)
			sessionID = ""
		default:
			s.helper.Error(w, http.StatusUnauthorized, "session not found or expired")
			return
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// 升级失败说明客户端环境不支持 WebSocket，计入传输降级信号
		if connectionID != "" {
			s.manager.HandleTransportDenied(connectionID, fmt.Sprintf("websocket upgrade failed: %v", err))
		}
		return
	}

	if resuming {
		s.manager.HandleReconnectSuccess(connectionID, "websocket")
	} else {
		connectionID = uuid.NewString()
		info := registry.NewConnectionInfo(connectionID, sessionID, userID, namespace, "websocket", realtimeTransports)
		s.manager.HandleConnect(info)
	}

	sink := newWSSink(conn, connectionID)
	s.broadcaster.RegisterSink(connectionID, sink)

	safe.GoWithContext(s.Ctx(), "ws-write-"+connectionID, func(ctx context.Context) {
		sink.writePump(ctx)
	})

	// 握手确认，客户端持久化 connection_id 用于断线恢复
	sink.Push(&broadcast.Update{Type: "connected", SessionID: sessionID})

	s.readLoop(conn, connectionID, sink)
}

// readLoop 消费上行消息；任何成功读取都视为心跳
func (s *Server) readLoop(conn *websocket.Conn, connectionID string, sink *wsSink) {
	defer func() {
		s.broadcaster.UnregisterSink(connectionID)
		sink.close()
		conn.Close()
	}()

	for {
		var msg clientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.manager.Unregister(connectionID)
				corelog.Debugf("APIServer: connection %s closed by client", connectionID)
			} else {
				s.manager.HandleDisconnect(connectionID, err.Error())
			}
			return
		}

		switch msg.Type {
		case "close":
			s.manager.Unregister(connectionID)
			return
		default:
			s.manager.HandleHeartbeat(s.Ctx(), connectionID)
		}
	}
}

// wsSink WebSocket 连接的推送出口
// 经缓冲队列解耦广播循环与网络写入；按版本号幂等去重
type wsSink struct {
	conn         *websocket.Conn
	connectionID string
	out          chan *broadcast.Update

	mu          sync.Mutex
	lastVersion int64
	closed      bool
}

func newWSSink(conn *websocket.Conn, connectionID string) *wsSink {
	return &wsSink{
		conn:         conn,
		connectionID: connectionID,
		out:          make(chan *broadcast.Update, 32),
	}
}

// Push 入队一条更新；队列满立即失败，不阻塞广播循环
func (w *wsSink) Push(update *broadcast.Update) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return coreerrors.Wrapf(coreerrors.ErrTransportUnavailable,
			coreerrors.ErrorTypeTransportUnavailable, "connection %s sink closed", w.connectionID)
	}
	if update.Context != nil {
		if update.Context.Version <= w.lastVersion {
			// 重复投递，last value wins，丢弃旧版本
			w.mu.Unlock()
			return nil
		}
		w.lastVersion = update.Context.Version
	}
	w.mu.Unlock()

	select {
	case w.out <- update:
		return nil
	default:
		return coreerrors.Wrapf(coreerrors.ErrTransportUnavailable,
			coreerrors.ErrorTypeTransportUnavailable, "outbound queue full for connection %s", w.connectionID)
	}
}

// writePump 串行写出队列中的更新
func (w *wsSink) writePump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-w.out:
			if !ok {
				return
			}
			if err := w.conn.WriteJSON(update); err != nil {
				corelog.Debugf("APIServer: write to connection %s failed: %v", w.connectionID, err)
				return
			}
		}
	}
}

func (w *wsSink) close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.closed {
		w.closed = true
		close(w.out)
	}
}
