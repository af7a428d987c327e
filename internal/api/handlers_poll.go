package api

import (
	"net/http"
	"sync"

	"sessionhub-core/internal/broadcast"
	"sessionhub-core/internal/registry"

	"github.com/gorilla/mux"
)

// pollQueueSize 轮询队列容量，超出后最旧的更新被丢弃（客户端回源读取）
const pollQueueSize = 64

// PollResponse 轮询响应
type PollResponse struct {
	ConnectionID string              `json:"connection_id"`
	State        string              `json:"state"`
	Updates      []*broadcast.Update `json:"updates"`
}

// handlePoll 轮询降级通道
//
// 每次轮询等价于一次心跳：挂起中的连接会因此回到 Connected。
// 排队中的会话更新随响应一次性带回，投递至少一次，客户端按版本去重。
func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	connectionID := mux.Vars(r)["connection_id"]

	info, err := s.manager.Registry().Lookup(connectionID)
	if err != nil {
		s.helper.Error(w, http.StatusNotFound, "connection not found, start a fresh handshake")
		return
	}
	if info.State == registry.RecoveryFailed {
		s.dropPollSink(connectionID)
		s.helper.Error(w, http.StatusGone, "recovery failed, start a fresh handshake")
		return
	}

	sink := s.ensurePollSink(connectionID)
	s.manager.HandleHeartbeat(r.Context(), connectionID)

	info, err = s.manager.Registry().Lookup(connectionID)
	if err != nil {
		s.helper.Error(w, http.StatusNotFound, "connection not found")
		return
	}

	s.helper.Success(w, http.StatusOK, &PollResponse{
		ConnectionID: connectionID,
		State:        info.State.String(),
		Updates:      sink.drain(),
	})
}

// ensurePollSink 确保连接有轮询出口（首次轮询时惰性创建）
func (s *Server) ensurePollSink(connectionID string) *pollSink {
	s.pollMu.Lock()
	defer s.pollMu.Unlock()

	if sink, ok := s.pollSinks[connectionID]; ok {
		return sink
	}
	sink := newPollSink(connectionID)
	s.pollSinks[connectionID] = sink
	s.broadcaster.RegisterSink(connectionID, sink)
	return sink
}

// dropPollSink 注销连接的轮询出口
func (s *Server) dropPollSink(connectionID string) {
	s.pollMu.Lock()
	defer s.pollMu.Unlock()

	if _, ok := s.pollSinks[connectionID]; ok {
		delete(s.pollSinks, connectionID)
		s.broadcaster.UnregisterSink(connectionID)
	}
}

// pollSink 轮询连接的推送出口：更新排队，下次轮询时带回
type pollSink struct {
	connectionID string

	mu          sync.Mutex
	queue       []*broadcast.Update
	lastVersion int64
}

func newPollSink(connectionID string) *pollSink {
	return &pollSink{connectionID: connectionID}
}

// Push 入队一条更新；队列满丢弃最旧条目
func (p *pollSink) Push(update *broadcast.Update) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if update.Context != nil {
		if update.Context.Version <= p.lastVersion {
			return nil
		}
		p.lastVersion = update.Context.Version
	}

	p.queue = append(p.queue, update)
	if len(p.queue) > pollQueueSize {
		p.queue = p.queue[len(p.queue)-pollQueueSize:]
	}
	return nil
}

// drain 取走全部排队更新
func (p *pollSink) drain() []*broadcast.Update {
	p.mu.Lock()
	defer p.mu.Unlock()

	updates := p.queue
	p.queue = nil
	if updates == nil {
		updates = []*broadcast.Update{}
	}
	return updates
}
