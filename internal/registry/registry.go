package registry

import (
	"context"
	"sync"

	"sessionhub-core/internal/core/dispose"
	coreerrors "sessionhub-core/internal/core/errors"
	corelog "sessionhub-core/internal/core/log"
)

// Registry 进程内连接注册表
//
// 所有变更串行通过同一把互斥锁，保证单连接状态转移全序；
// 锁内只做 O(1) 字段更新，存储 I/O 必须在锁外完成。
// 对外只返回副本，调用方拿不到内部指针。
type Registry struct {
	*dispose.ManagerBase

	mu          sync.Mutex
	connections map[string]*ConnectionInfo // connection_id -> info
	bySession   map[string]map[string]bool // session_id -> set of connection_id
}

// NewRegistry 创建连接注册表
func NewRegistry(parentCtx context.Context) *Registry {
	r := &Registry{
		ManagerBase: dispose.NewManager("ConnectionRegistry", parentCtx),
		connections: make(map[string]*ConnectionInfo),
		bySession:   make(map[string]map[string]bool),
	}
	r.AddCleanHandler(func() error {
		r.mu.Lock()
		defer r.mu.Unlock()
		count := len(r.connections)
		r.connections = make(map[string]*ConnectionInfo)
		r.bySession = make(map[string]map[string]bool)
		corelog.Infof("ConnectionRegistry: cleared %d connections on close", count)
		return nil
	})
	return r
}

// Register 注册新连接（同 ID 重复注册会覆盖旧记录）
func (r *Registry) Register(info *ConnectionInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, exists := r.connections[info.ConnectionID]; exists {
		r.removeSessionIndex(old)
		corelog.Warnf("ConnectionRegistry: connection %s re-registered, old record replaced", info.ConnectionID)
	}

	r.connections[info.ConnectionID] = info
	if info.SessionID != "" {
		set, ok := r.bySession[info.SessionID]
		if !ok {
			set = make(map[string]bool)
			r.bySession[info.SessionID] = set
		}
		set[info.ConnectionID] = true
	}

	corelog.Debugf("ConnectionRegistry: registered %s (session: %s, transport: %s)",
		info.ConnectionID, info.SessionID, info.Transport)
}

// Lookup 查找连接，返回副本；不存在返回 ErrConnectionNotFound
func (r *Registry) Lookup(connectionID string) (*ConnectionInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, exists := r.connections[connectionID]
	if !exists {
		return nil, coreerrors.ErrConnectionNotFound
	}
	return info.Clone(), nil
}

// Update 在锁内对连接记录应用变更函数
// mutator 只允许做字段更新，禁止任何 I/O 或再次进入注册表
func (r *Registry) Update(connectionID string, mutator func(*ConnectionInfo)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, exists := r.connections[connectionID]
	if !exists {
		return coreerrors.ErrConnectionNotFound
	}
	mutator(info)
	return nil
}

// Unregister 注销连接
func (r *Registry) Unregister(connectionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, exists := r.connections[connectionID]
	if !exists {
		return coreerrors.ErrConnectionNotFound
	}

	r.removeSessionIndex(info)
	delete(r.connections, connectionID)

	corelog.Debugf("ConnectionRegistry: unregistered %s (session: %s)", connectionID, info.SessionID)
	return nil
}

// AllForSession 返回同一会话的所有连接副本（跨标签页广播用）
func (r *Registry) AllForSession(sessionID string) []*ConnectionInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, exists := r.bySession[sessionID]
	if !exists {
		return nil
	}

	result := make([]*ConnectionInfo, 0, len(set))
	for connectionID := range set {
		if info, ok := r.connections[connectionID]; ok {
			result = append(result, info.Clone())
		}
	}
	return result
}

// Snapshot 返回全部连接的副本（监控循环扫描用，迭代不持注册表锁）
func (r *Registry) Snapshot() []*ConnectionInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := make([]*ConnectionInfo, 0, len(r.connections))
	for _, info := range r.connections {
		result = append(result, info.Clone())
	}
	return result
}

// Count 返回当前连接总数
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.connections)
}

// CountActive 返回仍可收到推送的连接数
func (r *Registry) CountActive() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for _, info := range r.connections {
		if info.State.Active() {
			count++
		}
	}
	return count
}

// removeSessionIndex 从会话索引中移除连接（调用方必须持锁）
func (r *Registry) removeSessionIndex(info *ConnectionInfo) {
	if info.SessionID == "" {
		return
	}
	if set, ok := r.bySession[info.SessionID]; ok {
		delete(set, info.ConnectionID)
		if len(set) == 0 {
			delete(r.bySession, info.SessionID)
		}
	}
}
