package api

import (
	"encoding/json"
	"net/http"

	coreerrors "sessionhub-core/internal/core/errors"
	"sessionhub-core/internal/session"

	"github.com/gorilla/mux"
)

// CreateSessionRequest 创建会话请求（认证成功后由登录流程调用）
type CreateSessionRequest struct {
	UserID string `json:"user_id"`
}

// SwitchPlatformRequest 切换活跃平台请求
type SwitchPlatformRequest struct {
	PlatformConnectionID int64  `json:"platform_connection_id"`
	PlatformName         string `json:"platform_name"`
}

// SessionIntrospection 会话自省响应（调试用）
type SessionIntrospection struct {
	Session          *session.Context `json:"session"`
	ConnectionCount  int              `json:"connection_count"`
	ConnectionStates map[string]int   `json:"connection_states"`
}

// handleCreateSession 创建新会话
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		s.helper.Error(w, http.StatusBadRequest, "user_id is required")
		return
	}

	sc := session.NewContext(req.UserID, s.sessionTTL)
	if err := s.store.Put(r.Context(), sc, session.VersionAny); err != nil {
		s.storeError(w, err)
		return
	}

	s.helper.Success(w, http.StatusCreated, sc)
}

// handleGetSession 会话自省：当前上下文 + 各状态连接数
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["session_id"]

	sc, err := s.store.Get(r.Context(), sessionID)
	if err != nil {
		s.storeError(w, err)
		return
	}

	connections := s.manager.Registry().AllForSession(sessionID)
	states := make(map[string]int)
	for _, info := range connections {
		states[info.State.String()]++
	}

	s.helper.Success(w, http.StatusOK, &SessionIntrospection{
		Session:          sc,
		ConnectionCount:  len(connections),
		ConnectionStates: states,
	})
}

// handleSwitchPlatform 切换会话的活跃平台连接
// 成功写入会经消息代理扇出到该会话的所有连接（跨标签页广播）
func (s *Server) handleSwitchPlatform(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["session_id"]

	var req SwitchPlatformRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.helper.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sc, err := s.store.Get(r.Context(), sessionID)
	if err != nil {
		s.storeError(w, err)
		return
	}

	sc.SwitchPlatform(req.PlatformConnectionID, req.PlatformName)
	if err := s.store.Put(r.Context(), sc, sc.Version); err != nil {
		// 写冲突按时间戳已裁决，对调用方不可见
		if coreerrors.IsType(err, coreerrors.ErrorTypeConflictingWrite) {
			s.helper.Success(w, http.StatusOK, sc)
			return
		}
		s.storeError(w, err)
		return
	}

	s.helper.Success(w, http.StatusOK, sc)
}

// handleDeleteSession 删除会话（登出）
func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["session_id"]

	if err := s.store.Delete(r.Context(), sessionID); err != nil {
		s.storeError(w, err)
		return
	}
	s.helper.Success(w, http.StatusOK, map[string]string{"session_id": sessionID})
}

// storeError 按错误类型映射 HTTP 状态码
func (s *Server) storeError(w http.ResponseWriter, err error) {
	switch {
	case coreerrors.IsType(err, coreerrors.ErrorTypeSessionNotFound):
		s.helper.Error(w, http.StatusNotFound, "session not found")
	case coreerrors.IsType(err, coreerrors.ErrorTypeSessionExpired):
		s.helper.Error(w, http.StatusUnauthorized, "session expired")
	case coreerrors.IsType(err, coreerrors.ErrorTypeStoreUnavailable):
		s.helper.Error(w, http.StatusServiceUnavailable, "session store unavailable")
	default:
		s.helper.Error(w, http.StatusInternalServerError, err.Error())
	}
}
