package api

import (
	"net/http"

	"sessionhub-core/internal/core/metrics"
)

// handleMetricsSnapshot 读取恢复指标快照
func (s *Server) handleMetricsSnapshot(w http.ResponseWriter, r *http.Request) {
	s.helper.Success(w, http.StatusOK, metrics.GetSnapshot())
}

// handleMetricsReset 清零恢复指标（运维显式操作）
func (s *Server) handleMetricsReset(w http.ResponseWriter, r *http.Request) {
	if err := metrics.ResetSnapshot(); err != nil {
		s.helper.Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.helper.Success(w, http.StatusOK, map[string]string{"status": "reset"})
}
