package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

type healthResponse struct {
	Status         string `json:"status"`
	Version        string `json:"version"`
	ActiveSessions int    `json:"active_sessions"`
}

type sessionInfo struct {
	SessionID     string `json:"session_id"`
	DeviceID      string `json:"device_id"`
	ClientID      string `json:"client_id"`
	IsSpeaking    bool   `json:"is_speaking"`
	HistoryLength int    `json:"history_length"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:         "ok",
		Version:        s.version,
		ActiveSessions: s.registry.Len(),
	})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions := s.registry.All()
	out := make([]sessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, sessionInfo{
			SessionID:     sess.ID,
			DeviceID:      sess.DeviceID,
			ClientID:      sess.ClientID,
			IsSpeaking:    sess.IsSpeaking(),
			HistoryLength: sess.HistoryLen(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, ok := s.registry.Get(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "Session not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": id,
		"history":    sess.History(),
	})
}

// handleMCPTools lists the device-side tools. Placeholder until the ESP32
// firmware reports its real tool set.
func (s *Server) handleMCPTools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"tools": []map[string]string{
			{"name": "set_volume", "description": "Điều chỉnh âm lượng"},
			{"name": "set_brightness", "description": "Điều chỉnh độ sáng"},
			{"name": "reboot", "description": "Khởi động lại thiết bị"},
		},
	})
}

func (s *Server) handleMCPCall(w http.ResponseWriter, r *http.Request) {
	tool := r.PathValue("tool")
	slog.Info("rest mcp call", "tool", tool)
	writeJSON(w, http.StatusOK, map[string]any{
		"tool":    tool,
		"status":  "not_implemented",
		"message": "MCP tool calling chưa được implement. Xem docs/mcp-protocol.md",
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("response encode failed", "error", err)
	}
}
