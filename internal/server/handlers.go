package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":          "healthy",
		"timestamp":       time.Now().Format(time.RFC3339),
		"active_sessions": s.state.Len(),
	})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Username  string `json:"username"`
		Message   string `json:"message"`
		SessionID string `json:"session_id,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	in.Username = strings.TrimSpace(in.Username)
	in.Message = strings.TrimSpace(in.Message)
	if in.Username == "" {
		writeError(w, http.StatusBadRequest, "username is required")
		return
	}
	if in.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	// An unknown or absent session id starts a fresh session.
	a, ok := s.state.Get(in.SessionID)
	if !ok {
		var err error
		a, err = s.factory(r.Context(), in.Username)
		if err != nil {
			s.obs.Log().Error().Err(err).Msg("failed to create session")
			writeError(w, http.StatusInternalServerError, "failed to create session")
			return
		}
		s.state.Put(a, in.Username)
		s.obs.Log().Info().
			Str("session_id", a.SessionID()).
			Str("username", in.Username).
			Msg("chat session created")
	}

	reply, err := a.Respond(r.Context(), in.Message)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.state.Touch(a.SessionID())

	writeJSON(w, http.StatusOK, map[string]string{
		"response":   reply,
		"session_id": a.SessionID(),
		"timestamp":  time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	infos := s.state.Sessions()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total_sessions":  len(infos),
		"active_sessions": infos,
	})
}

type messageView struct {
	Seq       int       `json:"seq"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

type sessionDetail struct {
	SessionID    string        `json:"session_id"`
	Username     string        `json:"username"`
	CreatedAt    time.Time     `json:"created_at"`
	LastActive   time.Time     `json:"last_active"`
	Status       string        `json:"status"`
	Live         bool          `json:"live"`
	MessageCount int           `json:"message_count"`
	Messages     []messageView `json:"messages"`
}

// handleSessionDetail serves any session the relational store knows,
// live or not.
func (s *Server) handleSessionDetail(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	sess, err := s.store.GetSession(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	msgs, err := s.store.GetMessages(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load messages")
		return
	}
	views := make([]messageView, 0, len(msgs))
	for _, m := range msgs {
		views = append(views, messageView{Seq: m.Seq, Role: m.Role, Content: m.Content, CreatedAt: m.CreatedAt})
	}

	_, live := s.state.Get(id)
	writeJSON(w, http.StatusOK, sessionDetail{
		SessionID:    sess.ID,
		Username:     sess.Username,
		CreatedAt:    sess.CreatedAt,
		LastActive:   sess.LastActive,
		Status:       sess.Status,
		Live:         live,
		MessageCount: len(views),
		Messages:     views,
	})
}

func (s *Server) handleClearSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	a, ok := s.state.Remove(id)
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	a.Close()

	if sess, err := s.store.GetSession(id); err == nil {
		sess.Status = "cleared"
		if err := s.store.UpdateSession(sess); err != nil {
			s.obs.Log().Warn().Err(err).Str("session_id", id).Msg("failed to mark session cleared")
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": "Session " + id + " cleared",
	})
}
