package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/thinkscotty/artichat/internal/session"
)

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	entries := s.sess.Entries()
	if entries == nil {
		entries = []session.Entry{}
	}
	jsonResponse(w, map[string]any{"messages": entries})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}

	id, ok := s.sess.Submit(body.Text)
	if !ok {
		jsonError(w, "text is required", http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]int{"id": id})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if !s.sess.Delete(id) {
		jsonError(w, "Message not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTogglePin(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if !s.sess.TogglePin(id) {
		jsonError(w, "Message not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRegenerate accepts "last" as the id.
func (s *Server) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	id := -1
	if r.PathValue("id") != "last" {
		var ok bool
		if id, ok = pathID(w, r); !ok {
			return
		}
	}

	got, err := s.sess.Regenerate(id)
	if err != nil {
		actionError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]int{"id": got})
}

func (s *Server) handleRejectImage(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.sess.RejectImage(id); err != nil {
		actionError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	s.sess.Clear()
	w.WriteHeader(http.StatusNoContent)
}

func pathID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil || id < 0 {
		jsonError(w, "Invalid message id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func actionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		jsonError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, session.ErrNotAiResponse), errors.Is(err, session.ErrNotImage):
		jsonError(w, err.Error(), http.StatusBadRequest)
	default:
		slog.Error("API: action failed", "error", err)
		jsonError(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

func jsonResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
