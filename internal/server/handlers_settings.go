package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/thinkscotty/artichat/internal/settings"
)

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.sess.Status()
	resp := map[string]any{
		"trial":        st,
		"trial_active": !st.HasCredential && !st.HasFallback,
		"version":      s.version,
		"build_time":   s.buildTime,
	}
	if sized, ok := s.sess.(interface{ StorageBytes() (int64, bool) }); ok {
		if n, ok := sized.StorageBytes(); ok {
			resp["storage_bytes"] = n
		}
	}
	jsonResponse(w, resp)
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	cur := s.sess.Settings()
	cur.APIKey = settings.MaskKey(cur.APIKey)
	jsonResponse(w, cur)
}

// handlePutSettings replaces the settings. Sending back the masked key keeps
// the stored one.
func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	cur := s.sess.Settings()

	next := cur
	next.APIKey = settings.MaskKey(cur.APIKey)
	if err := json.NewDecoder(r.Body).Decode(&next); err != nil {
		jsonError(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}
	if cur.APIKey != "" && next.APIKey == settings.MaskKey(cur.APIKey) {
		next.APIKey = cur.APIKey
	}

	if err := s.sess.SaveSettings(next); err != nil {
		slog.Warn("API: settings rejected", "error", err)
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	saved := s.sess.Settings()
	saved.APIKey = settings.MaskKey(saved.APIKey)
	jsonResponse(w, saved)
}
