package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	s.statusCache.mu.Lock()
	if now.Before(s.statusCache.expiresAt) && len(s.statusCache.payload) > 0 {
		cached := append([]byte(nil), s.statusCache.payload...)
		s.statusCache.mu.Unlock()
		w.Write(cached)
		return
	}
	s.statusCache.mu.Unlock()

	payload, err := s.buildStatusPayload(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.statusCache.mu.Lock()
	s.statusCache.payload = payload
	s.statusCache.expiresAt = time.Now().Add(10 * time.Second)
	s.statusCache.mu.Unlock()

	w.Write(payload)
}

func (s *Server) handleListFeeds(w http.ResponseWriter, r *http.Request) {
	feeds, err := s.store.ListFeeds(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"feeds": feeds, "count": len(feeds)})
}

func (s *Server) handleGetFeed(w http.ResponseWriter, r *http.Request) {
	feed, err := s.store.GetFeed(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if feed == nil {
		writeError(w, http.StatusNotFound, "feed not found")
		return
	}
	writeJSON(w, http.StatusOK, feed)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := s.store.ListFeedRuns(r.Context(), mux.Vars(r)["id"], limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"runs": runs, "count": len(runs)})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetFeedRun(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if run == nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleListQuarantine(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	status := r.URL.Query().Get("status")
	recs, err := s.store.ListQuarantined(r.Context(), mux.Vars(r)["id"], status, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"records": recs, "count": len(recs)})
}

func (s *Server) handleResolveQuarantine(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	adminID := AdminIDFromContext(r.Context())

	resolved, err := s.store.ResolveQuarantined(r.Context(), vars["id"], vars["matchKey"], adminID, time.Now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !resolved {
		// Already resolved or never quarantined; either way nothing changed.
		writeError(w, http.StatusConflict, "record is not in QUARANTINED state")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"feed_id":     vars["id"],
		"match_key":   vars["matchKey"],
		"resolved_by": adminID,
	})
}

func (s *Server) handleTriggerIngest(w http.ResponseWriter, r *http.Request) {
	feedID := mux.Vars(r)["id"]
	adminID := AdminIDFromContext(r.Context())

	var body struct {
		AdminOverride bool `json:"admin_override"`
	}
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&body)
	}

	runID, err := s.trigger.TriggerManual(r.Context(), feedID, adminID, body.AdminOverride)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"feed_id": feedID,
		"run_id":  runID,
	})
}

func (s *Server) handleEnableFeed(w http.ResponseWriter, r *http.Request) {
	feedID := mux.Vars(r)["id"]

	var body struct {
		Enabled *bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Enabled == nil {
		writeError(w, http.StatusBadRequest, "body must carry an enabled flag")
		return
	}

	feed, err := s.store.GetFeed(r.Context(), feedID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if feed == nil {
		writeError(w, http.StatusNotFound, "feed not found")
		return
	}

	if *body.Enabled {
		// Re-enabling also clears a FAILED verdict so the schedule resumes.
		if err := s.store.ClearFeedFailure(r.Context(), feedID); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	if err := s.store.SetFeedEnabled(r.Context(), feedID, *body.Enabled); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"feed_id": feedID, "enabled": *body.Enabled})
}

func (s *Server) handleGetBenchmark(w http.ResponseWriter, r *http.Request) {
	b, err := s.store.GetBenchmark(r.Context(), mux.Vars(r)["canonicalId"])
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if b == nil {
		writeError(w, http.StatusNotFound, "no benchmark for this product")
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleListInsights(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	insights, err := s.store.ListInsights(r.Context(), mux.Vars(r)["id"], limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"insights": insights, "count": len(insights)})
}
