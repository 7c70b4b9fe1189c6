package api

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/mcdev12/rubata/go/internal/models"
)

type preferenceRequest struct {
	IsWatchlist bool   `json:"is_watchlist"`
	IsAutoPass  bool   `json:"is_auto_pass"`
	MaxBid      *int64 `json:"max_bid,omitempty"`
	Priority    *int   `json:"priority,omitempty"`
	Notes       string `json:"notes,omitempty"`
}

// preferenceKey parses the league and member path segments, plus the player
// when withPlayer is set.
func preferenceKey(w http.ResponseWriter, r *http.Request, withPlayer bool) (leagueID, memberID, playerID uuid.UUID, ok bool) {
	var err error
	if leagueID, err = pathUUID(r, "leagueID"); err != nil {
		writeError(w, http.StatusBadRequest, "invalid league id")
		return
	}
	if memberID, err = pathUUID(r, "memberID"); err != nil {
		writeError(w, http.StatusBadRequest, "invalid member id")
		return
	}
	if withPlayer {
		if playerID, err = pathUUID(r, "playerID"); err != nil {
			writeError(w, http.StatusBadRequest, "invalid player id")
			return
		}
	}
	ok = true
	return
}

func (s *Server) listPreferences(w http.ResponseWriter, r *http.Request) {
	leagueID, memberID, _, ok := preferenceKey(w, r, false)
	if !ok {
		return
	}
	prefs, err := s.deps.Preferences.List(r.Context(), leagueID, memberID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if prefs == nil {
		prefs = []models.Preference{}
	}
	writeJSON(w, http.StatusOK, prefs)
}

func (s *Server) getPreference(w http.ResponseWriter, r *http.Request) {
	leagueID, memberID, playerID, ok := preferenceKey(w, r, true)
	if !ok {
		return
	}
	p, err := s.deps.Preferences.Get(r.Context(), leagueID, memberID, playerID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) putPreference(w http.ResponseWriter, r *http.Request) {
	leagueID, memberID, playerID, ok := preferenceKey(w, r, true)
	if !ok {
		return
	}
	var req preferenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	p, err := s.deps.Preferences.Save(r.Context(), models.Preference{
		LeagueID:    leagueID,
		MemberID:    memberID,
		PlayerID:    playerID,
		IsWatchlist: req.IsWatchlist,
		IsAutoPass:  req.IsAutoPass,
		MaxBid:      req.MaxBid,
		Priority:    req.Priority,
		Notes:       req.Notes,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) deletePreference(w http.ResponseWriter, r *http.Request) {
	leagueID, memberID, playerID, ok := preferenceKey(w, r, true)
	if !ok {
		return
	}
	if err := s.deps.Preferences.Delete(r.Context(), leagueID, memberID, playerID); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
