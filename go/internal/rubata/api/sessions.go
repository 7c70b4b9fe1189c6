package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/mcdev12/rubata/go/internal/models"
	"github.com/mcdev12/rubata/go/internal/rubata/engine"
	"github.com/mcdev12/rubata/go/internal/rubata/validator"
	"github.com/rs/zerolog/log"
)

type memberSpec struct {
	ID     uuid.UUID      `json:"id"`
	Budget *int64         `json:"budget,omitempty"`
	Slots  map[string]int `json:"slots,omitempty"`
}

type itemSpec struct {
	OwnerID   uuid.UUID `json:"owner_id"`
	PlayerID  uuid.UUID `json:"player_id"`
	Category  string    `json:"category"`
	BasePrice int64     `json:"base_price"`
}

type createSessionRequest struct {
	LeagueID uuid.UUID    `json:"league_id"`
	Members  []memberSpec `json:"members"`
	Admins   []uuid.UUID  `json:"admins"`
	Items    []itemSpec   `json:"items"`
}

// actionRequest carries the fields of every session action. Each endpoint
// reads only the ones it needs.
type actionRequest struct {
	MemberID uuid.UUID           `json:"member_id"`
	AdminID  uuid.UUID           `json:"admin_id"`
	Amount   int64               `json:"amount"`
	Reason   string              `json:"reason"`
	Outcome  models.AppealStatus `json:"outcome"`
	Notes    string              `json:"notes"`
	Prophecy string              `json:"prophecy"`
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	params := engine.CreateParams{LeagueID: req.LeagueID, Admins: req.Admins}
	for _, m := range req.Members {
		params.Members = append(params.Members, m.ID)
	}
	for _, it := range req.Items {
		params.Items = append(params.Items, models.BoardItem{
			OwnerID:   it.OwnerID,
			PlayerID:  it.PlayerID,
			Category:  it.Category,
			BasePrice: it.BasePrice,
		})
	}

	if err := s.seedRoster(r.Context(), req); err != nil {
		writeEngineError(w, err)
		return
	}
	e, err := s.deps.Sessions.Create(r.Context(), params)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, e.Snapshot())
}

// seedRoster registers the session's members and item owners with the league
// roster. Members the league already holds keep their budget and slots unless
// the request sets them. Owners outside the member set still need a roster to
// be paid into.
func (s *Server) seedRoster(ctx context.Context, req createSessionRequest) error {
	if s.deps.Roster == nil || req.LeagueID == uuid.Nil {
		return nil
	}
	seeds := make([]validator.Seed, 0, len(req.Members)+len(req.Items))
	for _, m := range req.Members {
		seeds = append(seeds, validator.Seed{MemberID: m.ID, Budget: m.Budget, Slots: m.Slots})
	}
	for _, it := range req.Items {
		seeds = append(seeds, validator.Seed{MemberID: it.OwnerID})
	}
	return s.deps.Roster.Seed(ctx, req.LeagueID, s.deps.DefaultBudget, seeds)
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) (*engine.Engine, bool) {
	id, err := pathUUID(r, "sessionID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return nil, false
	}
	e, err := s.deps.Sessions.Get(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return nil, false
	}
	return e, true
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	e, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, e.Snapshot())
}

// action decodes the body, runs fn against the session's engine and answers
// with the resulting snapshot.
func (s *Server) action(fn func(ctx context.Context, e *engine.Engine, req actionRequest) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req actionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		e, ok := s.session(w, r)
		if !ok {
			return
		}
		if err := fn(r.Context(), e, req); err != nil {
			log.Debug().Err(err).Str("session_id", e.ID().String()).Str("path", r.URL.Path).Msg("action rejected")
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, e.Snapshot())
	}
}

func (s *Server) adminAction(op func(*engine.Engine, context.Context, uuid.UUID) error) http.HandlerFunc {
	return s.action(func(ctx context.Context, e *engine.Engine, req actionRequest) error {
		return op(e, ctx, req.AdminID)
	})
}

func (s *Server) memberAction(op func(*engine.Engine, context.Context, uuid.UUID) error) http.HandlerFunc {
	return s.action(func(ctx context.Context, e *engine.Engine, req actionRequest) error {
		return op(e, ctx, req.MemberID)
	})
}

func (s *Server) placeBid(w http.ResponseWriter, r *http.Request) {
	s.action(func(ctx context.Context, e *engine.Engine, req actionRequest) error {
		return e.PlaceBid(ctx, req.MemberID, req.Amount)
	})(w, r)
}

func (s *Server) submitAppeal(w http.ResponseWriter, r *http.Request) {
	s.action(func(ctx context.Context, e *engine.Engine, req actionRequest) error {
		return e.SubmitAppeal(ctx, req.MemberID, req.Reason)
	})(w, r)
}

func (s *Server) decideAppeal(w http.ResponseWriter, r *http.Request) {
	s.action(func(ctx context.Context, e *engine.Engine, req actionRequest) error {
		return e.DecideAppeal(ctx, req.AdminID, req.Outcome, req.Notes)
	})(w, r)
}

func (s *Server) acknowledge(w http.ResponseWriter, r *http.Request) {
	s.action(func(ctx context.Context, e *engine.Engine, req actionRequest) error {
		return e.AcknowledgeTransaction(ctx, req.MemberID, req.Prophecy)
	})(w, r)
}

// subscribe upgrades a member of the session to a websocket that receives
// its phase and bid events.
func (s *Server) subscribe(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sockets == nil {
		writeError(w, http.StatusServiceUnavailable, "websocket delivery is disabled")
		return
	}
	memberID, err := uuid.Parse(r.URL.Query().Get("member_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "member_id is required")
		return
	}
	e, ok := s.session(w, r)
	if !ok {
		return
	}
	snap := e.Snapshot()
	if !snap.Session.IsMember(memberID) && !snap.Session.IsAdmin(memberID) {
		writeError(w, http.StatusForbidden, "not a member of this session")
		return
	}
	if err := s.deps.Sockets.UpgradeConnection(w, r, memberID, e.ID()); err != nil {
		// The upgrader has already answered the request.
		log.Error().
			Err(err).
			Str("session_id", e.ID().String()).
			Str("member_id", memberID.String()).
			Msg("failed to upgrade websocket connection")
	}
}
