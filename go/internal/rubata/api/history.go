package api

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// requireHistory answers 501 when the server runs without a history reader.
func (s *Server) requireHistory(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.deps.History == nil {
			writeError(w, http.StatusNotImplemented, "history is not available")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// listHistory serves one of the append-only history tables of a session.
func listHistory[T any](w http.ResponseWriter, r *http.Request, list func(ctx context.Context, id uuid.UUID) ([]T, error)) {
	id, err := pathUUID(r, "sessionID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}
	rows, err := list(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if rows == nil {
		rows = []T{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) listAudit(w http.ResponseWriter, r *http.Request) {
	listHistory(w, r, s.deps.History.ListAudit)
}

func (s *Server) listBids(w http.ResponseWriter, r *http.Request) {
	listHistory(w, r, s.deps.History.ListBids)
}

func (s *Server) listTransfers(w http.ResponseWriter, r *http.Request) {
	listHistory(w, r, s.deps.History.ListTransfers)
}

func (s *Server) listProphecies(w http.ResponseWriter, r *http.Request) {
	listHistory(w, r, s.deps.History.ListProphecies)
}

func (s *Server) getAppeal(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "appealID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid appeal id")
		return
	}
	a, err := s.deps.History.GetAppeal(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}
