package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mcdev12/rubata/go/internal/rubata/engine"
	"github.com/mcdev12/rubata/go/internal/rubata/preference"
	"github.com/mcdev12/rubata/go/internal/rubata/storage"
	"github.com/rs/zerolog/log"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeEngineError maps domain errors onto HTTP statuses. Unknown errors are
// logged and reported as 500 without their text.
func writeEngineError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msg("request failed")
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrSessionNotFound),
		errors.Is(err, storage.ErrAppealNotFound),
		errors.Is(err, preference.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, engine.ErrInvalidSession):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrInvalidTransition),
		errors.Is(err, engine.ErrVersionConflict),
		errors.Is(err, engine.ErrAuctionClosed),
		errors.Is(err, engine.ErrAuctionAlreadyActive),
		errors.Is(err, engine.ErrAppealNotAllowed),
		errors.Is(err, engine.ErrNoPendingAppeal),
		errors.Is(err, storage.ErrSessionExists):
		return http.StatusConflict
	case errors.Is(err, engine.ErrBidTooLow),
		errors.Is(err, engine.ErrSellerCannotBid),
		errors.Is(err, engine.ErrInsufficientBudget),
		errors.Is(err, engine.ErrSlotFull),
		errors.Is(err, engine.ErrUnknownMember),
		errors.Is(err, engine.ErrInvalidDecision),
		errors.Is(err, preference.ErrInvalid):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
