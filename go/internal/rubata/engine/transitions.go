package engine

import (
	"fmt"

	"github.com/mcdev12/rubata/go/internal/models"
)

// transitions is the complete phase graph. Mutations that stay in the same
// phase (bids, partial acks) are not phase changes and are not listed, except
// the OFFERING self-loop taken when an item is kept and the next one opens.
var transitions = map[models.RubataPhase][]models.RubataPhase{
	models.RubataPhaseWaiting:           {models.RubataPhasePreview, models.RubataPhaseReadyCheck},
	models.RubataPhasePreview:           {models.RubataPhaseReadyCheck},
	models.RubataPhaseReadyCheck:        {models.RubataPhaseOffering, models.RubataPhaseCompleted},
	models.RubataPhaseOffering:          {models.RubataPhaseOffering, models.RubataPhaseAuctionReadyCheck, models.RubataPhasePaused, models.RubataPhaseCompleted},
	models.RubataPhaseAuctionReadyCheck: {models.RubataPhaseAuction},
	models.RubataPhaseAuction:           {models.RubataPhasePendingAck, models.RubataPhasePaused},
	models.RubataPhasePendingAck:        {models.RubataPhaseOffering, models.RubataPhaseCompleted, models.RubataPhaseAppealReview},
	models.RubataPhaseAppealReview:      {models.RubataPhaseAwaitingAppealAck},
	models.RubataPhaseAwaitingAppealAck: {models.RubataPhasePendingAck, models.RubataPhaseAwaitingResume},
	models.RubataPhaseAwaitingResume:    {models.RubataPhaseAuction, models.RubataPhaseOffering},
	models.RubataPhasePaused:            {models.RubataPhaseOffering, models.RubataPhaseAuction},
	models.RubataPhaseCompleted:         nil,
}

// CanTransition reports whether from -> to is an edge of the phase graph.
func CanTransition(from, to models.RubataPhase) bool {
	for _, p := range transitions[from] {
		if p == to {
			return true
		}
	}
	return false
}

// Phases returns every phase of the graph.
func Phases() []models.RubataPhase {
	return []models.RubataPhase{
		models.RubataPhaseWaiting,
		models.RubataPhasePreview,
		models.RubataPhaseReadyCheck,
		models.RubataPhaseOffering,
		models.RubataPhaseAuctionReadyCheck,
		models.RubataPhaseAuction,
		models.RubataPhasePendingAck,
		models.RubataPhaseAppealReview,
		models.RubataPhaseAwaitingAppealAck,
		models.RubataPhaseAwaitingResume,
		models.RubataPhasePaused,
		models.RubataPhaseCompleted,
	}
}

// gatePhase is the phase in which a quorum gate is open.
func gatePhase(g models.QuorumGate) models.RubataPhase {
	switch g {
	case models.QuorumGateReadyCheck:
		return models.RubataPhaseReadyCheck
	case models.QuorumGateAuctionReadyCheck:
		return models.RubataPhaseAuctionReadyCheck
	case models.QuorumGatePendingAck:
		return models.RubataPhasePendingAck
	case models.QuorumGateAppealAck:
		return models.RubataPhaseAwaitingAppealAck
	case models.QuorumGateAwaitingResume:
		return models.RubataPhaseAwaitingResume
	case models.QuorumGatePauseResume:
		return models.RubataPhasePaused
	default:
		return ""
	}
}

func invalid(phase models.RubataPhase, op string) error {
	return fmt.Errorf("%w: %s not allowed in %s", ErrInvalidTransition, op, phase)
}

// postClose reports phases in which the last auction has closed but its
// outcome is not yet settled.
func postClose(p models.RubataPhase) bool {
	switch p {
	case models.RubataPhasePendingAck,
		models.RubataPhaseAppealReview,
		models.RubataPhaseAwaitingAppealAck,
		models.RubataPhaseAwaitingResume:
		return true
	}
	return false
}
