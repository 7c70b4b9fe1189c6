package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/rubata/go/internal/models"
)

// Event payload types shared between the engine, the broadcasters and the gateway

const (
	EventTypePhaseChanged = "PhaseChanged"
	EventTypeBidPlaced    = "BidPlaced"
)

// PhaseChangedPayload is sent after every committed session mutation
type PhaseChangedPayload struct {
	SessionID       uuid.UUID          `json:"sessionId"`
	NewPhase        models.RubataPhase `json:"newPhase"`
	Reason          string             `json:"reason"`
	SnapshotVersion int64              `json:"snapshotVersion"`
}

// BidPlacedPayload accompanies an accepted bid
type BidPlacedPayload struct {
	SessionID       uuid.UUID `json:"sessionId"`
	AuctionID       uuid.UUID `json:"auctionId"`
	BidderID        uuid.UUID `json:"bidderId"`
	Amount          int64     `json:"amount"`
	Deadline        time.Time `json:"deadline"`
	SnapshotVersion int64     `json:"snapshotVersion"`
}

// Envelope is the wire format on every transport
type Envelope struct {
	EventID   uuid.UUID       `json:"eventId"`
	EventType string          `json:"eventType"`
	SessionID uuid.UUID       `json:"sessionId"`
	LeagueID  uuid.UUID       `json:"leagueId"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// NewEnvelope marshals payload into an envelope with a fresh event id
func NewEnvelope(eventType string, sessionID, leagueID uuid.UUID, at time.Time, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Envelope{
		EventID:   uuid.New(),
		EventType: eventType,
		SessionID: sessionID,
		LeagueID:  leagueID,
		Timestamp: at.UTC(),
		Payload:   data,
	}, nil
}

// Subject returns the NATS subject for the envelope under prefix
func (e Envelope) Subject(prefix string) string {
	return fmt.Sprintf("%s.%s.%s", prefix, e.SessionID, e.EventType)
}

// PhaseChanged decodes a PhaseChanged payload
func (e Envelope) PhaseChanged() (PhaseChangedPayload, error) {
	var p PhaseChangedPayload
	if e.EventType != EventTypePhaseChanged {
		return p, fmt.Errorf("envelope %s is %s, not %s", e.EventID, e.EventType, EventTypePhaseChanged)
	}
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return p, fmt.Errorf("unmarshal %s payload: %w", e.EventType, err)
	}
	return p, nil
}

// Decode parses an envelope received from a transport
func Decode(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return e, fmt.Errorf("unmarshal event envelope: %w", err)
	}
	if e.SessionID == uuid.Nil {
		return e, fmt.Errorf("event envelope %s has no session id", e.EventID)
	}
	return e, nil
}
