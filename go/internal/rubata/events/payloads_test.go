package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/rubata/go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPhaseChangedWireFormat(t *testing.T) {
	sessionID, leagueID := uuid.New(), uuid.New()
	env, err := NewEnvelope(EventTypePhaseChanged, sessionID, leagueID, time.Now(), PhaseChangedPayload{
		SessionID:       sessionID,
		NewPhase:        models.RubataPhaseAuction,
		Reason:          "quorum_satisfied",
		SnapshotVersion: 7,
	})
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(env.Payload, &raw))
	assert.Equal(t, sessionID.String(), raw["sessionId"])
	assert.Equal(t, "AUCTION", raw["newPhase"])
	assert.Equal(t, "quorum_satisfied", raw["reason"])
	assert.EqualValues(t, 7, raw["snapshotVersion"])

	data, err := json.Marshal(env)
	require.NoError(t, err)
	decoded, err := Decode(data)
	require.NoError(t, err)
	p, err := decoded.PhaseChanged()
	require.NoError(t, err)
	assert.Equal(t, int64(7), p.SnapshotVersion)
	assert.Equal(t, leagueID, decoded.LeagueID)
}

func TestSubject(t *testing.T) {
	id := uuid.MustParse("7b1f4c1e-0000-4000-8000-000000000001")
	env := Envelope{SessionID: id, EventType: EventTypeBidPlaced}
	assert.Equal(t, "rubata.events.7b1f4c1e-0000-4000-8000-000000000001.BidPlaced", env.Subject("rubata.events"))
}

func TestDecodeRejectsMissingSession(t *testing.T) {
	_, err := Decode([]byte(`{"eventId":"` + uuid.NewString() + `","eventType":"PhaseChanged"}`))
	assert.Error(t, err)

	_, err = Decode([]byte(`not json`))
	assert.Error(t, err)
}

func TestPhaseChangedWrongType(t *testing.T) {
	_, err := Envelope{EventType: EventTypeBidPlaced, Payload: []byte(`{}`)}.PhaseChanged()
	assert.Error(t, err)
}
