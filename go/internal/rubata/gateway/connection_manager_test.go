package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mcdev12/rubata/go/internal/models"
	"github.com/mcdev12/rubata/go/internal/rubata/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startManager(t *testing.T) *ConnectionManager {
	t.Helper()
	cm := NewConnectionManager(DefaultConnectionConfig())
	ctx, cancel := context.WithCancel(context.Background())
	go cm.Start(ctx)
	t.Cleanup(cancel)
	return cm
}

func dial(t *testing.T, cm *ConnectionManager, sessionID uuid.UUID) *websocket.Conn {
	t.Helper()
	return dialAs(t, cm, uuid.New(), sessionID)
}

func dialAs(t *testing.T, cm *ConnectionManager, memberID, sessionID uuid.UUID) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = cm.UpgradeConnection(w, r, memberID, sessionID)
	}))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.Eventually(t, func() bool {
		for _, id := range cm.Members(sessionID) {
			if id == memberID {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
	return conn
}

func phaseEnvelope(t *testing.T, sessionID uuid.UUID, phase models.RubataPhase) events.Envelope {
	t.Helper()
	env, err := events.NewEnvelope(events.EventTypePhaseChanged, sessionID, uuid.New(), time.Now(), events.PhaseChangedPayload{
		SessionID:       sessionID,
		NewPhase:        phase,
		Reason:          "test",
		SnapshotVersion: 3,
	})
	require.NoError(t, err)
	return env
}

func TestBroadcastReachesSessionSubscribers(t *testing.T) {
	cm := startManager(t)
	sessionID, otherID := uuid.New(), uuid.New()
	conn := dial(t, cm, sessionID)
	other := dial(t, cm, otherID)

	require.NoError(t, cm.Publish(context.Background(), phaseEnvelope(t, sessionID, models.RubataPhaseAuction)))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var env events.Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	p, err := env.PhaseChanged()
	require.NoError(t, err)
	assert.Equal(t, models.RubataPhaseAuction, p.NewPhase)
	assert.Equal(t, int64(3), p.SnapshotVersion)

	require.NoError(t, other.SetReadDeadline(time.Now().Add(50*time.Millisecond)))
	_, _, err = other.ReadMessage()
	assert.Error(t, err, "other sessions receive nothing")
}

func TestDisconnectUnregisters(t *testing.T) {
	cm := startManager(t)
	sessionID := uuid.New()
	conn := dial(t, cm, sessionID)
	assert.Equal(t, 1, cm.Count(sessionID))

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return cm.Count(sessionID) == 0 }, time.Second, 5*time.Millisecond)
}

func TestReconnectReplacesSocket(t *testing.T) {
	cm := startManager(t)
	sessionID, memberID := uuid.New(), uuid.New()
	first := dialAs(t, cm, memberID, sessionID)
	second := dialAs(t, cm, memberID, sessionID)
	assert.Equal(t, 1, cm.Count(sessionID))

	require.NoError(t, first.SetReadDeadline(time.Now().Add(time.Second)))
	_, _, err := first.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "replaced socket is closed: %v", err)

	require.NoError(t, cm.Publish(context.Background(), phaseEnvelope(t, sessionID, models.RubataPhaseOffering)))
	require.NoError(t, second.SetReadDeadline(time.Now().Add(time.Second)))
	_, _, err = second.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, 1, cm.Count(sessionID))
}

func TestPublishWithoutSubscribers(t *testing.T) {
	cm := startManager(t)
	assert.NoError(t, cm.Publish(context.Background(), phaseEnvelope(t, uuid.New(), models.RubataPhaseOffering)))
}

type sinkFunc func(ctx context.Context, env events.Envelope) error

func (f sinkFunc) Publish(ctx context.Context, env events.Envelope) error { return f(ctx, env) }

func TestPGRelayDecodesNotification(t *testing.T) {
	var got events.Envelope
	r := &PGRelay{sink: sinkFunc(func(ctx context.Context, env events.Envelope) error {
		got = env
		return nil
	})}
	sent := phaseEnvelope(t, uuid.New(), models.RubataPhasePendingAck)
	data, err := json.Marshal(sent)
	require.NoError(t, err)

	require.NoError(t, r.handleNotification(context.Background(), string(data)))
	assert.Equal(t, sent.EventID, got.EventID)

	assert.Error(t, r.handleNotification(context.Background(), "garbage"))
}
