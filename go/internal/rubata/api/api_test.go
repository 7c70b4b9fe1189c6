package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/rubata/go/internal/models"
	"github.com/mcdev12/rubata/go/internal/rubata/api"
	"github.com/mcdev12/rubata/go/internal/rubata/engine"
	"github.com/mcdev12/rubata/go/internal/rubata/events"
	"github.com/mcdev12/rubata/go/internal/rubata/gateway"
	"github.com/mcdev12/rubata/go/internal/rubata/preference"
	"github.com/mcdev12/rubata/go/internal/rubata/storage/memory"
	"github.com/mcdev12/rubata/go/internal/rubata/validator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	t       *testing.T
	srv     *httptest.Server
	mgr     *engine.Manager
	roster  *validator.StoredRoster
	sockets *gateway.ConnectionManager

	league uuid.UUID
	owner  uuid.UUID
	bidder uuid.UUID
	admin  uuid.UUID
	player uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 9, 5, 18, 30, 0, 0, time.UTC))
	store := memory.New()
	roster := validator.NewStoredRoster(store, nil)
	sockets := gateway.NewConnectionManager(gateway.DefaultConnectionConfig())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go sockets.Start(ctx)

	mgr := engine.NewManager(engine.Deps{
		Store:     store,
		Publisher: sockets,
		Roster:    roster,
		Clock:     clock,
		Rules:     engine.DefaultRules(),
	})
	t.Cleanup(mgr.Close)

	srv := api.NewServer(api.Deps{
		Sessions:      mgr,
		Preferences:   preference.NewService(store, clock),
		History:       store,
		Roster:        roster,
		Sockets:       sockets,
		DefaultBudget: 100,
	})
	ts := httptest.NewServer(srv.Routes([]string{"*"}))
	t.Cleanup(ts.Close)

	return &fixture{
		t:       t,
		srv:     ts,
		mgr:     mgr,
		roster:  roster,
		sockets: sockets,
		league:  uuid.New(),
		owner:   uuid.New(),
		bidder:  uuid.New(),
		admin:   uuid.New(),
		player:  uuid.New(),
	}
}

func (f *fixture) do(method, path string, body any) (int, []byte) {
	f.t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(f.t, err)
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, rd)
	require.NoError(f.t, err)
	resp, err := f.srv.Client().Do(req)
	require.NoError(f.t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(f.t, err)
	return resp.StatusCode, out
}

func (f *fixture) snapshot(method, path string, body any, want int) engine.Snapshot {
	f.t.Helper()
	status, out := f.do(method, path, body)
	require.Equal(f.t, want, status, string(out))
	var snap engine.Snapshot
	require.NoError(f.t, json.Unmarshal(out, &snap))
	return snap
}

// post runs a session action that must succeed.
func (f *fixture) post(path string, body any) engine.Snapshot {
	f.t.Helper()
	return f.snapshot(http.MethodPost, path, body, http.StatusOK)
}

func (f *fixture) errorStatus(path string, body any, want int) {
	f.t.Helper()
	status, out := f.do(http.MethodPost, path, body)
	assert.Equal(f.t, want, status, string(out))
}

func (f *fixture) create() uuid.UUID {
	f.t.Helper()
	budget := int64(20)
	snap := f.snapshot(http.MethodPost, "/api/sessions", map[string]any{
		"league_id": f.league,
		"members": []map[string]any{
			{"id": f.owner},
			{"id": f.bidder, "budget": budget},
		},
		"admins": []uuid.UUID{f.admin},
		"items": []map[string]any{
			{"owner_id": f.owner, "player_id": f.player, "category": "WR", "base_price": 10},
		},
	}, http.StatusCreated)
	require.Equal(f.t, models.RubataPhaseWaiting, snap.Session.Phase)
	return snap.Session.ID
}

func (f *fixture) member(id uuid.UUID) validator.MemberRoster {
	f.t.Helper()
	m, err := f.roster.Member(context.Background(), f.league, id)
	require.NoError(f.t, err)
	return m
}

func (f *fixture) toAuction(id uuid.UUID) {
	f.t.Helper()
	base := "/api/sessions/" + id.String()
	f.post(base+"/start", map[string]any{"admin_id": f.admin})
	snap := f.post(base+"/force-ready", map[string]any{"admin_id": f.admin})
	require.Equal(f.t, models.RubataPhaseOffering, snap.Session.Phase)
	assert.Equal(f.t, int64(30), snap.TimeRemainingSec)

	snap = f.post(base+"/intent", map[string]any{"member_id": f.bidder})
	require.Equal(f.t, models.RubataPhaseAuctionReadyCheck, snap.Session.Phase)
	snap = f.post(base+"/force-ready", map[string]any{"admin_id": f.admin})
	require.Equal(f.t, models.RubataPhaseAuction, snap.Session.Phase)
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	status, body := f.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "OK", string(body))
}

func TestCreateSeedsRoster(t *testing.T) {
	f := newFixture(t)
	f.create()

	owner := f.member(f.owner)
	assert.Equal(t, int64(100), owner.Budget)
	bidder := f.member(f.bidder)
	assert.Equal(t, int64(20), bidder.Budget)
}

func TestLaterSessionKeepsLeagueRoster(t *testing.T) {
	f := newFixture(t)
	id := f.create()
	f.toAuction(id)
	base := "/api/sessions/" + id.String()

	f.post(base+"/bids", map[string]any{"member_id": f.bidder, "amount": 12})
	f.post(base+"/advance", map[string]any{"admin_id": f.admin})
	f.post(base+"/ack", map[string]any{"member_id": f.owner})
	snap := f.post(base+"/ack", map[string]any{"member_id": f.bidder})
	require.Equal(t, models.RubataPhaseCompleted, snap.Session.Phase)

	bidder := f.member(f.bidder)
	require.Equal(t, int64(8), bidder.Budget)
	require.Equal(t, 1, bidder.Slots["WR"])

	f.snapshot(http.MethodPost, "/api/sessions", map[string]any{
		"league_id": f.league,
		"members":   []map[string]any{{"id": f.owner}, {"id": f.bidder}},
		"admins":    []uuid.UUID{f.admin},
		"items": []map[string]any{
			{"owner_id": f.bidder, "player_id": f.player, "category": "WR", "base_price": 12},
		},
	}, http.StatusCreated)

	bidder = f.member(f.bidder)
	assert.Equal(t, int64(8), bidder.Budget)
	assert.Equal(t, 1, bidder.Slots["WR"])
	assert.Equal(t, int64(112), f.member(f.owner).Budget)

	f.snapshot(http.MethodPost, "/api/sessions", map[string]any{
		"league_id": f.league,
		"members":   []map[string]any{{"id": f.bidder, "budget": 50}},
		"admins":    []uuid.UUID{f.admin},
	}, http.StatusCreated)

	bidder = f.member(f.bidder)
	assert.Equal(t, int64(50), bidder.Budget, "an explicit budget replaces the stored one")
	assert.Equal(t, 1, bidder.Slots["WR"])
}

func TestCreateRejectsEmptySession(t *testing.T) {
	f := newFixture(t)
	f.errorStatus("/api/sessions", map[string]any{"league_id": f.league}, http.StatusBadRequest)
	f.errorStatus("/api/sessions", "not an object", http.StatusBadRequest)
}

func TestBiddingFlow(t *testing.T) {
	f := newFixture(t)
	id := f.create()
	f.toAuction(id)
	base := "/api/sessions/" + id.String()

	f.errorStatus(base+"/bids", map[string]any{"member_id": f.owner, "amount": 15}, http.StatusUnprocessableEntity)
	f.errorStatus(base+"/bids", map[string]any{"member_id": f.bidder, "amount": 5}, http.StatusUnprocessableEntity)
	f.errorStatus(base+"/bids", map[string]any{"member_id": f.bidder, "amount": 50}, http.StatusUnprocessableEntity)

	snap := f.post(base+"/bids", map[string]any{"member_id": f.bidder, "amount": 12})
	require.NotNil(t, snap.Session.Auction)
	assert.Equal(t, int64(12), snap.Session.Auction.CurrentPrice)

	snap = f.post(base+"/advance", map[string]any{"admin_id": f.admin})
	assert.Equal(t, models.RubataPhasePendingAck, snap.Session.Phase)
	f.errorStatus(base+"/bids", map[string]any{"member_id": f.bidder, "amount": 14}, http.StatusConflict)

	status, body := f.do(http.MethodGet, base+"/bids", nil)
	require.Equal(t, http.StatusOK, status)
	var bids []models.Bid
	require.NoError(t, json.Unmarshal(body, &bids))
	require.Len(t, bids, 1)
	assert.Equal(t, f.bidder, bids[0].BidderID)

	status, body = f.do(http.MethodGet, base+"/audit", nil)
	require.Equal(t, http.StatusOK, status)
	var audit []models.AuditEntry
	require.NoError(t, json.Unmarshal(body, &audit))
	assert.Len(t, audit, 6)

	status, body = f.do(http.MethodGet, base+"/transfers", nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, "[]", string(body))
}

func TestUnseededBidderIsUnprocessable(t *testing.T) {
	f := newFixture(t)
	stranger := uuid.New()
	eng, err := f.mgr.Create(context.Background(), engine.CreateParams{
		LeagueID: uuid.New(),
		Members:  []uuid.UUID{f.bidder, stranger},
		Admins:   []uuid.UUID{f.admin},
		Items:    []models.BoardItem{{OwnerID: f.owner, PlayerID: f.player, Category: "WR", BasePrice: 10}},
	})
	require.NoError(t, err)
	base := "/api/sessions/" + eng.ID().String()

	f.post(base+"/start", map[string]any{"admin_id": f.admin})
	f.post(base+"/force-ready", map[string]any{"admin_id": f.admin})
	f.post(base+"/intent", map[string]any{"member_id": stranger})
	f.post(base+"/force-ready", map[string]any{"admin_id": f.admin})
	f.errorStatus(base+"/bids", map[string]any{"member_id": stranger, "amount": 11}, http.StatusUnprocessableEntity)
}

func TestErrorMapping(t *testing.T) {
	f := newFixture(t)
	id := f.create()
	base := "/api/sessions/" + id.String()

	f.errorStatus(base+"/start", map[string]any{"admin_id": f.bidder}, http.StatusForbidden)
	f.errorStatus(base+"/pause", map[string]any{"admin_id": f.admin}, http.StatusConflict)
	f.errorStatus(base+"/ready", map[string]any{"member_id": uuid.New()}, http.StatusConflict)
	f.errorStatus(base+"/start", "{", http.StatusBadRequest)
	f.errorStatus("/api/sessions/"+uuid.NewString()+"/start", map[string]any{"admin_id": f.admin}, http.StatusNotFound)
	f.errorStatus("/api/sessions/not-a-uuid/start", map[string]any{"admin_id": f.admin}, http.StatusBadRequest)

	status, _ := f.do(http.MethodGet, "/api/appeals/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestGetSession(t *testing.T) {
	f := newFixture(t)
	id := f.create()

	snap := f.snapshot(http.MethodGet, "/api/sessions/"+id.String(), nil, http.StatusOK)
	assert.Equal(t, id, snap.Session.ID)
	assert.Equal(t, int64(0), snap.TimeRemainingSec)
	require.Len(t, snap.Session.Items, 1)
	assert.Equal(t, f.player, snap.Session.Items[0].PlayerID)
}

func TestPreferences(t *testing.T) {
	f := newFixture(t)
	base := "/api/leagues/" + f.league.String() + "/members/" + f.bidder.String() + "/preferences"
	path := base + "/" + f.player.String()

	status, body := f.do(http.MethodPut, path, map[string]any{"is_watchlist": true, "priority": 2, "max_bid": 30, "notes": "  target  "})
	require.Equal(t, http.StatusOK, status, string(body))

	status, body = f.do(http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, status)
	var p models.Preference
	require.NoError(t, json.Unmarshal(body, &p))
	assert.True(t, p.IsWatchlist)
	assert.Equal(t, "target", p.Notes)
	require.NotNil(t, p.MaxBid)
	assert.Equal(t, int64(30), *p.MaxBid)

	status, body = f.do(http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, status)
	var list []models.Preference
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Len(t, list, 1)

	status, _ = f.do(http.MethodPut, path, map[string]any{"priority": 9})
	assert.Equal(t, http.StatusUnprocessableEntity, status)

	status, _ = f.do(http.MethodDelete, path, nil)
	assert.Equal(t, http.StatusNoContent, status)
	status, _ = f.do(http.MethodGet, path, nil)
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = f.do(http.MethodDelete, path, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestHistoryDisabled(t *testing.T) {
	mgr := engine.NewManager(engine.Deps{Store: memory.New(), Clock: clockwork.NewFakeClock()})
	t.Cleanup(mgr.Close)
	ts := httptest.NewServer(api.NewServer(api.Deps{Sessions: mgr}).Routes(nil))
	t.Cleanup(ts.Close)

	resp, err := ts.Client().Get(ts.URL + "/api/sessions/" + uuid.NewString() + "/audit")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
}

func TestSubscribe(t *testing.T) {
	f := newFixture(t)
	id := f.create()
	wsURL := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws/sessions/" + id.String()

	_, resp, err := websocket.DefaultDialer.Dial(wsURL+"?member_id="+uuid.NewString(), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?member_id="+f.bidder.String(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.Eventually(t, func() bool { return f.sockets.Count(id) == 1 }, time.Second, 5*time.Millisecond)

	f.post("/api/sessions/"+id.String()+"/start", map[string]any{"admin_id": f.admin})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	var env events.Envelope
	require.NoError(t, json.Unmarshal(msg, &env))
	assert.Equal(t, events.EventTypePhaseChanged, env.EventType)
	assert.Equal(t, id, env.SessionID)
}
