// Package gateway pushes rubata events to websocket subscribers.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mcdev12/rubata/go/internal/rubata/events"
	"github.com/rs/zerolog/log"
)

// ErrBroadcastFull is returned by Publish when the inbound queue is full.
var ErrBroadcastFull = errors.New("broadcast channel full")

// ConnectionManager fans session events out to websocket subscribers. Each
// member holds at most one subscription per session; a reconnect replaces the
// older socket.
type ConnectionManager struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]map[uuid.UUID]*subscriber

	upgrader websocket.Upgrader
	config   ConnectionConfig
	inbound  chan events.Envelope
}

// subscriber is one member's socket on one session.
type subscriber struct {
	id        string
	memberID  uuid.UUID
	sessionID uuid.UUID
	conn      *websocket.Conn
	send      chan []byte
	cm        *ConnectionManager

	mu     sync.Mutex
	closed bool
}

type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBuffer      int
	BroadcastBuffer int
	CheckOrigin     func(r *http.Request) bool
}

func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  512,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBuffer:      64,
		BroadcastBuffer: 1000,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}
}

func NewConnectionManager(config ConnectionConfig) *ConnectionManager {
	def := DefaultConnectionConfig()
	if config.BroadcastBuffer <= 0 {
		config.BroadcastBuffer = def.BroadcastBuffer
	}
	if config.SendBuffer <= 0 {
		config.SendBuffer = def.SendBuffer
	}
	return &ConnectionManager{
		sessions: make(map[uuid.UUID]map[uuid.UUID]*subscriber),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:  config,
		inbound: make(chan events.Envelope, config.BroadcastBuffer),
	}
}

// Start delivers queued events until ctx is done, then closes every socket.
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Int("buffer", cap(cm.inbound)).Msg("connection manager started")
	for {
		select {
		case <-ctx.Done():
			cm.dropAll()
			log.Info().Msg("connection manager stopped")
			return
		case env := <-cm.inbound:
			cm.deliver(env)
		}
	}
}

// Publish queues env for the subscribers of its session without blocking.
func (cm *ConnectionManager) Publish(ctx context.Context, env events.Envelope) error {
	select {
	case cm.inbound <- env:
		return nil
	default:
		log.Warn().
			Str("session_id", env.SessionID.String()).
			Str("event_type", env.EventType).
			Msg("broadcast channel full, dropping event")
		return ErrBroadcastFull
	}
}

// UpgradeConnection turns the request into a subscription of memberID to
// sessionID. On failure the upgrader has already written the HTTP error.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, memberID, sessionID uuid.UUID) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	sub := &subscriber{
		id:        uuid.NewString(),
		memberID:  memberID,
		sessionID: sessionID,
		conn:      conn,
		send:      make(chan []byte, cm.config.SendBuffer),
		cm:        cm,
	}
	if prev := cm.add(sub); prev != nil {
		log.Info().
			Str("member_id", memberID.String()).
			Str("session_id", sessionID.String()).
			Str("replaced", prev.id).
			Msg("member reconnected, closing previous socket")
		prev.close()
	}

	go sub.writeLoop()
	go sub.readLoop()

	log.Info().
		Str("connection_id", sub.id).
		Str("member_id", memberID.String()).
		Str("session_id", sessionID.String()).
		Msg("websocket subscriber joined")
	return nil
}

// Count returns the number of subscribers of a session.
func (cm *ConnectionManager) Count(sessionID uuid.UUID) int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.sessions[sessionID])
}

// Members returns the members currently subscribed to a session.
func (cm *ConnectionManager) Members(sessionID uuid.UUID) []uuid.UUID {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	out := make([]uuid.UUID, 0, len(cm.sessions[sessionID]))
	for id := range cm.sessions[sessionID] {
		out = append(out, id)
	}
	return out
}

// add registers sub and returns the subscription it displaced, if any.
func (cm *ConnectionManager) add(sub *subscriber) *subscriber {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	members, ok := cm.sessions[sub.sessionID]
	if !ok {
		members = make(map[uuid.UUID]*subscriber)
		cm.sessions[sub.sessionID] = members
	}
	prev := members[sub.memberID]
	members[sub.memberID] = sub
	return prev
}

// remove unregisters sub unless a newer socket of the same member took its place.
func (cm *ConnectionManager) remove(sub *subscriber) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	members, ok := cm.sessions[sub.sessionID]
	if !ok || members[sub.memberID] != sub {
		return
	}
	delete(members, sub.memberID)
	if len(members) == 0 {
		delete(cm.sessions, sub.sessionID)
	}
	log.Debug().
		Str("connection_id", sub.id).
		Str("session_id", sub.sessionID.String()).
		Msg("websocket subscriber left")
}

func (cm *ConnectionManager) deliver(env events.Envelope) {
	cm.mu.RLock()
	targets := make([]*subscriber, 0, len(cm.sessions[env.SessionID]))
	for _, sub := range cm.sessions[env.SessionID] {
		targets = append(targets, sub)
	}
	cm.mu.RUnlock()
	if len(targets) == 0 {
		return
	}

	data, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("event_id", env.EventID.String()).Msg("failed to encode event")
		return
	}
	for _, sub := range targets {
		if !sub.enqueue(data) {
			// A subscriber that cannot keep up reconnects and reloads the snapshot.
			log.Warn().
				Str("connection_id", sub.id).
				Str("member_id", sub.memberID.String()).
				Msg("subscriber too slow, dropping")
			sub.close()
		}
	}
	log.Debug().
		Str("event_type", env.EventType).
		Str("session_id", env.SessionID.String()).
		Int("subscribers", len(targets)).
		Msg("event delivered")
}

func (cm *ConnectionManager) dropAll() {
	cm.mu.RLock()
	var all []*subscriber
	for _, members := range cm.sessions {
		for _, sub := range members {
			all = append(all, sub)
		}
	}
	cm.mu.RUnlock()

	for _, sub := range all {
		sub.close()
	}
}

// enqueue reports false when the send buffer is full. Messages for a closed
// subscriber are discarded.
func (s *subscriber) enqueue(msg []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.send <- msg:
		return true
	default:
		return false
	}
}

// close unregisters the subscriber and stops its write loop. Safe to call
// more than once.
func (s *subscriber) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.send)
	s.mu.Unlock()

	s.cm.remove(s)
}

func (s *subscriber) writeLoop() {
	cfg := s.cm.config
	ping := time.NewTicker(cfg.PingInterval)
	defer func() {
		ping.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.Debug().Err(err).Str("connection_id", s.id).Msg("websocket write failed")
				s.close()
				return
			}
		case <-ping.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().Err(err).Str("connection_id", s.id).Msg("websocket ping failed")
				s.close()
				return
			}
		}
	}
}

// readLoop only services pongs and close frames; commands go through the
// HTTP API.
func (s *subscriber) readLoop() {
	cfg := s.cm.config
	defer s.close()

	s.conn.SetReadLimit(cfg.MaxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("connection_id", s.id).Msg("websocket closed unexpectedly")
			}
			return
		}
	}
}
