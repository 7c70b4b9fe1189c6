package main

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/rubata/go/internal/rubata/broadcast"
	"github.com/mcdev12/rubata/go/internal/rubata/config"
	"github.com/mcdev12/rubata/go/internal/rubata/engine"
	"github.com/mcdev12/rubata/go/internal/rubata/gateway"
	"github.com/mcdev12/rubata/go/internal/rubata/preference"
	"github.com/mcdev12/rubata/go/internal/rubata/validator"
	"github.com/rs/zerolog/log"
)

// relay feeds the local websocket clients from an external event source.
type relay interface {
	Start(ctx context.Context) error
}

type Services struct {
	Sessions    *engine.Manager
	Preferences *preference.Service
	Roster      *validator.StoredRoster
	Sockets     *gateway.ConnectionManager
	Broadcast   *broadcast.Async
	Relay       relay

	closers []func() error
}

func (s *Services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			log.Error().Err(err).Msg("failed to close service")
		}
	}
}

// setupServices wires store → broadcast → engine. Engine events always go
// through the async dispatcher; websocket clients are fed directly unless a
// relay is configured, in which case they receive what the relay consumes.
func setupServices(ctx context.Context, cfg *config.Config, db *database) (*Services, error) {
	clock := clockwork.NewRealClock()
	s := &Services{
		Roster:  validator.NewStoredRoster(db.Store, cfg.Roster.Capacity),
		Sockets: gateway.NewConnectionManager(gateway.DefaultConnectionConfig()),
	}

	var fanout broadcast.Fanout
	relayed := cfg.Broadcast.NATS.Relay || cfg.Broadcast.PGNotify.Relay
	if !relayed {
		fanout = append(fanout, s.Sockets)
	}

	if cfg.Broadcast.NATS.Enabled {
		pub, err := broadcast.NewNATSPublisher(ctx, cfg.JetStreamConfig())
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to create NATS publisher: %w", err)
		}
		s.closers = append(s.closers, pub.Close)
		fanout = append(fanout, pub)

		if cfg.Broadcast.NATS.Relay {
			consumer, err := gateway.NewNATSConsumer(ctx, s.Sockets, cfg.JetStreamConsumerConfig())
			if err != nil {
				s.Close()
				return nil, fmt.Errorf("failed to create NATS consumer: %w", err)
			}
			s.closers = append(s.closers, consumer.Close)
			s.Relay = consumer
		}
	}

	if cfg.Broadcast.PGNotify.Enabled {
		if db.Pool == nil {
			s.Close()
			return nil, fmt.Errorf("pg_notify requires the postgres storage driver")
		}
		fanout = append(fanout, broadcast.NewPGNotifyPublisher(db.Pool, cfg.Broadcast.PGNotify.Channel))

		if cfg.Broadcast.PGNotify.Relay {
			r, err := gateway.NewPGRelay(s.Sockets, cfg.PGRelayConfig())
			if err != nil {
				s.Close()
				return nil, fmt.Errorf("failed to create pg relay: %w", err)
			}
			s.Relay = r
		}
	}

	s.Broadcast = broadcast.NewAsync(fanout, cfg.AsyncConfig())
	s.Sessions = engine.NewManager(engine.Deps{
		Store:     db.Store,
		Publisher: s.Broadcast,
		Roster:    s.Roster,
		Clock:     clock,
		Rules:     cfg.EngineRules(),
	})
	s.Preferences = preference.NewService(db.Store, clock)

	log.Info().
		Int("publishers", len(fanout)).
		Bool("relayed", relayed).
		Msg("rubata services ready")
	return s, nil
}
