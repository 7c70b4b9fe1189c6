package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/mcdev12/rubata/go/internal/rubata/events"
	"github.com/rs/zerolog/log"
)

type PGRelayConfig struct {
	DatabaseURL   string        // Postgres DSN for LISTEN
	NotifyChannel string        // channel the PGNotifyPublisher writes to
	PingInterval  time.Duration
}

func DefaultPGRelayConfig() PGRelayConfig {
	return PGRelayConfig{
		NotifyChannel: "rubata_events",
		PingInterval:  90 * time.Second,
	}
}

// PGRelay listens for pg_notify envelopes and hands them to a Sink
type PGRelay struct {
	listener *pq.Listener
	sink     Sink
	cfg      PGRelayConfig
}

func NewPGRelay(sink Sink, cfg PGRelayConfig) (*PGRelay, error) {
	l := pq.NewListener(
		cfg.DatabaseURL,
		10*time.Second,
		time.Minute,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Error().Err(err).Msg("listener event")
			}
		},
	)
	if err := l.Listen(cfg.NotifyChannel); err != nil {
		l.Close()
		return nil, fmt.Errorf("failed to listen to channel: %w", err)
	}

	log.Info().Str("channel", cfg.NotifyChannel).Msg("listening for notifications")
	return &PGRelay{listener: l, sink: sink, cfg: cfg}, nil
}

// Start relays notifications until ctx is done
func (r *PGRelay) Start(ctx context.Context) error {
	pingTicker := time.NewTicker(r.cfg.PingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("relay shutting down")
			return r.listener.Close()
		case note := <-r.listener.Notify:
			if note == nil {
				// connection was re-established; notifications in between are lost
				continue
			}
			if err := r.handleNotification(ctx, note.Extra); err != nil {
				log.Error().Err(err).Msg("failed to handle notification")
			}
		case <-pingTicker.C:
			if err := r.listener.Ping(); err != nil {
				log.Error().Err(err).Msg("failed to ping listener")
			}
		}
	}
}

func (r *PGRelay) handleNotification(ctx context.Context, extra string) error {
	env, err := events.Decode([]byte(extra))
	if err != nil {
		return err
	}
	return r.sink.Publish(ctx, env)
}
