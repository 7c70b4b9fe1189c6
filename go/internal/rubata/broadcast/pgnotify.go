package broadcast

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mcdev12/rubata/go/internal/rubata/events"
)

// maxNotifyPayload is the Postgres NOTIFY payload limit.
const maxNotifyPayload = 8000

// PGNotifyPublisher sends envelopes with pg_notify so every process listening
// on the channel can relay them to its websocket clients.
type PGNotifyPublisher struct {
	pool    *pgxpool.Pool
	channel string
}

func NewPGNotifyPublisher(pool *pgxpool.Pool, channel string) *PGNotifyPublisher {
	return &PGNotifyPublisher{pool: pool, channel: channel}
}

func (p *PGNotifyPublisher) Publish(ctx context.Context, env events.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if len(data) >= maxNotifyPayload {
		return fmt.Errorf("event %s is %d bytes, over the NOTIFY limit", env.EventID, len(data))
	}
	if _, err := p.pool.Exec(ctx, "SELECT pg_notify($1, $2)", p.channel, string(data)); err != nil {
		return fmt.Errorf("pg_notify %s: %w", p.channel, err)
	}
	return nil
}
