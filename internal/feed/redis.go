// Package feed mirrors applied deltas onto a Redis pub/sub channel so that
// tools outside the server can watch the textile grow. Nothing is read back.
package feed

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"collabknit/internal/hub"
	"collabknit/internal/protocol"
)

type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Event is the payload published for every contribution.
type Event struct {
	protocol.Message
	Session string `json:"session"`
	At      int64  `json:"at"`
}

type Redis struct {
	client  publisher
	channel string
}

// NewRedis connects to addr and checks the connection.
func NewRedis(ctx context.Context, addr, channel string) (*Redis, *redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		rdb.Close()
		return nil, nil, fmt.Errorf("could not connect to redis at %s: %w", addr, err)
	}
	return &Redis{client: rdb, channel: channel}, rdb, nil
}

func (r *Redis) Record(ctx context.Context, c hub.Contribution) error {
	ev := Event{
		Message: protocol.Delta(c.Bits, c.Color, c.Offset),
		Session: c.SessionID.String(),
		At:      c.At.UnixMilli(),
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", r.channel, err)
	}
	return nil
}
