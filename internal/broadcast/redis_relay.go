package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"
)

const channelPrefix = "shipment:"

// RedisRelay publishes through Redis Pub/Sub so every server instance can deliver
// to the subscribers connected to it.
type RedisRelay struct {
	client *redis.Client
	hub    *Hub
	logger *slog.Logger
}

func NewRedisRelay(client *redis.Client, hub *Hub, logger *slog.Logger) *RedisRelay {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisRelay{client: client, hub: hub, logger: logger}
}

func Channel(shipmentID string) string { return channelPrefix + shipmentID }

func (r *RedisRelay) Publish(ctx context.Context, msg Message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode broadcast: %w", err)
	}
	if err := r.client.Publish(ctx, Channel(msg.ShipmentID), b).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", msg.ShipmentID, err)
	}
	return nil
}

// Run relays every shipment channel into the local hub until ctx is done.
func (r *RedisRelay) Run(ctx context.Context) error {
	ps := r.client.PSubscribe(ctx, channelPrefix+"*")
	defer ps.Close()
	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("redis psubscribe: %w", err)
	}
	r.logger.Info("broadcast relay subscribed", "pattern", channelPrefix+"*")

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			var msg Message
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				r.logger.Warn("relay message invalid", "channel", m.Channel, "error", err)
				continue
			}
			if msg.ShipmentID == "" {
				msg.ShipmentID = strings.TrimPrefix(m.Channel, channelPrefix)
			}
			_ = r.hub.Publish(ctx, msg)
		}
	}
}
