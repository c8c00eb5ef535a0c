// Package redisrelay fans bus events out across server instances through a
// Redis pub/sub channel.
package redisrelay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"

	"zchat/internal/pubsub"
)

// DefaultChannel is used when Options leaves Channel empty.
const DefaultChannel = "zchat:events"

type Options struct {
	URL     string
	Channel string
}

// envelope is the wire form of one relayed event.
type envelope struct {
	Origin string       `json:"origin"`
	Event  pubsub.Event `json:"event"`
}

// Relay publishes to the local bus and to Redis. Run feeds events published
// by other instances into the local bus.
//
// Per-conversation order is kept only among events from a single instance.
// Each instance serializes its own commits before publishing, but commits on
// different instances are not ordered against each other, so a subscriber
// may see remote and local events for one conversation interleaved out of
// commit order. Clients reconcile through snapshot timestamps and REST
// reloads.
type Relay struct {
	client  *redis.Client
	local   pubsub.Publisher
	channel string
	origin  string
	logger  *slog.Logger
}

var _ pubsub.Publisher = (*Relay)(nil)

// Dial connects to Redis and wraps local.
func Dial(ctx context.Context, local pubsub.Publisher, logger *slog.Logger, opts Options) (*Relay, error) {
	if opts.URL == "" {
		return nil, errors.New("redisrelay: url is empty")
	}
	opt, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("redisrelay: parse url: %w", err)
	}
	c := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := c.Ping(pingCtx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redisrelay: ping: %w", err)
	}
	return New(c, local, logger, opts.Channel), nil
}

func New(client *redis.Client, local pubsub.Publisher, logger *slog.Logger, channel string) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	if channel == "" {
		channel = DefaultChannel
	}
	return &Relay{
		client:  client,
		local:   local,
		channel: channel,
		origin:  uuid.NewString(),
		logger:  logger,
	}
}

// Publish delivers ev locally first. A Redis failure is returned but local
// subscribers have already been served.
func (r *Relay) Publish(ctx context.Context, ev pubsub.Event) error {
	if err := r.local.Publish(ctx, ev); err != nil {
		return err
	}
	data, err := encode(r.origin, ev)
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("redisrelay: publish: %w", err)
	}
	return nil
}

// Run subscribes to the relay channel until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	ps := r.client.Subscribe(ctx, r.channel)
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("redisrelay: subscribe: %w", err)
	}

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle(ctx, []byte(msg.Payload))
		}
	}
}

func (r *Relay) handle(ctx context.Context, payload []byte) {
	origin, ev, err := decode(payload)
	if err != nil {
		r.logger.Warn("redisrelay: bad payload", slog.String("error", err.Error()))
		return
	}
	if origin == r.origin {
		return
	}
	if err := r.local.Publish(ctx, ev); err != nil {
		r.logger.Warn("redisrelay: local publish", slog.String("error", err.Error()))
	}
}

func (r *Relay) Close() error {
	return r.client.Close()
}

func encode(origin string, ev pubsub.Event) ([]byte, error) {
	data, err := json.Marshal(envelope{Origin: origin, Event: ev})
	if err != nil {
		return nil, fmt.Errorf("redisrelay: encode: %w", err)
	}
	return data, nil
}

func decode(data []byte) (string, pubsub.Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", pubsub.Event{}, fmt.Errorf("redisrelay: decode: %w", err)
	}
	if !env.Event.Topic.Valid() {
		return "", pubsub.Event{}, fmt.Errorf("redisrelay: unknown topic %q", env.Event.Topic)
	}
	return env.Origin, env.Event, nil
}
