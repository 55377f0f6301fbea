package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"eventhub-realtime/internal/domain"
)

const (
	targetHandle = "handle"
	targetGroup  = "group"
	targetAll    = "all"
)

type envelope struct {
	Target string          `json:"target"`
	Key    string          `json:"key,omitempty"`
	Event  string          `json:"event"`
	Data   json.RawMessage `json:"data"`
}

// Relay is a domain.Broadcaster that fans every emit out through a Redis
// channel. Each instance subscribes and hands what it receives to its local
// broadcaster, so a push reaches the connection wherever it lives.
type Relay struct {
	client  *RedisClient
	channel string
	local   domain.Broadcaster
	logger  zerolog.Logger

	mu  sync.Mutex
	sub *redis.PubSub
	wg  sync.WaitGroup
}

func NewRelay(client *RedisClient, channel string, local domain.Broadcaster, logger zerolog.Logger) *Relay {
	return &Relay{
		client:  client,
		channel: channel,
		local:   local,
		logger:  logger.With().Str("component", "redis_relay").Str("channel", channel).Logger(),
	}
}

// Start subscribes and returns once Redis confirmed the subscription.
func (r *Relay) Start(ctx context.Context) error {
	sub := r.client.client.Subscribe(ctx, r.channel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}

	r.mu.Lock()
	r.sub = sub
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for msg := range sub.Channel() {
			r.deliver(msg.Payload)
		}
	}()

	r.logger.Info().Msg("Broadcast relay subscribed")
	return nil
}

func (r *Relay) Close() error {
	r.mu.Lock()
	sub := r.sub
	r.sub = nil
	r.mu.Unlock()

	if sub == nil {
		return nil
	}
	err := sub.Close()
	r.wg.Wait()
	return err
}

func (r *Relay) EmitToHandle(handle, event string, data interface{}) {
	r.publish(envelope{Target: targetHandle, Key: handle, Event: event}, data)
}

func (r *Relay) EmitToGroup(group, event string, data interface{}) {
	r.publish(envelope{Target: targetGroup, Key: group, Event: event}, data)
}

func (r *Relay) EmitToAll(event string, data interface{}) {
	r.publish(envelope{Target: targetAll, Event: event}, data)
}

func (r *Relay) publish(env envelope, data interface{}) {
	raw, err := json.Marshal(data)
	if err != nil {
		r.logger.Error().Err(err).Str("event", env.Event).Msg("Failed to encode broadcast payload")
		return
	}
	env.Data = raw

	payload, err := json.Marshal(env)
	if err != nil {
		r.logger.Error().Err(err).Str("event", env.Event).Msg("Failed to encode broadcast envelope")
		return
	}

	if err := r.client.client.Publish(context.Background(), r.channel, payload).Err(); err != nil {
		// Redis is down: at least reach the connections on this instance.
		r.logger.Warn().Err(err).Str("event", env.Event).Msg("Publish failed, delivering locally")
		r.dispatch(env)
	}
}

func (r *Relay) deliver(payload string) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		r.logger.Warn().Err(err).Msg("Dropping malformed broadcast")
		return
	}
	r.dispatch(env)
}

func (r *Relay) dispatch(env envelope) {
	switch env.Target {
	case targetHandle:
		r.local.EmitToHandle(env.Key, env.Event, env.Data)
	case targetGroup:
		r.local.EmitToGroup(env.Key, env.Event, env.Data)
	case targetAll:
		r.local.EmitToAll(env.Event, env.Data)
	default:
		r.logger.Warn().Str("target", env.Target).Msg("Unknown broadcast target")
	}
}
