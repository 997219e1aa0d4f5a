package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	rosterPrefix   = "presence:"
	rosterTTL      = 24 * time.Hour
	fanoutChannel  = "itinera:presence"
	connectTimeout = 5 * time.Second
)

// Connect parses redisURL and pings the server.
func Connect(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return client, nil
}

// RedisRoster keeps one hash per template, keyed by socket id, so every
// instance sees the same roster. Redis drops a hash with its last field.
type RedisRoster struct {
	client *redis.Client
	prefix string
}

func NewRedisRoster(client *redis.Client) *RedisRoster {
	return &RedisRoster{client: client, prefix: rosterPrefix}
}

func (r *RedisRoster) key(templateID string) string {
	return r.prefix + templateID
}

func (r *RedisRoster) Join(ctx context.Context, entry Entry) ([]Entry, error) {
	payload, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("marshal presence entry: %w", err)
	}

	key := r.key(entry.TemplateID)
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key, entry.SocketID, payload)
	pipe.Expire(ctx, key, rosterTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("join roster: %w", err)
	}
	return r.Members(ctx, entry.TemplateID)
}

func (r *RedisRoster) Leave(ctx context.Context, templateID, socketID string) (Entry, bool, error) {
	key := r.key(templateID)
	raw, err := r.client.HGet(ctx, key, socketID).Result()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("read roster entry: %w", err)
	}

	removed, err := r.client.HDel(ctx, key, socketID).Result()
	if err != nil {
		return Entry{}, false, fmt.Errorf("leave roster: %w", err)
	}
	if removed == 0 {
		return Entry{}, false, nil
	}

	var entry Entry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return Entry{}, true, fmt.Errorf("unmarshal presence entry: %w", err)
	}
	return entry, true, nil
}

func (r *RedisRoster) Members(ctx context.Context, templateID string) ([]Entry, error) {
	fields, err := r.client.HGetAll(ctx, r.key(templateID)).Result()
	if err != nil {
		return nil, fmt.Errorf("read roster: %w", err)
	}
	sessions := make(map[string]Entry, len(fields))
	for socketID, raw := range fields {
		var entry Entry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			return nil, fmt.Errorf("unmarshal presence entry: %w", err)
		}
		sessions[socketID] = entry
	}
	return sortEntries(sessions), nil
}

func (r *RedisRoster) SetEditing(ctx context.Context, templateID, socketID, cardID string) error {
	key := r.key(templateID)
	raw, err := r.client.HGet(ctx, key, socketID).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read roster entry: %w", err)
	}
	var entry Entry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return fmt.Errorf("unmarshal presence entry: %w", err)
	}
	entry.EditingCardID = cardID
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal presence entry: %w", err)
	}
	if err := r.client.HSet(ctx, key, socketID, payload).Err(); err != nil {
		return fmt.Errorf("update roster entry: %w", err)
	}
	return nil
}

// Ping reports whether Redis is reachable.
func (r *RedisRoster) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// RedisFanout relays broadcasts between instances over pub/sub. Messages an
// instance published itself are ignored on receipt.
type RedisFanout struct {
	client   *redis.Client
	channel  string
	instance string
}

func NewRedisFanout(client *redis.Client, instance string) *RedisFanout {
	return &RedisFanout{client: client, channel: fanoutChannel, instance: instance}
}

func (f *RedisFanout) Publish(ctx context.Context, b Broadcast) error {
	b.Origin = f.instance
	payload, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("marshal broadcast: %w", err)
	}
	if err := f.client.Publish(ctx, f.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish broadcast: %w", err)
	}
	return nil
}

// Subscribe delivers broadcasts from other instances until ctx is done. ready,
// when non-nil, is closed once the subscription is active.
func (f *RedisFanout) Subscribe(ctx context.Context, ready chan<- struct{}, deliver func(Broadcast)) error {
	sub := f.client.Subscribe(ctx, f.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		if ready != nil {
			close(ready)
		}
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("subscribe %s: %w", f.channel, err)
	}
	if ready != nil {
		close(ready)
	}

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			var b Broadcast
			if err := json.Unmarshal([]byte(msg.Payload), &b); err != nil {
				continue
			}
			if b.Origin == f.instance {
				continue
			}
			deliver(b)
		}
	}
}
