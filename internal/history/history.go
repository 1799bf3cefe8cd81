package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"

	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/insight/config"
	core "github.com/mohammad-safakhou/insight/internal/agent/core"
)

const historyKeyPrefix = "history:"

// Archive keeps the recent conversation of each user in Redis so the planner
// can resolve follow-up questions. Entries are stored oldest first; the list
// is trimmed to a bounded number of messages on every append.
type Archive struct {
	client *redis.Client
	limit  int
}

// New connects to Redis and returns an Archive keeping at most limit messages
// per user.
func New(cfg config.RedisConfig, limit int) *Archive {
	if limit <= 0 {
		limit = 10
	}
	client := redis.NewClient(&redis.Options{
		Addr:     net.JoinHostPort(cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &Archive{client: client, limit: limit}
}

// NewWithClient wraps an existing Redis client.
func NewWithClient(client *redis.Client, limit int) *Archive {
	if limit <= 0 {
		limit = 10
	}
	return &Archive{client: client, limit: limit}
}

func userKey(userID string) string { return historyKeyPrefix + userID }

// Append records one message at the end of the user's conversation and trims
// the list to the configured limit.
func (a *Archive) Append(ctx context.Context, userID string, msg core.HistoryMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	key := userKey(userID)
	pipe := a.client.TxPipeline()
	pipe.RPush(ctx, key, payload)
	pipe.LTrim(ctx, key, int64(-a.limit), -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("appending history for %s: %w", userID, err)
	}
	return nil
}

// Recent returns the user's conversation, oldest first. A user with no
// history gets an empty slice, not an error.
func (a *Archive) Recent(ctx context.Context, userID string) ([]core.HistoryMessage, error) {
	values, err := a.client.LRange(ctx, userKey(userID), 0, -1).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading history for %s: %w", userID, err)
	}
	messages := make([]core.HistoryMessage, 0, len(values))
	for _, v := range values {
		var msg core.HistoryMessage
		if err := json.Unmarshal([]byte(v), &msg); err != nil {
			continue // skip entries written by older versions
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// Clear drops the user's conversation.
func (a *Archive) Clear(ctx context.Context, userID string) error {
	return a.client.Del(ctx, userKey(userID)).Err()
}

// Close releases the underlying Redis connection.
func (a *Archive) Close() error { return a.client.Close() }
