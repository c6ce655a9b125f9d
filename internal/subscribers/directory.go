// Package subscribers adapts the external recipient directory. The pipeline
// only ever asks it for "all active chat IDs" and records add/deactivate;
// recipient lists are never cached across notification runs.
package subscribers

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"bolivarwatch/internal/config"
)

const keyPrefix = "subscriber:"

// Subscriber is one opt-in Telegram recipient.
type Subscriber struct {
	ChatID       string
	Username     string
	SubscribedAt time.Time
	Active       bool
}

// Directory reads and writes the subscriber store.
type Directory interface {
	Add(ctx context.Context, chatID, username string) error
	Deactivate(ctx context.Context, chatID string) error
	IsSubscribed(ctx context.Context, chatID string) (bool, error)
	ActiveChatIDs(ctx context.Context) ([]string, error)
}

// RedisDirectory stores each subscriber as a hash under subscriber:<chatID>.
type RedisDirectory struct {
	client *redis.Client
	logger zerolog.Logger
}

// NewRedisDirectory connects to Redis and verifies the connection.
func NewRedisDirectory(cfg config.RedisConfig, logger zerolog.Logger) (*RedisDirectory, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisDirectoryWithClient(client, logger), nil
}

// NewRedisDirectoryWithClient wraps an existing client (used by tests).
func NewRedisDirectoryWithClient(client *redis.Client, logger zerolog.Logger) *RedisDirectory {
	return &RedisDirectory{
		client: client,
		logger: logger.With().Str("component", "subscriber_directory").Logger(),
	}
}

// Close releases the Redis connection.
func (d *RedisDirectory) Close() error {
	if d == nil || d.client == nil {
		return nil
	}
	return d.client.Close()
}

// Add registers a recipient. Re-adding an existing chat ID reactivates it.
func (d *RedisDirectory) Add(ctx context.Context, chatID, username string) error {
	if chatID == "" {
		return fmt.Errorf("chat id required")
	}

	fields := map[string]interface{}{
		"chat_id":       chatID,
		"username":      username,
		"subscribed_at": time.Now().UTC().Format(time.RFC3339),
		"active":        "true",
	}
	if err := d.client.HSet(ctx, keyPrefix+chatID, fields).Err(); err != nil {
		return fmt.Errorf("add subscriber %s: %w", chatID, err)
	}

	d.logger.Info().Str("chat_id", chatID).Msg("subscriber registered")
	return nil
}

// Deactivate marks a recipient inactive. The hash stays behind; a
// re-subscribe rewrites it, including subscribed_at.
func (d *RedisDirectory) Deactivate(ctx context.Context, chatID string) error {
	if chatID == "" {
		return fmt.Errorf("chat id required")
	}
	if err := d.client.HSet(ctx, keyPrefix+chatID, "active", "false").Err(); err != nil {
		return fmt.Errorf("deactivate subscriber %s: %w", chatID, err)
	}

	d.logger.Info().Str("chat_id", chatID).Msg("subscriber deactivated")
	return nil
}

// IsSubscribed reports whether the chat ID exists and is active.
func (d *RedisDirectory) IsSubscribed(ctx context.Context, chatID string) (bool, error) {
	fields, err := d.client.HGetAll(ctx, keyPrefix+chatID).Result()
	if err != nil {
		return false, fmt.Errorf("check subscriber %s: %w", chatID, err)
	}
	return fields["active"] == "true", nil
}

// ActiveChatIDs returns every active recipient identifier.
func (d *RedisDirectory) ActiveChatIDs(ctx context.Context) ([]string, error) {
	keys, err := d.client.Keys(ctx, keyPrefix+"*").Result()
	if err != nil {
		return nil, fmt.Errorf("list subscriber keys: %w", err)
	}

	chatIDs := make([]string, 0, len(keys))
	for _, key := range keys {
		fields, err := d.client.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("read subscriber %s: %w", key, err)
		}
		if fields["active"] == "true" && fields["chat_id"] != "" {
			chatIDs = append(chatIDs, fields["chat_id"])
		}
	}
	return chatIDs, nil
}

var _ Directory = (*RedisDirectory)(nil)
