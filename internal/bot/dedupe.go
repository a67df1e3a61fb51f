package bot

import (
	"context"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/twmb/murmur3"
	"go.uber.org/zap"

	"github.com/crawlpilot/beercrawl/config"
)

// Deduper suppresses duplicate webhook deliveries and rapid-fire
// messages. Identical (sender, text) pairs inside the message cooldown
// are dropped, and each sender gets a short general cooldown between
// messages. The check is read-then-write: two identical messages landing
// in the same instant can both pass, which is an accepted race for this
// domain.
type Deduper struct {
	rdb    *redis.Client
	cfg    config.BotConfig
	logger *zap.Logger
}

// NewDeduper creates a new deduper instance
func NewDeduper(rdb *redis.Client, cfg config.BotConfig, logger *zap.Logger) *Deduper {
	return &Deduper{rdb: rdb, cfg: cfg, logger: logger}
}

// MessageKey builds the dedup cache key for a sender/text pair. The text
// is lowercased and trimmed first so webhook retries with cosmetic
// differences still collide.
func MessageKey(sender, text string) string {
	normalized := sender + ":" + strings.ToLower(strings.TrimSpace(text))
	h1, h2 := murmur3.StringSum128(normalized)
	return fmt.Sprintf("msg_dedupe:%016x%016x", h1, h2)
}

// IsDuplicate reports whether the message should be dropped: either the
// exact message was seen inside the message cooldown, or the sender is
// inside the per-user cooldown. A passing message marks both keys.
// Redis failures fail open so a cache outage never silences the bot.
func (d *Deduper) IsDuplicate(ctx context.Context, sender, text string) bool {
	msgKey := MessageKey(sender, text)
	userKey := "user_cooldown:" + sender

	exists, err := d.rdb.Exists(ctx, msgKey, userKey).Result()
	if err != nil {
		d.logger.Error("dedup check failed, allowing message", zap.Error(err))
		return false
	}
	if exists > 0 {
		d.logger.Debug("duplicate or cooldown, dropping message",
			zap.String("sender", sender),
		)
		return true
	}

	if err := d.rdb.SetEx(ctx, msgKey, "1", d.cfg.MessageCooldown).Err(); err != nil {
		d.logger.Error("failed to mark message as seen", zap.Error(err))
	}
	if err := d.rdb.SetEx(ctx, userKey, "1", d.cfg.UserCooldown).Err(); err != nil {
		d.logger.Error("failed to set user cooldown", zap.Error(err))
	}
	return false
}

// Clear removes dedup state for a sender. Used by tests and the admin
// tooling.
func (d *Deduper) Clear(ctx context.Context, sender, text string) error {
	return d.rdb.Del(ctx, MessageKey(sender, text), "user_cooldown:"+sender).Err()
}
