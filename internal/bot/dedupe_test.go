package bot

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/crawlpilot/beercrawl/config"
)

func newDeduper(t *testing.T) (*Deduper, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewDeduper(rdb, config.DefaultBotConfig(), zap.NewNop()), mr
}

func TestDeduper(t *testing.T) {
	ctx := context.Background()

	t.Run("first message passes, repeat is dropped", func(t *testing.T) {
		d, _ := newDeduper(t)
		assert.False(t, d.IsDuplicate(ctx, "447700900001", "join"))
		assert.True(t, d.IsDuplicate(ctx, "447700900001", "join"))
	})

	t.Run("cosmetic variants collide", func(t *testing.T) {
		d, _ := newDeduper(t)
		require.False(t, d.IsDuplicate(ctx, "447700900001", "Join"))
		assert.True(t, d.IsDuplicate(ctx, "447700900001", "  JOIN  "))
	})

	t.Run("user cooldown blocks different text", func(t *testing.T) {
		d, _ := newDeduper(t)
		require.False(t, d.IsDuplicate(ctx, "447700900001", "join"))
		assert.True(t, d.IsDuplicate(ctx, "447700900001", "help"))
	})

	t.Run("cooldowns expire", func(t *testing.T) {
		d, mr := newDeduper(t)
		cfg := config.DefaultBotConfig()
		require.False(t, d.IsDuplicate(ctx, "447700900001", "join"))

		mr.FastForward(cfg.UserCooldown)
		// User cooldown gone, message cooldown still holding the exact text.
		assert.True(t, d.IsDuplicate(ctx, "447700900001", "join"))
		assert.False(t, d.IsDuplicate(ctx, "447700900001", "help"))

		mr.FastForward(cfg.MessageCooldown)
		assert.False(t, d.IsDuplicate(ctx, "447700900001", "join"))
	})

	t.Run("senders do not interfere", func(t *testing.T) {
		d, _ := newDeduper(t)
		require.False(t, d.IsDuplicate(ctx, "447700900001", "join"))
		assert.False(t, d.IsDuplicate(ctx, "447700900002", "join"))
	})

	t.Run("fails open when redis is down", func(t *testing.T) {
		d, mr := newDeduper(t)
		mr.Close()
		assert.False(t, d.IsDuplicate(ctx, "447700900001", "join"))
	})
}

func TestMessageKeyProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("normalization-insensitive", prop.ForAll(
		func(sender, text string) bool {
			return MessageKey(sender, text) == MessageKey(sender, "  "+text+"  ")
		},
		gen.RegexMatch(`[0-9]{6,12}`),
		gen.AnyString(),
	))

	properties.Property("sender-scoped", prop.ForAll(
		func(a, b, text string) bool {
			if a == b {
				return true
			}
			return MessageKey(a, text) != MessageKey(b, text)
		},
		gen.RegexMatch(`[0-9]{6,12}`),
		gen.RegexMatch(`[0-9]{6,12}`),
		gen.RegexMatch(`[a-z ]{0,30}`),
	))

	properties.TestingRun(t)
}
