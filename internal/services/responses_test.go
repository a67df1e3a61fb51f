package services

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newResponseService(t *testing.T) (*ResponseService, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewResponseService(rdb, testLogger()), mr
}

func TestResponseRegistry(t *testing.T) {
	ctx := context.Background()

	t.Run("defaults when nothing stored", func(t *testing.T) {
		s, _ := newResponseService(t)
		assert.Contains(t, s.Get(ctx, RespWelcome), "beer crawl")
	})

	t.Run("stored override wins", func(t *testing.T) {
		s, _ := newResponseService(t)
		require.NoError(t, s.Save(ctx, map[string]string{RespWelcome: "custom greeting"}))
		assert.Equal(t, "custom greeting", s.Get(ctx, RespWelcome))
		// Kinds without an override keep their default.
		assert.Contains(t, s.Get(ctx, RespHelp), "help")
	})

	t.Run("render substitutes placeholders", func(t *testing.T) {
		s, _ := newResponseService(t)
		out := s.Render(ctx, RespGroupWaiting, map[string]string{
			"area":    "ancoats",
			"current": "2",
			"needed":  "1",
		})
		assert.Contains(t, out, "ancoats")
		assert.Contains(t, out, "2 members")
		assert.NotContains(t, out, "{area}")
	})

	t.Run("save rejects unknown kinds", func(t *testing.T) {
		s, _ := newResponseService(t)
		err := s.Save(ctx, map[string]string{"no_such_kind": "text"})
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("all merges defaults with overrides", func(t *testing.T) {
		s, _ := newResponseService(t)
		require.NoError(t, s.Save(ctx, map[string]string{RespGoodbye: "bye"}))

		all, err := s.All(ctx)
		require.NoError(t, err)
		assert.Equal(t, "bye", all[RespGoodbye])
		assert.Len(t, all, len(defaultResponses))
	})

	t.Run("falls back to defaults when redis is down", func(t *testing.T) {
		s, mr := newResponseService(t)
		mr.Close()
		assert.NotEmpty(t, s.Get(ctx, RespWelcome))
	})
}
