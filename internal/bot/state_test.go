package bot

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/crawlpilot/beercrawl/config"
)

func newStateStore(t *testing.T) (*StateStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewStateStore(rdb, config.DefaultBotConfig(), zap.NewNop()), mr
}

func TestStateStore(t *testing.T) {
	ctx := context.Background()

	t.Run("round trip", func(t *testing.T) {
		s, _ := newStateStore(t)
		in := &SignupState{Step: StepGroupType, Name: "Sam", Area: "ancoats"}
		require.NoError(t, s.Put(ctx, "447700900001", in))

		out, err := s.Get(ctx, "447700900001")
		require.NoError(t, err)
		require.NotNil(t, out)
		assert.Equal(t, in, out)
	})

	t.Run("missing state is nil", func(t *testing.T) {
		s, _ := newStateStore(t)
		out, err := s.Get(ctx, "447700900001")
		require.NoError(t, err)
		assert.Nil(t, out)
	})

	t.Run("state expires after the timeout", func(t *testing.T) {
		s, mr := newStateStore(t)
		require.NoError(t, s.Put(ctx, "447700900001", &SignupState{Step: StepArea}))

		mr.FastForward(config.DefaultBotConfig().StateTimeout)
		out, err := s.Get(ctx, "447700900001")
		require.NoError(t, err)
		assert.Nil(t, out)
	})

	t.Run("clear removes state", func(t *testing.T) {
		s, _ := newStateStore(t)
		require.NoError(t, s.Put(ctx, "447700900001", &SignupState{Step: StepArea}))
		require.NoError(t, s.Clear(ctx, "447700900001"))

		out, err := s.Get(ctx, "447700900001")
		require.NoError(t, err)
		assert.Nil(t, out)
	})

	t.Run("corrupt state is dropped", func(t *testing.T) {
		s, mr := newStateStore(t)
		mr.Set(stateKey("447700900001"), "{not json")

		out, err := s.Get(ctx, "447700900001")
		require.NoError(t, err)
		assert.Nil(t, out)
	})
}

func TestExtractOption(t *testing.T) {
	areas := config.DefaultBotConfig().Areas

	t.Run("matches inside free text", func(t *testing.T) {
		got, ok := ExtractOption("I'm in the Northern Quarter tonight", areas)
		require.True(t, ok)
		assert.Equal(t, "northern quarter", got)
	})

	t.Run("no match", func(t *testing.T) {
		_, ok := ExtractOption("salford", areas)
		assert.False(t, ok)
	})

	t.Run("longest option wins", func(t *testing.T) {
		got, ok := ExtractOption("female", config.DefaultBotConfig().Genders)
		require.True(t, ok)
		assert.Equal(t, "female", got)
	})
}
