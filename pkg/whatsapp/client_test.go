package whatsapp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/crawlpilot/beercrawl/config"
)

func newTestClient(baseURL string) *Client {
	return NewClient(config.WhatsAppConfig{
		InstanceID:  "1101",
		Token:       "secret",
		BaseURL:     baseURL,
		SendTimeout: 2 * time.Second,
	}, zap.NewNop())
}

func TestSendText(t *testing.T) {
	t.Run("posts the gateway payload", func(t *testing.T) {
		var gotPath string
		var gotBody sendMessageRequest
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		c := newTestClient(srv.URL)
		require.NoError(t, c.SendText(context.Background(), "447700900001", "hello"))

		assert.Equal(t, "/waInstance1101/sendMessage/secret", gotPath)
		assert.Equal(t, "447700900001@c.us", gotBody.ChatID)
		assert.Equal(t, "hello", gotBody.Message)
	})

	t.Run("keeps an existing chat id suffix", func(t *testing.T) {
		var gotBody sendMessageRequest
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		}))
		defer srv.Close()

		c := newTestClient(srv.URL)
		require.NoError(t, c.SendText(context.Background(), "447700900001@c.us", "hi"))
		assert.Equal(t, "447700900001@c.us", gotBody.ChatID)
	})

	t.Run("retries once on server error", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 1 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		c := newTestClient(srv.URL)
		require.NoError(t, c.SendText(context.Background(), "447700900001", "hello"))
		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("gives up after the retry", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		c := newTestClient(srv.URL)
		err := c.SendText(context.Background(), "447700900001", "hello")
		assert.Error(t, err)
	})

	t.Run("honors context cancellation between attempts", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		c := newTestClient(srv.URL)
		err := c.SendText(ctx, "447700900001", "hello")
		assert.ErrorIs(t, err, context.Canceled)
	})
}
