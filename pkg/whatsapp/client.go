package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/crawlpilot/beercrawl/config"
)

// Client sends messages through the Green API gateway. Numbers are
// plain digits; the gateway chat id suffix is added on send.
type Client struct {
	baseURL    string
	instanceID string
	token      string
	httpClient *http.Client
	logger     *zap.Logger
}

const chatSuffix = "@c.us"

func NewClient(cfg config.WhatsAppConfig, logger *zap.Logger) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.green-api.com"
	}
	timeout := cfg.SendTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		instanceID: cfg.InstanceID,
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type sendMessageRequest struct {
	ChatID  string `json:"chatId"`
	Message string `json:"message"`
}

// SendText delivers a text message to a number. Transient failures get
// one retry after a short backoff; the task queue owns further retries.
func (c *Client) SendText(ctx context.Context, to, text string) error {
	chatID := to
	if !strings.Contains(chatID, "@") {
		chatID += chatSuffix
	}
	body, err := json.Marshal(sendMessageRequest{ChatID: chatID, Message: text})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/waInstance%s/sendMessage/%s", c.baseURL, c.instanceID, c.token)

	err = c.post(ctx, url, body)
	if err == nil {
		return nil
	}
	c.logger.Warn("send failed, retrying once", zap.String("to", to), zap.Error(err))

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(500 * time.Millisecond):
	}
	if err := c.post(ctx, url, body); err != nil {
		return fmt.Errorf("failed to send whatsapp message: %w", err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("gateway returned %d: %s", resp.StatusCode, string(snippet))
	}
	return nil
}
