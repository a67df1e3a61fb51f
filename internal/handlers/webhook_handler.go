package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/crawlpilot/beercrawl/config"
	"github.com/crawlpilot/beercrawl/internal/bot"
	"github.com/crawlpilot/beercrawl/internal/services"
	"github.com/crawlpilot/beercrawl/pkg/whatsapp"
	"github.com/crawlpilot/beercrawl/utils/ratelimit"
)

// WebhookHandler receives WhatsApp deliveries. Inbound messages are
// deduplicated and rate limited at the edge, then queued; all the heavy
// lifting happens in the task consumer so the gateway gets its 200
// quickly.
type WebhookHandler struct {
	deduper   *bot.Deduper
	limiter   ratelimit.Limiter
	enq       *bot.Enqueuer
	responses *services.ResponseService
	cfg       config.BotConfig
	verify    string
	logger    *zap.Logger
}

func NewWebhookHandler(
	deduper *bot.Deduper,
	limiter ratelimit.Limiter,
	enq *bot.Enqueuer,
	responses *services.ResponseService,
	cfg config.BotConfig,
	verifyToken string,
	logger *zap.Logger,
) *WebhookHandler {
	return &WebhookHandler{
		deduper:   deduper,
		limiter:   limiter,
		enq:       enq,
		responses: responses,
		cfg:       cfg,
		verify:    verifyToken,
		logger:    logger,
	}
}

// Verify answers the Meta-style subscription handshake.
func (h *WebhookHandler) Verify(c *gin.Context) {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	if mode == "subscribe" && token == h.verify {
		c.String(http.StatusOK, challenge)
		return
	}
	c.JSON(http.StatusForbidden, gin.H{"error": "verification failed"})
}

// Receive handles an inbound delivery. The gateway retries non-2xx
// responses, so after the dedup keys are set this always answers 200 and
// failures are only logged.
func (h *WebhookHandler) Receive(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	msg, err := whatsapp.ParseWebhook(body)
	if errors.Is(err, whatsapp.ErrNotAMessage) {
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}
	if err != nil {
		h.logger.Warn("unparseable webhook payload", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad payload"})
		return
	}

	ctx := c.Request.Context()

	if h.deduper.IsDuplicate(ctx, msg.Sender, msg.Text) {
		c.JSON(http.StatusOK, gin.H{"status": "duplicate"})
		return
	}

	allowed, err := h.limiter.Allow(ctx, "webhook:"+msg.Sender, h.cfg.RateLimitMax, h.cfg.RateLimitWindow)
	if err != nil {
		h.logger.Error("rate limit check failed", zap.Error(err))
	}
	if !allowed {
		minutes := int(h.cfg.RateLimitWindow.Minutes())
		text := h.responses.Render(ctx, services.RespRateLimit, map[string]string{
			"minutes": strconv.Itoa(minutes),
		})
		if err := h.enq.SendMessage(ctx, bot.SendMessagePayload{To: msg.Sender, Text: text}); err != nil {
			h.logger.Error("failed to queue rate limit notice", zap.Error(err))
		}
		c.JSON(http.StatusOK, gin.H{"status": "rate_limited"})
		return
	}

	if err := h.enq.ProcessMessage(ctx, bot.ProcessMessagePayload{
		Sender: msg.Sender,
		Name:   msg.Name,
		Text:   msg.Text,
	}); err != nil {
		h.logger.Error("failed to queue inbound message",
			zap.String("sender", msg.Sender),
			zap.Error(err),
		)
		c.JSON(http.StatusOK, gin.H{"status": "error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "queued"})
}
