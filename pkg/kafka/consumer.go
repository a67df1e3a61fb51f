package kafka

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/crawlpilot/beercrawl/config"
)

// MessageHandler processes one consumed message. A returned error
// triggers the retry path and, eventually, the dead letter queue.
type MessageHandler func(ctx context.Context, message *sarama.ConsumerMessage) error

// Consumer drains the tasks topic through a consumer group. Each message
// is retried with exponential backoff; messages that still fail are
// shipped to the DLQ topic and marked consumed so the partition keeps
// moving.
type Consumer struct {
	group       sarama.ConsumerGroup
	cfg         *config.KafkaConfig
	handler     MessageHandler
	dlqProducer *Producer
	topics      []string
	logger      *zap.Logger
	ready       chan bool
	wg          sync.WaitGroup
	cancel      context.CancelFunc
}

type groupHandler struct {
	consumer *Consumer
}

func NewConsumer(cfg *config.KafkaConfig, topics []string, handler MessageHandler, logger *zap.Logger) (*Consumer, error) {
	sc := sarama.NewConfig()
	sc.Version = sarama.V2_6_0_0
	sc.Consumer.Group.Rebalance.Strategy = sarama.NewBalanceStrategyRoundRobin()
	sc.Consumer.Offsets.Initial = sarama.OffsetNewest
	sc.Consumer.Return.Errors = true

	sc.Net.DialTimeout = 10 * time.Second
	sc.Net.ReadTimeout = 10 * time.Second
	sc.Net.WriteTimeout = 10 * time.Second
	sc.Metadata.Retry.Max = 3
	sc.Metadata.Retry.Backoff = 250 * time.Millisecond
	sc.Metadata.Timeout = 10 * time.Second

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.ConsumerGroup, sc)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer group: %w", err)
	}

	dlqProducer, err := NewProducer(cfg)
	if err != nil {
		group.Close()
		return nil, fmt.Errorf("failed to create DLQ producer: %w", err)
	}

	return &Consumer{
		group:       group,
		cfg:         cfg,
		handler:     handler,
		dlqProducer: dlqProducer,
		topics:      topics,
		logger:      logger,
		ready:       make(chan bool),
	}, nil
}

// Start joins the consumer group and blocks until the first rebalance
// completes, then consumes in the background until Stop or context
// cancellation.
func (c *Consumer) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		handler := &groupHandler{consumer: c}
		for {
			if ctx.Err() != nil {
				return
			}
			if err := c.group.Consume(ctx, c.topics, handler); err != nil {
				c.logger.Error("consumer group session ended with error", zap.Error(err))
			}
			if ctx.Err() != nil {
				return
			}
			// Consume returns on rebalance, re-arm the readiness gate.
			c.ready = make(chan bool)
		}
	}()

	<-c.ready
	return nil
}

func (c *Consumer) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()

	if err := c.group.Close(); err != nil {
		return fmt.Errorf("failed to close kafka consumer group: %w", err)
	}
	if err := c.dlqProducer.Close(); err != nil {
		return fmt.Errorf("failed to close DLQ producer: %w", err)
	}
	return nil
}

// Ready is closed once the consumer has claimed its partitions.
func (c *Consumer) Ready() <-chan bool {
	return c.ready
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error {
	close(h.consumer.ready)
	return nil
}

func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message := <-claim.Messages():
			if message == nil {
				return nil
			}

			if err := h.processWithRetry(session.Context(), message); err != nil {
				if dlqErr := h.sendToDLQ(session.Context(), message, err); dlqErr != nil {
					h.consumer.logger.Error("failed to ship message to DLQ",
						zap.String("topic", message.Topic),
						zap.Int32("partition", message.Partition),
						zap.Int64("offset", message.Offset),
						zap.Error(dlqErr),
					)
				}
			}
			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

func (h *groupHandler) processWithRetry(ctx context.Context, message *sarama.ConsumerMessage) error {
	maxRetries := h.consumer.cfg.Consumer.MaxRetries
	backoff := time.Duration(h.consumer.cfg.Consumer.RetryBackoffMs) * time.Millisecond

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := h.consumer.handler(ctx, message)
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt < maxRetries {
			time.Sleep(backoff)
			backoff *= 2
		}
	}
	return fmt.Errorf("failed after %d retries: %w", maxRetries, lastErr)
}

func (h *groupHandler) sendToDLQ(ctx context.Context, message *sarama.ConsumerMessage, processingErr error) error {
	_, _, err := h.consumer.dlqProducer.Produce(ctx, h.consumer.cfg.Topics.DLQ, message.Key, message.Value)
	if err != nil {
		return err
	}
	h.consumer.logger.Warn("message shipped to DLQ",
		zap.String("topic", message.Topic),
		zap.Int32("partition", message.Partition),
		zap.Int64("offset", message.Offset),
		zap.Error(processingErr),
	)
	return nil
}
