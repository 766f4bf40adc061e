package service

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/shortloop/shortloop/internal/app/metrics"
	"github.com/shortloop/shortloop/internal/app/model"
	"go.uber.org/zap"
)

// ClickConsumer drains the click feed: it bumps the consumption counter
// and logs each event. The events are already persisted by the redirect
// path; redelivery after a missed ack is harmless here.
type ClickConsumer struct {
	js     nats.JetStreamContext
	logger *zap.Logger
	stop   chan struct{}
}

// NewClickConsumer creates a consumer over the given JetStream context.
func NewClickConsumer(js nats.JetStreamContext, logger *zap.Logger) *ClickConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClickConsumer{js: js, logger: logger, stop: make(chan struct{})}
}

// Start provisions the stream and durable consumer if needed and begins
// draining in the background.
func (c *ClickConsumer) Start() error {
	if _, err := c.js.StreamInfo(model.ClickStreamName); err != nil {
		_, err = c.js.AddStream(&nats.StreamConfig{
			Name:     model.ClickStreamName,
			Subjects: []string{model.ClickStreamSubject},
			MaxBytes: model.ClickStreamMaxBytes,
		})
		if err != nil {
			return fmt.Errorf("create click stream: %w", err)
		}
	}

	if _, err := c.js.ConsumerInfo(model.ClickStreamName, model.ClickConsumerName); err != nil {
		_, err = c.js.AddConsumer(model.ClickStreamName, &nats.ConsumerConfig{
			Durable:   model.ClickConsumerName,
			AckPolicy: nats.AckExplicitPolicy,
		})
		if err != nil {
			return fmt.Errorf("create click consumer: %w", err)
		}
	}

	sub, err := c.js.PullSubscribe(model.ClickStreamSubject, model.ClickConsumerName)
	if err != nil {
		return fmt.Errorf("subscribe to click stream: %w", err)
	}

	go c.consume(sub)
	return nil
}

// Stop ends the drain loop after the in-flight fetch completes.
func (c *ClickConsumer) Stop() {
	close(c.stop)
}

func (c *ClickConsumer) consume(sub *nats.Subscription) {
	for {
		select {
		case <-c.stop:
			c.logger.Info("click consumer stopped")
			return
		default:
		}

		msgs, err := sub.Fetch(10, nats.MaxWait(5*time.Second))
		if err != nil && err != nats.ErrTimeout {
			c.logger.Error("failed to fetch click events", zap.Error(err))
			continue
		}

		for _, msg := range msgs {
			var event model.ClickEvent
			if err := json.Unmarshal(msg.Data, &event); err != nil {
				c.logger.Error("failed to unmarshal click event", zap.Error(err))
				msg.Nak()
				continue
			}

			metrics.ClickEventsConsumed.Inc()
			c.logger.Debug("click event observed",
				zap.String("id", event.ID),
				zap.String("short_id", event.LinkShortID),
				zap.String("user_agent", event.UserAgent),
				zap.Time("time", event.Time),
			)
			msg.Ack()
		}
	}
}
