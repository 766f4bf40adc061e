package service

import (
	"encoding/json"

	"github.com/nats-io/nats.go"
	"github.com/shortloop/shortloop/internal/app/model"
)

// ClickPublisher fans recorded click events out to JetStream. The
// Postgres transaction in the repository is the source of truth; this
// stream is an at-least-once feed for observers (metrics, exports).
type ClickPublisher struct {
	js nats.JetStreamContext
}

// NewClickPublisher creates a publisher over the given JetStream context.
func NewClickPublisher(js nats.JetStreamContext) *ClickPublisher {
	return &ClickPublisher{js: js}
}

// Publish pushes one already-persisted event onto the stream.
func (p *ClickPublisher) Publish(event *model.ClickEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = p.js.Publish(model.ClickStreamSubject, data)
	return err
}
