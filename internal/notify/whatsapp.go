package notify

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// WhatsAppMessage is the body consumed by the WhatsApp gateway from the queue.
type WhatsAppMessage struct {
	To        string `json:"to"`
	Message   string `json:"message"`
	WithImage bool   `json:"with_image"`
}

// Publisher is the subset of *amqp.Channel the dispatcher needs.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// WhatsAppDispatcher publishes messages to a durable RabbitMQ queue drained
// by the WhatsApp gateway.
type WhatsAppDispatcher struct {
	pub   Publisher
	queue string
	log   *zap.Logger
}

func NewWhatsAppDispatcher(pub Publisher, queue string, log *zap.Logger) *WhatsAppDispatcher {
	return &WhatsAppDispatcher{
		pub:   pub,
		queue: queue,
		log:   log,
	}
}

func (d *WhatsAppDispatcher) Send(ctx context.Context, phone, text string) error {
	if phone == "" {
		return fmt.Errorf("whatsapp: empty recipient")
	}

	body, err := json.Marshal(WhatsAppMessage{To: phone, Message: text})
	if err != nil {
		return fmt.Errorf("whatsapp: marshal message: %w", err)
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Headers: amqp.Table{
			"message_type":     "JSON",
			"requeue_strategy": "DROP",
		},
	}

	if err := d.pub.PublishWithContext(ctx, "", d.queue, false, false, msg); err != nil {
		d.log.Error("whatsapp publish failed", zap.String("queue", d.queue), zap.Error(err))
		return fmt.Errorf("whatsapp: publish to %s: %w", d.queue, err)
	}

	d.log.Debug("whatsapp message queued", zap.String("queue", d.queue))
	return nil
}
