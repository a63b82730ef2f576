/*
amqp.go - RabbitMQ-backed notification dispatcher

Publishes notification events as JSON to a topic exchange; a downstream
worker owns rendering and delivery. Publish failures are logged and
dropped, keeping the fire-and-forget contract.
*/
package notify

import (
	"context"
	"encoding/json"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const notificationExchange = "studio.notifications"

// AMQPDispatcher publishes notification events to RabbitMQ.
type AMQPDispatcher struct {
	conn    *amqp.Connection
	channel *amqp.Channel
}

// NewAMQPDispatcher connects and declares the notification exchange.
func NewAMQPDispatcher(url string) (*AMQPDispatcher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := ch.ExchangeDeclare(notificationExchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	return &AMQPDispatcher{conn: conn, channel: ch}, nil
}

type notificationMessage struct {
	MemberID string            `json:"member_id"`
	Event    string            `json:"event"`
	Payload  map[string]string `json:"payload,omitempty"`
	SentAt   time.Time         `json:"sent_at"`
}

func (d *AMQPDispatcher) Notify(ctx context.Context, memberID string, event EventType, payload map[string]string) {
	body, err := json.Marshal(notificationMessage{
		MemberID: memberID,
		Event:    string(event),
		Payload:  payload,
		SentAt:   time.Now().UTC(),
	})
	if err != nil {
		log.Printf("[Notify] marshal failed event=%s: %v", event, err)
		return
	}

	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = d.channel.PublishWithContext(pubCtx,
		notificationExchange,
		string(event), // routing key
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
	if err != nil {
		log.Printf("[Notify] publish failed event=%s member=%s: %v", event, memberID, err)
	}
}

// Close releases the channel and connection.
func (d *AMQPDispatcher) Close() {
	if d.channel != nil {
		d.channel.Close()
	}
	if d.conn != nil {
		d.conn.Close()
	}
}
