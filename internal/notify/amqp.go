package notify

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// PublishFunc matches (*amqp.Channel).PublishWithContext.
type PublishFunc func(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error

// AMQP publishes the summary as a JSON event, for downstream consumers.
type AMQP struct {
	Publish    PublishFunc
	Exchange   string
	RoutingKey string
}

type summaryEvent struct {
	EventName string    `json:"event_name"`
	EventID   string    `json:"event_id"`
	TS        time.Time `json:"ts"`
	Title     string    `json:"title"`
	Text      string    `json:"text"`
	Data      any       `json:"data"`
}

func (a AMQP) Name() string     { return "amqp" }
func (a AMQP) Configured() bool { return a.Publish != nil }

func (a AMQP) Send(ctx context.Context, msg Message) error {
	now := time.Now().UTC()
	body, err := json.Marshal(summaryEvent{
		EventName: "checkin/run.finished",
		EventID:   msg.Summary.RunID,
		TS:        now,
		Title:     msg.Title,
		Text:      msg.Text,
		Data:      msg.Summary,
	})
	if err != nil {
		return err
	}

	return a.Publish(ctx, a.Exchange, a.RoutingKey, false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		Timestamp:    now,
		MessageId:    msg.Summary.RunID,
		Body:         body,
	})
}
