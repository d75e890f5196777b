// Package amqpclient opens the optional RabbitMQ connection the summary
// channel publishes on.
package amqpclient

import (
	"context"
	"fmt"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"newapi-checkin/config"
)

type NewAMQPParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    *config.Config
	Logger    *zap.SugaredLogger
}

type AMQPOut struct {
	fx.Out

	Conn    *amqp.Connection
	Channel *amqp.Channel
}

// exchangeDeclarer is the part of *amqp.Channel used for topology.
type exchangeDeclarer interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
}

var dial = amqp.Dial

// NewAMQP returns nil handles when RABBITMQ_URL is unset.
func NewAMQP(p NewAMQPParams) (AMQPOut, error) {
	url := strings.TrimSpace(p.Config.RabbitMQ.URL)
	if url == "" {
		p.Logger.Infow("rabbitmq_disabled", "reason", "missing RABBITMQ_URL")
		return AMQPOut{}, nil
	}

	conn, err := dial(url)
	if err != nil {
		return AMQPOut{}, fmt.Errorf("rabbitmq dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return AMQPOut{}, fmt.Errorf("rabbitmq channel: %w", err)
	}

	if err := DeclareExchange(ch, p.Config.RabbitMQ.Exchange); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return AMQPOut{}, err
	}

	p.Lifecycle.Append(fx.Hook{
		OnStop: func(context.Context) error {
			_ = ch.Close()
			_ = conn.Close()
			return nil
		},
	})

	p.Logger.Infow("rabbitmq_enabled",
		"exchange", p.Config.RabbitMQ.Exchange,
		"routing_key", p.Config.RabbitMQ.RoutingKey,
	)
	return AMQPOut{Conn: conn, Channel: ch}, nil
}

// DeclareExchange declares the durable topic exchange run summaries go to.
// The default exchange ("") needs no declaration.
func DeclareExchange(ch exchangeDeclarer, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}
	if err := ch.ExchangeDeclare(name, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("rabbitmq declare exchange %q: %w", name, err)
	}
	return nil
}
