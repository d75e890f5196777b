package fx

import (
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"newapi-checkin/config"
	"newapi-checkin/internal/notify"
	"newapi-checkin/internal/pkg/amqpclient"
)

var Module = fx.Module(
	"notify",
	fx.Provide(
		amqpclient.NewAMQP,
		NewPublishFunc,
		NewDispatcher,
	),
)

type NewPublishFuncParams struct {
	fx.In

	Channel *amqp.Channel `optional:"true"`
}

// NewPublishFunc is nil when RabbitMQ is disabled, which leaves the amqp
// channel unconfigured.
func NewPublishFunc(p NewPublishFuncParams) notify.PublishFunc {
	if p.Channel == nil {
		return nil
	}
	return p.Channel.PublishWithContext
}

func NewDispatcher(cfg *config.Config, publish notify.PublishFunc, log *zap.SugaredLogger) *notify.Dispatcher {
	return notify.NewDispatcher(
		log.With("component", "notify"),
		cfg.Run.HTTPTimeout,
		notify.Channels(cfg.Notify, cfg.Proxy, cfg.RabbitMQ, publish)...,
	)
}
