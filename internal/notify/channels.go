package notify

import (
	"newapi-checkin/config"
)

// Channels builds every supported channel from configuration. Channels whose
// secrets are missing are still returned and get skipped at dispatch. HTTP
// channels go out through proxy when it is set.
func Channels(cfg config.NotifyConfig, proxy string, rabbit config.RabbitMQConfig, publish PublishFunc) []Channel {
	return []Channel{
		Email{
			User:   cfg.EmailUser,
			Pass:   cfg.EmailPass,
			To:     cfg.EmailTo,
			Sender: cfg.EmailSender,
			Server: cfg.SMTPServer,
			Port:   cfg.SMTPPort,
		},
		Webhook{URL: cfg.WebhookURL, Proxy: proxy},
		PushPlus{Token: cfg.PushPlusToken, Proxy: proxy},
		ServerChan{Key: cfg.ServerChanKey, Proxy: proxy},
		DingTalk{Webhook: cfg.DingTalkWebhook, Proxy: proxy},
		Feishu{Webhook: cfg.FeishuWebhook, Proxy: proxy},
		WeCom{Webhook: cfg.WeComWebhook, Proxy: proxy},
		Telegram{BotToken: cfg.TelegramBotToken, ChatID: cfg.TelegramChatID, Proxy: proxy},
		AMQP{Publish: publish, Exchange: rabbit.Exchange, RoutingKey: rabbit.RoutingKey},
	}
}
