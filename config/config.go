package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"newapi-checkin/internal/pkg/httpclient"
)

type Env string

const (
	Dev        Env = "development"
	Test       Env = "test"
	Production Env = "production"
)

type NotifyMode string

const (
	NotifyChanges NotifyMode = "changes"
	NotifyAlways  NotifyMode = "always"
	NotifyNever   NotifyMode = "never"
)

type Config struct {
	AppName string
	ENV     Env
	AppPort int

	LogLevel string

	// Raw JSON payloads, parsed by internal/account and internal/provider.
	Accounts        string
	Providers       string
	DefaultProvider string

	// Proxy applies to the browser and every outbound HTTP client unless an
	// account sets its own. Normalized to a URL.
	Proxy string

	Run     RunConfig
	Browser BrowserConfig
	Notify  NotifyConfig

	// Postgres (optional; enabled only when DBHost + DBName are set).
	DBUser     string
	DBPassword string
	DBHost     string
	DBPort     int
	DBName     string

	// Redis (optional; enabled only when RedisHost is set).
	RedisUser     string
	RedisPassword string
	RedisHost     string
	RedisPort     int
	RedisScheme   string

	Turso    TursoConfig
	RabbitMQ RabbitMQConfig

	CORSAllowedOrigins []string
}

type RunConfig struct {
	Timeout          time.Duration
	Concurrency      int
	HTTPTimeout      time.Duration
	LoginTimeout     time.Duration
	RetryAttempts    int
	RetryBackoff     time.Duration
	ProviderInterval time.Duration
}

type BrowserConfig struct {
	Headless  bool
	NoSandbox bool
	RemoteURL string
	ExecPath  string
	UserAgent string
}

type NotifyConfig struct {
	Mode            NotifyMode
	BalanceHashFile string

	EmailUser   string
	EmailPass   string
	EmailTo     string
	EmailSender string
	SMTPServer  string
	SMTPPort    int

	WebhookURL       string
	PushPlusToken    string
	ServerChanKey    string
	DingTalkWebhook  string
	FeishuWebhook    string
	WeComWebhook     string
	TelegramBotToken string
	TelegramChatID   string
}

type TursoConfig struct {
	DSN   string
	Path  string
	Token string
}

type RabbitMQConfig struct {
	URL        string
	Exchange   string
	RoutingKey string
}

const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/138.0.0.0 Safari/537.36"

func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("APP_NAME", "newapi-checkin")
	v.SetDefault("APP_ENV", string(Dev))
	v.SetDefault("APP_PORT", 8080)
	v.SetDefault("LOG_LEVEL", "info")

	v.SetDefault("DEFAULT_PROVIDER", "anyrouter")

	v.SetDefault("RUN_TIMEOUT", 15*time.Minute)
	v.SetDefault("ACCOUNT_CONCURRENCY", 1)
	v.SetDefault("HTTP_TIMEOUT", 30*time.Second)
	v.SetDefault("LOGIN_TIMEOUT", 3*time.Minute)
	v.SetDefault("CHECKIN_RETRY_ATTEMPTS", 2)
	v.SetDefault("CHECKIN_RETRY_BACKOFF", 5*time.Second)
	v.SetDefault("PROVIDER_MIN_INTERVAL", time.Second)

	v.SetDefault("BROWSER_HEADLESS", true)
	v.SetDefault("BROWSER_NO_SANDBOX", true)
	v.SetDefault("BROWSER_USER_AGENT", DefaultUserAgent)

	v.SetDefault("NOTIFY_MODE", string(NotifyChanges))
	v.SetDefault("BALANCE_HASH_FILE", "balance_hash.txt")
	v.SetDefault("CUSTOM_SMTP_PORT", 465)

	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_SCHEME", "redis")

	v.SetDefault("RABBITMQ_EXCHANGE", "checkin")
	v.SetDefault("RABBITMQ_ROUTING_KEY", "checkin.summary")

	return v
}

func NewConfig(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		AppName: v.GetString("APP_NAME"),
		ENV:     Env(strings.ToLower(strings.TrimSpace(v.GetString("APP_ENV")))),
		AppPort: v.GetInt("APP_PORT"),

		LogLevel: v.GetString("LOG_LEVEL"),

		Accounts:        v.GetString("ACCOUNTS"),
		Providers:       v.GetString("PROVIDERS"),
		DefaultProvider: strings.TrimSpace(v.GetString("DEFAULT_PROVIDER")),

		Run: RunConfig{
			Timeout:          v.GetDuration("RUN_TIMEOUT"),
			Concurrency:      v.GetInt("ACCOUNT_CONCURRENCY"),
			HTTPTimeout:      v.GetDuration("HTTP_TIMEOUT"),
			LoginTimeout:     v.GetDuration("LOGIN_TIMEOUT"),
			RetryAttempts:    v.GetInt("CHECKIN_RETRY_ATTEMPTS"),
			RetryBackoff:     v.GetDuration("CHECKIN_RETRY_BACKOFF"),
			ProviderInterval: v.GetDuration("PROVIDER_MIN_INTERVAL"),
		},

		Browser: BrowserConfig{
			Headless:  v.GetBool("BROWSER_HEADLESS"),
			NoSandbox: v.GetBool("BROWSER_NO_SANDBOX"),
			RemoteURL: strings.TrimSpace(v.GetString("BROWSER_REMOTE_URL")),
			ExecPath:  strings.TrimSpace(v.GetString("BROWSER_EXEC_PATH")),
			UserAgent: v.GetString("BROWSER_USER_AGENT"),
		},

		Notify: NotifyConfig{
			Mode:            NotifyMode(strings.ToLower(strings.TrimSpace(v.GetString("NOTIFY_MODE")))),
			BalanceHashFile: v.GetString("BALANCE_HASH_FILE"),

			EmailUser:   v.GetString("EMAIL_USER"),
			EmailPass:   v.GetString("EMAIL_PASS"),
			EmailTo:     v.GetString("EMAIL_TO"),
			EmailSender: v.GetString("EMAIL_SENDER"),
			SMTPServer:  v.GetString("CUSTOM_SMTP_SERVER"),
			SMTPPort:    v.GetInt("CUSTOM_SMTP_PORT"),

			WebhookURL:       v.GetString("WEBHOOK_URL"),
			PushPlusToken:    v.GetString("PUSHPLUS_TOKEN"),
			ServerChanKey:    v.GetString("SERVERPUSHKEY"),
			DingTalkWebhook:  v.GetString("DINGDING_WEBHOOK"),
			FeishuWebhook:    v.GetString("FEISHU_WEBHOOK"),
			WeComWebhook:     v.GetString("WEIXIN_WEBHOOK"),
			TelegramBotToken: v.GetString("TELEGRAM_BOT_TOKEN"),
			TelegramChatID:   v.GetString("TELEGRAM_CHAT_ID"),
		},

		DBUser:     v.GetString("DB_USER"),
		DBPassword: v.GetString("DB_PASSWORD"),
		DBHost:     v.GetString("DB_HOST"),
		DBPort:     v.GetInt("DB_PORT"),
		DBName:     v.GetString("DB_NAME"),

		RedisUser:     v.GetString("REDIS_USER"),
		RedisPassword: v.GetString("REDIS_PASSWORD"),
		RedisHost:     v.GetString("REDIS_HOST"),
		RedisPort:     v.GetInt("REDIS_PORT"),
		RedisScheme:   v.GetString("REDIS_SCHEME"),

		Turso: TursoConfig{
			DSN:   v.GetString("TURSO_DATABASE_URL"),
			Path:  v.GetString("SQLITE_PATH"),
			Token: v.GetString("TURSO_AUTH_TOKEN"),
		},

		RabbitMQ: RabbitMQConfig{
			URL:        v.GetString("RABBITMQ_URL"),
			Exchange:   v.GetString("RABBITMQ_EXCHANGE"),
			RoutingKey: v.GetString("RABBITMQ_ROUTING_KEY"),
		},

		CORSAllowedOrigins: splitList(v.GetString("CORS_ALLOWED_ORIGINS")),
	}

	proxy, err := httpclient.NormalizeProxy(v.GetString("PROXY"))
	if err != nil {
		return nil, fmt.Errorf("invalid PROXY: %w", err)
	}
	cfg.Proxy = proxy

	if cfg.AppPort <= 0 || cfg.AppPort > 65535 {
		return nil, fmt.Errorf("invalid APP_PORT %d", cfg.AppPort)
	}
	if cfg.DBPort <= 0 || cfg.DBPort > 65535 {
		return nil, fmt.Errorf("invalid DB_PORT %d", cfg.DBPort)
	}
	if cfg.RedisPort <= 0 || cfg.RedisPort > 65535 {
		return nil, fmt.Errorf("invalid REDIS_PORT %d", cfg.RedisPort)
	}
	if cfg.Run.Timeout <= 0 {
		return nil, fmt.Errorf("invalid RUN_TIMEOUT %s", cfg.Run.Timeout)
	}
	if cfg.Run.Concurrency <= 0 {
		return nil, fmt.Errorf("invalid ACCOUNT_CONCURRENCY %d", cfg.Run.Concurrency)
	}
	if cfg.Run.HTTPTimeout <= 0 {
		return nil, fmt.Errorf("invalid HTTP_TIMEOUT %s", cfg.Run.HTTPTimeout)
	}
	if cfg.Run.LoginTimeout < cfg.Run.HTTPTimeout {
		return nil, fmt.Errorf("invalid LOGIN_TIMEOUT %s (must not be shorter than HTTP_TIMEOUT %s)", cfg.Run.LoginTimeout, cfg.Run.HTTPTimeout)
	}
	if cfg.Run.RetryAttempts < 0 {
		return nil, fmt.Errorf("invalid CHECKIN_RETRY_ATTEMPTS %d", cfg.Run.RetryAttempts)
	}
	if cfg.Run.RetryBackoff < 0 {
		return nil, fmt.Errorf("invalid CHECKIN_RETRY_BACKOFF %s", cfg.Run.RetryBackoff)
	}
	if cfg.Run.ProviderInterval < 0 {
		return nil, fmt.Errorf("invalid PROVIDER_MIN_INTERVAL %s", cfg.Run.ProviderInterval)
	}
	switch cfg.Notify.Mode {
	case NotifyChanges, NotifyAlways, NotifyNever:
	default:
		return nil, fmt.Errorf("invalid NOTIFY_MODE %q", cfg.Notify.Mode)
	}
	if cfg.Notify.SMTPPort <= 0 || cfg.Notify.SMTPPort > 65535 {
		return nil, fmt.Errorf("invalid CUSTOM_SMTP_PORT %d", cfg.Notify.SMTPPort)
	}

	return cfg, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
