package fx

import (
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"newapi-checkin/config"
	"newapi-checkin/internal/balance"
)

var Module = fx.Module(
	"balance",
	fx.Provide(
		NewStore,
		balance.NewTracker,
	),
)

type NewStoreParams struct {
	fx.In

	Cfg    *config.Config
	Redis  *redis.Client `optional:"true"`
	Logger *zap.SugaredLogger
}

// NewStore keeps the fingerprint in redis when it is configured, otherwise in
// BALANCE_HASH_FILE.
func NewStore(p NewStoreParams) balance.Store {
	if p.Redis != nil {
		p.Logger.Infow("balance_store", "backend", "redis", "key", balance.DefaultRedisKey)
		return balance.NewRedisStore(p.Redis, balance.DefaultRedisKey)
	}
	p.Logger.Infow("balance_store", "backend", "file", "path", p.Cfg.Notify.BalanceHashFile)
	return balance.NewFileStore(p.Cfg.Notify.BalanceHashFile)
}
