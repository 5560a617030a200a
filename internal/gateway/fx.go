package gateway

import (
	"github.com/smallbiznis/payflow/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("gateway",
	fx.Provide(func(holder *config.GatewayConfigHolder, log *zap.Logger) Service {
		return WithStatusCache(NewClient(Params{Holder: holder, Log: log}))
	}),
)
