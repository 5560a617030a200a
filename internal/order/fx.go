package order

import (
	orderdomain "github.com/smallbiznis/payflow/internal/order/domain"
	"github.com/smallbiznis/payflow/internal/order/repository"
	orderservice "github.com/smallbiznis/payflow/internal/order/service"
	"go.uber.org/fx"
)

var Module = fx.Module("order.service",
	fx.Provide(repository.Provide),
	fx.Provide(orderservice.NewService),
	fx.Provide(func(s *orderservice.Service) orderdomain.Service { return s }),
)
