package order

import (
	"github.com/smallbiznis/storefront/internal/order/repository"
	"github.com/smallbiznis/storefront/internal/order/service"
	"go.uber.org/fx"
)

var Module = fx.Module("order.materializer",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewMaterializer),
)
