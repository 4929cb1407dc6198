package notification

import (
	"context"

	orderdomain "github.com/smallbiznis/storefront/internal/order/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("notification",
	fx.Provide(NewDispatcher),
	fx.Provide(func(d *Dispatcher) orderdomain.Listener { return d }),
	fx.Invoke(Start),
)

func Start(lc fx.Lifecycle, d *Dispatcher) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			d.Start()
			return nil
		},
		OnStop: d.Stop,
	})
}
