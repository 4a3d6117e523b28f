package dispatch

import (
	paydomain "github.com/servicepad/servicepad/internal/payment/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("dispatch",
	fx.Provide(
		NewDispatcher,
		func(d *Dispatcher) paydomain.ConfirmationSender { return d },
	),
)
