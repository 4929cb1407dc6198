// Package providers bundles the outbound notification channels.
package providers

import (
	"github.com/smallbiznis/storefront/internal/providers/alert"
	"github.com/smallbiznis/storefront/internal/providers/email"
	"go.uber.org/fx"
)

// Module provides email.Provider for buyer mail and alert.Provider for ops.
var Module = fx.Module("providers", email.Module, alert.Module)
