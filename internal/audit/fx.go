package audit

import (
	"github.com/servicepad/servicepad/internal/audit/repository"
	"github.com/servicepad/servicepad/internal/audit/service"
	"go.uber.org/fx"
)

var Module = fx.Module("audit.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
