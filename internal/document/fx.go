package document

import (
	"github.com/servicepad/servicepad/internal/document/builder"
	"github.com/servicepad/servicepad/internal/document/draft"
	"github.com/servicepad/servicepad/internal/document/service"
	"go.uber.org/fx"
)

var Module = fx.Module("document",
	fx.Provide(
		service.NewService,
		draft.NewFactory,
		builder.NewFactory,
	),
)
