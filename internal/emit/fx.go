package emit

import (
	"go.uber.org/fx"
)

var Module = fx.Module("emit.importer",
	fx.Provide(New),
)
