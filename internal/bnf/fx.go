package bnf

import (
	"go.uber.org/fx"
)

var Module = fx.Module("bnf.importer",
	fx.Provide(NewClient),
	fx.Provide(New),
)
