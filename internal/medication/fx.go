package medication

import (
	"github.com/medicost/medtrack/internal/medication/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("medication",
	fx.Provide(repository.Provide),
)
