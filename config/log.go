package config

import (
	"github.com/orbisnet/orbisd/infrastructure/logger"
)

var log = logger.RegisterSubSystem("CNFG")
