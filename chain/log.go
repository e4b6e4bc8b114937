package chain

import "github.com/orbisnet/orbisd/infrastructure/logger"

var log = logger.RegisterSubSystem("CHAN")
