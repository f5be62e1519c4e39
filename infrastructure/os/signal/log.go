package signal

import (
	"github.com/ringchain/ringd/infrastructure/logger"
)

var log = logger.RegisterSubSystem("RNGD")
