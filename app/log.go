package app

import (
	"github.com/ringchain/ringd/infrastructure/logger"
	"github.com/ringchain/ringd/util/panics"
)

var log = logger.RegisterSubSystem("RNGD")
var spawn = panics.GoroutineWrapperFunc(log)
