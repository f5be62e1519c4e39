package peerpool

import (
	"github.com/ringchain/ringd/infrastructure/logger"
	"github.com/ringchain/ringd/util/panics"
)

var log = logger.RegisterSubSystem("PEER")
var spawn = panics.GoroutineWrapperFunc(log)
