package blockdownloader

import (
	"github.com/ringchain/ringd/infrastructure/logger"
	"github.com/ringchain/ringd/util/panics"
)

var log = logger.RegisterSubSystem("BDWN")
var spawn = panics.GoroutineWrapperFunc(log)
