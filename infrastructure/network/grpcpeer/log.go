package grpcpeer

import (
	"github.com/ringchain/ringd/infrastructure/logger"
	"github.com/ringchain/ringd/util/panics"
)

var log = logger.RegisterSubSystem("GRPC")
var spawn = panics.GoroutineWrapperFunc(log)
