package ldb

import "github.com/ringchain/ringd/infrastructure/logger"

var log = logger.RegisterSubSystem("LDB")
