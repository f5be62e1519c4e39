package main

import (
	"os"

	"github.com/ringchain/ringd/app"
)

func main() {
	if err := app.StartApp(); err != nil {
		os.Exit(1)
	}
}
