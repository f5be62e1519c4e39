package panics

import (
	"fmt"
	"os"
	"runtime/debug"
	"time"

	"github.com/ringchain/ringd/infrastructure/logger"
)

const exitHandlerTimeout = 5 * time.Second

// HandlePanic recovers a panic, logs it together with the stack trace of the
// goroutine's spawner and exits the process.
func HandlePanic(log *logger.Logger, spawnerStackTrace []byte) {
	err := recover()
	if err == nil {
		return
	}
	exit(log, fmt.Sprintf("Fatal error: %+v", err), debug.Stack(), spawnerStackTrace)
}

// GoroutineWrapperFunc returns a spawn function whose goroutines exit the
// process through HandlePanic on panic.
func GoroutineWrapperFunc(log *logger.Logger) func(name string, f func()) {
	return func(name string, f func()) {
		stackTrace := debug.Stack()
		go func() {
			log.Tracef("Started goroutine %s", name)
			defer log.Tracef("Ended goroutine %s", name)
			defer HandlePanic(log, stackTrace)
			f()
		}()
	}
}

// AfterFuncWrapperFunc is GoroutineWrapperFunc for time.AfterFunc.
func AfterFuncWrapperFunc(log *logger.Logger) func(name string, d time.Duration, f func()) *time.Timer {
	return func(name string, d time.Duration, f func()) *time.Timer {
		stackTrace := debug.Stack()
		return time.AfterFunc(d, func() {
			log.Tracef("Running timer %s", name)
			defer HandlePanic(log, stackTrace)
			f()
		})
	}
}

// Exit logs reason and exits the process.
func Exit(log *logger.Logger, reason string) {
	exit(log, reason, nil, nil)
}

func exit(log *logger.Logger, reason string, currentStackTrace, spawnerStackTrace []byte) {
	flushed := make(chan struct{})
	go func() {
		log.Criticalf("Exiting: %s", reason)
		if spawnerStackTrace != nil {
			log.Criticalf("Goroutine spawned at: %s", spawnerStackTrace)
		}
		if currentStackTrace != nil {
			log.Criticalf("Stack trace: %s", currentStackTrace)
		}
		log.Backend().Close()
		close(flushed)
	}()

	select {
	case <-time.After(exitHandlerTimeout):
		fmt.Fprintln(os.Stderr, "Couldn't exit gracefully.")
	case <-flushed:
	}
	os.Exit(1)
}
