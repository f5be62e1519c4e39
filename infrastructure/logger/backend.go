package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/jrick/logrotate/rotator"
	"github.com/pkg/errors"
)

// Flags that change how the backend formats entries.
const (
	// LogFlagLongFile prefixes each entry with the full path and line of the call site.
	LogFlagLongFile uint32 = 1 << iota

	// LogFlagShortFile prefixes each entry with the file name and line of the
	// call site. It takes precedence over LogFlagLongFile.
	LogFlagShortFile
)

const (
	defaultThresholdKB = 100 * 1000
	defaultMaxRolls    = 8
	entryQueueSize     = 256
)

// flagsFromEnvironment reads the comma separated LOGFLAGS variable.
func flagsFromEnvironment() (flags uint32) {
	for _, f := range strings.Split(os.Getenv("LOGFLAGS"), ",") {
		switch f {
		case "longfile":
			flags |= LogFlagLongFile
		case "shortfile":
			flags |= LogFlagShortFile
		}
	}
	return flags
}

type logEntry struct {
	line  []byte
	level Level
}

type levelWriter struct {
	io.WriteCloser
	minLevel Level
}

// Backend serialises entries from every subsystem logger and fans them out
// to its writers, each of which has its own minimum level.
type Backend struct {
	flags     uint32
	running   uint32
	writers   []levelWriter
	entries   chan logEntry
	closeOnce sync.Once
	done      chan struct{}
}

// NewBackend returns a backend using the flags from LOGFLAGS.
func NewBackend() *Backend {
	return NewBackendWithFlags(flagsFromEnvironment())
}

// NewBackendWithFlags returns a backend with explicit formatting flags.
func NewBackendWithFlags(flags uint32) *Backend {
	return &Backend{
		flags:   flags,
		entries: make(chan logEntry, entryQueueSize),
		done:    make(chan struct{}),
	}
}

// AddLogFile registers a rotated log file receiving entries at logLevel and above.
func (b *Backend) AddLogFile(logFile string, logLevel Level) error {
	return b.AddLogFileWithCustomRotator(logFile, logLevel, defaultThresholdKB, defaultMaxRolls)
}

// AddLogFileWithCustomRotator is AddLogFile with explicit rotation settings.
func (b *Backend) AddLogFileWithCustomRotator(logFile string, logLevel Level, thresholdKB int64, maxRolls int) error {
	if b.IsRunning() {
		return errors.New("cannot add a log file to a running backend")
	}
	if logDir, _ := filepath.Split(logFile); logDir != "" {
		err := os.MkdirAll(logDir, 0700)
		if err != nil {
			return errors.Wrapf(err, "failed to create log directory %s", logDir)
		}
	}
	r, err := rotator.New(logFile, thresholdKB, false, maxRolls)
	if err != nil {
		return errors.Wrapf(err, "failed to create rotator for %s", logFile)
	}
	b.writers = append(b.writers, levelWriter{WriteCloser: r, minLevel: logLevel})
	return nil
}

// AddLogWriter registers an arbitrary writer receiving entries at logLevel and above.
func (b *Backend) AddLogWriter(w io.WriteCloser, logLevel Level) error {
	if b.IsRunning() {
		return errors.New("cannot add a log writer to a running backend")
	}
	b.writers = append(b.writers, levelWriter{WriteCloser: w, minLevel: logLevel})
	return nil
}

// Run starts delivering entries. It may only be called once.
func (b *Backend) Run() error {
	if !atomic.CompareAndSwapUint32(&b.running, 0, 1) {
		return errors.New("the log backend is already running")
	}
	go func() {
		defer close(b.done)
		defer func() {
			if r := recover(); r != nil {
				fmt.Fprintf(os.Stderr, "Fatal error in log backend: %+v\n%s\n", r, debug.Stack())
			}
		}()
		for entry := range b.entries {
			for _, w := range b.writers {
				if entry.level >= w.minLevel {
					_, _ = w.Write(entry.line)
				}
			}
		}
	}()
	return nil
}

// IsRunning reports whether Run was called.
func (b *Backend) IsRunning() bool {
	return atomic.LoadUint32(&b.running) == 1
}

// Close flushes queued entries and closes every writer.
func (b *Backend) Close() {
	b.closeOnce.Do(func() {
		close(b.entries)
		if b.IsRunning() {
			<-b.done
		}
		for _, w := range b.writers {
			_ = w.Close()
		}
	})
}

// Logger returns a logger for the given subsystem tag. New loggers start
// with LevelInfo.
func (b *Backend) Logger(subsystemTag string) *Logger {
	l := &Logger{tag: subsystemTag, backend: b}
	l.SetLevel(LevelInfo)
	return l
}

func (b *Backend) write(level Level, line []byte) {
	if !b.IsRunning() {
		return
	}
	defer func() {
		// Writes racing Close are dropped.
		_ = recover()
	}()
	b.entries <- logEntry{line: line, level: level}
}
