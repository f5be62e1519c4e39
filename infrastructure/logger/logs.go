package logger

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

var (
	backendLog = NewBackend()

	subsystemLoggersMutex sync.Mutex
	subsystemLoggers      = make(map[string]*Logger)
)

// BackendLog returns the process wide backend.
func BackendLog() *Backend {
	return backendLog
}

// RegisterSubSystem returns the logger for tag, creating it on first use.
func RegisterSubSystem(tag string) *Logger {
	subsystemLoggersMutex.Lock()
	defer subsystemLoggersMutex.Unlock()
	l, ok := subsystemLoggers[tag]
	if !ok {
		l = backendLog.Logger(tag)
		subsystemLoggers[tag] = l
	}
	return l
}

// InitLog attaches stdout, the main log file and the error log file to the
// backend and starts it.
func InitLog(logFile, errLogFile string) {
	err := backendLog.AddLogFile(logFile, LevelTrace)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error adding log file %s as log rotator for level %s: %s\n", logFile, LevelTrace, err)
		os.Exit(1)
	}
	err = backendLog.AddLogFile(errLogFile, LevelWarn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error adding log file %s as log rotator for level %s: %s\n", errLogFile, LevelWarn, err)
		os.Exit(1)
	}
	InitLogStdout(LevelInfo)
}

// InitLogStdout attaches stdout at logLevel and starts the backend if it
// is not running yet.
func InitLogStdout(logLevel Level) {
	err := backendLog.AddLogWriter(stdoutWriter{}, logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error adding stdout to the logger for level %s: %s\n", logLevel, err)
		os.Exit(1)
	}
	if !backendLog.IsRunning() {
		err = backendLog.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error starting the logger: %s\n", err)
			os.Exit(1)
		}
	}
}

// SetLogLevels sets every registered subsystem to level.
func SetLogLevels(level Level) {
	subsystemLoggersMutex.Lock()
	defer subsystemLoggersMutex.Unlock()
	for _, l := range subsystemLoggers {
		l.SetLevel(level)
	}
}

// SupportedSubsystems returns the sorted registered subsystem tags.
func SupportedSubsystems() []string {
	subsystemLoggersMutex.Lock()
	defer subsystemLoggersMutex.Unlock()
	tags := make([]string, 0, len(subsystemLoggers))
	for tag := range subsystemLoggers {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// ParseAndSetLogLevels applies debug levels of the form "info" or
// "info,BDWN=debug,CSTR=trace".
func ParseAndSetLogLevels(debugLevel string) error {
	for _, part := range strings.Split(debugLevel, ",") {
		if part == "" {
			continue
		}
		if !strings.Contains(part, "=") {
			level, ok := LevelFromString(part)
			if !ok {
				return errors.Errorf("the specified debug level [%s] is invalid", part)
			}
			SetLogLevels(level)
			continue
		}
		fields := strings.SplitN(part, "=", 2)
		tag, levelName := fields[0], fields[1]
		subsystemLoggersMutex.Lock()
		l, ok := subsystemLoggers[tag]
		subsystemLoggersMutex.Unlock()
		if !ok {
			return errors.Errorf("the specified subsystem [%s] is invalid, supported subsystems are %v",
				tag, SupportedSubsystems())
		}
		level, ok := LevelFromString(levelName)
		if !ok {
			return errors.Errorf("the specified debug level [%s] is invalid", levelName)
		}
		l.SetLevel(level)
	}
	return nil
}
