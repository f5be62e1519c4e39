package logger

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"
)

// Logger writes leveled entries for one subsystem.
type Logger struct {
	level   uint32
	tag     string
	backend *Backend
}

// Level returns the current level.
func (l *Logger) Level() Level {
	return Level(atomic.LoadUint32(&l.level))
}

// SetLevel changes the level.
func (l *Logger) SetLevel(level Level) {
	atomic.StoreUint32(&l.level, uint32(level))
}

// Backend returns the backend this logger writes to.
func (l *Logger) Backend() *Backend {
	return l.backend
}

func (l *Logger) Tracef(format string, args ...interface{})    { l.writef(LevelTrace, format, args) }
func (l *Logger) Debugf(format string, args ...interface{})    { l.writef(LevelDebug, format, args) }
func (l *Logger) Infof(format string, args ...interface{})     { l.writef(LevelInfo, format, args) }
func (l *Logger) Warnf(format string, args ...interface{})     { l.writef(LevelWarn, format, args) }
func (l *Logger) Errorf(format string, args ...interface{})    { l.writef(LevelError, format, args) }
func (l *Logger) Criticalf(format string, args ...interface{}) { l.writef(LevelCritical, format, args) }

func (l *Logger) Trace(args ...interface{})    { l.write(LevelTrace, args) }
func (l *Logger) Debug(args ...interface{})    { l.write(LevelDebug, args) }
func (l *Logger) Info(args ...interface{})     { l.write(LevelInfo, args) }
func (l *Logger) Warn(args ...interface{})     { l.write(LevelWarn, args) }
func (l *Logger) Error(args ...interface{})    { l.write(LevelError, args) }
func (l *Logger) Critical(args ...interface{}) { l.write(LevelCritical, args) }

func (l *Logger) writef(level Level, format string, args []interface{}) {
	if level < l.Level() {
		return
	}
	l.backend.write(level, l.format(level, fmt.Sprintf(format, args...)))
}

func (l *Logger) write(level Level, args []interface{}) {
	if level < l.Level() {
		return
	}
	l.backend.write(level, l.format(level, fmt.Sprint(args...)))
}

// format renders "2006-01-02 15:04:05.000 [LVL] TAG: file:line message\n".
func (l *Logger) format(level Level, message string) []byte {
	var buf bytes.Buffer
	buf.WriteString(time.Now().Format("2006-01-02 15:04:05.000"))
	buf.WriteString(" [")
	buf.WriteString(level.String())
	buf.WriteString("] ")
	buf.WriteString(l.tag)
	buf.WriteString(": ")
	if l.backend.flags&(LogFlagShortFile|LogFlagLongFile) != 0 {
		buf.WriteString(callSite(l.backend.flags))
		buf.WriteByte(' ')
	}
	buf.WriteString(message)
	if len(message) == 0 || message[len(message)-1] != '\n' {
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

func callSite(flags uint32) string {
	_, file, line, ok := runtime.Caller(4)
	if !ok {
		return "???:0"
	}
	if flags&LogFlagShortFile != 0 {
		file = filepath.Base(file)
	}
	return file + ":" + strconv.Itoa(line)
}

type stdoutWriter struct{}

func (stdoutWriter) Write(p []byte) (int, error) { return os.Stdout.Write(p) }
func (stdoutWriter) Close() error                { return nil }
