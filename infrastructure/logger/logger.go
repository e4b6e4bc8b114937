package logger

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"
)

type logEntry struct {
	log   []byte
	level Level
}

// Logger is a subsystem logger. All loggers created from the same Backend
// share its writers; the per-logger level filters what this subsystem emits.
type Logger struct {
	lvl       Level // atomic, holds a Level value
	tag       string
	b         *Backend
	writeChan chan logEntry
}

// Level returns the current logging level of the logger.
func (l *Logger) Level() Level {
	return Level(atomic.LoadUint32((*uint32)(&l.lvl)))
}

// SetLevel changes the logging level of the logger.
func (l *Logger) SetLevel(logLevel Level) {
	atomic.StoreUint32((*uint32)(&l.lvl), uint32(logLevel))
}

// Backend returns the backend this logger writes to.
func (l *Logger) Backend() *Backend {
	return l.b
}

func (l *Logger) shouldLog(logLevel Level) bool {
	return logLevel >= l.Level() && l.b.IsRunning()
}

// callerDepth is the number of stack frames between the logging callsite and
// runtime.Caller inside write.
const callerDepth = 3

func (l *Logger) write(logLevel Level, msg string) {
	t := time.Now()
	buf := make([]byte, 0, normalLogSize)
	buf = t.AppendFormat(buf, "2006-01-02 15:04:05.000")
	buf = append(buf, " ["...)
	buf = append(buf, logLevel.String()...)
	buf = append(buf, "] "...)
	buf = append(buf, l.tag...)
	if l.b.flag&(LogFlagShortFile|LogFlagLongFile) != 0 {
		file, line := callsite(l.b.flag)
		buf = append(buf, ' ')
		buf = append(buf, file...)
		buf = append(buf, ':')
		buf = append(buf, strconv.Itoa(line)...)
	}
	buf = append(buf, ": "...)
	buf = append(buf, msg...)
	if len(msg) == 0 || msg[len(msg)-1] != '\n' {
		buf = append(buf, '\n')
	}
	l.writeChan <- logEntry{buf, logLevel}
}

// callsite returns the file name and line of the logging callsite, honoring
// the short/long file flags.
func callsite(flag uint32) (string, int) {
	_, file, line, ok := runtime.Caller(callerDepth)
	if !ok {
		return "???", 0
	}
	if flag&LogFlagShortFile != 0 {
		short := file
		for i := len(file) - 1; i > 0; i-- {
			if os.IsPathSeparator(file[i]) {
				short = file[i+1:]
				break
			}
		}
		file = short
	}
	return file, line
}

func (l *Logger) print(logLevel Level, args ...interface{}) {
	if !l.shouldLog(logLevel) {
		return
	}
	l.write(logLevel, fmt.Sprint(args...))
}

func (l *Logger) printf(logLevel Level, format string, args ...interface{}) {
	if !l.shouldLog(logLevel) {
		return
	}
	l.write(logLevel, fmt.Sprintf(format, args...))
}

// Trace formats a message using the default formats for its operands and
// writes it at level trace.
func (l *Logger) Trace(args ...interface{}) {
	l.print(LevelTrace, args...)
}

// Tracef formats a message according to a format specifier and writes it at
// level trace.
func (l *Logger) Tracef(format string, args ...interface{}) {
	l.printf(LevelTrace, format, args...)
}

// Debug formats a message using the default formats for its operands and
// writes it at level debug.
func (l *Logger) Debug(args ...interface{}) {
	l.print(LevelDebug, args...)
}

// Debugf formats a message according to a format specifier and writes it at
// level debug.
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.printf(LevelDebug, format, args...)
}

// Info formats a message using the default formats for its operands and
// writes it at level info.
func (l *Logger) Info(args ...interface{}) {
	l.print(LevelInfo, args...)
}

// Infof formats a message according to a format specifier and writes it at
// level info.
func (l *Logger) Infof(format string, args ...interface{}) {
	l.printf(LevelInfo, format, args...)
}

// Warn formats a message using the default formats for its operands and
// writes it at level warn.
func (l *Logger) Warn(args ...interface{}) {
	l.print(LevelWarn, args...)
}

// Warnf formats a message according to a format specifier and writes it at
// level warn.
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.printf(LevelWarn, format, args...)
}

// Error formats a message using the default formats for its operands and
// writes it at level error.
func (l *Logger) Error(args ...interface{}) {
	l.print(LevelError, args...)
}

// Errorf formats a message according to a format specifier and writes it at
// level error.
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.printf(LevelError, format, args...)
}

// Critical formats a message using the default formats for its operands and
// writes it at level critical.
func (l *Logger) Critical(args ...interface{}) {
	l.print(LevelCritical, args...)
}

// Criticalf formats a message according to a format specifier and writes it
// at level critical.
func (l *Logger) Criticalf(format string, args ...interface{}) {
	l.printf(LevelCritical, format, args...)
}

// IsLevelEnabled reports whether messages at the given level would be
// emitted, so that callers can avoid expensive argument construction.
func (l *Logger) IsLevelEnabled(logLevel Level) bool {
	return logLevel >= l.Level()
}

// LogAndMeasureExecutionTime logs the start of a long-running operation at
// the debug level and returns a function that logs its completion and
// duration. Call it as `defer LogAndMeasureExecutionTime(log, "op")()`.
func LogAndMeasureExecutionTime(log *Logger, operation string) func() {
	start := time.Now()
	log.Debugf("%s started", operation)
	return func() {
		log.Debugf("%s finished in %s", operation, time.Since(start))
	}
}
