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

// normalLogSize is the initial buffer capacity for a formatted log line.
const normalLogSize = 512

// Callsite flags. LogFlagShortFile takes precedence when both are set.
const (
	// LogFlagLongFile includes the full path and line number of the
	// logging callsite, e.g. /a/b/c/main.go:123.
	LogFlagLongFile uint32 = 1 << iota

	// LogFlagShortFile includes the file name and line number of the
	// logging callsite, e.g. main.go:123.
	LogFlagShortFile
)

// flagsFromEnvironment reads the LOGFLAGS environment variable, a
// comma-separated list of "longfile" and "shortfile".
func flagsFromEnvironment() uint32 {
	var flags uint32
	for _, name := range strings.Split(os.Getenv("LOGFLAGS"), ",") {
		switch name {
		case "longfile":
			flags |= LogFlagLongFile
		case "shortfile":
			flags |= LogFlagShortFile
		}
	}
	return flags
}

// leveledWriter is one destination attached to a Backend. Entries below the
// writer's level are not handed to it.
type leveledWriter struct {
	out   io.WriteCloser
	level Level
}

// Backend fans formatted log entries out to its attached writers. All
// subsystem loggers created from one backend feed a single writer goroutine,
// so lines from concurrent subsystems never interleave.
type Backend struct {
	flag      uint32
	isRunning uint32
	writers   []leveledWriter
	writeChan chan logEntry
	flushed   sync.Mutex // held by the writer goroutine until it drains
}

// NewBackend creates a backend with no writers attached. Callsite flags are
// taken from the LOGFLAGS environment variable.
func NewBackend() *Backend {
	return &Backend{
		flag:      flagsFromEnvironment(),
		writeChan: make(chan logEntry),
	}
}

// Log rotation defaults: roll at 100 MB, keep the last 8 files.
const (
	rotateThresholdKB = 100 * 1000
	rotateMaxRolls    = 8
)

// AddLogFile attaches a rotated log file receiving entries at or above the
// given level. The file and its directory are created if missing.
func (b *Backend) AddLogFile(logFile string, logLevel Level) error {
	if b.IsRunning() {
		return errors.New("the logger is already running")
	}
	if logDir, _ := filepath.Split(logFile); logDir != "" {
		err := os.MkdirAll(logDir, 0700)
		if err != nil {
			return errors.Wrap(err, "failed to create log directory")
		}
	}
	r, err := rotator.New(logFile, rotateThresholdKB, false, rotateMaxRolls)
	if err != nil {
		return errors.Wrap(err, "failed to create file rotator")
	}
	b.writers = append(b.writers, leveledWriter{out: r, level: logLevel})
	return nil
}

// AddLogWriter attaches an arbitrary writer receiving entries at or above the
// given level.
func (b *Backend) AddLogWriter(out io.WriteCloser, logLevel Level) error {
	if b.IsRunning() {
		return errors.New("the logger is already running")
	}
	b.writers = append(b.writers, leveledWriter{out: out, level: logLevel})
	return nil
}

// Run starts the writer goroutine. No more writers may be attached once the
// backend is running.
func (b *Backend) Run() error {
	if !atomic.CompareAndSwapUint32(&b.isRunning, 0, 1) {
		return errors.New("the logger is already running")
	}
	go func() {
		defer func() {
			if err := recover(); err != nil {
				_, _ = fmt.Fprintf(os.Stderr, "Fatal error in logger.Backend goroutine: %+v\n", err)
				_, _ = fmt.Fprintf(os.Stderr, "Goroutine stacktrace: %s\n", debug.Stack())
			}
		}()
		b.drain()
	}()
	return nil
}

func (b *Backend) drain() {
	defer atomic.StoreUint32(&b.isRunning, 0)
	b.flushed.Lock()
	defer b.flushed.Unlock()

	for entry := range b.writeChan {
		for _, w := range b.writers {
			if entry.level >= w.level {
				_, _ = w.out.Write(entry.log)
			}
		}
	}
}

// IsRunning reports whether Run has been called and the backend has not been
// closed since.
func (b *Backend) IsRunning() bool {
	return atomic.LoadUint32(&b.isRunning) != 0
}

// Close stops the backend, waits for in-flight entries to be written, and
// closes every attached writer.
func (b *Backend) Close() {
	close(b.writeChan)
	b.flushed.Lock()
	defer b.flushed.Unlock()
	for _, w := range b.writers {
		_ = w.out.Close()
	}
}

// Logger returns a new logger for a particular subsystem that writes to the
// backend. The tag is included in every message the logger emits. New loggers
// start muted; RegisterSubSystem raises them to the info level.
func (b *Backend) Logger(subsystemTag string) *Logger {
	return &Logger{LevelOff, subsystemTag, b, b.writeChan}
}
