package logger

import (
	"io"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

var (
	// backendLog is the logging backend used to create all subsystem
	// loggers.
	backendLog = NewBackend()

	registryMutex    sync.Mutex
	subsystemLoggers = make(map[string]*Logger)
)

// RegisterSubSystem returns the logger for the given subsystem tag, creating
// it with the info level if it was not registered before. Packages call this
// from their log.go to obtain their package-level logger.
func RegisterSubSystem(subsystem string) *Logger {
	registryMutex.Lock()
	defer registryMutex.Unlock()
	log, ok := subsystemLoggers[subsystem]
	if !ok {
		log = backendLog.Logger(subsystem)
		log.SetLevel(LevelInfo)
		subsystemLoggers[subsystem] = log
	}
	return log
}

// InitLog attaches the log file and error log file to the backend log and
// launches it. Messages logged before InitLog are dropped.
func InitLog(logFile, errLogFile string) error {
	err := backendLog.AddLogFile(logFile, LevelTrace)
	if err != nil {
		return errors.Wrapf(err, "error adding log file %s as log rotator for level %s",
			logFile, LevelTrace)
	}
	err = backendLog.AddLogFile(errLogFile, LevelWarn)
	if err != nil {
		return errors.Wrapf(err, "error adding log file %s as log rotator for level %s",
			errLogFile, LevelWarn)
	}
	return backendLog.Run()
}

// writerNopCloser adapts a writer whose Close must not close the underlying
// stream, such as os.Stdout.
type writerNopCloser struct {
	io.Writer
}

func (writerNopCloser) Close() error { return nil }

// AddConsoleOutput attaches a non-closing writer, typically os.Stdout, to
// the backend log.
func AddConsoleOutput(writer io.Writer, level Level) error {
	return backendLog.AddLogWriter(writerNopCloser{writer}, level)
}

// SetLogLevel sets the logging level for the provided subsystem. An error is
// returned if the subsystem is unknown.
func SetLogLevel(subsystemID string, logLevel string) error {
	level, ok := LevelFromString(logLevel)
	if !ok {
		return errors.Errorf("invalid log level %s", logLevel)
	}
	registryMutex.Lock()
	defer registryMutex.Unlock()
	log, ok := subsystemLoggers[subsystemID]
	if !ok {
		return errors.Errorf("unknown subsystem %s", subsystemID)
	}
	log.SetLevel(level)
	return nil
}

// SetLogLevels sets the log level for all registered subsystems.
func SetLogLevels(logLevel string) error {
	level, ok := LevelFromString(logLevel)
	if !ok {
		return errors.Errorf("invalid log level %s", logLevel)
	}
	registryMutex.Lock()
	defer registryMutex.Unlock()
	for _, log := range subsystemLoggers {
		log.SetLevel(level)
	}
	return nil
}

// SupportedSubsystems returns a sorted slice of the registered subsystems.
func SupportedSubsystems() []string {
	registryMutex.Lock()
	defer registryMutex.Unlock()
	subsystems := make([]string, 0, len(subsystemLoggers))
	for subsystem := range subsystemLoggers {
		subsystems = append(subsystems, subsystem)
	}
	sort.Strings(subsystems)
	return subsystems
}

// Close shuts down the backend log, flushing any pending writes.
func Close() {
	backendLog.Close()
}
