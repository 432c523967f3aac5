package eventstreamrpc

import (
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	connectionLoggerKey = "connection"
	streamLoggerKey     = "stream"
	operationLoggerKey  = "operation"
)

var packageLogger atomic.Pointer[logrus.Logger]

func init() {
	packageLogger.Store(logrus.StandardLogger())
}

// SetLogger replaces the logger used by connections created afterwards.
func SetLogger(logger *logrus.Logger) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	packageLogger.Store(logger)
}

// SetLogLevel parses level and applies it to the current logger.
func SetLogLevel(level string) error {
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	packageLogger.Load().SetLevel(parsed)
	return nil
}

// InitLogger sets up the text formatter used by the command line tools.
func InitLogger(level logrus.Level) *logrus.Logger {
	logger := logrus.New()
	formatter := new(logrus.TextFormatter)
	formatter.TimestampFormat = "2006-01-02 15:04:05"
	formatter.FullTimestamp = true
	logger.SetFormatter(formatter)
	logger.SetLevel(level)
	SetLogger(logger)
	return logger
}

// defaultLog returns an entry without connection fields.
func defaultLog() *logrus.Entry {
	return logrus.NewEntry(packageLogger.Load())
}

// newConnectionLog returns an entry tagged with a fresh connection id.
func newConnectionLog() (*logrus.Entry, string) {
	id, err := uuid.NewRandom()
	if err != nil {
		return defaultLog(), ""
	}
	return defaultLog().WithField(connectionLoggerKey, id.String()), id.String()
}
