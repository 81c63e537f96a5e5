package errors

import (
	stderrors "errors"

	"github.com/sirupsen/logrus"
)

// Logger augments a logrus.Logger with AppError-aware helpers: error code,
// retryability and attached context become structured fields automatically.
type Logger struct {
	*logrus.Logger
}

// WrapLogger adapts an existing logger.
func WrapLogger(logger *logrus.Logger) *Logger {
	return &Logger{Logger: logger}
}

// NewLogger creates a standalone JSON logger.
func NewLogger() *Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	return &Logger{Logger: logger}
}

// LogError logs err at error level with its structured context.
func (l *Logger) LogError(err error, message string, fields ...logrus.Fields) {
	l.entryFor(err, fields).Error(message)
}

// LogWarn logs err at warn level with its structured context.
func (l *Logger) LogWarn(err error, message string, fields ...logrus.Fields) {
	l.entryFor(err, fields).Warn(message)
}

// LogRetryableError picks the level from the error itself: transient faults
// the caller will retry are warnings, permanent ones are errors.
func (l *Logger) LogRetryableError(err error, message string, fields ...logrus.Fields) {
	if IsRetryable(err) {
		l.LogWarn(err, message, fields...)
	} else {
		l.LogError(err, message, fields...)
	}
}

func (l *Logger) entryFor(err error, fields []logrus.Fields) *logrus.Entry {
	entry := l.Logger.WithError(err)

	var appErr *AppError
	if stderrors.As(err, &appErr) {
		entry = entry.WithFields(logrus.Fields{
			"error_code": appErr.Code,
			"retryable":  appErr.Retryable,
		})
		if len(appErr.Context) > 0 {
			entry = entry.WithFields(logrus.Fields(appErr.Context))
		}
	}

	for _, f := range fields {
		entry = entry.WithFields(f)
	}
	return entry
}
