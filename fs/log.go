package fs

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// InitLogging configures the process-wide logger. level is a logrus level
// name; unknown values keep the default (info).
func InitLogging(level string, jsonFormat bool) {
	if lvl, err := logrus.ParseLevel(level); err == nil {
		logrus.SetLevel(lvl)
	}
	if jsonFormat {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

func logEntry(o interface{}) *logrus.Entry {
	if o == nil {
		return logrus.NewEntry(logrus.StandardLogger())
	}
	return logrus.StandardLogger().WithField("object", fmt.Sprint(o))
}

// Debugf writes debugging output for this object (adapter, server, task).
func Debugf(o interface{}, format string, args ...interface{}) {
	logEntry(o).Debugf(format, args...)
}

// Infof writes info output for this object.
func Infof(o interface{}, format string, args ...interface{}) {
	logEntry(o).Infof(format, args...)
}

// Warnf writes warning output for this object.
func Warnf(o interface{}, format string, args ...interface{}) {
	logEntry(o).Warnf(format, args...)
}

// Errorf writes error output for this object. It should always be seen by
// the user.
func Errorf(o interface{}, format string, args ...interface{}) {
	logEntry(o).Errorf(format, args...)
}
