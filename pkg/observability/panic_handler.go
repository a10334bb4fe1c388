package observability

import (
	"fmt"
	"runtime/debug"

	"github.com/sirupsen/logrus"
)

// RecoverPanic recovers from a panic and logs it with its stack.
// Use it in a defer at the top of long-lived goroutines (file watchers,
// scheduled jobs) so one bad iteration does not take the process down:
//
//	defer observability.RecoverPanic(logger, "catalog watcher")
func RecoverPanic(logger logrus.FieldLogger, where string) {
	if r := recover(); r != nil {
		logPanic(logger, where, r)
	}
}

// RecoverPanicWithCallback recovers, logs, and then runs callback
func RecoverPanicWithCallback(logger logrus.FieldLogger, where string, callback func()) {
	if r := recover(); r != nil {
		logPanic(logger, where, r)
		if callback != nil {
			callback()
		}
	}
}

// MustRecover converts a recovered value into an error (nil when r is nil)
func MustRecover(r interface{}) error {
	if r != nil {
		return fmt.Errorf("panic: %v", r)
	}
	return nil
}

func logPanic(logger logrus.FieldLogger, where string, r interface{}) {
	logger.WithFields(logrus.Fields{
		"panic":   r,
		"stack":   string(debug.Stack()),
		"context": where,
	}).Error("PANIC recovered")
}
