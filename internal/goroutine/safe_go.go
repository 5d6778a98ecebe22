// Package goroutine runs background work that must not take the process down.
package goroutine

import (
	"context"
	"runtime/debug"

	"github.com/sirupsen/logrus"
)

// RecoveryHandler starts goroutines that recover and log panics.
type RecoveryHandler struct {
	log logrus.FieldLogger
}

func NewRecoveryHandler(log logrus.FieldLogger) *RecoveryHandler {
	return &RecoveryHandler{log: log}
}

// SafeGoWithContext runs fn in a new goroutine with ctx.
func (rh *RecoveryHandler) SafeGoWithContext(ctx context.Context, fn func(context.Context)) {
	go func() {
		defer rh.recover()
		fn(ctx)
	}()
}

func (rh *RecoveryHandler) recover() {
	if r := recover(); r != nil {
		rh.log.WithFields(logrus.Fields{
			"panic": r,
			"stack": string(debug.Stack()),
		}).Error("panic in goroutine")
	}
}
