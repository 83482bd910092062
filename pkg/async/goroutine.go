package async

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// SafeGo executes a function in a goroutine with:
// - Context cancellation support
// - Panic recovery
// - Timeout enforcement (zero means no timeout)
// - Error logging
//
// Use this instead of bare `go func()` to prevent goroutine leaks and crashes.
//
// Example:
//
//	SafeGo(ctx, log, 5*time.Second, "audit log save", func(ctx context.Context) error {
//	    return store.Save(ctx, info)
//	})
func SafeGo(parentCtx context.Context, log logrus.FieldLogger, timeout time.Duration, taskName string, fn func(context.Context) error) {
	go run(parentCtx, log, timeout, taskName, fn)
}

func run(parentCtx context.Context, log logrus.FieldLogger, timeout time.Duration, taskName string, fn func(context.Context) error) {
	if log == nil {
		log = logrus.StandardLogger()
	}

	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(parentCtx, timeout)
	} else {
		ctx, cancel = context.WithCancel(parentCtx)
	}
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			log.WithFields(logrus.Fields{
				"task":  taskName,
				"panic": r,
				"stack": string(debug.Stack()),
			}).Error("PANIC recovered in background task")
		}
	}()

	if err := fn(ctx); err != nil {
		// Log error but don't crash
		// Caller can decide if this is critical or not
		log.WithError(err).WithField("task", taskName).Warn("background task failed")
	}
}

// Tracker runs SafeGo tasks and lets the owner wait for the ones in flight,
// typically during shutdown.
type Tracker struct {
	log logrus.FieldLogger
	wg  sync.WaitGroup
}

// NewTracker creates a tracker logging to log
func NewTracker(log logrus.FieldLogger) *Tracker {
	return &Tracker{log: log}
}

// Go starts fn like SafeGo and tracks it until it returns
func (t *Tracker) Go(parentCtx context.Context, timeout time.Duration, taskName string, fn func(context.Context) error) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		run(parentCtx, t.log, timeout, taskName, fn)
	}()
}

// Wait blocks until all tracked tasks have returned
func (t *Tracker) Wait() {
	t.wg.Wait()
}

// WaitTimeout waits at most d and reports whether all tasks returned
func (t *Tracker) WaitTimeout(d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(d):
		return false
	}
}
