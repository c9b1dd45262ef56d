// Package eventloop waits for the target to stop at a breakpoint and
// runs a handler for every hit.
package eventloop

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-delve/onbreak/pkg/logflags"
	"github.com/go-delve/onbreak/pkg/target"
)

// Handler is called for every event generated by the breakpoint the
// loop is waiting for.
type Handler interface {
	Handle(ev target.Event) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ev target.Event) error

func (f HandlerFunc) Handle(ev target.Event) error {
	return f(ev)
}

// Stats counts what the loop did.
type Stats struct {
	// Batches is the number of event sets received.
	Batches int
	// Hits is the number of events passed to the handler.
	Hits int
	// Errors is the number of events the handler failed on.
	Errors int
}

// Loop dispatches the events of a single breakpoint request.
type Loop struct {
	process   target.Process
	requestID int
	handler   Handler
	log       logflags.Logger
	stats     Stats
}

// New returns a loop passing the events of breakpoint requestID to h.
func New(p target.Process, requestID int, h Handler) *Loop {
	return &Loop{
		process:   p,
		requestID: requestID,
		handler:   h,
		log:       logflags.EventLoopLogger(),
	}
}

// SetLogger replaces the logger of the loop.
func (l *Loop) SetLogger(log logflags.Logger) {
	l.log = log
}

// Stats returns the counters of the loop, it must not be called while
// Run is executing.
func (l *Loop) Stats() Stats {
	return l.stats
}

// Run waits for events until ctx is done or the target exits. Errors
// returned by the handler are logged and never stop the loop, every
// event set is resumed exactly once whatever the handler does.
// Run returns nil when the target exits and ctx.Err() when ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	for {
		l.log.Debug("waiting for events")
		es, err := l.process.NextEventSet(ctx)
		if err != nil {
			switch {
			case errors.Is(err, target.ErrTargetExited):
				l.log.Infof("%v", err)
				return nil
			case ctx.Err() != nil:
				return ctx.Err()
			}
			return err
		}
		if err := l.dispatch(es); err != nil {
			return err
		}
	}
}

func (l *Loop) dispatch(es *target.EventSet) (err error) {
	l.stats.Batches++
	defer func() {
		if rerr := l.process.Resume(es); rerr != nil && err == nil {
			err = fmt.Errorf("could not resume target: %w", rerr)
		}
	}()
	for _, ev := range es.Events {
		if ev.RequestID == 0 || ev.RequestID != l.requestID {
			l.log.Debugf("ignoring event of thread %d (request %d)", ev.ThreadID, ev.RequestID)
			continue
		}
		l.stats.Hits++
		l.handle(ev)
	}
	return nil
}

func (l *Loop) handle(ev target.Event) {
	defer func() {
		if r := recover(); r != nil {
			l.stats.Errors++
			l.log.Errorf("panic handling event of thread %d: %v", ev.ThreadID, r)
		}
	}()
	err := l.handler.Handle(ev)
	if err == nil {
		return
	}
	l.stats.Errors++
	if errors.Is(err, target.ErrAbsentInformation) {
		l.log.Warnf("%v: was the target compiled with -gcflags='all=-N -l'?", err)
		return
	}
	l.log.Warnf("%s: %v", errorType(err), err)
}

// errorType returns the type name of the innermost error wrapped by err.
func errorType(err error) string {
	for {
		u := errors.Unwrap(err)
		if u == nil {
			return fmt.Sprintf("%T", err)
		}
		err = u
	}
}
