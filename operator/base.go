// Package operator holds the periodic reconciliation loops that move a
// checkout's state forward: scanning the local tree, hashing new files,
// promoting hashes into FileVersion history, uploading content, syncing
// FileVersion history with backends, materializing files locally, and
// cleaning up satisfied download-once requests.
// Every operator implements Stepper and is driven by the shared Loop.
package operator

import (
	"context"
	"expvar"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/golang/glog"
	"github.com/jpillora/backoff"
)

// errorSleep is the flat recovery sleep applied to a step that panicked or
// returned an error: long enough that a transient fault can't spin the CPU,
// short enough that the checkout still converges.
const errorSleep = 30 * time.Second

var (
	stepsRun      = expvar.NewInt("operatorStepsRun")
	stepsWithWork = expvar.NewInt("operatorStepsWithWork")
	stepErrors    = expvar.NewInt("operatorStepErrors")
)

// Stepper is one reconciliation pass. It returns whether it did any work,
// so Loop can choose the next interval, or an error for the rare cases that
// are fatal to the step: a VersionError after the merge loop's retry budget
// is exhausted, or a `/`-rooted key invariant violated. A BackendError is
// not one of these — a Stepper catches it itself, logs, and returns
// (false, nil).
type Stepper interface {
	Name() string
	Step(ctx context.Context) (bool, error)
}

// Loop runs a Stepper until its context is canceled. A step that found work
// runs again almost immediately; a step that found nothing backs off
// exponentially up to Max, so an idle checkout doesn't busy-loop; a step
// that errored or panicked sleeps the flat errorSleep and tries again.
type Loop struct {
	Stepper Stepper
	Min     time.Duration
	Max     time.Duration
}

// NewLoop returns a Loop that runs s with the given short (min) and long
// (max) intervals.
func NewLoop(s Stepper, min, max time.Duration) *Loop {
	return &Loop{Stepper: s, Min: min, Max: max}
}

// Run blocks until ctx is done.
func (l *Loop) Run(ctx context.Context) {
	b := &backoff.Backoff{Min: l.Min, Max: l.Max, Factor: 4}
	for {
		if ctx.Err() != nil {
			return
		}

		did, err := l.runStep(ctx)
		stepsRun.Add(1)
		switch {
		case err != nil:
			stepErrors.Add(1)
			glog.Warningf("%s: step failed, sleeping %s: %v", l.Stepper.Name(), errorSleep, err)
			sleep(ctx, errorSleep)
		case did:
			stepsWithWork.Add(1)
			b.Reset()
			glog.V(2).Infof("%s: did work", l.Stepper.Name())
			sleep(ctx, l.Min)
		default:
			sleep(ctx, b.Duration())
		}
	}
}

// runStep recovers a panicking Step so one broken step can't take down the
// supervisor's whole worker; it's reported the same way a returned error is.
func (l *Loop) runStep(ctx context.Context) (did bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return l.Stepper.Step(ctx)
}

func sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
