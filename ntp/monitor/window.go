/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package monitor

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
)

// WindowState is where the window is in its cycle
type WindowState int

// Window states
const (
	StateIdle WindowState = iota
	StateProbing
	StateSleeping
)

var windowStateToString = map[WindowState]string{
	StateIdle:     "IDLE",
	StateProbing:  "PROBING",
	StateSleeping: "SLEEPING",
}

func (s WindowState) String() string {
	return windowStateToString[s]
}

// ErrWrongState is returned when window methods are called out of order
var ErrWrongState = errors.New("window operation out of order")

// OverrunError means the probe round did not finish inside its window
type OverrunError struct {
	Start    time.Time
	Deadline time.Time
	ProbeEnd time.Time
}

func (e *OverrunError) Error() string {
	return fmt.Sprintf("probe round overran window started at %s: finished %v after deadline",
		e.Start.Format(time.RFC3339), e.ProbeEnd.Sub(e.Deadline))
}

// Window paces probe rounds. Each cycle has its own jittered length,
// the next cycle starts exactly when the previous window closes.
type Window struct {
	base     time.Duration
	variance time.Duration
	clock    clockwork.Clock
	// int64n draws from [0, n)
	int64n func(n int64) int64

	state    WindowState
	start    time.Time
	duration time.Duration
	probeEnd time.Time
}

// NewWindow creates Window. Variance must be smaller than base.
func NewWindow(base, variance time.Duration, clock clockwork.Clock) (*Window, error) {
	if base <= 0 {
		return nil, fmt.Errorf("window base must be greater than zero")
	}
	if variance < 0 || variance >= base {
		return nil, fmt.Errorf("window variance %v must be in [0, %v)", variance, base)
	}
	return &Window{
		base:     base,
		variance: variance,
		clock:    clock,
		int64n:   rand.Int64N,
	}, nil
}

// State returns current state
func (w *Window) State() WindowState {
	return w.state
}

// Start returns when the current window opened
func (w *Window) Start() time.Time {
	return w.start
}

// Duration returns length of the current window
func (w *Window) Duration() time.Duration {
	return w.duration
}

// Deadline returns when the current window closes
func (w *Window) Deadline() time.Time {
	return w.start.Add(w.duration)
}

// draw picks window length uniformly from [base-variance, base+variance]
func (w *Window) draw() time.Duration {
	if w.variance == 0 {
		return w.base
	}
	return w.base - w.variance + time.Duration(w.int64n(int64(2*w.variance)+1))
}

// Begin opens a new window
func (w *Window) Begin() error {
	if w.state != StateIdle {
		return fmt.Errorf("begin in state %s: %w", w.state, ErrWrongState)
	}
	w.duration = w.draw()
	w.start = w.clock.Now()
	w.probeEnd = time.Time{}
	w.state = StateProbing
	log.Debugf("window opened at %s for %v", w.start.Format(time.RFC3339), w.duration)
	return nil
}

// End records that probing is done
func (w *Window) End() error {
	if w.state != StateProbing {
		return fmt.Errorf("end in state %s: %w", w.state, ErrWrongState)
	}
	w.probeEnd = w.clock.Now()
	w.state = StateSleeping
	return nil
}

// Sleep blocks until the window closes. If probing ran past the deadline
// it returns *OverrunError right away.
func (w *Window) Sleep(ctx context.Context) error {
	if w.state != StateSleeping {
		return fmt.Errorf("sleep in state %s: %w", w.state, ErrWrongState)
	}
	w.state = StateIdle
	deadline := w.Deadline()
	if w.probeEnd.After(deadline) {
		return &OverrunError{Start: w.start, Deadline: deadline, ProbeEnd: w.probeEnd}
	}
	remaining := deadline.Sub(w.clock.Now())
	if remaining < 0 {
		log.Warningf("window closed %v ago while storing results, next window starts late", -remaining)
	}
	if remaining <= 0 {
		return nil
	}
	log.Debugf("sleeping %v until %s", remaining, deadline.Format(time.RFC3339))
	select {
	case <-w.clock.After(remaining):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
