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
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

var windowStart = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func TestNewWindowValidation(t *testing.T) {
	clock := clockwork.NewFakeClock()
	_, err := NewWindow(0, 0, clock)
	require.Error(t, err)
	_, err = NewWindow(time.Minute, time.Minute, clock)
	require.Error(t, err)
	_, err = NewWindow(time.Minute, -time.Second, clock)
	require.Error(t, err)
	_, err = NewWindow(time.Minute, 59*time.Second, clock)
	require.NoError(t, err)
}

func TestWindowJitterBounds(t *testing.T) {
	w, err := NewWindow(120*time.Second, 24*time.Second, clockwork.NewFakeClock())
	require.NoError(t, err)
	for i := 0; i < 10000; i++ {
		d := w.draw()
		require.GreaterOrEqual(t, d, 96*time.Second)
		require.LessOrEqual(t, d, 144*time.Second)
	}
}

func TestWindowJitterEdges(t *testing.T) {
	w, err := NewWindow(120*time.Second, 24*time.Second, clockwork.NewFakeClock())
	require.NoError(t, err)
	w.int64n = func(n int64) int64 { return 0 }
	require.Equal(t, 96*time.Second, w.draw())
	w.int64n = func(n int64) int64 { return n - 1 }
	require.Equal(t, 144*time.Second, w.draw())
}

func TestWindowNoJitter(t *testing.T) {
	w, err := NewWindow(time.Minute, 0, clockwork.NewFakeClock())
	require.NoError(t, err)
	w.int64n = func(n int64) int64 {
		require.Fail(t, "no randomness expected")
		return 0
	}
	require.Equal(t, time.Minute, w.draw())
}

func TestWindowWrongState(t *testing.T) {
	w, err := NewWindow(time.Minute, 0, clockwork.NewFakeClockAt(windowStart))
	require.NoError(t, err)
	require.Equal(t, StateIdle, w.State())
	require.ErrorIs(t, w.End(), ErrWrongState)
	require.ErrorIs(t, w.Sleep(context.Background()), ErrWrongState)

	require.NoError(t, w.Begin())
	require.Equal(t, StateProbing, w.State())
	require.ErrorIs(t, w.Begin(), ErrWrongState)
	require.ErrorIs(t, w.Sleep(context.Background()), ErrWrongState)

	require.NoError(t, w.End())
	require.Equal(t, StateSleeping, w.State())
	require.Equal(t, "SLEEPING", w.State().String())
}

func TestWindowOverrun(t *testing.T) {
	clock := clockwork.NewFakeClockAt(windowStart)
	w, err := NewWindow(60*time.Second, 0, clock)
	require.NoError(t, err)

	require.NoError(t, w.Begin())
	require.Equal(t, windowStart, w.Start())
	require.Equal(t, windowStart.Add(60*time.Second), w.Deadline())
	clock.Advance(61 * time.Second)
	require.NoError(t, w.End())

	err = w.Sleep(context.Background())
	var overrun *OverrunError
	require.True(t, errors.As(err, &overrun))
	require.Equal(t, windowStart.Add(61*time.Second), overrun.ProbeEnd)
	require.Equal(t, windowStart.Add(60*time.Second), overrun.Deadline)
	require.Contains(t, overrun.Error(), "1s after deadline")
	require.Equal(t, StateIdle, w.State())
}

func TestWindowEndsExactlyOnDeadline(t *testing.T) {
	clock := clockwork.NewFakeClockAt(windowStart)
	w, err := NewWindow(60*time.Second, 0, clock)
	require.NoError(t, err)

	require.NoError(t, w.Begin())
	clock.Advance(60 * time.Second)
	require.NoError(t, w.End())
	require.NoError(t, w.Sleep(context.Background()))
	require.Equal(t, windowStart.Add(60*time.Second), clock.Now())
}

func TestWindowSleepAfterLateWrite(t *testing.T) {
	hook := logtest.NewGlobal()
	defer hook.Reset()
	clock := clockwork.NewFakeClockAt(windowStart)
	w, err := NewWindow(60*time.Second, 0, clock)
	require.NoError(t, err)

	require.NoError(t, w.Begin())
	clock.Advance(50 * time.Second)
	require.NoError(t, w.End())
	// results took 15s to store
	clock.Advance(15 * time.Second)
	require.NoError(t, w.Sleep(context.Background()))
	require.Equal(t, windowStart.Add(65*time.Second), clock.Now())

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	require.Equal(t, log.WarnLevel, entry.Level)
	require.Contains(t, entry.Message, "window closed 5s ago")
}

func TestWindowSleepUntilDeadline(t *testing.T) {
	clock := clockwork.NewFakeClockAt(windowStart)
	w, err := NewWindow(60*time.Second, 0, clock)
	require.NoError(t, err)

	require.NoError(t, w.Begin())
	clock.Advance(59 * time.Second)
	require.NoError(t, w.End())

	done := make(chan error, 1)
	go func() {
		done <- w.Sleep(context.Background())
	}()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	select {
	case <-done:
		require.Fail(t, "woke up before deadline")
	default:
	}
	clock.Advance(time.Second)
	require.NoError(t, <-done)
	require.Equal(t, windowStart.Add(60*time.Second), clock.Now())
	require.Equal(t, StateIdle, w.State())
}

func TestWindowSleepCancel(t *testing.T) {
	clock := clockwork.NewFakeClockAt(windowStart)
	w, err := NewWindow(60*time.Second, 0, clock)
	require.NoError(t, err)

	require.NoError(t, w.Begin())
	require.NoError(t, w.End())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, w.Sleep(ctx), context.Canceled)
	// window can be reused after cancellation
	require.NoError(t, w.Begin())
}

func TestWindowNextCycleStartsAtDeadline(t *testing.T) {
	clock := clockwork.NewFakeClockAt(windowStart)
	w, err := NewWindow(60*time.Second, 0, clock)
	require.NoError(t, err)

	require.NoError(t, w.Begin())
	clock.Advance(60 * time.Second)
	require.NoError(t, w.End())
	require.NoError(t, w.Sleep(context.Background()))
	require.NoError(t, w.Begin())
	require.Equal(t, windowStart.Add(60*time.Second), w.Start())
}
