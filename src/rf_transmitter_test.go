package kaku

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type levelChange struct {
	at    time.Duration
	level int
}

// recordingLine is a test double for the transmit GPIO line that notes
// every level change against the fake sleeper's time.
type recordingLine struct {
	sleeper *fakeSleeper
	changes []levelChange
	failOn  int // Fail the n-th SetValue call, 1 based.  0 never fails.
	calls   int
}

func (l *recordingLine) SetValue(v int) error {
	l.calls++
	if l.failOn == l.calls {
		return errors.New("gpio gone")
	}

	l.changes = append(l.changes, levelChange{at: l.sleeper.now, level: v})
	return nil
}

// fakeSleeper jumps to each deadline, optionally overshooting it.
type fakeSleeper struct {
	now       time.Duration
	overshoot time.Duration
	deadlines []time.Duration
}

func (s *fakeSleeper) Now() time.Duration {
	return s.now
}

func (s *fakeSleeper) SleepUntil(deadline time.Duration) {
	s.deadlines = append(s.deadlines, deadline)
	if deadline > s.now {
		s.now = deadline + s.overshoot
	}
}

func newTestTransmitter(sleeper *fakeSleeper) (*Transmitter, *recordingLine) {
	var line = &recordingLine{sleeper: sleeper}
	return NewTransmitter(line, sleeper), line
}

func TestTransmitter_LeadInThenPulses(t *testing.T) {
	var sleeper = &fakeSleeper{now: time.Second}
	var tx, line = newTestTransmitter(sleeper)

	require.NoError(t, tx.Send(context.Background(), []uint32{250, 2500, 250, 10000}, 1))

	var us = time.Microsecond
	assert.Equal(t, []levelChange{
		{time.Second, 0},
		{time.Second + 5000*us, 1},
		{time.Second + 5250*us, 0},
		{time.Second + 7750*us, 1},
		{time.Second + 8000*us, 0},
	}, line.changes)
	assert.Equal(t, time.Second+18000*us, sleeper.now)
}

func TestTransmitter_Repeat(t *testing.T) {
	var sleeper = new(fakeSleeper)
	var tx, line = newTestTransmitter(sleeper)

	var times = mustEncode(t, "0123")
	require.NoError(t, tx.Send(context.Background(), times, 4))

	// One low for the lead in, then a high and a low per pair.
	assert.Len(t, line.changes, 1+4*len(times))

	var total time.Duration = LowLeadTimeUS * time.Microsecond
	for range 4 {
		for _, d := range times {
			total += time.Duration(d) * time.Microsecond
		}
	}
	assert.Equal(t, total, sleeper.now)
	assert.Equal(t, 0, line.changes[len(line.changes)-1].level)
}

func TestTransmitter_DeadlinesDoNotDrift(t *testing.T) {
	var sleeper = &fakeSleeper{overshoot: 7 * time.Microsecond}
	var tx, _ = newTestTransmitter(sleeper)

	require.NoError(t, tx.Send(context.Background(), []uint32{250, 1250, 250, 250}, 2))

	var us = time.Microsecond
	assert.Equal(t, []time.Duration{
		5000 * us,
		5250 * us, 6500 * us, 6750 * us, 7000 * us,
		7250 * us, 8500 * us, 8750 * us, 9000 * us,
	}, sleeper.deadlines, "oversleeping must not push later deadlines back")
}

func TestTransmitter_OddLengthIgnoresLast(t *testing.T) {
	var sleeper = new(fakeSleeper)
	var tx, line = newTestTransmitter(sleeper)

	require.NoError(t, tx.Send(context.Background(), []uint32{250, 250, 999}, 1))

	assert.Len(t, line.changes, 3)
}

func TestTransmitter_ZeroRepeat(t *testing.T) {
	var sleeper = new(fakeSleeper)
	var tx, line = newTestTransmitter(sleeper)

	require.NoError(t, tx.Send(context.Background(), []uint32{250, 250}, 0))

	assert.Equal(t, []levelChange{{0, 0}}, line.changes)
}

func TestTransmitter_Cancelled(t *testing.T) {
	var sleeper = new(fakeSleeper)
	var tx, line = newTestTransmitter(sleeper)

	var ctx, cancel = context.WithCancel(context.Background())
	cancel()

	var err = tx.Send(ctx, []uint32{250, 250}, 3)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, line.changes[len(line.changes)-1].level)
	assert.Len(t, line.changes, 2, "lead in low, then low again on cancel")
}

func TestTransmitter_LineError(t *testing.T) {
	var sleeper = new(fakeSleeper)
	var tx, line = newTestTransmitter(sleeper)
	line.failOn = 2

	var err = tx.Send(context.Background(), []uint32{250, 250}, 1)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "set transmit line to 1")
	assert.Contains(t, err.Error(), "gpio gone")
}
