package kaku

/*------------------------------------------------------------------
 *
 * Purpose:   	Key the transmitter with a sequence of pulse durations.
 *
 * Description:	The transmitter module sends carrier while its data input
 *		is high.  We hold the line low for a while, then play the
 *		high/low pairs, and repeat the whole sequence a few times
 *		because receivers usually want to hear a message more than
 *		once.
 *
 *		Every level change is scheduled against one monotonic time
 *		origin, so oversleeping one pulse does not delay the rest.
 *
 *---------------------------------------------------------------*/

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"
)

// Low time before the first pulse.
const LowLeadTimeUS = 5000

const DefaultRepeat = 4

// OutputLine drives the transmitter data input.
type OutputLine interface {
	SetValue(value int) error
}

// Sleeper provides a monotonic time base and sleeps until a point on it.
// SleepUntil must not return before deadline, even if woken early.
type Sleeper interface {
	Now() time.Duration
	SleepUntil(deadline time.Duration)
}

type Transmitter struct {
	line    OutputLine
	sleeper Sleeper
	logger  *log.Logger
}

type TransmitterOption func(*Transmitter)

func WithTransmitterLogger(l *log.Logger) TransmitterOption {
	return func(t *Transmitter) { t.logger = l }
}

func NewTransmitter(line OutputLine, sleeper Sleeper, opts ...TransmitterOption) *Transmitter {
	var t = &Transmitter{
		line:    line,
		sleeper: sleeper,
		logger:  log.Default(),
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

/*-------------------------------------------------------------------
 *
 * Name:        Send
 *
 * Purpose:     Transmit pulses.
 *
 * Inputs:	ctx	- Cancelling stops between two pulses.
 *
 *		times	- Alternating high and low durations in us.
 *			  A trailing unpaired duration is ignored.
 *
 *		repeat	- How many times to send the whole sequence.
 *
 * Returns:	Error if the line could not be set, or the context
 *		error if cancelled.  The line is left low either way,
 *		as far as the hardware allows.
 *
 *--------------------------------------------------------------------*/

func (t *Transmitter) Send(ctx context.Context, times []uint32, repeat int) error {
	if err := t.setLevel(0); err != nil {
		return err
	}

	var deadline = t.sleeper.Now() + LowLeadTimeUS*time.Microsecond
	t.sleeper.SleepUntil(deadline)

	t.logger.Debug("transmitting", "times", len(times), "repeat", repeat)

	for range repeat {
		for i := 0; i+1 < len(times); i += 2 {
			if err := ctx.Err(); err != nil {
				_ = t.setLevel(0)
				return err
			}

			if err := t.setLevel(1); err != nil {
				return err
			}
			deadline += time.Duration(times[i]) * time.Microsecond
			t.sleeper.SleepUntil(deadline)

			if err := t.setLevel(0); err != nil {
				return err
			}
			deadline += time.Duration(times[i+1]) * time.Microsecond
			t.sleeper.SleepUntil(deadline)
		}
	}

	return nil
}

func (t *Transmitter) setLevel(level int) error {
	return errors.Wrapf(t.line.SetValue(level), "set transmit line to %d", level)
}
