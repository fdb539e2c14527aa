package kaku

/*------------------------------------------------------------------
 *
 * Purpose:   	Hardware side of the receiver and transmitter.
 *
 * Description:	Lines are requested through the Linux GPIO character
 *		device.  The kernel timestamps each edge with
 *		CLOCK_MONOTONIC, so the same clock, truncated to a 32 bit
 *		microsecond counter, serves as our tick source.
 *
 *		e.g.  chip "gpiochip0", line 27 for the receiver module data
 *		      output, line 17 for the transmitter module data input.
 *
 *---------------------------------------------------------------*/

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/warthog618/go-gpiocdev"
	"golang.org/x/sys/unix"
)

const gpioConsumer = "kaku"

var biasOptions = map[string]gpiocdev.LineReqOption{
	"pull-up":   gpiocdev.WithPullUp,
	"pull-down": gpiocdev.WithPullDown,
	"disabled":  gpiocdev.WithBiasDisabled,
}

// An empty bias leaves the line as it is.
func validBias(bias string) bool {
	var _, ok = biasOptions[bias]
	return ok || bias == ""
}

// GPIOEdgeSource reports both edges of one input line.
type GPIOEdgeSource struct {
	chip   string
	offset int
	bias   string

	mutex sync.Mutex
	line  *gpiocdev.Line
}

func NewGPIOEdgeSource(chip string, offset int, bias string) *GPIOEdgeSource {
	return &GPIOEdgeSource{chip: chip, offset: offset, bias: bias}
}

func (s *GPIOEdgeSource) Watch(handler EdgeHandler) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.line != nil {
		return errors.Errorf("%s line %d is already being watched", s.chip, s.offset)
	}

	if !validBias(s.bias) {
		return errors.Errorf("unknown bias %q", s.bias)
	}

	var opts = []gpiocdev.LineReqOption{
		gpiocdev.AsInput,
		gpiocdev.WithBothEdges,
		gpiocdev.WithConsumer(gpioConsumer),
		gpiocdev.WithEventHandler(func(evt gpiocdev.LineEvent) {
			handler(edgeFromLineEvent(evt))
		}),
	}
	if opt, ok := biasOptions[s.bias]; ok {
		opts = append(opts, opt)
	}

	var line, err = gpiocdev.RequestLine(s.chip, s.offset, opts...)
	if err != nil {
		return errors.Wrapf(err, "request %s line %d for input", s.chip, s.offset)
	}

	s.line = line
	return nil
}

func (s *GPIOEdgeSource) Unwatch() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.line == nil {
		return nil
	}

	var err = s.line.Close()
	s.line = nil
	return errors.Wrapf(err, "release %s line %d", s.chip, s.offset)
}

func edgeFromLineEvent(evt gpiocdev.LineEvent) (int, uint32) {
	var level = 0
	if evt.Type == gpiocdev.LineEventRisingEdge {
		level = 1
	}

	return level, durationTicks(evt.Timestamp)
}

// Microseconds, wrapping every 71.6 minutes.
func durationTicks(d time.Duration) uint32 {
	return uint32(d / time.Microsecond) //nolint:gosec
}

// OutputLine backed by a GPIO line.  Close releases it.
type GPIOOutputLine struct {
	*gpiocdev.Line
}

// OpenOutputLine requests a line as an output, initially low.
func OpenOutputLine(chip string, offset int) (*GPIOOutputLine, error) {
	var line, err = gpiocdev.RequestLine(chip, offset,
		gpiocdev.AsOutput(0),
		gpiocdev.WithConsumer(gpioConsumer),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "request %s line %d for output", chip, offset)
	}

	return &GPIOOutputLine{line}, nil
}

var clockGettime = unix.ClockGettime

// monotonicNow reads CLOCK_MONOTONIC.  It panics if the clock can't be read.
func monotonicNow() time.Duration {
	var ts unix.Timespec
	if err := clockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		panic(errors.Wrap(err, "read monotonic clock"))
	}

	return time.Duration(ts.Nano())
}

// MonotonicTicks is the TickSource matching GPIO event timestamps.
func MonotonicTicks() uint32 {
	return durationTicks(monotonicNow())
}

// MonotonicSleeper sleeps until absolute CLOCK_MONOTONIC deadlines.
type MonotonicSleeper struct{}

func (MonotonicSleeper) Now() time.Duration {
	return monotonicNow()
}

func (MonotonicSleeper) SleepUntil(deadline time.Duration) {
	var ts = unix.NsecToTimespec(int64(deadline))

	for {
		var err = unix.ClockNanosleep(unix.CLOCK_MONOTONIC, unix.TIMER_ABSTIME, &ts, nil)
		if err != unix.EINTR { //nolint:errorlint
			return
		}
	}
}
