package kaku

/*------------------------------------------------------------------
 *
 * Purpose:   	Microsecond clock that does not wrap around.
 *
 * Description:	The hardware gives us a 32 bit microsecond tick counter
 *		which wraps around every 2^32 us, about 71.58 minutes.
 *		MicroClock accumulates the tick deltas into a 64 bit total
 *		which counts microseconds since Start.
 *
 *		A delta is only correct if at most one wrap around happened
 *		between two samples, so a background goroutine samples the
 *		counter every RefreshInterval even if nobody else does.
 *
 *---------------------------------------------------------------*/

import (
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"
)

// TickSource returns the current value of a free running 32 bit microsecond counter.
type TickSource func() uint32

// TimeConverter turns a recently recorded tick into clock time.
type TimeConverter interface {
	ConvertPastTick(tick uint32) uint64
}

const DefaultClockRefreshInterval = 60 * time.Second

// TickWrapPeriod is how long the 32 bit counter takes to wrap around.
const TickWrapPeriod = (1 << 32) * time.Microsecond

type MicroClock struct {
	ticks           TickSource
	refreshInterval time.Duration
	logger          *log.Logger

	mutex    sync.Mutex
	lastTick uint32
	current  uint64 // Microseconds since Start.
	started  bool

	stop     *Event
	done     chan struct{}
	stopOnce sync.Once
}

type ClockOption func(*MicroClock)

func WithRefreshInterval(d time.Duration) ClockOption {
	return func(c *MicroClock) { c.refreshInterval = d }
}

func WithClockLogger(l *log.Logger) ClockOption {
	return func(c *MicroClock) { c.logger = l }
}

func NewMicroClock(ticks TickSource, opts ...ClockOption) *MicroClock {
	var c = &MicroClock{
		ticks:           ticks,
		refreshInterval: DefaultClockRefreshInterval,
		logger:          log.Default(),
		stop:            NewEvent(),
		done:            make(chan struct{}),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

/*-------------------------------------------------------------------
 *
 * Name:        Start
 *
 * Purpose:     Start the clock at zero and launch the refresh goroutine.
 *
 * Inputs:	referenceTick	- Counter value that corresponds to time zero.
 *
 *--------------------------------------------------------------------*/

func (c *MicroClock) Start(referenceTick uint32) error {
	if c.refreshInterval <= 0 || c.refreshInterval >= TickWrapPeriod {
		return errors.Errorf("clock refresh interval %s must be between 0 and %s", c.refreshInterval, TickWrapPeriod)
	}

	c.mutex.Lock()
	if c.started {
		c.mutex.Unlock()
		return errors.New("clock already started")
	}
	c.started = true
	c.lastTick = referenceTick
	c.current = 0
	c.mutex.Unlock()

	go c.refreshLoop()

	return nil
}

// Stop ends the refresh goroutine and waits for it.  Safe to call more than once.
func (c *MicroClock) Stop() {
	c.mutex.Lock()
	var started = c.started
	c.mutex.Unlock()

	if !started {
		return
	}

	c.stopOnce.Do(func() {
		c.stop.Signal()
		<-c.done
	})
}

// Now returns microseconds since Start.
func (c *MicroClock) Now() uint64 {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return c.sample()
}

/*-------------------------------------------------------------------
 *
 * Name:        ConvertPastTick
 *
 * Purpose:     Convert a tick recorded earlier into clock time.
 *
 * Inputs:	tick	- Counter value recorded at some point in the past.
 *			  Must be less than one wrap period (~71 minutes)
 *			  old or the result is wrong.
 *
 * Returns:	Microseconds since Start at which tick was recorded.
 *
 *--------------------------------------------------------------------*/

func (c *MicroClock) ConvertPastTick(tick uint32) uint64 {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	// Sample first so that tick is not ahead of lastTick.
	var now = c.sample()
	var age = uint64(tickDelta(tick, c.lastTick))

	if age > now {
		// Recorded before Start.
		return 0
	}

	return now - age
}

// sample reads the counter and adds the elapsed time.  Caller holds the mutex.
func (c *MicroClock) sample() uint64 {
	var t = c.ticks()

	c.current += uint64(tickDelta(c.lastTick, t))
	c.lastTick = t

	return c.current
}

// tickDelta is the number of ticks from earlier to later,
// assuming the counter wrapped at most once in between.
func tickDelta(earlier, later uint32) uint32 {
	// Unsigned arithmetic is modulo 2^32.
	return later - earlier
}

func (c *MicroClock) refreshLoop() {
	defer close(c.done)

	for {
		// Signalled means stop.  Timeout means it is time to sample again.
		if c.stop.WaitTimeout(c.refreshInterval) {
			return
		}

		var now = c.Now()
		c.logger.Debug("clock refreshed", "us", now)
	}
}
