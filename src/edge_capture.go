package kaku

/*------------------------------------------------------------------
 *
 * Purpose:   	Frame candidate messages out of receiver line edges.
 *
 * Description:	The receiver output toggles for every carrier on/off
 *		transition.  For every edge we note the time since the
 *		previous edge, so the recorded sequence alternates
 *		high duration, low duration, high duration, ...
 *
 *		A message starts with a rising edge followed, between
 *		StartDuration and EndDuration later, by a falling edge.
 *		It ends when the line stays put for more than EndDuration
 *		or when MaxMessageTimes durations have been recorded.
 *
 *		Too short messages are dropped without any fuss.  The
 *		433 MHz band is full of noise and partial receptions.
 *
 *		OnEdge runs on the edge source's goroutine and must stay
 *		quick.  Completed messages are handed to the message
 *		callback, which should only queue them.
 *
 *---------------------------------------------------------------*/

import (
	"math"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"
)

// The defaults are good for the 2019 kaku dimmer protocol.
const (
	MaxMessageTimes                = 200
	DefaultStartDurationUS  uint64 = 200
	DefaultEndDurationUS    uint64 = 5000
	DefaultMinMessageLength        = 64
)

// EdgeHandler receives one call per level transition.
// level is 0 or 1, tick is the 32 bit microsecond counter at the transition.
type EdgeHandler func(level int, tick uint32)

// EdgeSource delivers level transitions of the receive line.
type EdgeSource interface {
	Watch(handler EdgeHandler) error
	Unwatch() error
}

// MessageHandler receives completed candidate messages along with the
// clock time of their first rising edge.  The slice belongs to the handler.
type MessageHandler func(times []uint32, startTime uint64)

type EdgeCapture struct {
	clock  TimeConverter
	logger *log.Logger

	mutex sync.Mutex

	startDuration    uint64
	endDuration      uint64
	minMessageLength int
	onMessage        MessageHandler

	times        []uint32 // Durations of the message being received.
	startPending bool     // A rising edge may be the start of a message.
	startTime    uint64   // Time of that rising edge.
	lastTime     uint64
	lastLevel    int

	source EdgeSource
}

type CaptureOption func(*EdgeCapture)

func WithStartDuration(us uint64) CaptureOption {
	return func(e *EdgeCapture) { e.startDuration = us }
}

func WithEndDuration(us uint64) CaptureOption {
	return func(e *EdgeCapture) { e.endDuration = us }
}

func WithMinMessageLength(n int) CaptureOption {
	return func(e *EdgeCapture) { e.minMessageLength = n }
}

func WithMessageHandler(h MessageHandler) CaptureOption {
	return func(e *EdgeCapture) { e.onMessage = h }
}

func WithCaptureLogger(l *log.Logger) CaptureOption {
	return func(e *EdgeCapture) { e.logger = l }
}

func NewEdgeCapture(clock TimeConverter, opts ...CaptureOption) *EdgeCapture {
	var e = &EdgeCapture{
		clock:            clock,
		logger:           log.Default(),
		startDuration:    DefaultStartDurationUS,
		endDuration:      DefaultEndDurationUS,
		minMessageLength: DefaultMinMessageLength,
		times:            make([]uint32, 0, MaxMessageTimes),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Start registers OnEdge with the edge source.
func (e *EdgeCapture) Start(source EdgeSource) error {
	e.mutex.Lock()
	if e.source != nil {
		e.mutex.Unlock()
		return errors.New("edge capture already started")
	}
	e.source = source
	e.mutex.Unlock()

	if err := source.Watch(e.OnEdge); err != nil {
		e.mutex.Lock()
		e.source = nil
		e.mutex.Unlock()

		return errors.Wrap(err, "watch receive line")
	}

	return nil
}

// Stop unregisters from the edge source.  A message in progress is discarded.
func (e *EdgeCapture) Stop() error {
	e.mutex.Lock()
	var source = e.source
	e.source = nil
	e.times = e.times[:0]
	e.startPending = false
	e.mutex.Unlock()

	if source == nil {
		return nil
	}

	return errors.Wrap(source.Unwatch(), "unwatch receive line")
}

func (e *EdgeCapture) SetStartDuration(us uint64) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.startDuration = us
}

func (e *EdgeCapture) StartDuration() uint64 {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.startDuration
}

func (e *EdgeCapture) SetEndDuration(us uint64) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.endDuration = us
}

func (e *EdgeCapture) EndDuration() uint64 {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.endDuration
}

func (e *EdgeCapture) SetMinMessageLength(n int) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.minMessageLength = n
}

func (e *EdgeCapture) MinMessageLength() int {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.minMessageLength
}

func (e *EdgeCapture) SetMessageHandler(h MessageHandler) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.onMessage = h
}

/*-------------------------------------------------------------------
 *
 * Name:        OnEdge
 *
 * Purpose:     Process one level transition of the receive line.
 *
 * Inputs:	level	- New line level, 0 or 1.
 *
 *		tick	- Hardware counter at the transition.
 *
 *--------------------------------------------------------------------*/

func (e *EdgeCapture) OnEdge(level int, tick uint32) {
	// Never call into the clock with our own lock held.
	var now = e.clock.ConvertPastTick(tick)

	var message []uint32
	var messageStart uint64
	var handler MessageHandler
	var dropped int

	e.mutex.Lock()

	// This is all about changes of state.  Getting the same level twice
	// is a fault of the edge source, not a transition.
	if level == e.lastLevel {
		e.mutex.Unlock()
		return
	}

	if len(e.times) == 0 {
		// Looking for the start of a new message.
		switch {
		case !e.startPending && level > 0:
			// Time the first rising edge.
			e.startPending = true
			e.startTime = now

		case e.startPending && level == 0:
			// The first high must have a reasonable length.
			var high = now - e.startTime
			if high >= e.startDuration && high < e.endDuration {
				e.times = append(e.times, uint32(high))
			} else {
				e.startPending = false
			}

		default:
			// Falling edge without a start, or a rising edge while
			// one is pending.  Neither is promising.
			e.startPending = false
		}
	} else {
		var delta = now - e.lastTime
		e.times = append(e.times, uint32(min(delta, math.MaxUint32)))

		if delta > e.endDuration || len(e.times) == MaxMessageTimes {
			if len(e.times) >= e.minMessageLength && e.onMessage != nil {
				message = make([]uint32, len(e.times))
				copy(message, e.times)
				messageStart = e.startTime
				handler = e.onMessage
			} else {
				dropped = len(e.times)
			}

			// This edge may begin the next message.
			e.times = e.times[:0]
			e.startPending = level > 0
			e.startTime = now
		}
	}

	e.lastTime = now
	e.lastLevel = level

	e.mutex.Unlock()

	if dropped > 0 {
		e.logger.Debug("dropped short message", "times", dropped)
	}

	if handler != nil {
		handler(message, messageStart)
	}
}
