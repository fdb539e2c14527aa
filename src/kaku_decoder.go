package kaku

/*------------------------------------------------------------------
 *
 * Purpose:   	Decode KlikAanKlikUit (kaku) messages.
 *
 * Description:	Messages from EdgeCapture are queued and decoded one at
 *		a time, in arrival order, by a single worker goroutine.
 *		That keeps the number crunching off the edge capture path.
 *
 *	'0' subbit:
 *	 __
 *	|  |___
 *
 *	|--|--|
 *	 T  T
 *
 *	'1' subbit:
 *	 __
 *	|  |______________
 *
 *	|--|-------------|
 *	 T       5T
 *
 *	'START' signal:
 *	 __
 *	|  |________________________________
 *
 *	|--|-------------------------------|
 *	 T              10T
 *
 *	'STOP' signal:
 *	 __
 *	|  |________________________________ _ _ _ _____
 *
 *	|--|-------------------------------- - - - ----|
 *	 T                      40T
 *
 *	T ~ 250 us (Short)
 *	5T ~ 1250 us (Long)
 *	10T ~ 2500 us (ExtraLong)
 *	40T ~ 10 ms (MegaLong)
 *
 *	Bit encoding:	0 bit = subbits 0 1
 *			1 bit = subbits 1 0
 *	For example, the bits 0111 are encoded as 01101010.
 *
 *	The extended protocol for dimmers adds:
 *			2 bit = subbits 0 0
 *			3 bit = subbits 1 1
 *
 *---------------------------------------------------------------*/

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"
)

var (
	ErrInsufficientData    = errors.New("Message could not be decoded. Insufficient data received.")
	ErrInvalidTimings      = errors.New("Message could not be decoded. Invalid timings received.")
	ErrStartMarkerNotFound = errors.New("Message could not be decoded. Start marker not found.")
	ErrInvalidSignals      = errors.New("Message could not be decoded. Invalid signals received.")
	ErrEndMarkerNotFound   = errors.New("Message could not be decoded. End marker not found.")
)

// Anything in between these ranges is unsure and thus invalid.
// Anything from MinMegaLongUS up is mega long.
const (
	MinShortUS     = 100
	MaxShortUS     = 500
	MinLongUS      = 900
	MaxLongUS      = 1800
	MinExtraLongUS = 2000
	MaxExtraLongUS = 3200
	MinMegaLongUS  = 5000
)

// Minimum number of durations worth looking at.
const minDecodeTimes = 6

// A queue longer than this means the worker can't keep up.
const decodeQueueWarnLength = 10

type TimingSymbol int

const (
	Short TimingSymbol = iota
	Long
	ExtraLong
	MegaLong
)

func (s TimingSymbol) String() string {
	switch s {
	case Short:
		return "Short"
	case Long:
		return "Long"
	case ExtraLong:
		return "ExtraLong"
	case MegaLong:
		return "MegaLong"
	default:
		return "Unknown"
	}
}

// Classify maps a duration to its timing symbol.  ok is false for durations
// in the gaps between the ranges or below the shortest Short.
func Classify(us uint32) (symbol TimingSymbol, ok bool) {
	switch {
	case us >= MinShortUS && us <= MaxShortUS:
		return Short, true
	case us >= MinLongUS && us <= MaxLongUS:
		return Long, true
	case us >= MinExtraLongUS && us <= MaxExtraLongUS:
		return ExtraLong, true
	case us >= MinMegaLongUS:
		return MegaLong, true
	default:
		return Short, false
	}
}

/*-------------------------------------------------------------------
 *
 * Name:        DecodeTimings
 *
 * Purpose:     Turn a sequence of pulse durations into a message.
 *
 * Inputs:	times	- Alternating high and low durations in us,
 *			  starting with a high.
 *
 * Returns:	The message as a string of digits '0' - '3', or one
 *		of the Err... decode errors.
 *
 *--------------------------------------------------------------------*/

func DecodeTimings(times []uint32) (string, error) {
	if len(times) < minDecodeTimes {
		return "", ErrInsufficientData
	}

	// Symbols are easier to work with than raw durations.
	var symbols = make([]TimingSymbol, len(times))
	for i, t := range times {
		var s, ok = Classify(t)
		if !ok {
			return "", ErrInvalidTimings
		}
		symbols[i] = s
	}

	// Find the start marker, a short high and an extra long low.
	// Durations alternate high and low so step by 2 to stay on highs.
	var start = -1
	for i := 0; i < len(symbols)-2; i += 2 {
		if symbols[i] == Short && symbols[i+1] == ExtraLong {
			start = i + 2
			break
		}
	}

	if start < 0 {
		return "", ErrStartMarkerNotFound
	}

	// Subbits and the end marker are high/low pairs as well.
	var subbits = make([]byte, 0, (len(symbols)-start)/2)
	var endFound = false

	for i := start; i < len(symbols)-1; i += 2 {
		var high, low = symbols[i], symbols[i+1]

		if high != Short {
			return "", ErrInvalidSignals
		}

		switch low {
		case Short:
			subbits = append(subbits, 0)
		case Long:
			subbits = append(subbits, 1)
		case MegaLong:
			endFound = true
		default:
			return "", ErrInvalidSignals
		}

		if endFound {
			break
		}
	}

	if !endFound {
		return "", ErrEndMarkerNotFound
	}

	if len(subbits) == 0 {
		// Framing without any content.
		return "", ErrInsufficientData
	}

	// Pair the subbits into bits.  A trailing odd subbit is dropped, so a
	// single subbit decodes to an empty message.
	var sb strings.Builder
	sb.Grow(len(subbits) / 2)

	for i := 0; i+1 < len(subbits); i += 2 {
		switch {
		case subbits[i] == 0 && subbits[i+1] == 1:
			sb.WriteByte('0')
		case subbits[i] == 1 && subbits[i+1] == 0:
			sb.WriteByte('1')
		case subbits[i] == 0 && subbits[i+1] == 0:
			sb.WriteByte('2')
		default:
			sb.WriteByte('3')
		}
	}

	return sb.String(), nil
}

type decodeItem struct {
	times     []uint32
	startTime uint64
}

// Decoder decodes submitted messages on its own goroutine.
type Decoder struct {
	onResult func(message string)
	onError  func(reason string)
	logger   *log.Logger

	mutex sync.Mutex
	queue []decodeItem

	wakeup *Event
	stop   atomic.Bool
	done   chan struct{}
	once   sync.Once
}

type DecoderOption func(*Decoder)

func WithResultCallback(f func(message string)) DecoderOption {
	return func(d *Decoder) { d.onResult = f }
}

func WithErrorCallback(f func(reason string)) DecoderOption {
	return func(d *Decoder) { d.onError = f }
}

func WithDecoderLogger(l *log.Logger) DecoderOption {
	return func(d *Decoder) { d.logger = l }
}

// NewDecoder starts the worker goroutine.  Call Close when done.
func NewDecoder(opts ...DecoderOption) *Decoder {
	var d = &Decoder{
		logger: log.Default(),
		wakeup: NewEvent(),
		done:   make(chan struct{}),
	}

	for _, opt := range opts {
		opt(d)
	}

	go d.worker()

	return d
}

// Submit queues a message for decoding and returns immediately.
// It matches MessageHandler so it can be handed to EdgeCapture directly.
func (d *Decoder) Submit(times []uint32, startTime uint64) {
	d.mutex.Lock()
	d.queue = append(d.queue, decodeItem{times: times, startTime: startTime})
	var queueLength = len(d.queue)
	d.mutex.Unlock()

	d.wakeup.Signal()

	// Once per backlog, not for every message added to it.
	if queueLength == decodeQueueWarnLength+1 {
		d.logger.Warn("Decode queue is out of control.  Worker is probably frozen.", "length", queueLength)
	}
}

// Close stops the worker and waits for it.  Queued messages may be abandoned.
func (d *Decoder) Close() {
	d.once.Do(func() {
		d.stop.Store(true)
		d.wakeup.Signal()
		<-d.done
	})
}

func (d *Decoder) worker() {
	defer close(d.done)

	for {
		var item, ok = d.next()
		if !ok {
			return
		}

		d.logger.Debug("decoding", "start_us", item.startTime, "times", len(item.times))

		var message, err = DecodeTimings(item.times)
		if err != nil {
			if d.onError != nil {
				d.onError(err.Error())
			}
			continue
		}

		if d.onResult != nil {
			d.onResult(message)
		}
	}
}

// next blocks until there is work.  ok is false when the worker should stop.
func (d *Decoder) next() (decodeItem, bool) {
	for {
		if d.stop.Load() {
			return decodeItem{}, false
		}

		d.mutex.Lock()
		if len(d.queue) > 0 {
			var item = d.queue[0]
			d.queue[0] = decodeItem{}
			d.queue = d.queue[1:]
			d.mutex.Unlock()

			return item, true
		}
		d.mutex.Unlock()

		// Wake ups collapse, so loop and look at the queue again.
		d.wakeup.Wait()
	}
}
