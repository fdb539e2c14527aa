package kaku

/*------------------------------------------------------------------
 *
 * Purpose:   	Simple worker goroutine synchronization.
 *
 * Description:	An Event is a single-slot wake up flag.  Signal sets the
 *		flag, Wait blocks until it is set and clears it again.
 *
 *		This is NOT a counting semaphore.  Any number of Signal
 *		calls made before the next Wait collapse into one wake up.
 *		Workers must therefore re-check their own state (queue
 *		length, stop flag) after every wake up rather than assume
 *		one wake up per unit of work.
 *
 *		The flag is a channel with a buffer of one.  A receive
 *		observes and clears the flag in one step.
 *
 *---------------------------------------------------------------*/

import "time"

type Event struct {
	flag chan struct{}
}

func NewEvent() *Event {
	return &Event{flag: make(chan struct{}, 1)}
}

// Signal sets the flag.  It never blocks.
func (e *Event) Signal() {
	select {
	case e.flag <- struct{}{}:
	default:
		// Already pending.
	}
}

// Wait blocks until the flag is set, then clears it.
func (e *Event) Wait() {
	<-e.flag
}

// WaitTimeout is like Wait but gives up after timeout.
// Returns true when signalled, false when the timeout was reached.
func (e *Event) WaitTimeout(timeout time.Duration) bool {
	var timer = time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-e.flag:
		return true
	case <-timer.C:
		return false
	}
}
