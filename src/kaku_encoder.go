package kaku

import "github.com/pkg/errors"

var ErrInvalidBits = errors.New("Unable to encode bitcode. Invalid bits.")

// Nominal durations produced by Encode.
const (
	ShortUS     uint32 = 250
	LongUS             = ShortUS * 5
	ExtraLongUS        = ShortUS * 10
	MegaLongUS         = ShortUS * 40
)

// Pulse durations for each bit, two subbits of one high and one low each.
var bitPulses = [4][4]uint32{
	{ShortUS, ShortUS, ShortUS, LongUS}, // 0 = subbits 0 1
	{ShortUS, LongUS, ShortUS, ShortUS}, // 1 = subbits 1 0
	{ShortUS, ShortUS, ShortUS, ShortUS}, // 2 = subbits 0 0
	{ShortUS, LongUS, ShortUS, LongUS},   // 3 = subbits 1 1
}

/*-------------------------------------------------------------------
 *
 * Name:        Encode
 *
 * Purpose:     Turn a message into pulse durations for transmission.
 *
 * Inputs:	bits	- Message, every character '0' - '3'.
 *
 * Returns:	Alternating high and low durations in us: the start
 *		marker, four durations per bit and the end marker.
 *		Nothing is returned if any character is invalid.
 *
 *		See kaku_decoder.go for the timing diagrams.
 *
 *--------------------------------------------------------------------*/

func Encode(bits string) ([]uint32, error) {
	for i := range len(bits) {
		if bits[i] < '0' || bits[i] > '3' {
			return nil, ErrInvalidBits
		}
	}

	var times = make([]uint32, 0, 2+4*len(bits)+2)

	times = append(times, ShortUS, ExtraLongUS)

	for i := range len(bits) {
		times = append(times, bitPulses[bits[i]-'0'][:]...)
	}

	times = append(times, ShortUS, MegaLongUS)

	return times, nil
}
