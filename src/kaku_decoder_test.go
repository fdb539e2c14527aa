package kaku

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestClassify_Boundaries(t *testing.T) {
	for _, tc := range []struct {
		us     uint32
		symbol TimingSymbol
		ok     bool
	}{
		{0, Short, false},
		{99, Short, false},
		{100, Short, true},
		{500, Short, true},
		{501, Short, false},
		{600, Short, false},
		{899, Short, false},
		{900, Long, true},
		{1800, Long, true},
		{1801, Short, false},
		{1999, Short, false},
		{2000, ExtraLong, true},
		{3200, ExtraLong, true},
		{3201, Short, false},
		{4000, Short, false},
		{4999, Short, false},
		{5000, MegaLong, true},
		{4294967295, MegaLong, true},
	} {
		var symbol, ok = Classify(tc.us)

		assert.Equal(t, tc.ok, ok, "%d us", tc.us)
		if tc.ok {
			assert.Equal(t, tc.symbol, symbol, "%d us", tc.us)
		}
	}
}

func TestDecodeTimings_Scenarios(t *testing.T) {
	for _, tc := range []struct {
		name  string
		times []uint32
		want  string
		err   error
	}{
		{
			name:  "one bit",
			times: []uint32{250, 2500, 250, 1250, 250, 250, 250, 10000},
			want:  "1",
		},
		{
			name:  "two bits",
			times: []uint32{250, 2500, 250, 250, 250, 250, 250, 1250, 250, 1250, 250, 10000},
			want:  "23",
		},
		{
			name:  "sloppy but valid timings",
			times: []uint32{120, 3100, 480, 950, 110, 490, 300, 5000},
			want:  "1",
		},
		{
			name:  "noise before start marker",
			times: []uint32{250, 250, 250, 1250, 250, 2500, 250, 250, 250, 1250, 250, 10000},
			want:  "0",
		},
		{
			name:  "invalid timing after end marker",
			times: []uint32{250, 2500, 250, 1250, 250, 250, 250, 10000, 250, 600},
			err:   ErrInvalidTimings,
		},
		{
			name:  "trailing valid durations after end marker",
			times: []uint32{250, 2500, 250, 1250, 250, 250, 250, 10000, 250, 250},
			want:  "1",
		},
		{
			name:  "odd subbit is dropped",
			times: []uint32{250, 2500, 250, 1250, 250, 250, 250, 1250, 250, 10000},
			want:  "1",
		},
		{
			name:  "five durations",
			times: []uint32{250, 2500, 250, 1250, 250},
			err:   ErrInsufficientData,
		},
		{
			name:  "empty",
			times: nil,
			err:   ErrInsufficientData,
		},
		{
			name:  "six durations without start pair",
			times: []uint32{250, 250, 250, 250, 250, 250},
			err:   ErrStartMarkerNotFound,
		},
		{
			name:  "start marker as last pair",
			times: []uint32{250, 250, 250, 250, 250, 2500},
			err:   ErrStartMarkerNotFound,
		},
		{
			name:  "gap value 600",
			times: []uint32{250, 2500, 250, 600, 250, 250, 250, 10000},
			err:   ErrInvalidTimings,
		},
		{
			name:  "gap value 4000",
			times: []uint32{250, 2500, 250, 4000, 250, 250, 250, 10000},
			err:   ErrInvalidTimings,
		},
		{
			name:  "below short",
			times: []uint32{50, 2500, 250, 1250, 250, 250, 250, 10000},
			err:   ErrInvalidTimings,
		},
		{
			name:  "long high",
			times: []uint32{250, 2500, 1250, 1250, 250, 250, 250, 10000},
			err:   ErrInvalidSignals,
		},
		{
			name:  "extra long low inside message",
			times: []uint32{250, 2500, 250, 2500, 250, 250, 250, 10000},
			err:   ErrInvalidSignals,
		},
		{
			name:  "no end marker",
			times: []uint32{250, 2500, 250, 1250, 250, 250, 250, 250},
			err:   ErrEndMarkerNotFound,
		},
		{
			name:  "odd length without end marker",
			times: []uint32{250, 2500, 250, 1250, 250, 250, 250},
			err:   ErrEndMarkerNotFound,
		},
		{
			name:  "framing without content",
			times: []uint32{250, 250, 250, 250, 250, 2500, 250, 10000},
			err:   ErrInsufficientData,
		},
		{
			name:  "single subbit decodes to nothing",
			times: []uint32{250, 2500, 250, 250, 250, 10000},
			want:  "",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var got, err = DecodeTimings(tc.times)

			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)
				assert.Empty(t, got)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestDecodeTimings_MisalignedStartMarker(t *testing.T) {
	// (Short, ExtraLong) at offset 1 is a low followed by a high, not a marker.
	var misaligned = []uint32{1250, 250, 2500, 250, 250, 10000}

	var _, err = DecodeTimings(misaligned)
	assert.ErrorIs(t, err, ErrStartMarkerNotFound)

	// Followed by a real transmission, decoding skips to the aligned marker.
	var encoded, encodeErr = Encode("0312")
	require.NoError(t, encodeErr)

	var got, decodeErr = DecodeTimings(append([]uint32{1250, 250, 2500, 250}, encoded...))
	require.NoError(t, decodeErr)
	assert.Equal(t, "0312", got)
}

func TestDecodeTimings_ErrorStrings(t *testing.T) {
	assert.Equal(t, "Message could not be decoded. Insufficient data received.", ErrInsufficientData.Error())
	assert.Equal(t, "Message could not be decoded. Invalid timings received.", ErrInvalidTimings.Error())
	assert.Equal(t, "Message could not be decoded. Start marker not found.", ErrStartMarkerNotFound.Error())
	assert.Equal(t, "Message could not be decoded. Invalid signals received.", ErrInvalidSignals.Error())
	assert.Equal(t, "Message could not be decoded. End marker not found.", ErrEndMarkerNotFound.Error())
}

func TestDecodeTimings_RoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		var bits = rapid.StringMatching(`[0-3]{1,48}`).Draw(t, "bits")

		var times, err = Encode(bits)
		require.NoError(t, err)

		var got, decodeErr = DecodeTimings(times)
		require.NoError(t, decodeErr)
		assert.Equal(t, bits, got)
	})
}

// decoderResults collects callback invocations in order.
type decoderResults struct {
	mutex   sync.Mutex
	results []string
}

func (r *decoderResults) add(s string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.results = append(r.results, s)
}

func (r *decoderResults) get() []string {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return append([]string(nil), r.results...)
}

func TestDecoder_DecodesInOrder(t *testing.T) {
	var got = new(decoderResults)
	var d = NewDecoder(
		WithResultCallback(func(m string) { got.add("ok:" + m) }),
		WithErrorCallback(func(reason string) { got.add("error:" + reason) }),
	)
	defer d.Close()

	var want []string
	for _, bits := range []string{"0", "1", "", "23", "3210"} {
		if bits == "" {
			d.Submit([]uint32{250, 250, 250}, 0)
			want = append(want, "error:"+ErrInsufficientData.Error())
			continue
		}

		var times, err = Encode(bits)
		require.NoError(t, err)
		d.Submit(times, 1000)
		want = append(want, "ok:"+bits)
	}

	assert.Eventually(t, func() bool { return len(got.get()) == len(want) }, time.Second, time.Millisecond)
	assert.Equal(t, want, got.get())
}

func TestDecoder_ErrorDoesNotStopWorker(t *testing.T) {
	var got = new(decoderResults)
	var d = NewDecoder(
		WithResultCallback(got.add),
		WithErrorCallback(got.add),
	)
	defer d.Close()

	d.Submit([]uint32{250, 2500, 250, 600, 250, 250, 250, 10000}, 0)

	var times, _ = Encode("2")
	d.Submit(times, 0)

	assert.Eventually(t, func() bool { return len(got.get()) == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{ErrInvalidTimings.Error(), "2"}, got.get())
}

func TestDecoder_BacklogWarnsOnce(t *testing.T) {
	var logged = new(lockedBuffer)
	var started = make(chan struct{}, 1)
	var release = make(chan struct{})

	var d = NewDecoder(
		WithDecoderLogger(log.New(logged)),
		WithResultCallback(func(string) {
			select {
			case started <- struct{}{}:
			default:
			}
			<-release
		}),
	)

	var times, _ = Encode("1")

	// Hold the worker inside the first callback so the queue only grows.
	d.Submit(times, 0)
	<-started

	for range 3 * decodeQueueWarnLength {
		d.Submit(times, 0)
	}

	close(release)
	d.Close()

	assert.Equal(t, 1, strings.Count(logged.String(), "out of control"))
}

func TestDecoder_WithoutCallbacks(t *testing.T) {
	var d = NewDecoder()

	var times, _ = Encode("1")
	d.Submit(times, 0)
	d.Submit(nil, 0)

	require.NotPanics(t, d.Close)
}

func TestDecoder_CloseWhileIdle(t *testing.T) {
	var d = NewDecoder()

	var done = make(chan struct{})
	go func() {
		d.Close()
		d.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close blocked while worker was waiting")
	}
}

func TestDecoder_CloseWhileBusy(t *testing.T) {
	var release = make(chan struct{})
	var d = NewDecoder(WithResultCallback(func(string) { <-release }))

	var times, _ = Encode("1")
	for range 5 {
		d.Submit(times, 0)
	}

	var done = make(chan struct{})
	go func() {
		d.Close()
		close(done)
	}()

	close(release)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close did not return")
	}
}
