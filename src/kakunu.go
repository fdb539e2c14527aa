package kaku

/*------------------------------------------------------------------
 *
 * Purpose:   	Receive and decode KlikAanKlikUit transmissions from a
 *		433 MHz OOK receiver module on a GPIO line.
 *
 * Description:	Edges from the receiver line are framed into messages,
 *		and each message is decoded on a worker so the edge
 *		handler never waits for the decoder.  Every result, good
 *		or bad, is printed on a line of its own.
 *
 *		Runs until interrupted, or ENTER is pressed.
 *
 *---------------------------------------------------------------*/

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"golang.org/x/sys/unix"
)

// Receiver wires the clock, the edge capture and the decoder together.
type Receiver struct {
	clock   *MicroClock
	decoder *Decoder
	capture *EdgeCapture
	ticks   TickSource
	logger  *log.Logger

	outMutex sync.Mutex
	out      io.Writer
	tsFormat string
}

func NewReceiver(config Config, ticks TickSource, out io.Writer, logger *log.Logger) *Receiver {
	var r = &Receiver{
		ticks:    ticks,
		logger:   logger,
		out:      out,
		tsFormat: config.Output.TimestampFormat,
	}

	r.clock = NewMicroClock(ticks,
		WithRefreshInterval(config.Clock.RefreshInterval),
		WithClockLogger(logger),
	)

	r.decoder = NewDecoder(
		WithResultCallback(r.output),
		WithErrorCallback(r.output),
		WithDecoderLogger(logger),
	)

	r.capture = NewEdgeCapture(r.clock,
		WithStartDuration(config.Receiver.StartDurationUS),
		WithEndDuration(config.Receiver.EndDurationUS),
		WithMinMessageLength(config.Receiver.MinMessageLength),
		WithMessageHandler(r.decoder.Submit),
		WithCaptureLogger(logger),
	)

	return r
}

// Start begins listening.  On failure everything is shut down again.
func (r *Receiver) Start(source EdgeSource) error {
	if err := r.clock.Start(r.ticks()); err != nil {
		r.decoder.Close()
		return errors.Wrap(err, "start clock")
	}

	if err := r.capture.Start(source); err != nil {
		r.decoder.Close()
		r.clock.Stop()
		return err
	}

	return nil
}

// Stop in reverse order of Start, so nothing is left feeding a stopped stage.
func (r *Receiver) Stop() error {
	var err = r.capture.Stop()
	r.decoder.Close()
	r.clock.Stop()
	return err
}

func (r *Receiver) output(line string) {
	r.outMutex.Lock()
	defer r.outMutex.Unlock()

	fmt.Fprintf(r.out, "%s%s\n", timestampPrefix(r.tsFormat, time.Now()), line)
}

func kakunuUsage() {
	fmt.Fprintf(os.Stderr, "%s - Receive and decode KlikAanKlikUit signals.\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
	pflag.PrintDefaults()
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "Options override the same settings from the --config file.\n")
}

func KakuNuMain() {
	var configFile = pflag.StringP("config", "c", "", "YAML configuration file.")
	var chip = pflag.String("chip", DefaultChip, "GPIO chip the receiver is connected to.")
	var pin = pflag.IntP("pin", "p", DefaultReceiverLine, "GPIO line the receiver data output is connected to.")
	var bias = pflag.String("bias", "", "Input bias: pull-up, pull-down or disabled.  Default leaves it alone.")
	var startDuration = pflag.Uint64("start-duration", DefaultStartDurationUS, "Shortest high (us) that may start a message.")
	var endDuration = pflag.Uint64("end-duration", DefaultEndDurationUS, "Any duration (us) longer than this ends a message.")
	var minMessageLength = pflag.Int("min-message-length", DefaultMinMessageLength, "Fewest durations for a message to be decoded.")
	var timestampFormat = pflag.StringP("timestamp-format", "T", "", "Precede decoded messages with time stamp in strftime format, e.g. %H:%M:%S.")
	var logLevel = pflag.StringP("log-level", "d", "info", "Diagnostic level: debug, info, warn or error.")
	var exitOnEnter = pflag.Bool("exit-on-enter", true, "Exit when ENTER is pressed.")
	var version = pflag.BoolP("version", "v", false, "Display version and exit.")
	var help = pflag.BoolP("help", "h", false, "Display help text.")

	pflag.Usage = kakunuUsage
	pflag.Parse()

	if *help {
		pflag.Usage()
		os.Exit(1)
	}

	if *version {
		printVersion("kakunu")
		return
	}

	var config, configErr = LoadConfig(*configFile)
	if configErr != nil {
		fmt.Fprintf(os.Stderr, "%s\n", configErr)
		os.Exit(1)
	}

	var flags = pflag.CommandLine
	if flags.Changed("chip") {
		config.Receiver.Chip = *chip
	}
	if flags.Changed("pin") {
		config.Receiver.Line = *pin
	}
	if flags.Changed("bias") {
		config.Receiver.Bias = *bias
	}
	if flags.Changed("start-duration") {
		config.Receiver.StartDurationUS = *startDuration
	}
	if flags.Changed("end-duration") {
		config.Receiver.EndDurationUS = *endDuration
	}
	if flags.Changed("min-message-length") {
		config.Receiver.MinMessageLength = *minMessageLength
	}
	if flags.Changed("timestamp-format") {
		config.Output.TimestampFormat = *timestampFormat
	}
	if flags.Changed("log-level") {
		config.Output.LogLevel = *logLevel
	}

	if err := config.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		pflag.Usage()
		os.Exit(1)
	}

	var logger, logErr = NewLogger(os.Stderr, "kakunu", config.Output.LogLevel)
	if logErr != nil {
		fmt.Fprintf(os.Stderr, "%s\n", logErr)
		os.Exit(1)
	}

	var signals = make(chan os.Signal, 1)
	signal.Notify(signals, unix.SIGINT, unix.SIGTERM, unix.SIGHUP, unix.SIGQUIT)

	var receiver = NewReceiver(config, MonotonicTicks, os.Stdout, logger)
	var source = NewGPIOEdgeSource(config.Receiver.Chip, config.Receiver.Line, config.Receiver.Bias)

	if err := receiver.Start(source); err != nil {
		logger.Error("Can't start receiver", "err", err)
		os.Exit(1)
	}

	if *exitOnEnter {
		fmt.Printf("Listening on pin %d. Press ENTER to exit.\n", config.Receiver.Line)
	} else {
		fmt.Printf("Listening on pin %d.\n", config.Receiver.Line)
	}
	logger.Info("receiver started", "chip", config.Receiver.Chip, "line", config.Receiver.Line)

	var enter = make(chan struct{})
	if *exitOnEnter {
		go waitForEnter(os.Stdin, enter)
	}

	select {
	case sig := <-signals:
		fmt.Printf("Received %s signal.\n", signalName(sig))
	case <-enter:
	}

	signal.Stop(signals)

	if err := receiver.Stop(); err != nil {
		logger.Error("Problem stopping receiver", "err", err)
	}

	fmt.Printf("Bye!\n")
}

// waitForEnter closes enter once a complete line has been read.
// End of input, e.g. when not run from a terminal, never counts.
func waitForEnter(r io.Reader, enter chan<- struct{}) {
	var _, err = bufio.NewReader(r).ReadString('\n')
	if err == nil {
		close(enter)
	}
}

func signalName(sig os.Signal) string {
	if s, ok := sig.(unix.Signal); ok {
		return unix.SignalName(s)
	}

	return sig.String()
}
