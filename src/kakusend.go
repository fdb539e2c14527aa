package kaku

/*------------------------------------------------------------------
 *
 * Purpose:   	Send a KlikAanKlikUit bit code through a 433 MHz OOK
 *		transmitter module on a GPIO line.
 *
 *---------------------------------------------------------------*/

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"golang.org/x/sys/unix"
)

func kakusendUsage() {
	fmt.Fprintf(os.Stderr, "%s - Transmit KlikAanKlikUit signals.\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "Usage: %s [options] BITCODE\n", os.Args[0])
	pflag.PrintDefaults()
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "BITCODE is a sequence of the digits 0, 1, 2 and 3.\n")
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "Example:\n")
	fmt.Fprintf(os.Stderr, "   %s 11010101101011100010110000011000 -r 4\n", os.Args[0])
}

func KakuSendMain() {
	var configFile = pflag.StringP("config", "c", "", "YAML configuration file.")
	var chip = pflag.String("chip", DefaultChip, "GPIO chip the transmitter is connected to.")
	var pin = pflag.IntP("pin", "p", DefaultTransmitterLine, "GPIO line the transmitter data input is connected to.")
	var repeat = pflag.IntP("repeat", "r", DefaultRepeat, "Number of times to send the message.")
	var dryRun = pflag.BoolP("dry-run", "n", false, "Print the pulse durations (us) instead of transmitting.")
	var logLevel = pflag.StringP("log-level", "d", "info", "Diagnostic level: debug, info, warn or error.")
	var version = pflag.BoolP("version", "v", false, "Display version and exit.")
	var help = pflag.BoolP("help", "h", false, "Display help text.")

	pflag.Usage = kakusendUsage
	pflag.Parse()

	if *help {
		pflag.Usage()
		os.Exit(1)
	}

	if *version {
		printVersion("kakusend")
		return
	}

	if pflag.NArg() != 1 {
		pflag.Usage()
		os.Exit(1)
	}

	var config, configErr = LoadConfig(*configFile)
	if configErr != nil {
		fmt.Fprintf(os.Stderr, "%s\n", configErr)
		os.Exit(1)
	}

	var flags = pflag.CommandLine
	if flags.Changed("chip") {
		config.Transmitter.Chip = *chip
	}
	if flags.Changed("pin") {
		config.Transmitter.Line = *pin
	}
	if flags.Changed("repeat") {
		config.Transmitter.Repeat = *repeat
	}
	if flags.Changed("log-level") {
		config.Output.LogLevel = *logLevel
	}

	if err := config.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		pflag.Usage()
		os.Exit(1)
	}

	var logger, logErr = NewLogger(os.Stderr, "kakusend", config.Output.LogLevel)
	if logErr != nil {
		fmt.Fprintf(os.Stderr, "%s\n", logErr)
		os.Exit(1)
	}

	var bits = pflag.Arg(0)

	var times, encodeErr = Encode(bits)
	if encodeErr != nil {
		fmt.Printf("%s\n", encodeErr)
		os.Exit(1)
	}

	if *dryRun {
		printPulses(bits, times, config.Transmitter.Repeat)
		return
	}

	var ctx, stop = signal.NotifyContext(context.Background(), unix.SIGINT, unix.SIGTERM, unix.SIGHUP, unix.SIGQUIT)
	defer stop()

	fmt.Printf("Transmitting %s on pin %d...\n", bits, config.Transmitter.Line)

	if err := transmit(ctx, config.Transmitter, times, logger); err != nil {
		logger.Error("Transmit failed", "err", err)
		stop()
		os.Exit(1) //nolint:gocritic
	}
}

func transmit(ctx context.Context, config TransmitterConfig, times []uint32, logger *log.Logger) error {
	var line, err = OpenOutputLine(config.Chip, config.Line)
	if err != nil {
		return err
	}
	defer line.Close()

	var tx = NewTransmitter(line, MonotonicSleeper{}, WithTransmitterLogger(logger))

	return errors.Wrapf(tx.Send(ctx, times, config.Repeat), "send on %s line %d", config.Chip, config.Line)
}

func printPulses(bits string, times []uint32, repeat int) {
	var durations = make([]string, len(times))
	for i, t := range times {
		durations[i] = fmt.Sprint(t)
	}

	fmt.Printf("Bit code %s, %d durations, sent %d times:\n", bits, len(times), repeat)
	fmt.Printf("%s\n", strings.Join(durations, " "))
}
