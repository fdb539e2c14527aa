package kaku

/*------------------------------------------------------------------
 *
 * Purpose:   	Settings shared by kakunu and kakusend.
 *
 * Description:	Defaults are built in.  An optional YAML file replaces
 *		any of them, and command line options win over both.
 *
 *		Example:
 *
 *			receiver:
 *			  chip: gpiochip0
 *			  line: 27
 *			  bias: pull-down
 *			  min_message_length: 64
 *			transmitter:
 *			  line: 17
 *			  repeat: 6
 *			clock:
 *			  refresh_interval: 30s
 *			output:
 *			  timestamp_format: "[%H:%M:%S]"
 *			  log_level: debug
 *
 *---------------------------------------------------------------*/

import (
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const DefaultChip = "gpiochip0"

const (
	DefaultReceiverLine    = 27
	DefaultTransmitterLine = 17
)

type ReceiverConfig struct {
	Chip             string `yaml:"chip"`
	Line             int    `yaml:"line"`
	Bias             string `yaml:"bias"`
	StartDurationUS  uint64 `yaml:"start_duration_us"`
	EndDurationUS    uint64 `yaml:"end_duration_us"`
	MinMessageLength int    `yaml:"min_message_length"`
}

type TransmitterConfig struct {
	Chip   string `yaml:"chip"`
	Line   int    `yaml:"line"`
	Repeat int    `yaml:"repeat"`
}

type ClockConfig struct {
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

type OutputConfig struct {
	TimestampFormat string `yaml:"timestamp_format"`
	LogLevel        string `yaml:"log_level"`
}

type Config struct {
	Receiver    ReceiverConfig    `yaml:"receiver"`
	Transmitter TransmitterConfig `yaml:"transmitter"`
	Clock       ClockConfig       `yaml:"clock"`
	Output      OutputConfig      `yaml:"output"`
}

func DefaultConfig() Config {
	return Config{
		Receiver: ReceiverConfig{
			Chip:             DefaultChip,
			Line:             DefaultReceiverLine,
			StartDurationUS:  DefaultStartDurationUS,
			EndDurationUS:    DefaultEndDurationUS,
			MinMessageLength: DefaultMinMessageLength,
		},
		Transmitter: TransmitterConfig{
			Chip:   DefaultChip,
			Line:   DefaultTransmitterLine,
			Repeat: DefaultRepeat,
		},
		Clock: ClockConfig{
			RefreshInterval: DefaultClockRefreshInterval,
		},
		Output: OutputConfig{
			LogLevel: "info",
		},
	}
}

// LoadConfig reads path over the defaults.  An empty path gives the defaults.
func LoadConfig(path string) (Config, error) {
	var config = DefaultConfig()

	if path == "" {
		return config, nil
	}

	var data, readErr = os.ReadFile(path) //nolint:gosec
	if readErr != nil {
		return config, errors.Wrap(readErr, "read config file")
	}

	if err := yaml.Unmarshal(data, &config); err != nil {
		return config, errors.Wrapf(err, "parse config file %s", path)
	}

	return config, nil
}

func (c Config) Validate() error {
	var r = c.Receiver

	if r.StartDurationUS >= r.EndDurationUS {
		return errors.Errorf("start duration %d us must be less than end duration %d us", r.StartDurationUS, r.EndDurationUS)
	}

	if r.MinMessageLength < minDecodeTimes || r.MinMessageLength > MaxMessageTimes {
		return errors.Errorf("minimum message length %d not in range of %d - %d", r.MinMessageLength, minDecodeTimes, MaxMessageTimes)
	}

	if !validBias(r.Bias) {
		return errors.Errorf("unknown bias %q, expected pull-up, pull-down or disabled", r.Bias)
	}

	if r.Line < 0 || c.Transmitter.Line < 0 {
		return errors.New("GPIO line numbers can't be negative")
	}

	if c.Transmitter.Repeat < 1 {
		return errors.Errorf("repeat count %d must be at least 1", c.Transmitter.Repeat)
	}

	if c.Clock.RefreshInterval <= 0 || c.Clock.RefreshInterval >= TickWrapPeriod {
		return errors.Errorf("clock refresh interval %s must be more than 0 and less than %s", c.Clock.RefreshInterval, TickWrapPeriod)
	}

	if _, err := log.ParseLevel(c.Output.LogLevel); err != nil {
		return errors.Wrapf(err, "log level %q", c.Output.LogLevel)
	}

	return nil
}
