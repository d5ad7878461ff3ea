package audioboot

/*------------------------------------------------------------------
 *
 * Purpose:	Configuration: defaults, YAML file, validation.
 *
 * Description:	Defaults describe the reference board, so an empty
 *		file (or none at all) gives a working setup.  A file
 *		only needs to mention what differs.
 *
 *---------------------------------------------------------------*/

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// TickConfig paces the tick goroutine and the main loop.
type TickConfig struct {
	Period time.Duration `yaml:"period"`

	// Poll is how long the main loop sleeps when no symbols are waiting.
	Poll time.Duration `yaml:"poll"`
}

// EntryConfig controls the power-on button check.
type EntryConfig struct {
	RequireButton bool          `yaml:"require_button"`
	Polls         int           `yaml:"polls"`
	Interval      time.Duration `yaml:"interval"`
}

// IndicatorConfig enables indicator backends.  Log is always available;
// the others are on when their section is present.
type IndicatorConfig struct {
	Log           bool `yaml:"log"`
	ProgressEvery int  `yaml:"progress_every"`

	GPIO   *GPIOIndicatorConfig   `yaml:"gpio"`
	Serial *SerialIndicatorConfig `yaml:"serial"`
	MQTT   *MQTTIndicatorConfig   `yaml:"mqtt"`
}

type FlashConfig struct {
	// Image is the file that stands in for the flash on a host.
	Image string `yaml:"image"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Config is the whole of audioboot.yaml.
type Config struct {
	Layout    FlashLayout       `yaml:"layout"`
	Reception ReceptionConfig   `yaml:"reception"`
	Slicer    SlicerConfig      `yaml:"slicer"`
	Audio     AudioConfig       `yaml:"audio"`
	Tick      TickConfig        `yaml:"tick"`
	Entry     EntryConfig       `yaml:"entry"`
	Button    *GPIOButtonConfig `yaml:"button"`
	Indicator IndicatorConfig   `yaml:"indicator"`
	Flash     FlashConfig       `yaml:"flash"`
	Handoff   HandoffConfig     `yaml:"handoff"`
	Log       LogConfig         `yaml:"log"`

	// SymbolQueue is the capacity of the demodulator's symbol queue.
	SymbolQueue int `yaml:"symbol_queue"`
}

// DefaultConfig matches the reference board: 48 kHz codec with four
// int16 slots per frame, 256 byte packets, 16 KiB blocks.
func DefaultConfig() Config {
	return Config{
		Layout: DefaultLayout(),
		Reception: ReceptionConfig{
			PacketSize: 256,
			BlockSize:  16384,
		},
		Slicer: SlicerConfig{
			LowThreshold:   -300,
			HighThreshold:  400,
			Stride:         4,
			DiscardSamples: 8000,
		},
		Audio: AudioConfig{
			SampleRate:    48000,
			FramesPerHalf: 256,
			Channels:      4,
			StatsInterval: 100 * time.Second,
		},
		Tick: TickConfig{
			Period: time.Millisecond,
			Poll:   time.Millisecond,
		},
		Entry: EntryConfig{
			Polls:    4000,
			Interval: 250 * time.Microsecond,
		},
		Indicator: IndicatorConfig{
			Log:           true,
			ProgressEvery: 64,
		},
		Handoff: HandoffConfig{
			DumpPattern: "audioboot-%Y%m%d-%H%M%S.bin",
		},
		Log:         LogConfig{Level: "info"},
		SymbolQueue: 4096,
	}
}

// If search order is changed, update the usage text too.
var configSearchLocations = []string{
	"audioboot.yaml",
	"/etc/audioboot/audioboot.yaml",
	"/usr/local/share/audioboot/audioboot.yaml",
}

// LoadConfig reads path, or the first file found in the search locations
// when path is empty.  No file at all is not an error: the defaults are
// returned.  The second return value names the file used.
func LoadConfig(path string) (Config, string, error) {
	var cfg = DefaultConfig()

	var locations = configSearchLocations
	if path != "" {
		locations = []string{path}
	}

	for _, location := range locations {
		var f, err = os.Open(location)
		if err != nil {
			if path != "" {
				return cfg, "", errors.Wrapf(err, "open config")
			}
			continue
		}
		defer f.Close()

		if err := decodeConfig(f, &cfg); err != nil {
			return cfg, location, errors.Wrapf(err, "parse %s", location)
		}
		return cfg, location, cfg.Validate()
	}

	return cfg, "", cfg.Validate()
}

func decodeConfig(r io.Reader, cfg *Config) error {
	var dec = yaml.NewDecoder(r)
	dec.KnownFields(true)

	var err = dec.Decode(cfg)
	if err == io.EOF {
		return nil
	}
	return err
}

// ParseConfig decodes YAML on top of the defaults and validates the result.
func ParseConfig(data []byte) (Config, error) {
	var cfg = DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrap(err, "parse config")
	}
	return cfg, cfg.Validate()
}

// Validate reports the first inconsistency found.
func (c Config) Validate() error {
	if err := c.Layout.Validate(); err != nil {
		return err
	}

	var r = c.Reception
	if r.PacketSize <= 0 || r.BlockSize <= 0 {
		return fmt.Errorf("reception: packet_size and block_size must be positive")
	}
	if r.BlockSize%r.PacketSize != 0 {
		return fmt.Errorf("reception: block_size %d is not a multiple of packet_size %d", r.BlockSize, r.PacketSize)
	}
	if r.BlockSize%WordSize != 0 {
		return fmt.Errorf("reception: block_size %d is not a whole number of words", r.BlockSize)
	}
	if r.BlockSize > int(c.Layout.EndGuard-c.Layout.StagingStart) {
		return fmt.Errorf("reception: block_size %d does not fit in the staging region", r.BlockSize)
	}

	if c.Slicer.LowThreshold > c.Slicer.HighThreshold {
		return fmt.Errorf("slicer: low_threshold %d is above high_threshold %d", c.Slicer.LowThreshold, c.Slicer.HighThreshold)
	}
	if c.Slicer.Stride < 1 {
		return fmt.Errorf("slicer: stride must be at least 1")
	}
	if c.Slicer.DiscardSamples < 0 || c.Slicer.ResyncDiscard < 0 {
		return fmt.Errorf("slicer: discard counts can not be negative")
	}

	if c.Tick.Period <= 0 {
		return fmt.Errorf("tick: period must be positive")
	}

	if c.SymbolQueue < 1 {
		return fmt.Errorf("symbol_queue must be at least 1")
	}

	if c.Indicator.MQTT != nil && c.Indicator.MQTT.Broker == "" {
		return fmt.Errorf("indicator.mqtt: broker is required")
	}
	if c.Indicator.Serial != nil && c.Indicator.Serial.Device == "" {
		return fmt.Errorf("indicator.serial: device is required")
	}

	return nil
}
