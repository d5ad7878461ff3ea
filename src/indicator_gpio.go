package audioboot

import (
	"github.com/charmbracelet/log"
	"github.com/pkg/errors"
	"github.com/warthog618/go-gpiocdev"
)

// gpioOutputLine is the part of *gpiocdev.Line we drive.  Tests swap in a fake.
type gpioOutputLine interface {
	SetValue(v int) error
	Close() error
}

// GPIOIndicatorConfig names the LED lines.  A negative offset means the
// LED is not fitted.
type GPIOIndicatorConfig struct {
	Chip    string `yaml:"chip"`
	Sliders []int  `yaml:"sliders"`
	Locks   []int  `yaml:"locks"`

	// ActiveLow is for LEDs wired to sink current into the pin.
	ActiveLow bool `yaml:"active_low"`
}

// GPIOIndicator shows the slider and lock LEDs on GPIO lines.  The ring
// needs an LED driver chip and is not shown.
type GPIOIndicator struct {
	logger *log.Logger

	sliders []gpioOutputLine
	locks   []gpioOutputLine

	// Last value written, so unchanged LEDs are not touched every tick.
	shownSliders uint8
	shownLocks   uint8
	shown        bool
	failed       bool
}

// OpenGPIOIndicator requests every configured line as an output, off.
func OpenGPIOIndicator(cfg GPIOIndicatorConfig, logger *log.Logger) (*GPIOIndicator, error) {
	var g = &GPIOIndicator{logger: logger}

	var opts = []gpiocdev.LineReqOption{gpiocdev.AsOutput(0), gpiocdev.WithConsumer("audioboot")}
	if cfg.ActiveLow {
		opts = append(opts, gpiocdev.AsActiveLow)
	}

	var request = func(offsets []int) ([]gpioOutputLine, error) {
		var lines []gpioOutputLine
		for _, offset := range offsets {
			if offset < 0 {
				lines = append(lines, nil)
				continue
			}
			var l, err = gpiocdev.RequestLine(cfg.Chip, offset, opts...)
			if err != nil {
				return lines, errors.Wrapf(err, "request %s line %d", cfg.Chip, offset)
			}
			lines = append(lines, l)
		}
		return lines, nil
	}

	var err error
	g.sliders, err = request(cfg.Sliders)
	if err != nil {
		g.Close()
		return nil, err
	}

	g.locks, err = request(cfg.Locks)
	if err != nil {
		g.Close()
		return nil, err
	}

	return g, nil
}

func setLines(lines []gpioOutputLine, bits uint8) error {
	for i, l := range lines {
		if l == nil || i >= 8 {
			continue
		}
		if err := l.SetValue(int(bits>>i) & 1); err != nil {
			return err
		}
	}
	return nil
}

func (g *GPIOIndicator) Render(f Frame) {
	if g.failed {
		return
	}

	if g.shown && f.Sliders == g.shownSliders && f.Locks == g.shownLocks {
		return
	}

	var err = setLines(g.sliders, f.Sliders)
	if err == nil {
		err = setLines(g.locks, f.Locks)
	}

	if err != nil {
		// One complaint, then stay quiet.  The LEDs are not worth stopping for.
		g.failed = true
		g.logger.Error("GPIO indicator disabled", "error", err)
		return
	}

	g.shown = true
	g.shownSliders = f.Sliders
	g.shownLocks = f.Locks
}

// Close turns everything off and releases the lines.
func (g *GPIOIndicator) Close() error {
	var first error
	for _, lines := range [][]gpioOutputLine{g.sliders, g.locks} {
		for _, l := range lines {
			if l == nil {
				continue
			}
			l.SetValue(0)
			if err := l.Close(); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}
