package audioboot

import (
	"io"

	"github.com/charmbracelet/log"
)

// Peripherals are the optional hardware services named in the
// configuration, opened and ready to hand to NewDriver.
type Peripherals struct {
	Indicator Indicator
	Input     ControlInput

	// Closers in the order they were opened.
	Closers []io.Closer
}

// Options returns the driver options for p.
func (p *Peripherals) Options() []DriverOption {
	var opts = []DriverOption{WithIndicator(p.Indicator), WithControlInput(p.Input)}
	for _, c := range p.Closers {
		opts = append(opts, WithCloser(c))
	}
	return opts
}

// Close closes everything opened so far, newest first.
func (p *Peripherals) Close() {
	for i := len(p.Closers) - 1; i >= 0; i-- {
		p.Closers[i].Close()
	}
	p.Closers = nil
}

/*-------------------------------------------------------------------
 *
 * Name:	OpenPeripherals
 *
 * Purpose:	Open the button and every configured indicator.
 *
 * Description:	If anything fails, what was already opened is closed
 *		again before the error is returned.
 *
 *--------------------------------------------------------------------*/

func OpenPeripherals(cfg Config, logger *log.Logger) (*Peripherals, error) {
	var p = &Peripherals{Input: Released}
	var indicators MultiIndicator

	if cfg.Indicator.Log {
		indicators = append(indicators, &LogIndicator{
			Logger:        logger.With("component", "status"),
			ProgressEvery: cfg.Indicator.ProgressEvery,
		})
	}

	if cfg.Button != nil && cfg.Button.Line >= 0 {
		var b, err = OpenGPIOButton(*cfg.Button)
		if err != nil {
			p.Close()
			return nil, err
		}
		p.Input = b
		p.Closers = append(p.Closers, b)
	}

	if cfg.Indicator.GPIO != nil {
		var g, err = OpenGPIOIndicator(*cfg.Indicator.GPIO, logger)
		if err != nil {
			p.Close()
			return nil, err
		}
		indicators = append(indicators, g)
		p.Closers = append(p.Closers, g)
	}

	if cfg.Indicator.Serial != nil {
		var s, err = OpenSerialIndicator(*cfg.Indicator.Serial, logger)
		if err != nil {
			p.Close()
			return nil, err
		}
		indicators = append(indicators, s)
		p.Closers = append(p.Closers, s)
	}

	if cfg.Indicator.MQTT != nil {
		var m, err = OpenMQTTIndicator(*cfg.Indicator.MQTT, logger)
		if err != nil {
			p.Close()
			return nil, err
		}
		indicators = append(indicators, m)
		p.Closers = append(p.Closers, m)
	}

	p.Indicator = indicators

	return p, nil
}
