package audioboot

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/warthog618/go-gpiocdev"
)

// ControlInput is the operator's button, read as a level.
type ControlInput interface {
	Pressed() (bool, error)
}

// ControlInputFunc adapts a function to ControlInput.
type ControlInputFunc func() (bool, error)

func (f ControlInputFunc) Pressed() (bool, error) {
	return f()
}

// Released is a ControlInput for hosts with no button at all.
var Released = ControlInputFunc(func() (bool, error) { return false, nil })

// GPIOButtonConfig selects the button line.  Line < 0 means no button.
type GPIOButtonConfig struct {
	Chip string `yaml:"chip"`
	Line int    `yaml:"line"`

	// ActiveLow: pressed pulls the line to ground.  A pull-up is requested.
	ActiveLow bool `yaml:"active_low"`
}

type gpioInputLine interface {
	Value() (int, error)
	Close() error
}

// GPIOButton reads the button from a GPIO line.
type GPIOButton struct {
	line gpioInputLine
}

func OpenGPIOButton(cfg GPIOButtonConfig) (*GPIOButton, error) {
	var opts = []gpiocdev.LineReqOption{gpiocdev.AsInput, gpiocdev.WithConsumer("audioboot")}
	if cfg.ActiveLow {
		opts = append(opts, gpiocdev.AsActiveLow, gpiocdev.WithPullUp)
	}

	var l, err = gpiocdev.RequestLine(cfg.Chip, cfg.Line, opts...)
	if err != nil {
		return nil, errors.Wrapf(err, "request button %s line %d", cfg.Chip, cfg.Line)
	}

	return &GPIOButton{line: l}, nil
}

func (b *GPIOButton) Pressed() (bool, error) {
	var v, err = b.line.Value()
	if err != nil {
		return false, errors.Wrap(err, "read button")
	}
	return v != 0, nil
}

func (b *GPIOButton) Close() error {
	return b.line.Close()
}

/*-------------------------------------------------------------------
 *
 * Name:	HeldAtBoot
 *
 * Purpose:	Decide whether to enter the bootloader at all.
 *
 * Inputs:	polls		- How many times to look at the button.
 *		interval	- Time between looks.
 *
 * Returns:	True if the button was still down at the end and had been
 *		down without a break for more than half the polls.
 *
 * Description:	The update is requested by holding the button through
 *		power-on.  Anything less, including bounce, boots the
 *		resident application.
 *
 *--------------------------------------------------------------------*/

func HeldAtBoot(ctx context.Context, input ControlInput, polls int, interval time.Duration) (bool, error) {
	var held = 0

	for i := 0; i < polls; i++ {
		var pressed, err = input.Pressed()
		if err != nil {
			return false, err
		}

		if pressed {
			held++
		} else {
			held = 0
		}

		if interval > 0 {
			select {
			case <-ctx.Done():
				return false, ctx.Err()
			case <-time.After(interval):
			}
		} else if err := ctx.Err(); err != nil {
			return false, err
		}
	}

	return held > polls/2, nil
}
