package audioboot

import (
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/lestrrat-go/strftime"
	"github.com/pkg/errors"
)

// Handoff transfers control to the code at addr.  On the device it does
// not return.
type Handoff interface {
	Jump(addr uint32) error
}

// HandoffFunc adapts a function to Handoff.
type HandoffFunc func(addr uint32) error

func (f HandoffFunc) Jump(addr uint32) error {
	return f(addr)
}

// HandoffConfig is for the host handoff.
type HandoffConfig struct {
	// DumpPattern is a strftime pattern for the file the executable
	// region is written to.  Empty means no dump.
	DumpPattern string `yaml:"dump_pattern"`
}

// FlashReader reads a range of flash.
type FlashReader interface {
	ReadWord(addr uint32) (uint32, error)
}

// ImageHandoff is the host's stand-in for jumping to the application: it
// writes the executable region out to a file and logs where execution
// would continue.
type ImageHandoff struct {
	cfg    HandoffConfig
	flash  FlashReader
	layout FlashLayout
	logger *log.Logger
	now    func() time.Time

	// Path of the last dump written.
	Path string
}

func NewImageHandoff(cfg HandoffConfig, flash FlashReader, layout FlashLayout, logger *log.Logger) *ImageHandoff {
	return &ImageHandoff{cfg: cfg, flash: flash, layout: layout, logger: logger, now: time.Now}
}

func (h *ImageHandoff) Jump(addr uint32) error {
	h.logger.Info("handing off", "address", addrString(addr))

	if h.cfg.DumpPattern == "" {
		return nil
	}

	var path, err = strftime.Format(h.cfg.DumpPattern, h.now())
	if err != nil {
		return errors.Wrapf(err, "dump pattern %q", h.cfg.DumpPattern)
	}

	var size = int(h.layout.StagingStart - addr)
	var data = make([]byte, 0, size)
	for a := addr; a < h.layout.StagingStart; a += WordSize {
		var w, readErr = h.flash.ReadWord(a)
		if readErr != nil {
			return errors.Wrapf(readErr, "read 0x%08X", a)
		}
		data = append(data, byte(w), byte(w>>8), byte(w>>16), byte(w>>24))
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, "write %s", path)
	}

	h.Path = path
	h.logger.Info("executable region written", "file", path, "bytes", len(data))

	return nil
}
