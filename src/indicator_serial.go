package audioboot

/*------------------------------------------------------------------
 *
 * Purpose:	Status panel on the end of a serial line.
 *
 * Description:	One text line per state or fault change:
 *
 *			STATE <state> <fault> <packets> <bytes>\r\n
 *
 *		and one per completed block while receiving:
 *
 *			BLOCK <packets> <bytes>\r\n
 *
 *		Small enough for a microcontroller driving a front panel
 *		to parse.
 *
 *		Device "pty" creates a pseudo terminal instead, for a
 *		panel simulator on the same host.  Its name is logged.
 *
 *		Lines are queued and written by a separate goroutine.
 *		If nobody is reading the other end the queue fills and
 *		lines are dropped; the tick is never held up.
 *
 *---------------------------------------------------------------*/

import (
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"github.com/charmbracelet/log"
	"github.com/creack/pty"
	"github.com/pkg/errors"
	"github.com/pkg/term"
)

// SerialIndicatorConfig selects the port.
type SerialIndicatorConfig struct {
	// Device is usually /dev/tty..., or "pty".
	Device string `yaml:"device"`
	Baud   int    `yaml:"baud"`
}

const serialQueueLen = 64

// SerialIndicator writes status lines to a serial port.
type SerialIndicator struct {
	w      io.WriteCloser
	logger *log.Logger

	// For device "pty": the slave side, held open so it does not
	// disappear before a reader turns up.
	slave io.Closer
	name  string

	lines      chan string
	dropped    atomic.Int64
	writeFails atomic.Int64

	last      State
	lastFault FaultKind
	lastBytes int
	started   bool
}

/*-------------------------------------------------------------------
 *
 * Name:	OpenSerialIndicator
 *
 * Purpose:	Open serial port in raw mode.
 *
 * Inputs:	cfg.Device	- Usually /dev/tty...
 *				  "pty" for a pseudo terminal.
 *
 *		cfg.Baud	- 1200 to 115200.  0 leaves it alone.
 *
 *--------------------------------------------------------------------*/

func OpenSerialIndicator(cfg SerialIndicatorConfig, logger *log.Logger) (*SerialIndicator, error) {
	if cfg.Device == "pty" {
		return openPtyIndicator(logger)
	}

	var fd, err = term.Open(cfg.Device, term.RawMode)
	if err != nil {
		return nil, errors.Wrapf(err, "open serial port %s", cfg.Device)
	}

	switch cfg.Baud {
	case 0: /* Leave it alone. */
	case 1200, 2400, 4800, 9600, 19200, 38400, 57600, 115200:
		if err := fd.SetSpeed(cfg.Baud); err != nil {
			fd.Close()
			return nil, errors.Wrapf(err, "set %s to %d bps", cfg.Device, cfg.Baud)
		}
	default:
		fd.Close()
		return nil, fmt.Errorf("serial port %s: unsupported speed %d", cfg.Device, cfg.Baud)
	}

	return newSerialIndicator(fd, cfg.Device, logger), nil
}

func openPtyIndicator(logger *log.Logger) (*SerialIndicator, error) {
	var ptmx, pts, err = pty.Open()
	if err != nil {
		return nil, errors.Wrap(err, "create pseudo terminal")
	}

	var name = pts.Name()

	// Raw, so the panel sees exactly what we write.
	var slave, rawErr = term.Open(name, term.RawMode)
	pts.Close()
	if rawErr != nil {
		ptmx.Close()
		return nil, errors.Wrapf(rawErr, "open %s", name)
	}

	var s = newSerialIndicator(ptmx, name, logger)
	s.slave = slave

	logger.Info("serial status panel available", "device", name)

	return s, nil
}

func newSerialIndicator(w io.WriteCloser, name string, logger *log.Logger) *SerialIndicator {
	var s = &SerialIndicator{
		w:      w,
		name:   name,
		logger: logger,
		lines:  make(chan string, serialQueueLen),
	}
	go s.writer()
	return s
}

// Name is the device lines are written to, or the pty slave to read them from.
func (s *SerialIndicator) Name() string {
	return s.name
}

func (s *SerialIndicator) writer() {
	for line := range s.lines {
		if _, err := io.WriteString(s.w, line); err != nil {
			if s.writeFails.Add(1) == 1 && !errors.Is(err, os.ErrClosed) {
				s.logger.Warn("serial panel write failed", "error", err)
			}
		}
	}
}

func (s *SerialIndicator) send(line string) {
	select {
	case s.lines <- line:
	default:
		s.dropped.Add(1)
	}
}

func (s *SerialIndicator) Render(f Frame) {
	if !s.started || f.State != s.last || f.Fault != s.lastFault {
		s.started = true
		s.last = f.State
		s.lastFault = f.Fault
		s.send(fmt.Sprintf("STATE %s %s %d %d\r\n", f.State, f.Fault, f.PacketIndex, f.Received))
	}

	if f.Received != s.lastBytes {
		s.lastBytes = f.Received
		s.send(fmt.Sprintf("BLOCK %d %d\r\n", f.PacketIndex, f.Received))
	}
}

// Close stops the writer and closes the port.  Call only once Render has
// stopped being called.
func (s *SerialIndicator) Close() error {
	close(s.lines)

	if n := s.dropped.Load(); n > 0 {
		s.logger.Warn("serial panel lines dropped", "count", n)
	}

	var err = s.w.Close()
	if s.slave != nil {
		s.slave.Close()
	}
	return err
}
