package audioboot

/*------------------------------------------------------------------
 *
 * Purpose:	The bootloader proper: tie the pieces together and run
 *		an update from power-on to handoff.
 *
 * Description:	Three flows of control, as on the device:
 *
 *		  audio		AudioSource calls the slicer once per half
 *				buffer.  Reads the state, never blocks.
 *
 *		  tick		Fixed period.  Samples the button for the
 *				abort detector and acknowledgments, and
 *				renders the indicator.
 *
 *		  main		Run.  Drains symbols into the reception
 *				pipeline, owns the flash, handles faults,
 *				relocates and hands off.
 *
 *		Only main writes the state.  The other two see it, the
 *		packet index and the byte count through atomics, and
 *		main sees the exit request the same way.
 *
 *---------------------------------------------------------------*/

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"
)

// ErrInputEnded is returned when the audio source stops before end of
// transmission and there is nothing left to decode.
var ErrInputEnded = errors.New("input ended before end of transmission")

// Outcome is how a run ended.
type Outcome int

const (
	// OutcomeUpdated: end of transmission, image relocated, handed off.
	OutcomeUpdated Outcome = iota

	// OutcomeManualExit: the operator aborted while idle.  The resident
	// application was started untouched.
	OutcomeManualExit

	// OutcomeNotRequested: the button was not held at power-on.
	OutcomeNotRequested

	// OutcomeFailed: a fatal fault or an error from a collaborator.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeUpdated:
		return "updated"
	case OutcomeManualExit:
		return "manual exit"
	case OutcomeNotRequested:
		return "not requested"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Report summarises a run.
type Report struct {
	Outcome Outcome

	// Packets is the packet index when the run ended.
	Packets int

	// Blocks is the number of blocks written to staging.
	Blocks int

	// Received is the number of bytes programmed into staging.
	Received int

	// Relocated is the number of bytes copied to the executable region.
	Relocated int

	// Recoveries counts acknowledged faults.
	Recoveries int
}

// DriverOption customises a Driver.
type DriverOption func(*Driver)

func WithLogger(logger *log.Logger) DriverOption {
	return func(d *Driver) { d.logger = logger }
}

func WithIndicator(ind Indicator) DriverOption {
	return func(d *Driver) { d.indicator = ind }
}

func WithControlInput(input ControlInput) DriverOption {
	return func(d *Driver) { d.input = input }
}

func WithHandoff(h Handoff) DriverOption {
	return func(d *Driver) { d.handoff = h }
}

func WithAudioSource(src AudioSource) DriverOption {
	return func(d *Driver) { d.audio = src }
}

// WithCloser adds a peripheral to be closed before the handoff.  Closers
// run in reverse order of addition.
func WithCloser(c io.Closer) DriverOption {
	return func(d *Driver) { d.closers = append(d.closers, c) }
}

// WithAutoAck acknowledges every recoverable fault without waiting for the
// button.  For unattended bench runs.
func WithAutoAck(auto bool) DriverOption {
	return func(d *Driver) { d.autoAck = auto }
}

// Driver owns everything.  Build one with NewDriver, then call Run once.
type Driver struct {
	cfg    Config
	logger *log.Logger

	state     StateCell
	flash     *FlashWriter
	demod     Demodulator
	decoder   PacketDecoder
	slicer    *Slicer
	reception *Reception

	input     ControlInput
	indicator Indicator
	handoff   Handoff
	audio     AudioSource
	closers   []io.Closer
	autoAck   bool

	// Tick goroutine state.  tickMu is only contended during
	// reinitialisation.
	tickMu      sync.Mutex
	abort       AbortDetector
	anim        Animator
	ackPressed  bool
	inputFailed bool

	acks     chan struct{}
	exitReq  atomic.Bool
	received atomic.Int64

	recoveries int

	stop   context.CancelFunc
	wg     sync.WaitGroup
	closed bool
}

/*-------------------------------------------------------------------
 *
 * Name:	NewDriver
 *
 * Purpose:	Build the driver and its pipeline.
 *
 * Inputs:	cfg	- Validated configuration.
 *		flash	- The device's non-volatile memory.
 *		demod	- Demodulator; the slicer pushes samples into it.
 *		decoder	- Packet decoder.
 *
 * Description:	Without options the driver has no button, no indicator
 *		and a handoff that only logs.
 *
 *--------------------------------------------------------------------*/

func NewDriver(cfg Config, flash Flash, demod Demodulator, decoder PacketDecoder, opts ...DriverOption) *Driver {
	var d = &Driver{
		cfg:     cfg,
		logger:  discardLogger(),
		demod:   demod,
		decoder: decoder,
		input:   Released,
		acks:    make(chan struct{}, 1),
	}

	for _, opt := range opts {
		opt(d)
	}

	if d.handoff == nil {
		var logger = d.logger
		d.handoff = HandoffFunc(func(addr uint32) error {
			logger.Info("handing off", "address", addrString(addr))
			return nil
		})
	}
	if d.indicator == nil {
		d.indicator = MultiIndicator(nil)
	}

	d.flash = NewFlashWriter(flash, cfg.Layout, d.logger.With("component", "flash"))
	d.slicer = NewSlicer(cfg.Slicer, demod, &d.state)
	d.reception = NewReception(cfg.Reception, decoder, d.flash, &d.state, d.resync, d.logger.With("component", "reception"))

	return d
}

// State is the current operating state.
func (d *Driver) State() State {
	return d.state.Load()
}

// Slicer is the bit slicer, for audio sources built outside the driver.
func (d *Driver) Slicer() *Slicer {
	return d.slicer
}

// Reception is the packet pipeline.
func (d *Driver) Reception() *Reception {
	return d.reception
}

// FlashWriter is the staging writer.
func (d *Driver) FlashWriter() *FlashWriter {
	return d.flash
}

// ExitRequested reports whether the operator has asked to leave.
func (d *Driver) ExitRequested() bool {
	return d.exitReq.Load()
}

func (d *Driver) resync() {
	d.demod.Sync()
	d.slicer.Resync(d.cfg.Slicer.ResyncDiscard)
}

/*-------------------------------------------------------------------
 *
 * Name:	InitializeReception
 *
 * Purpose:	Put decoding back to a fresh start.
 *
 * Description:	Used at start-up and after every acknowledged fault.
 *		Decoder and demodulator are reinitialised, the slicer
 *		discards while the front end settles, the block buffer
 *		empties and the abort detector forgets everything.
 *
 *		The flash cursor is left alone unless the configuration
 *		asks for a rewind.  Blocks already written stay where
 *		they are and new ones follow them.
 *
 *--------------------------------------------------------------------*/

func (d *Driver) InitializeReception() {
	d.decoder.Init()
	d.decoder.Reset()
	d.demod.Init()
	d.demod.Sync()
	d.slicer.Resync(d.cfg.Slicer.DiscardSamples)

	d.reception.Restart()
	if d.cfg.Reception.RewindOnRecovery {
		d.flash.Rewind()
	}
	d.received.Store(int64(d.flash.Received()))

	d.tickMu.Lock()
	d.abort.Reset()
	d.anim.Reset()
	d.ackPressed = false
	d.tickMu.Unlock()

	select {
	case <-d.acks:
	default:
	}

	d.state.Reset()
}

/*-------------------------------------------------------------------
 *
 * Name:	Tick
 *
 * Purpose:	One period of the system tick.
 *
 * Inputs:	pressed	- Level of the control input.
 *
 * Description:	Feeds the abort detector (honoured only while no packet
 *		has arrived), spots press-then-release while in Error
 *		as an acknowledgment, and renders one animation frame.
 *
 *--------------------------------------------------------------------*/

func (d *Driver) Tick(pressed bool) {
	var state = d.state.Load()

	d.tickMu.Lock()

	if d.abort.Tick(pressed, d.reception.Idle()) {
		d.exitReq.Store(true)
	}

	if state == StateError {
		if pressed {
			d.ackPressed = true
		} else if d.ackPressed {
			d.ackPressed = false
			select {
			case d.acks <- struct{}{}:
			default:
			}
		}
	} else {
		d.ackPressed = false
	}

	var frame = d.anim.Next(state, d.state.Fault(), d.reception.PacketIndex(), int(d.received.Load()))

	d.tickMu.Unlock()

	d.indicator.Render(frame)
}

func (d *Driver) tickLoop(ctx context.Context) {
	var ticker = time.NewTicker(d.cfg.Tick.Period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		var pressed, err = d.input.Pressed()
		if err != nil {
			if !d.inputFailed {
				d.logger.Warn("control input failed, treating as released", "error", err)
				d.inputFailed = true
			}
			pressed = false
		}

		d.Tick(pressed)
	}
}

/*-------------------------------------------------------------------
 *
 * Name:	Step
 *
 * Purpose:	Drain every symbol the demodulator has ready.
 *
 * Returns:	nil, or the fault that stopped decoding.  Nothing is
 *		consumed while a fault is outstanding.
 *
 *--------------------------------------------------------------------*/

func (d *Driver) Step() error {
	if d.reception.Failed() || d.reception.Done() {
		return nil
	}

	if d.demod.Overflowed() {
		d.logger.Error("symbol queue overflow", "packet", d.reception.PacketIndex())
		return d.reception.fault(FaultSymbolOverflow)
	}

	for d.demod.Available() && !d.exitReq.Load() {
		var ev, err = d.reception.Consume(d.demod.NextSymbol())

		if ev == EventBlockWritten || ev == EventFault {
			d.received.Store(int64(d.flash.Received()))
		}
		if err != nil {
			return err
		}
		if ev == EventEndOfTransmission {
			return nil
		}
	}

	return nil
}

/*-------------------------------------------------------------------
 *
 * Name:	Recover
 *
 * Purpose:	Wait for the operator to acknowledge a fault, then
 *		start reception over.
 *
 * Returns:	ctx.Err() if cancelled while waiting.
 *
 *--------------------------------------------------------------------*/

func (d *Driver) Recover(ctx context.Context) error {
	if !d.autoAck {
		d.logger.Warn("press and release the button to retry")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.acks:
		}
	}

	d.recoveries++
	d.logger.Info("retrying", "cursor", addrString(d.flash.Cursor()), "rewind", d.cfg.Reception.RewindOnRecovery)
	d.InitializeReception()

	return nil
}

func (d *Driver) report(outcome Outcome) Report {
	return Report{
		Outcome:    outcome,
		Packets:    d.reception.PacketIndex(),
		Blocks:     d.reception.BlocksWritten(),
		Received:   d.flash.Received(),
		Recoveries: d.recoveries,
	}
}

func (d *Driver) entryCheck(ctx context.Context) (bool, error) {
	if !d.cfg.Entry.RequireButton {
		return true, nil
	}
	return HeldAtBoot(ctx, d.input, d.cfg.Entry.Polls, d.cfg.Entry.Interval)
}

func (d *Driver) start(ctx context.Context) <-chan error {
	var runCtx, cancel = context.WithCancel(ctx)
	d.stop = cancel

	var audioDone = make(chan error, 1)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.tickLoop(runCtx)
	}()

	if d.audio != nil {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			audioDone <- d.audio.Run(runCtx, d.slicer.ProcessBlock)
		}()
	}

	return audioDone
}

// shutdown stops the tick and audio goroutines and closes every
// peripheral.  Safe to call more than once.
func (d *Driver) shutdown() error {
	if d.closed {
		return nil
	}
	d.closed = true

	if d.stop != nil {
		d.stop()
	}
	d.wg.Wait()

	var first error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i].Close(); err != nil {
			d.logger.Warn("close failed", "error", err)
			if first == nil {
				first = err
			}
		}
	}

	return first
}

func (d *Driver) jump(addr uint32) error {
	if err := d.shutdown(); err != nil {
		d.logger.Warn("peripheral shutdown incomplete", "error", err)
	}
	return d.handoff.Jump(addr)
}

/*-------------------------------------------------------------------
 *
 * Name:	Run
 *
 * Purpose:	Run one update session.
 *
 * Description:	Enter only if the button is held through power-on (when
 *		required).  Then loop:
 *
 *		  - drain symbols into the pipeline,
 *		  - on a recoverable fault wait for acknowledgment and
 *		    start over,
 *		  - on a fatal fault give up,
 *		  - on end of transmission copy what was received from
 *		    staging to the executable region and hand off,
 *		  - on a manual exit hand off to whatever is already
 *		    in the executable region.
 *
 *		Peripherals are closed before any handoff.
 *
 *--------------------------------------------------------------------*/

func (d *Driver) Run(ctx context.Context) (Report, error) {
	var layout = d.cfg.Layout

	var enter, err = d.entryCheck(ctx)
	if err != nil {
		d.shutdown()
		return d.report(OutcomeFailed), errors.Wrap(err, "entry check")
	}
	if !enter {
		d.logger.Info("button not held, starting resident application")
		return d.report(OutcomeNotRequested), d.jump(layout.ExecStart)
	}

	d.InitializeReception()
	var audioDone = d.start(ctx)

	// Second look once everything is running, so a button bounce at
	// power-on does not start an update.
	enter, err = d.entryCheck(ctx)
	if err != nil {
		d.shutdown()
		return d.report(OutcomeFailed), errors.Wrap(err, "entry check")
	}
	if !enter {
		d.logger.Info("button released during start-up, starting resident application")
		return d.report(OutcomeNotRequested), d.jump(layout.ExecStart)
	}

	d.logger.Info("waiting for transmission", "staging", addrString(layout.StagingStart), "executable", addrString(layout.ExecStart))

	var audioEnded = false

	for {
		if err := d.Step(); err != nil {
			if !IsRecoverable(err) {
				d.logger.Error("fatal fault, power cycle required", "error", err)
				d.shutdown()
				return d.report(OutcomeFailed), err
			}

			if err := d.Recover(ctx); err != nil {
				d.shutdown()
				return d.report(OutcomeFailed), err
			}
			continue
		}

		if d.reception.Done() {
			return d.finish()
		}

		if d.exitReq.Load() {
			d.logger.Info("manual exit")
			var r = d.report(OutcomeManualExit)
			return r, d.jump(layout.ExecStart)
		}

		if audioEnded && !d.demod.Available() {
			d.shutdown()
			return d.report(OutcomeFailed), ErrInputEnded
		}

		select {
		case <-ctx.Done():
			d.shutdown()
			return d.report(OutcomeFailed), ctx.Err()

		case err := <-audioDone:
			if err != nil {
				d.shutdown()
				return d.report(OutcomeFailed), errors.Wrap(err, "audio")
			}
			d.logger.Info("audio input ended")
			audioEnded = true
			audioDone = nil

		case <-time.After(d.cfg.Tick.Poll):
		}
	}
}

// finish relocates the received image and hands off.
func (d *Driver) finish() (Report, error) {
	var layout = d.cfg.Layout
	var size = d.flash.Received()

	d.logger.Info("relocating image", "bytes", size, "from", addrString(layout.StagingStart), "to", addrString(layout.ExecStart))

	var copied, err = d.flash.RelocateImage(layout.StagingStart, layout.ExecStart, size)

	var r = d.report(OutcomeUpdated)
	r.Relocated = copied

	if err != nil {
		d.state.Fail(FaultFlash)
		d.shutdown()
		r.Outcome = OutcomeFailed
		return r, errors.Wrap(err, "relocate")
	}

	return r, d.jump(layout.ExecStart)
}
