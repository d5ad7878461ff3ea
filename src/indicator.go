package audioboot

/*------------------------------------------------------------------
 *
 * Purpose:	Tell the operator what is going on.
 *
 * Description:	The Animator turns the operating state into a Frame
 *		once per tick.  Indicators render frames on whatever
 *		hardware is at hand.  Rendering is fire-and-forget; a
 *		slow or broken indicator never holds up the tick.
 *
 *		Panel layout on the reference board:
 *
 *		  6 slider LEDs		progress chase / writing blink
 *		  6 lock LEDs		faults and completion
 *		  78 LED ring		packet progress / waiting fade
 *
 *---------------------------------------------------------------*/

import (
	"github.com/charmbracelet/log"
)

const (
	sliderCount = 6
	ringCount   = 78

	allSliders uint8 = 1<<sliderCount - 1

	lockAwaitAck = 1
	lockSync     = 2
	lockChecksum = 3
)

// Frame is the panel contents for one tick.
type Frame struct {
	State State
	Fault FaultKind

	// Sliders and Locks are bitmasks, bit i is LED i.
	Sliders uint8
	Locks   uint8

	// Ring LEDs changed on this tick.  Ring holds the LED numbers and
	// RingOn their new level.  Both are only valid during Render.
	Ring   []int
	RingOn []bool

	PacketIndex int
	Received    int
}

// Indicator renders frames.  Render is called from the tick goroutine.
type Indicator interface {
	Render(f Frame)
}

// IndicatorFunc adapts a function to Indicator.
type IndicatorFunc func(Frame)

func (f IndicatorFunc) Render(fr Frame) {
	f(fr)
}

// MultiIndicator renders to each of its members in turn.
type MultiIndicator []Indicator

func (m MultiIndicator) Render(f Frame) {
	for _, ind := range m {
		ind.Render(f)
	}
}

// Animator holds the animation counters.  Tick goroutine only.
type Animator struct {
	delay      int
	lastPacket int
	chase      int

	sliders uint8
	locks   uint8

	ringScratch   [2]int
	ringOnScratch [2]bool
}

// Reset puts the panel back to dark.
func (a *Animator) Reset() {
	*a = Animator{}
}

/*-------------------------------------------------------------------
 *
 * Name:	Next
 *
 * Purpose:	Advance the animation by one tick.
 *
 * Inputs:	state, fault	- From the StateCell.
 *		packetIndex	- Good packets since reinitialisation.
 *		received	- Bytes programmed into staging.
 *
 * Description:	Receiving: every new packet moves the slider chase on
 *		one LED and lights or clears one ring LED, so the ring
 *		fills up and then empties again.
 *
 *		Writing: sliders blink, on at 200 ticks, off at 400.
 *
 *		Waiting: ring LEDs 1 and 2 swap every 400 ticks.
 *
 *--------------------------------------------------------------------*/

func (a *Animator) Next(state State, fault FaultKind, packetIndex int, received int) Frame {
	var f = Frame{
		State:       state,
		Fault:       fault,
		PacketIndex: packetIndex,
		Received:    received,
	}

	var ring = a.ringScratch[:0]
	var ringOn = a.ringOnScratch[:0]

	switch state {
	case StateReceiving:
		a.locks = 0
		if packetIndex < a.lastPacket {
			a.lastPacket = 0
		}
		if packetIndex > a.lastPacket {
			a.lastPacket = packetIndex
			a.sliders = 1 << a.chase
			a.chase = (a.chase + 1) % sliderCount

			var n = packetIndex / sliderCount
			ring = append(ring, n%ringCount)
			ringOn = append(ringOn, n%(ringCount*2) < ringCount)
		}

	case StateWriting:
		a.delay++
		if a.delay > 400 {
			a.delay = 0
			a.sliders = 0
		} else if a.delay == 200 {
			a.sliders = allSliders
		}

	case StateWaiting:
		a.locks = 0
		if a.delay == 400 {
			ring = append(ring, 1, 2)
			ringOn = append(ringOn, true, false)
		}
		a.delay++
		if a.delay > 800 {
			a.delay = 0
			ring = append(ring, 1, 2)
			ringOn = append(ringOn, false, true)
		}

	case StateError:
		a.sliders = 0
		a.locks = 1 << lockAwaitAck
		switch fault {
		case FaultSync:
			a.locks |= 1 << lockSync
		case FaultChecksum:
			a.locks |= 1 << lockChecksum
		default:
			a.locks |= 1<<lockSync | 1<<lockChecksum
		}

	case StateDone:
		a.sliders = 0
		a.locks = 1<<0 | 1<<5
	}

	f.Sliders = a.sliders
	f.Locks = a.locks
	if len(ring) > 0 {
		f.Ring = ring
		f.RingOn = ringOn
	}

	return f
}

// LogIndicator logs state and fault changes, and progress every
// ProgressEvery packets.
type LogIndicator struct {
	Logger        *log.Logger
	ProgressEvery int

	last       State
	lastFault  FaultKind
	lastPacket int
	started    bool
}

func (l *LogIndicator) Render(f Frame) {
	if !l.started || f.State != l.last || f.Fault != l.lastFault {
		l.started = true
		l.last = f.State
		l.lastFault = f.Fault
		if f.State == StateError {
			l.Logger.Error("state", "state", f.State, "fault", f.Fault)
		} else {
			l.Logger.Info("state", "state", f.State)
		}
	}

	if l.ProgressEvery > 0 && f.PacketIndex != l.lastPacket {
		l.lastPacket = f.PacketIndex
		if f.PacketIndex%l.ProgressEvery == 0 {
			l.Logger.Info("progress", "packets", f.PacketIndex, "bytes", f.Received)
		}
	}
}
