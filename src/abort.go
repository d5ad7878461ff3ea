package audioboot

/*------------------------------------------------------------------
 *
 * Purpose:	Spot a deliberate "get me out of here" from the button.
 *
 * Description:	The button is sampled once per tick and shifted into
 *		a 16 bit history, newest sample in bit 0.  Released
 *		shifts in a 1, pressed a 0.  The top three bits are
 *		forced to 1 so only the last 13 samples matter.
 *
 *		    0xe00f	pressed for 9 ticks, then released for 4.
 *				Arms the detector.
 *
 *		    0xff00	released for 5 ticks, then pressed for 8.
 *				Confirms, if armed and nothing has been
 *				received yet.
 *
 *		The history starts out as "released for ever", so only
 *		a real press can arm the detector.
 *
 *		A single bounce or a brief tap can match neither
 *		pattern.  Asking for arm then confirm rules out the
 *		button still being held from power-on.
 *
 *---------------------------------------------------------------*/

const (
	abortFixedBits      uint16 = 0xe000
	abortArmPattern     uint16 = 0xe00f
	abortConfirmPattern uint16 = 0xff00
)

// AbortDetector is touched from the tick goroutine only.
type AbortDetector struct {
	history uint16
	primed  bool
	armed   bool
	exit    bool
}

// Tick shifts in one sample of the button.  idle must be true only while
// no packet has been received since the last reinitialisation.  Returns
// true on the one tick where the exit request is raised.
func (a *AbortDetector) Tick(pressed bool, idle bool) bool {
	if !a.primed {
		a.history = 0xffff
		a.primed = true
	}

	var bit uint16 = 1
	if pressed {
		bit = 0
	}

	a.history = (a.history << 1) | abortFixedBits | bit

	switch a.history {
	case abortArmPattern:
		a.armed = true
	case abortConfirmPattern:
		if idle && a.armed && !a.exit {
			a.exit = true
			return true
		}
	}

	return false
}

// Armed reports whether the first half of the gesture has been seen.
func (a *AbortDetector) Armed() bool {
	return a.armed
}

// ExitRequested stays true until Reset.
func (a *AbortDetector) ExitRequested() bool {
	return a.exit
}

// Reset forgets history, arming and any exit request.
func (a *AbortDetector) Reset() {
	*a = AbortDetector{}
}
