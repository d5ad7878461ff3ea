package audioboot

/*------------------------------------------------------------------
 *
 * Purpose:	Turn raw audio samples into a binary sample stream.
 *
 * Description:	A Schmitt trigger.  Once high, the output stays high
 *		until the input drops below the low threshold; once low
 *		it stays low until the input rises above the high
 *		threshold.  Noise around a single threshold can not make
 *		it chatter.
 *
 *		ProcessBlock runs on the audio goroutine once per half
 *		buffer.  It must finish well within one half-buffer
 *		period, so: no allocation, no locks, no logging.
 *
 *---------------------------------------------------------------*/

import (
	"sync/atomic"
)

// Slice is the hysteresis decision for one sample given the previous one.
func Slice(prev bool, sample int16, low, high int16) bool {
	if prev {
		return sample >= low
	}
	return sample > high
}

// SlicerConfig holds the slicer tunables.
type SlicerConfig struct {
	LowThreshold  int16 `yaml:"low_threshold"`
	HighThreshold int16 `yaml:"high_threshold"`

	// Stride is the number of interleaved int16 slots per audio frame.
	// Only the first slot of each frame is sliced and passed through.
	Stride int `yaml:"stride"`

	// DiscardSamples are dropped after every reinitialisation while
	// the analog front end settles.
	DiscardSamples int `yaml:"discard_samples"`

	// ResyncDiscard are dropped after every block boundary resync.
	ResyncDiscard int `yaml:"resync_discard"`
}

// Slicer feeds sliced samples to a sink.
type Slicer struct {
	low, high int16
	stride    int

	last bool

	discard atomic.Int64

	sink  SampleSink
	state *StateCell

	// Tap, when set, sees every decision including discarded ones.
	Tap func(bit bool)
}

// NewSlicer returns a slicer that starts low and discarding cfg.DiscardSamples.
func NewSlicer(cfg SlicerConfig, sink SampleSink, state *StateCell) *Slicer {
	var stride = cfg.Stride
	if stride < 1 {
		stride = 1
	}

	var s = &Slicer{
		low:    cfg.LowThreshold,
		high:   cfg.HighThreshold,
		stride: stride,
		sink:   sink,
		state:  state,
	}
	s.discard.Store(int64(cfg.DiscardSamples))
	return s
}

// Resync makes the slicer drop the next n samples.  Safe to call from the
// main loop while audio is running.
func (s *Slicer) Resync(n int) {
	s.discard.Store(int64(n))
}

// Discarding is the number of samples still to be dropped.
func (s *Slicer) Discarding() int {
	return int(s.discard.Load())
}

// ProcessBlock slices one half buffer.  out may be nil when there is no
// pass-through; otherwise it must be at least as long as in.
func (s *Slicer) ProcessBlock(in, out []int16) {
	var mute = s.state != nil && s.state.Load() == StateError
	var passThrough = len(out) >= len(in)

	for i := 0; i+s.stride <= len(in); i += s.stride {
		var t = in[i]

		var bit = Slice(s.last, t, s.low, s.high)
		s.last = bit

		if s.Tap != nil {
			s.Tap(bit)
		}

		if s.discard.Load() > 0 {
			s.discard.Add(-1)
		} else {
			s.sink.PushSample(bit)
		}

		if passThrough {
			if mute {
				out[i] = 0
			} else {
				out[i] = t
			}
			for j := 1; j < s.stride; j++ {
				out[i+j] = 0
			}
		}
	}
}
