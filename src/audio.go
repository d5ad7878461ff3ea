package audioboot

/*------------------------------------------------------------------
 *
 * Purpose:	Audio transport: deliver half buffers to the slicer.
 *
 * Description:	The codec fills a double buffer continuously.  When one
 *		half is full the transport hands it to the handler and
 *		carries on filling the other half.  The handler owns the
 *		completed half until the next notification; the two
 *		halves strictly alternate.
 *
 *---------------------------------------------------------------*/

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
)

// BlockHandler processes one completed half buffer.  out is the matching
// half of the output buffer, or nil.
type BlockHandler func(in, out []int16)

// AudioSource runs until ctx is cancelled or the input ends, calling handle
// once per half buffer from a single goroutine.
type AudioSource interface {
	Run(ctx context.Context, handle BlockHandler) error
}

// AudioConfig covers both live and recorded input.
type AudioConfig struct {
	SampleRate int `yaml:"sample_rate"`

	// FramesPerHalf is the number of audio frames in one half buffer.
	FramesPerHalf int `yaml:"frames_per_half"`

	// Channels on the sound card.  Frames are interleaved.
	Channels int `yaml:"channels"`

	// WAV, when set, reads this file instead of the sound card.
	WAV string `yaml:"wav"`

	StatsInterval time.Duration `yaml:"stats_interval"`
}

// DoubleBuffer is a pair of sample buffers split into halves.
type DoubleBuffer struct {
	rx, tx []int16
	half   int

	// filling is the half (0 or 1) the transport is writing.
	filling int
}

func NewDoubleBuffer(halfLen int) *DoubleBuffer {
	return &DoubleBuffer{
		rx:   make([]int16, 2*halfLen),
		tx:   make([]int16, 2*halfLen),
		half: halfLen,
	}
}

// Filling is the input half the transport may write into now.
func (d *DoubleBuffer) Filling() []int16 {
	return d.rx[d.filling*d.half : (d.filling+1)*d.half]
}

// Complete ends the current half: it is returned for processing and the
// transport moves on to the other one.
func (d *DoubleBuffer) Complete() (in, out []int16) {
	var done = d.filling
	d.filling ^= 1
	return d.rx[done*d.half : (done+1)*d.half], d.tx[done*d.half : (done+1)*d.half]
}

// Output is the output half matching the half being filled.  The
// transport plays it while the other is being produced.
func (d *DoubleBuffer) Output() []int16 {
	return d.tx[d.filling*d.half : (d.filling+1)*d.half]
}

/*------------------------------------------------------------------
 *
 * Name:	audioStats
 *
 * Purpose:	Add sample count from one buffer to the statistics.
 *		Log if the interval has passed.
 *
 * Description:	A common complaint is that there is no indication of
 *		audio input level until a packet is received.  Every
 *		interval we log the approximate sample rate and peak
 *		level, which catches dead or mis-clocked inputs.
 *
 *		The first report would be off because we didn't start
 *		on an interval boundary, so it is suppressed, and the
 *		first interval is cut to 3 seconds.
 *
 *----------------------------------------------------------------*/

type audioStats struct {
	interval time.Duration
	logger   *log.Logger
	now      func() time.Time

	lastTime      time.Time
	sampleCount   int
	errorCount    int
	peak          int
	suppressFirst bool
}

func newAudioStats(interval time.Duration, logger *log.Logger) *audioStats {
	return &audioStats{interval: interval, logger: logger, now: time.Now}
}

func (a *audioStats) add(frames []int16, stride int, ok bool) {
	if a == nil || a.interval <= 0 {
		return
	}

	if a.lastTime.IsZero() {
		a.suppressFirst = true
		a.lastTime = a.now().Add(-(a.interval - 3*time.Second))
		return
	}

	if !ok {
		a.errorCount++
	}

	for i := 0; i+stride <= len(frames); i += stride {
		var v = int(frames[i])
		if v < 0 {
			v = -v
		}
		a.peak = max(a.peak, v)
		a.sampleCount++
	}

	var thisTime = a.now()
	if thisTime.Before(a.lastTime.Add(a.interval)) {
		return
	}

	if a.suppressFirst {
		a.suppressFirst = false
	} else {
		var rate = float64(a.sampleCount) / 1000.0 / thisTime.Sub(a.lastTime).Seconds()
		a.logger.Info("audio input", "rate_khz", rate, "errors", a.errorCount, "peak", a.peak)
	}

	a.lastTime = thisTime
	a.sampleCount = 0
	a.errorCount = 0
	a.peak = 0
}
