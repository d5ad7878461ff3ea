package audioboot

import (
	"context"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"
	"github.com/youpy/go-wav"
)

// WAVSource plays a recording through the same double buffer cadence as
// the sound card, as fast as the handler keeps up.  Each WAV frame is
// spread over Channels slots with the left channel in slot 0.
type WAVSource struct {
	cfg    AudioConfig
	logger *log.Logger
	stats  *audioStats
}

func NewWAVSource(cfg AudioConfig, logger *log.Logger) *WAVSource {
	return &WAVSource{
		cfg:    cfg,
		logger: logger,
		stats:  newAudioStats(cfg.StatsInterval, logger),
	}
}

func (w *WAVSource) Run(ctx context.Context, handle BlockHandler) error {
	var f, err = os.Open(w.cfg.WAV)
	if err != nil {
		return errors.Wrapf(err, "open %s", w.cfg.WAV)
	}
	defer f.Close()

	var reader = wav.NewReader(f)

	var format, formatErr = reader.Format()
	if formatErr != nil {
		return errors.Wrapf(formatErr, "read format of %s", w.cfg.WAV)
	}
	if format.AudioFormat != wav.AudioFormatPCM || format.BitsPerSample != 16 {
		return errors.Errorf("%s: need 16 bit PCM, got format %d with %d bits", w.cfg.WAV, format.AudioFormat, format.BitsPerSample)
	}

	w.logger.Info("reading audio", "file", w.cfg.WAV, "rate", format.SampleRate, "channels", format.NumChannels)

	var stride = max(w.cfg.Channels, 1)
	var frames = max(w.cfg.FramesPerHalf, 1)
	var db = NewDoubleBuffer(frames * stride)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		var samples, readErr = reader.ReadSamples(uint32(frames))
		if readErr == io.EOF || (readErr == nil && len(samples) == 0) {
			return nil
		}
		if readErr != nil {
			return errors.Wrapf(readErr, "read %s", w.cfg.WAV)
		}

		var half = db.Filling()
		clear(half)
		for i, s := range samples {
			half[i*stride] = int16(reader.IntValue(s, 0))
		}

		var n = len(samples) * stride
		var rx, tx = db.Complete()
		handle(rx[:n], tx[:n])
		w.stats.add(rx[:n], stride, true)
	}
}
