package audioboot

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/gordonklaus/portaudio"
	"github.com/pkg/errors"
)

// PortAudioSource reads the default sound card input and plays the
// handler's output back on the default output, one callback per half
// buffer.
type PortAudioSource struct {
	cfg    AudioConfig
	logger *log.Logger
	stats  *audioStats
}

func NewPortAudioSource(cfg AudioConfig, logger *log.Logger) *PortAudioSource {
	return &PortAudioSource{
		cfg:    cfg,
		logger: logger,
		stats:  newAudioStats(cfg.StatsInterval, logger),
	}
}

func (p *PortAudioSource) Run(ctx context.Context, handle BlockHandler) error {
	if err := portaudio.Initialize(); err != nil {
		return errors.Wrap(err, "portaudio init")
	}
	defer portaudio.Terminate()

	var channels = max(p.cfg.Channels, 1)
	var db = NewDoubleBuffer(p.cfg.FramesPerHalf * channels)

	var callback = func(in, out []int16) {
		var n = copy(db.Filling(), in)
		var rx, tx = db.Complete()
		handle(rx[:n], tx[:n])
		copy(out, tx[:n])
		p.stats.add(rx[:n], channels, n == len(rx))
	}

	var stream, err = portaudio.OpenDefaultStream(channels, channels, float64(p.cfg.SampleRate), p.cfg.FramesPerHalf, callback)
	if err != nil {
		return errors.Wrap(err, "open audio stream")
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return errors.Wrap(err, "start audio stream")
	}

	p.logger.Info("audio started", "rate", p.cfg.SampleRate, "channels", channels, "frames_per_half", p.cfg.FramesPerHalf)

	<-ctx.Done()

	if err := stream.Stop(); err != nil {
		return errors.Wrap(err, "stop audio stream")
	}

	return nil
}
