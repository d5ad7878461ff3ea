package audioboot

/*------------------------------------------------------------------
 *
 * Purpose:	Look at what the slicer makes of some audio.
 *
 * Description:	Runs a WAV file, or the sound card, through the same
 *		slicer the bootloader uses and writes the decisions out
 *		packed eight to a byte, first decision in the top bit.
 *		Handy for checking levels and thresholds before trying
 *		a real update.
 *
 *		audioboot-slice -w update.wav -o update.bits
 *
 *---------------------------------------------------------------*/

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
)

// bitPacker is a SampleSink writing decisions packed MSB first.
type bitPacker struct {
	w    *bufio.Writer
	cur  byte
	n    int
	err  error
	prev bool

	Total       int
	Ones        int
	Transitions int
}

func newBitPacker(w io.Writer) *bitPacker {
	return &bitPacker{w: bufio.NewWriter(w)}
}

func (b *bitPacker) PushSample(bit bool) {
	if b.Total > 0 && bit != b.prev {
		b.Transitions++
	}
	b.prev = bit
	b.Total++

	b.cur <<= 1
	if bit {
		b.cur |= 1
		b.Ones++
	}
	b.n++

	if b.n == 8 {
		if b.err == nil {
			b.err = b.w.WriteByte(b.cur)
		}
		b.cur = 0
		b.n = 0
	}
}

// Flush writes any partial byte, padded with zeros, and flushes.
func (b *bitPacker) Flush() error {
	if b.n > 0 && b.err == nil {
		b.err = b.w.WriteByte(b.cur << (8 - b.n))
		b.cur = 0
		b.n = 0
	}
	if b.err != nil {
		return b.err
	}
	return b.w.Flush()
}

type sliceOptions struct {
	configPath string
	wav        string
	output     string
	duration   time.Duration
	logLevel   string
}

func SliceMain() {
	var _config = pflag.StringP("config", "c", "", "Configuration file.  Default is to search for audioboot.yaml.")
	var _wav = pflag.StringP("wav", "w", "", "Read this WAV file.  Default is the sound card.")
	var _output = pflag.StringP("output", "o", "", "Write packed decisions here.  Default is to only count them.")
	var _duration = pflag.DurationP("duration", "t", 10*time.Second, "How long to listen to the sound card.")
	var _logLevel = pflag.StringP("log-level", "l", "", "Log level: debug, info, warn, error.")
	var version = pflag.Bool("version", false, "Print version and exit.")
	var help = pflag.Bool("help", false, "Display help text.")

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s - Run audio through the bootloader's bit slicer.\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\n")
		pflag.PrintDefaults()
	}

	pflag.Parse()

	if *help {
		pflag.Usage()
		os.Exit(0)
	}

	if *version {
		printVersion(os.Stdout, "audioboot-slice")
		os.Exit(0)
	}

	var ctx, cancel = signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	var err = runSlice(ctx, sliceOptions{
		configPath: *_config,
		wav:        *_wav,
		output:     *_output,
		duration:   *_duration,
		logLevel:   *_logLevel,
	}, os.Stdout, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "audioboot-slice: %s\n", err)
		cancel()
		os.Exit(1)
	}
}

func runSlice(ctx context.Context, opts sliceOptions, out io.Writer, logOut io.Writer) error {
	var cfg, _, err = LoadConfig(opts.configPath)
	if err != nil {
		return err
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	if opts.wav != "" {
		cfg.Audio.WAV = opts.wav
	}

	var logger, logErr = NewLogger(logOut, cfg.Log.Level)
	if logErr != nil {
		return logErr
	}

	var dest = io.Discard
	if opts.output != "" {
		var f, createErr = os.Create(opts.output)
		if createErr != nil {
			return errors.Wrapf(createErr, "create %s", opts.output)
		}
		defer f.Close()
		dest = f
	}

	var packer = newBitPacker(dest)

	// Nothing is being decoded, so there is nothing to settle for.
	var slicerCfg = cfg.Slicer
	slicerCfg.DiscardSamples = 0
	var slicer = NewSlicer(slicerCfg, packer, nil)

	var source AudioSource
	if cfg.Audio.WAV != "" {
		source = NewWAVSource(cfg.Audio, logger)
	} else {
		source = NewPortAudioSource(cfg.Audio, logger)
		if opts.duration > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, opts.duration)
			defer cancel()
		}
	}

	var runErr = source.Run(ctx, slicer.ProcessBlock)
	if runErr != nil && !errors.Is(runErr, context.DeadlineExceeded) {
		return runErr
	}

	if err := packer.Flush(); err != nil {
		return errors.Wrap(err, "write decisions")
	}

	fmt.Fprintf(out, "%d decisions, %d high, %d transitions\n", packer.Total, packer.Ones, packer.Transitions)

	return nil
}
