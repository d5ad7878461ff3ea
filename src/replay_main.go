package audioboot

/*------------------------------------------------------------------
 *
 * Purpose:	Run the whole bootloader on a host.
 *
 * Description:	The flash is an image file, the modem is a packet
 *		capture (see PackImage), and handing off means writing
 *		the executable region out to a file.  Button, LEDs,
 *		serial panel and MQTT status work as configured, so a
 *		bench rig behaves like the device.
 *
 *		audioboot-replay -f flash.img -r update.cap --auto-ack
 *
 *---------------------------------------------------------------*/

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/pflag"
)

type replayOptions struct {
	configPath string
	flashImage string
	capture    string
	autoAck    bool
	monitor    bool
	logLevel   string
	dump       string
	timeout    time.Duration
}

func ReplayMain() {
	var _config = pflag.StringP("config", "c", "", "Configuration file.  Default is to search for audioboot.yaml.")
	var _flashImage = pflag.StringP("flash-image", "f", "", "Flash image file.  Created, erased, if it does not exist.")
	var _capture = pflag.StringP("capture", "r", "", "Packet capture to replay.  - for stdin.")
	var _autoAck = pflag.BoolP("auto-ack", "a", false, "Retry after recoverable faults without waiting for the button.")
	var _monitor = pflag.BoolP("monitor", "m", false, "Run the sound card through the slicer with pass-through, as on the device.")
	var _logLevel = pflag.StringP("log-level", "l", "", "Log level: debug, info, warn, error.")
	var _dump = pflag.StringP("dump", "d", "", "strftime pattern for the executable region dump written at handoff.")
	var _timeout = pflag.DurationP("timeout", "t", 0, "Give up after this long.  0 waits forever, as the device does.")
	var version = pflag.Bool("version", false, "Print version and exit.")
	var help = pflag.Bool("help", false, "Display help text.")

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s - Run the audio bootloader against a flash image and a packet capture.\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\n")
		pflag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\n")
		fmt.Fprintf(os.Stderr, "Configuration is read from the first of:\n")
		for _, l := range configSearchLocations {
			fmt.Fprintf(os.Stderr, "\t%s\n", l)
		}
	}

	pflag.Parse()

	if *help {
		pflag.Usage()
		os.Exit(0)
	}

	if *version {
		printVersion(os.Stdout, "audioboot-replay")
		os.Exit(0)
	}

	if *_capture == "" {
		fmt.Fprintf(os.Stderr, "A capture file is required (--capture).\n")
		pflag.Usage()
		os.Exit(1)
	}

	var opts = replayOptions{
		configPath: *_config,
		flashImage: *_flashImage,
		capture:    *_capture,
		autoAck:    *_autoAck,
		monitor:    *_monitor,
		logLevel:   *_logLevel,
		dump:       *_dump,
		timeout:    *_timeout,
	}

	var ctx, cancel = signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	var report, err = runReplay(ctx, opts, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "audioboot-replay: %s\n", err)
		cancel()
		os.Exit(1)
	}

	fmt.Printf("%s: %d packets, %d blocks, %d bytes received, %d bytes relocated, %d retries\n",
		report.Outcome, report.Packets, report.Blocks, report.Received, report.Relocated, report.Recoveries)
}

func runReplay(ctx context.Context, opts replayOptions, logOut io.Writer) (Report, error) {
	var cfg, cfgFile, err = LoadConfig(opts.configPath)
	if err != nil {
		return Report{}, err
	}

	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	if opts.flashImage != "" {
		cfg.Flash.Image = opts.flashImage
	}
	if opts.dump != "" {
		cfg.Handoff.DumpPattern = opts.dump
	}
	if cfg.Flash.Image == "" {
		cfg.Flash.Image = "audioboot-flash.img"
	}

	var logger, logErr = NewLogger(logOut, cfg.Log.Level)
	if logErr != nil {
		return Report{}, logErr
	}
	if cfgFile != "" {
		logger.Debug("configuration", "file", cfgFile)
	}

	var flash, flashErr = OpenFileFlash(cfg.Flash.Image, cfg.Layout)
	if flashErr != nil {
		return Report{}, flashErr
	}
	defer flash.Close()

	var capture io.ReadCloser = os.Stdin
	if opts.capture != "-" {
		var f, openErr = os.Open(opts.capture)
		if openErr != nil {
			return Report{}, openErr
		}
		capture = f
	}
	defer capture.Close()

	var periph, periphErr = OpenPeripherals(cfg, logger)
	if periphErr != nil {
		return Report{}, periphErr
	}

	var demod = NewReplayDemodulator(cfg.SymbolQueue)
	var decoder = NewReplayDecoder(cfg.Reception.PacketSize)

	var driverOpts = append(periph.Options(),
		WithLogger(logger),
		WithHandoff(NewImageHandoff(cfg.Handoff, flash, cfg.Layout, logger.With("component", "handoff"))),
		WithAutoAck(opts.autoAck),
	)
	if opts.monitor {
		driverOpts = append(driverOpts, WithAudioSource(NewPortAudioSource(cfg.Audio, logger.With("component", "audio"))))
	}

	var driver = NewDriver(cfg, flash, demod, decoder, driverOpts...)

	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	var feedCtx, stopFeed = context.WithCancel(ctx)
	defer stopFeed()

	go func() {
		if err := demod.Feed(feedCtx, capture); err != nil && feedCtx.Err() == nil {
			logger.Error("capture", "error", err)
		}
	}()

	var report, runErr = driver.Run(ctx)

	if err := flash.Sync(); err != nil && runErr == nil {
		runErr = err
	}

	return report, runErr
}
