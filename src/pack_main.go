package audioboot

import (
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
)

/*-------------------------------------------------------------------
 *
 * Name:	PackMain
 *
 * Purpose:	Turn a firmware image into a packet capture for
 *		audioboot-replay.
 *
 * Description:	audioboot-pack -o update.cap firmware.bin
 *
 *		Packet and block sizes come from the configuration so
 *		the capture matches the receiver.
 *
 *--------------------------------------------------------------------*/

func PackMain() {
	var _config = pflag.StringP("config", "c", "", "Configuration file.  Default is to search for audioboot.yaml.")
	var _output = pflag.StringP("output", "o", "", "Capture file to write.  Default is stdout.")
	var version = pflag.Bool("version", false, "Print version and exit.")
	var help = pflag.Bool("help", false, "Display help text.")

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s - Make a packet capture from a firmware image.\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [options] firmware.bin\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\n")
		pflag.PrintDefaults()
	}

	pflag.Parse()

	if *help {
		pflag.Usage()
		os.Exit(0)
	}

	if *version {
		printVersion(os.Stdout, "audioboot-pack")
		os.Exit(0)
	}

	if pflag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "Exactly one firmware image required - got %d\n", pflag.NArg())
		os.Exit(1)
	}

	if err := runPack(*_config, pflag.Arg(0), *_output, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "audioboot-pack: %s\n", err)
		os.Exit(1)
	}
}

func runPack(configPath string, image string, output string, stdout io.Writer) error {
	var cfg, _, err = LoadConfig(configPath)
	if err != nil {
		return err
	}

	var data, readErr = os.ReadFile(image)
	if readErr != nil {
		return errors.Wrapf(readErr, "read %s", image)
	}

	var limit = int(cfg.Layout.EndGuard - cfg.Layout.StagingStart)
	if len(data) > limit {
		return errors.Errorf("%s is %d bytes, staging holds %d", image, len(data), limit)
	}

	var w = stdout
	var report = stdout
	if output != "" {
		var f, createErr = os.Create(output)
		if createErr != nil {
			return errors.Wrapf(createErr, "create %s", output)
		}
		defer f.Close()
		w = f
	} else {
		report = os.Stderr
	}

	var packets, packErr = PackImage(w, data, cfg.Reception)
	if packErr != nil {
		return packErr
	}

	fmt.Fprintf(report, "%s: %d bytes, %d packets, %d blocks\n", image, len(data), packets, packets/cfg.Reception.PacketsPerBlock())

	return nil
}
