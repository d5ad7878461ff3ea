package audioboot

import (
	"fmt"
	"io"
	"runtime/debug"
	"strconv"
)

// Set at build time via `-ldflags "-X 'github.com/doismellburning/audioboot/src.AUDIOBOOT_VERSION=X'"`
var AUDIOBOOT_VERSION string

func buildSetting(bi *debug.BuildInfo, key string, defaultValue string) string {
	if bi == nil {
		return defaultValue
	}

	for _, bs := range bi.Settings {
		if bs.Key == key {
			return bs.Value
		}
	}

	return defaultValue
}

func printVersion(w io.Writer, tool string) {
	var buildInfo, _ = debug.ReadBuildInfo()

	var (
		buildTime     = buildSetting(buildInfo, "vcs.time", "UNKNOWN")
		buildCommit   = buildSetting(buildInfo, "vcs.revision", "UNKNOWN")
		buildDirtyStr = buildSetting(buildInfo, "vcs.modified", "INVALID")
	)

	var buildDirty, buildDirtyErr = strconv.ParseBool(buildDirtyStr)
	if buildDirty {
		buildCommit += "-DIRTY"
	} else if buildDirtyErr != nil {
		buildCommit += "-UNKNOWNDIRTY"
	}

	var version = AUDIOBOOT_VERSION
	if version == "" {
		version = "!UNKNOWN!"
	}

	fmt.Fprintf(w, "%s - Version %s (revision %s, built at %s)\n", tool, version, buildCommit, buildTime)
}
