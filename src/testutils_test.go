package audioboot

import (
	"bytes"
	"io"
	"os"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pflag (not unreasonably) assumes it only ever gets called once.  Running
// the XxxMain functions from tests means resetting it each time.
func setupPflag(args []string) {
	os.Args = args
	pflag.CommandLine = pflag.NewFlagSet(os.Args[0], pflag.ExitOnError)
}

func AssertOutputContains(t *testing.T, command func(), expectedOutputContains string) {
	t.Helper()

	var oldStdout = os.Stdout
	defer func() {
		os.Stdout = oldStdout
	}()

	var r, w, _ = os.Pipe()
	os.Stdout = w

	command()

	w.Close() //nolint:gosec

	os.Stdout = oldStdout

	var outputBytes, readErr = io.ReadAll(r)

	require.NoError(t, readErr)

	assert.Contains(t, string(outputBytes), expectedOutputContains)
}

// testLayout is a tiny flash: six uneven sectors, 4 KiB in all.
//
//	0x000 0x100 0x200 0x400 | 0x800 0xC00 | 0x1000
//	      exec ...           staging ...    end, guard
func testLayout() FlashLayout {
	return FlashLayout{
		Sectors:      []uint32{0x000, 0x100, 0x200, 0x400, 0x800, 0xC00},
		End:          0x1000,
		ExecStart:    0x100,
		StagingStart: 0x800,
		EndGuard:     0x1000,
	}
}

// testConfig is DefaultConfig shrunk to testLayout: 16 byte packets, four
// to a block.
func testConfig() Config {
	var cfg = DefaultConfig()
	cfg.Layout = testLayout()
	cfg.Reception.PacketSize = 16
	cfg.Reception.BlockSize = 64
	cfg.Slicer.DiscardSamples = 0
	cfg.Tick.Period = 100 * time.Microsecond
	cfg.Tick.Poll = 100 * time.Microsecond
	cfg.SymbolQueue = 1024
	cfg.Handoff.DumpPattern = ""
	return cfg
}

func bufferLogger(buf *bytes.Buffer) *log.Logger {
	return log.NewWithOptions(buf, log.Options{Level: log.DebugLevel})
}

// packet returns a payload of n bytes derived from seq, so each packet in
// a test is different.
func packet(seq int, n int) []byte {
	var p = make([]byte, n)
	for i := range p {
		p[i] = byte(seq*31 + i)
	}
	return p
}

// captureOf builds a capture of records.  Ints are packet sequence numbers,
// runes are control records.
func captureOf(packetSize int, records ...any) []byte {
	var out []byte
	for _, r := range records {
		switch v := r.(type) {
		case int:
			out = append(out, RecordPacket)
			out = append(out, packet(v, packetSize)...)
		case rune:
			out = append(out, byte(v))
		}
	}
	return out
}

// imageOf concatenates packets first..first+n-1.
func imageOf(first, n, packetSize int) []byte {
	var out []byte
	for i := first; i < first+n; i++ {
		out = append(out, packet(i, packetSize)...)
	}
	return out
}
