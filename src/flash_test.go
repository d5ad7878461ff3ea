package audioboot

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func sum(xs []int) int {
	var total = 0
	for _, x := range xs {
		total += x
	}
	return total
}

func Test_ProgramBlockWritesAndAdvances(t *testing.T) {
	var l = testLayout()
	var mem = NewMemFlash(l)
	var w = NewFlashWriter(mem, l, discardLogger())

	var data = imageOf(0, 4, 16)

	var n, err = w.ProgramBlock(data)
	require.NoError(t, err)

	assert.Equal(t, 64, n)
	assert.Equal(t, l.StagingStart+64, w.Cursor())
	assert.Equal(t, 64, w.Received())
	assert.Equal(t, data, mem.Bytes(l.StagingStart, 64))

	// Only the staging sector the cursor started in was erased.
	assert.Equal(t, []int{0, 0, 0, 0, 1, 0}, mem.Erases)
}

func Test_ProgramBlockErasesEachSectorOnce(t *testing.T) {
	var l = testLayout()
	var mem = NewMemFlash(l)
	var w = NewFlashWriter(mem, l, discardLogger())

	// 0x800 bytes of staging: two sectors.
	for i := 0; i < 0x800/64; i++ {
		var _, err = w.ProgramBlock(imageOf(i*4, 4, 16))
		require.NoError(t, err)
	}

	assert.Equal(t, 1, mem.Erases[4])
	assert.Equal(t, 1, mem.Erases[5])
	assert.Equal(t, 0x800/WordSize, mem.Programs[4]+mem.Programs[5])
}

// A retried block over the same range must not erase its sector again
// within one segment.
func Test_ProgramBlockRetryDoesNotEraseTwice(t *testing.T) {
	var l = testLayout()
	var mem = NewMemFlash(l)
	var w = NewFlashWriter(mem, l, discardLogger())

	var data = imageOf(7, 4, 16)

	var _, err = w.ProgramBlock(data)
	require.NoError(t, err)

	require.NoError(t, w.Seek(l.StagingStart))

	_, err = w.ProgramBlock(data)
	require.NoError(t, err)

	assert.Equal(t, 1, mem.Erases[4])
	assert.Equal(t, data, mem.Bytes(l.StagingStart, len(data)))
}

// A new segment starts the bookkeeping over.
func Test_BeginSegmentErasesAgain(t *testing.T) {
	var l = testLayout()
	var mem = NewMemFlash(l)
	var w = NewFlashWriter(mem, l, discardLogger())

	var _, err = w.ProgramBlock(imageOf(1, 4, 16))
	require.NoError(t, err)

	w.Rewind()

	var second = imageOf(50, 4, 16)
	_, err = w.ProgramBlock(second)
	require.NoError(t, err)

	assert.Equal(t, 2, mem.Erases[4])
	assert.Equal(t, second, mem.Bytes(l.StagingStart, len(second)))
}

// Without an erase NOR can only clear bits.
func Test_ProgramWithoutEraseFailsVerify(t *testing.T) {
	var l = testLayout()
	var mem = NewMemFlash(l)

	require.NoError(t, mem.ProgramWord(0x804, 0x00000000))

	var err = mem.ProgramWord(0x804, 0xFFFFFFFF)
	assert.ErrorIs(t, err, ErrProgramVerify)
}

func Test_ProgramBlockUnaligned(t *testing.T) {
	var l = testLayout()
	var w = NewFlashWriter(NewMemFlash(l), l, discardLogger())

	var n, err = w.ProgramBlock(make([]byte, 6))
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, err, ErrUnaligned)
	assert.Equal(t, l.StagingStart, w.Cursor())
}

// Staging ends exactly on a block boundary: every block fits, and the next
// one writes nothing at all.
func Test_ProgramBlockRefusedAtGuard(t *testing.T) {
	var l = testLayout()
	var mem = NewMemFlash(l)
	var w = NewFlashWriter(mem, l, discardLogger())

	for i := 0; i < 0x800/64; i++ {
		var _, err = w.ProgramBlock(imageOf(i*4, 4, 16))
		require.NoError(t, err, "block %d", i)
	}
	require.Equal(t, l.EndGuard, w.Cursor())

	var programs = sum(mem.Programs)

	var n, err = w.ProgramBlock(imageOf(999, 4, 16))

	assert.Equal(t, 0, n)
	assert.Equal(t, FaultCapacity, FaultOf(err))
	assert.True(t, IsFatal(err))
	assert.False(t, IsRecoverable(err))
	assert.Equal(t, programs, sum(mem.Programs), "nothing programmed past the guard")
	assert.Equal(t, l.EndGuard, w.Cursor())
}

// Guard one word short of a block boundary: the last block is cut short.
func Test_ProgramBlockPartialAtGuard(t *testing.T) {
	var l = testLayout()
	l.EndGuard = 0x0FFC
	var mem = NewMemFlash(l)
	var w = NewFlashWriter(mem, l, discardLogger())

	for i := 0; i < 0x800/64-1; i++ {
		var _, err = w.ProgramBlock(imageOf(i*4, 4, 16))
		require.NoError(t, err)
	}

	var n, err = w.ProgramBlock(imageOf(100, 4, 16))

	assert.Equal(t, 60, n)
	assert.Equal(t, FaultCapacity, FaultOf(err))
	assert.Equal(t, uint32(0x0FFC), w.Cursor())

	var last, _ = mem.ReadWord(0x0FFC)
	assert.Equal(t, uint32(0xFFFFFFFF), last, "word at the guard untouched")
}

// Each block starts where the last one ended.
func Test_ProgramBlockContiguous(t *testing.T) {
	var l = testLayout()

	rapid.Check(t, func(t *rapid.T) {
		var mem = NewMemFlash(l)
		var w = NewFlashWriter(mem, l, discardLogger())

		var words = rapid.SliceOfN(rapid.IntRange(1, 64), 1, 40).Draw(t, "words")

		var expected = l.StagingStart
		for _, n := range words {
			var before = w.Cursor()
			assert.Equal(t, expected, before)

			var written, err = w.ProgramBlock(make([]byte, n*WordSize))
			expected += uint32(written)

			if err != nil {
				assert.Equal(t, FaultCapacity, FaultOf(err))
				assert.Equal(t, l.EndGuard, w.Cursor())
				return
			}
			assert.Equal(t, n*WordSize, written)
		}

		for _, e := range mem.Erases {
			assert.LessOrEqual(t, e, 1)
		}
	})
}

func Test_RelocateImage(t *testing.T) {
	var l = testLayout()
	var mem = NewMemFlash(l)
	var w = NewFlashWriter(mem, l, discardLogger())

	var data = imageOf(3, 16, 16) // 256 bytes
	for off := 0; off < len(data); off += 64 {
		var _, err = w.ProgramBlock(data[off : off+64])
		require.NoError(t, err)
	}

	// Something already in the executable region.
	mem.Load(l.ExecStart, bytes.Repeat([]byte{0x5A}, 0x300))

	var n, err = w.RelocateImage(l.StagingStart, l.ExecStart, len(data))
	require.NoError(t, err)

	assert.Equal(t, len(data), n)
	assert.Equal(t, data, mem.Bytes(l.ExecStart, len(data)))

	// 256 bytes from 0x100 fills sector 1 and erases nothing else.
	assert.Equal(t, []int{0, 1, 0, 0, 1, 0}, mem.Erases)
}

// Relocation stops quietly at the staging boundary and never erases the
// staging sector it is reading from.
func Test_RelocateImageStopsAtStaging(t *testing.T) {
	var l = testLayout()
	var mem = NewMemFlash(l)
	var w = NewFlashWriter(mem, l, discardLogger())

	var data = imageOf(0, 0x800/16, 16)
	for off := 0; off < len(data); off += 64 {
		var _, err = w.ProgramBlock(data[off : off+64])
		require.NoError(t, err)
	}

	var execSize = int(l.StagingStart - l.ExecStart)

	var n, err = w.RelocateImage(l.StagingStart, l.ExecStart, len(data))
	require.NoError(t, err)

	assert.Equal(t, execSize, n)
	assert.Equal(t, data[:execSize], mem.Bytes(l.ExecStart, execSize))
	assert.Equal(t, 1, mem.Erases[4], "staging sector erased only by ProgramBlock")
	assert.Equal(t, data, mem.Bytes(l.StagingStart, len(data)), "staging intact")
}

func Test_FileFlashPersists(t *testing.T) {
	var l = testLayout()
	var path = filepath.Join(t.TempDir(), "flash.img")

	var ff, err = OpenFileFlash(path, l)
	require.NoError(t, err)

	var fresh, _ = ff.ReadWord(l.StagingStart)
	assert.Equal(t, uint32(0xFFFFFFFF), fresh)

	var w = NewFlashWriter(ff, l, discardLogger())
	var data = imageOf(9, 4, 16)
	_, err = w.ProgramBlock(data)
	require.NoError(t, err)

	var got, readErr = ff.ReadRange(l.StagingStart, len(data))
	require.NoError(t, readErr)
	assert.Equal(t, data, got)

	require.NoError(t, ff.Close())

	var raw, fileErr = os.ReadFile(path)
	require.NoError(t, fileErr)
	require.Len(t, raw, l.Size())

	var off = int(l.StagingStart - l.Base())
	assert.Equal(t, data, raw[off:off+len(data)])
	assert.Equal(t, byte(0xFF), raw[0])
}
