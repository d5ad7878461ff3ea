package audioboot

/*------------------------------------------------------------------
 *
 * Purpose:	Flash backed by an image file, for running the
 *		bootloader on a host.
 *
 * Description:	The file is mapped shared so every programmed word
 *		lands in the file.  A new or short file is grown to the
 *		full flash size and filled with 0xFF (erased).
 *
 *---------------------------------------------------------------*/

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// FileFlash is NOR flash emulated over an mmapped file.
type FileFlash struct {
	norArray

	file *os.File
}

// OpenFileFlash maps path, creating it if needed.
func OpenFileFlash(path string, layout FlashLayout) (*FileFlash, error) {
	var f, err = os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "open flash image %s", path)
	}

	var size = int64(layout.Size())

	var info, statErr = f.Stat()
	if statErr != nil {
		f.Close()
		return nil, errors.Wrapf(statErr, "stat %s", path)
	}

	if info.Size() < size {
		if err := padErased(f, info.Size(), size); err != nil {
			f.Close()
			return nil, errors.Wrapf(err, "extend %s", path)
		}
	}

	var mem, mmapErr = unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if mmapErr != nil {
		f.Close()
		return nil, errors.Wrapf(mmapErr, "mmap %s", path)
	}

	return &FileFlash{
		norArray: norArray{layout: layout, mem: mem},
		file:     f,
	}, nil
}

func padErased(f *os.File, from, to int64) error {
	if _, err := f.Seek(from, io.SeekStart); err != nil {
		return err
	}

	var chunk = make([]byte, 4096)
	for i := range chunk {
		chunk[i] = 0xFF
	}

	for remaining := to - from; remaining > 0; {
		var n = min(remaining, int64(len(chunk)))
		if _, err := f.Write(chunk[:n]); err != nil {
			return err
		}
		remaining -= n
	}

	return nil
}

// Sync flushes the mapping to the file.
func (ff *FileFlash) Sync() error {
	return errors.Wrap(unix.Msync(ff.mem, unix.MS_SYNC), "msync")
}

// ReadRange copies size bytes starting at addr.
func (ff *FileFlash) ReadRange(addr uint32, size int) ([]byte, error) {
	var off, err = ff.offset(addr)
	if err != nil {
		return nil, err
	}
	if off+size > len(ff.mem) {
		return nil, errors.Wrapf(ErrOutOfRange, "read %d bytes at 0x%08X", size, addr)
	}
	return append([]byte(nil), ff.mem[off:off+size]...), nil
}

func (ff *FileFlash) Close() error {
	var syncErr = ff.Sync()
	var unmapErr = unix.Munmap(ff.mem)
	var closeErr = ff.file.Close()

	for _, err := range []error{syncErr, unmapErr, closeErr} {
		if err != nil {
			return errors.Wrap(err, "close flash image")
		}
	}
	return nil
}
