package audioboot

/*------------------------------------------------------------------
 *
 * Purpose:	Sector-aware, bounds-checked flash programming.
 *
 * Description:	Two jobs:
 *
 *		ProgramBlock	append a received block at the staging
 *				cursor.
 *
 *		RelocateImage	copy the finished image from staging into
 *				the executable region.
 *
 *		Both erase a sector just before the first word at its
 *		base address is programmed, never speculatively, and at
 *		most once per segment.
 *
 *		Everything here is slow and blocking.  It runs on the
 *		main loop only.
 *
 *---------------------------------------------------------------*/

import (
	"encoding/binary"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"
)

// Flash is the non-volatile memory as the writer sees it.
type Flash interface {
	// EraseSector sets every byte of sector i to 0xFF.
	EraseSector(i int) error

	// ProgramWord writes one little-endian word at a word-aligned address.
	ProgramWord(addr uint32, word uint32) error

	ReadWord(addr uint32) (uint32, error)
}

// FlashWriter owns the staging cursor.
type FlashWriter struct {
	flash  Flash
	layout FlashLayout
	logger *log.Logger

	cursor uint32

	// Sectors erased in the current segment.
	erased map[int]bool
}

// NewFlashWriter returns a writer with its cursor at the start of staging.
func NewFlashWriter(flash Flash, layout FlashLayout, logger *log.Logger) *FlashWriter {
	var w = &FlashWriter{
		flash:  flash,
		layout: layout,
		logger: logger,
	}
	w.Rewind()
	return w
}

// Cursor is the next staging address to be programmed.
func (w *FlashWriter) Cursor() uint32 {
	return w.cursor
}

// Received is the number of bytes programmed into staging so far.
func (w *FlashWriter) Received() int {
	return int(w.cursor - w.layout.StagingStart)
}

// Layout returns the table the writer was built with.
func (w *FlashWriter) Layout() FlashLayout {
	return w.layout
}

// BeginSegment forgets which sectors have been erased.  The next write to
// any sector base erases it again.
func (w *FlashWriter) BeginSegment() {
	w.erased = make(map[int]bool)
}

// Rewind moves the cursor back to the start of staging and begins a new segment.
func (w *FlashWriter) Rewind() {
	w.cursor = w.layout.StagingStart
	w.BeginSegment()
}

// Seek moves the cursor without touching the erase bookkeeping.  A retried
// block written over the same range does not erase its sector twice.
func (w *FlashWriter) Seek(addr uint32) error {
	if addr%WordSize != 0 {
		return errors.Wrapf(ErrUnaligned, "seek to 0x%08X", addr)
	}
	if addr < w.layout.StagingStart || addr > w.layout.EndGuard {
		return errors.Wrapf(ErrOutOfRange, "seek to 0x%08X", addr)
	}
	w.cursor = addr
	return nil
}

// eraseIfSectorStart performs the erase-before-write step for addr.
func (w *FlashWriter) eraseIfSectorStart(addr uint32) error {
	var sector, ok = w.layout.SectorStart(addr)
	if !ok || w.erased[sector] {
		return nil
	}

	w.logger.Debug("erasing sector", "sector", sector, "address", addrString(addr))

	if err := w.flash.EraseSector(sector); err != nil {
		return errors.Wrapf(err, "erase sector %d", sector)
	}
	w.erased[sector] = true

	return nil
}

/*-------------------------------------------------------------------
 *
 * Name:	ProgramBlock
 *
 * Purpose:	Program a block at the staging cursor.
 *
 * Inputs:	data	- Whole number of words.
 *
 * Returns:	Number of bytes written and an error.
 *
 * Description:	The cursor advances one word at a time.  A word whose
 *		address is at or beyond the end-of-memory guard is
 *		refused; the rest of the block is dropped and a
 *		capacity fault is returned.  That is not a protocol
 *		error, it means the sender sent more than staging holds.
 *
 *--------------------------------------------------------------------*/

func (w *FlashWriter) ProgramBlock(data []byte) (int, error) {
	if len(data)%WordSize != 0 {
		return 0, errors.Wrapf(ErrUnaligned, "block of %d bytes", len(data))
	}

	var written = 0

	for written < len(data) {
		if w.cursor >= w.layout.EndGuard {
			w.logger.Error("staging region full", "cursor", addrString(w.cursor), "dropped", len(data)-written)
			return written, &ReceptionError{Kind: FaultCapacity, Address: w.cursor}
		}

		if err := w.eraseIfSectorStart(w.cursor); err != nil {
			return written, err
		}

		var word = binary.LittleEndian.Uint32(data[written:])
		if err := w.flash.ProgramWord(w.cursor, word); err != nil {
			return written, errors.Wrapf(err, "program 0x%08X", w.cursor)
		}

		w.cursor += WordSize
		written += WordSize
	}

	return written, nil
}

/*-------------------------------------------------------------------
 *
 * Name:	RelocateImage
 *
 * Purpose:	Copy size bytes from src to dst, word by word.
 *
 * Returns:	Number of bytes copied and an error.
 *
 * Description:	Destination sectors are erased as their base address
 *		comes up.  The copy stops quietly at the relocation
 *		limit so it can never run into the staging region it
 *		is reading from.  Reaching the limit is not an error.
 *
 *--------------------------------------------------------------------*/

func (w *FlashWriter) RelocateImage(src, dst uint32, size int) (int, error) {
	if src%WordSize != 0 || dst%WordSize != 0 {
		return 0, errors.Wrapf(ErrUnaligned, "relocate 0x%08X -> 0x%08X", src, dst)
	}

	var limit = w.layout.RelocationLimit()
	var copied = 0

	for copied < size {
		if dst > limit {
			w.logger.Warn("relocation stopped at staging boundary", "destination", addrString(dst), "remaining", size-copied)
			break
		}

		if err := w.eraseIfSectorStart(dst); err != nil {
			return copied, err
		}

		var word, err = w.flash.ReadWord(src)
		if err != nil {
			return copied, errors.Wrapf(err, "read 0x%08X", src)
		}

		if err := w.flash.ProgramWord(dst, word); err != nil {
			return copied, errors.Wrapf(err, "program 0x%08X", dst)
		}

		src += WordSize
		dst += WordSize
		copied += WordSize
	}

	return copied, nil
}
