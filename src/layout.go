package audioboot

/*------------------------------------------------------------------
 *
 * Purpose:	Description of the device's non-volatile memory.
 *
 * Description:	The flash is partitioned into erase sectors of uneven
 *		size.  Two regions matter to us:
 *
 *		  executable	where the application lives and boots from.
 *		  staging	where the incoming image is written first.
 *
 *		The protocol carries no addresses.  Placement is entirely
 *		a local decision made from this table.
 *
 *---------------------------------------------------------------*/

import (
	"fmt"
	"slices"
)

// WordSize is the programming granule of the flash.
const WordSize = 4

// FlashLayout is an ordered table of sector base addresses plus the region
// boundaries.  All addresses are absolute.
type FlashLayout struct {
	// Sectors holds the base address of every sector, strictly ascending.
	Sectors []uint32 `yaml:"sectors"`

	// End is one past the last byte of flash.
	End uint32 `yaml:"end"`

	ExecStart    uint32 `yaml:"exec_start"`
	StagingStart uint32 `yaml:"staging_start"`

	// EndGuard is the highest cursor value the staging writer may reach.
	EndGuard uint32 `yaml:"end_guard"`
}

// DefaultLayout is the STM32F4 1 MiB part the bootloader shipped on.
func DefaultLayout() FlashLayout {
	return FlashLayout{
		Sectors: []uint32{
			0x08000000,
			0x08004000,
			0x08008000,
			0x0800C000,
			0x08010000,
			0x08020000,
			0x08040000,
			0x08060000,
			0x08080000,
			0x080A0000,
			0x080C0000,
			0x080E0000,
		},
		End:          0x08100000,
		ExecStart:    0x08008000,
		StagingStart: 0x08080000,
		EndGuard:     0x080FFFFC,
	}
}

// Base is the address of the first byte of flash.
func (l FlashLayout) Base() uint32 {
	if len(l.Sectors) == 0 {
		return 0
	}
	return l.Sectors[0]
}

// Size is the total number of bytes covered by the sector table.
func (l FlashLayout) Size() int {
	return int(l.End - l.Base())
}

// SectorIndex returns the index of the sector containing addr, or false if
// addr is outside the flash.
func (l FlashLayout) SectorIndex(addr uint32) (int, bool) {
	if len(l.Sectors) == 0 || addr < l.Sectors[0] || addr >= l.End {
		return 0, false
	}

	var i, found = slices.BinarySearch(l.Sectors, addr)
	if found {
		return i, true
	}

	return i - 1, true
}

// SectorStart reports whether addr is the base address of a sector, and
// which one.
func (l FlashLayout) SectorStart(addr uint32) (int, bool) {
	var i, found = slices.BinarySearch(l.Sectors, addr)
	return i, found
}

// SectorBounds returns the [start, end) range of sector i.
func (l FlashLayout) SectorBounds(i int) (uint32, uint32) {
	if i+1 < len(l.Sectors) {
		return l.Sectors[i], l.Sectors[i+1]
	}
	return l.Sectors[i], l.End
}

// RelocationLimit is the last destination address relocation may program.
// Anything above it belongs to the staging region.
func (l FlashLayout) RelocationLimit() uint32 {
	return l.StagingStart - WordSize
}

// Validate checks the table is ordered and the regions are consistent.
func (l FlashLayout) Validate() error {
	if len(l.Sectors) == 0 {
		return fmt.Errorf("layout: no sectors")
	}

	for i := 1; i < len(l.Sectors); i++ {
		if l.Sectors[i] <= l.Sectors[i-1] {
			return fmt.Errorf("layout: sector %d (0x%08X) is not above sector %d (0x%08X)", i, l.Sectors[i], i-1, l.Sectors[i-1])
		}
	}

	if l.End <= l.Sectors[len(l.Sectors)-1] {
		return fmt.Errorf("layout: end 0x%08X is not above the last sector", l.End)
	}

	for _, a := range []uint32{l.ExecStart, l.StagingStart, l.EndGuard} {
		if a%WordSize != 0 {
			return fmt.Errorf("layout: address 0x%08X is not word aligned", a)
		}
	}

	if _, ok := l.SectorStart(l.ExecStart); !ok {
		return fmt.Errorf("layout: executable start 0x%08X is not a sector base", l.ExecStart)
	}

	if _, ok := l.SectorStart(l.StagingStart); !ok {
		return fmt.Errorf("layout: staging start 0x%08X is not a sector base", l.StagingStart)
	}

	if l.StagingStart <= l.ExecStart {
		return fmt.Errorf("layout: staging start 0x%08X must be above executable start 0x%08X", l.StagingStart, l.ExecStart)
	}

	if l.EndGuard <= l.StagingStart || l.EndGuard > l.End {
		return fmt.Errorf("layout: end guard 0x%08X must lie in (0x%08X, 0x%08X]", l.EndGuard, l.StagingStart, l.End)
	}

	return nil
}
