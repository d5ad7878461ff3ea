package audioboot

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
)

func addrString(a uint32) string {
	return fmt.Sprintf("0x%08X", a)
}

// norArray gives NOR flash semantics to a byte slice that starts at the
// layout's base address.
type norArray struct {
	layout FlashLayout
	mem    []byte
}

func (n *norArray) offset(addr uint32) (int, error) {
	if addr%WordSize != 0 {
		return 0, errors.Wrapf(ErrUnaligned, "address 0x%08X", addr)
	}
	if addr < n.layout.Base() || addr+WordSize > n.layout.End {
		return 0, errors.Wrapf(ErrOutOfRange, "address 0x%08X", addr)
	}
	return int(addr - n.layout.Base()), nil
}

func (n *norArray) EraseSector(i int) error {
	if i < 0 || i >= len(n.layout.Sectors) {
		return errors.Wrapf(ErrOutOfRange, "sector %d", i)
	}

	var start, end = n.layout.SectorBounds(i)
	var base = n.layout.Base()
	for j := start - base; j < end-base; j++ {
		n.mem[j] = 0xFF
	}

	return nil
}

// ProgramWord can only clear bits, like the real part.
func (n *norArray) ProgramWord(addr uint32, word uint32) error {
	var off, err = n.offset(addr)
	if err != nil {
		return err
	}

	var old = binary.LittleEndian.Uint32(n.mem[off:])
	var result = old & word
	binary.LittleEndian.PutUint32(n.mem[off:], result)

	if result != word {
		return errors.Wrapf(ErrProgramVerify, "0x%08X: have 0x%08X, wanted 0x%08X", addr, result, word)
	}

	return nil
}

func (n *norArray) ReadWord(addr uint32) (uint32, error) {
	var off, err = n.offset(addr)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(n.mem[off:]), nil
}

// MemFlash is a Flash held in memory.  It counts erases and programmed
// words per sector, which is what the tests look at.
type MemFlash struct {
	norArray

	Erases   []int
	Programs []int
}

// NewMemFlash returns a flash that starts fully erased.
func NewMemFlash(layout FlashLayout) *MemFlash {
	var m = &MemFlash{
		norArray: norArray{layout: layout, mem: make([]byte, layout.Size())},
		Erases:   make([]int, len(layout.Sectors)),
		Programs: make([]int, len(layout.Sectors)),
	}
	for i := range m.mem {
		m.mem[i] = 0xFF
	}
	return m
}

func (m *MemFlash) EraseSector(i int) error {
	if err := m.norArray.EraseSector(i); err != nil {
		return err
	}
	m.Erases[i]++
	return nil
}

func (m *MemFlash) ProgramWord(addr uint32, word uint32) error {
	if i, ok := m.layout.SectorIndex(addr); ok {
		m.Programs[i]++
	}
	return m.norArray.ProgramWord(addr, word)
}

// Bytes returns a copy of size bytes starting at addr.
func (m *MemFlash) Bytes(addr uint32, size int) []byte {
	var off = int(addr - m.layout.Base())
	return append([]byte(nil), m.mem[off:off+size]...)
}

// Load writes raw bytes at addr, bypassing erase and program rules.
func (m *MemFlash) Load(addr uint32, data []byte) {
	var off = int(addr - m.layout.Base())
	copy(m.mem[off:], data)
}
