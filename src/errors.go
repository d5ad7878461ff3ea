package audioboot

import (
	"fmt"

	"github.com/pkg/errors"
)

// FaultKind classifies everything that can stop a reception.
type FaultKind int

const (
	FaultNone FaultKind = iota

	// FaultSync: the decoder could not frame a packet.
	FaultSync

	// FaultChecksum: a packet was framed but its CRC did not match.
	FaultChecksum

	// FaultCapacity: the staging cursor reached the end-of-memory guard.
	FaultCapacity

	// FaultSymbolOverflow: the demodulator produced symbols faster than
	// the main loop consumed them.
	FaultSymbolOverflow

	// FaultFlash: an erase or program operation failed.
	FaultFlash
)

func (k FaultKind) String() string {
	switch k {
	case FaultNone:
		return "none"
	case FaultSync:
		return "sync"
	case FaultChecksum:
		return "checksum"
	case FaultCapacity:
		return "capacity"
	case FaultSymbolOverflow:
		return "overflow"
	case FaultFlash:
		return "flash"
	default:
		return fmt.Sprintf("fault(%d)", int(k))
	}
}

// Recoverable faults can be retried after the operator acknowledges them.
// The rest need a power cycle.
func (k FaultKind) Recoverable() bool {
	return k == FaultSync || k == FaultChecksum
}

// ReceptionError is returned when a reception fault is detected.
type ReceptionError struct {
	Kind FaultKind

	// PacketIndex is the number of good packets since the last
	// reinitialisation when the fault happened.
	PacketIndex int

	// Address is the flash cursor at the time of the fault.
	Address uint32
}

func (e *ReceptionError) Error() string {
	return fmt.Sprintf("%s fault after %d packets (cursor 0x%08X)", e.Kind, e.PacketIndex, e.Address)
}

// FaultOf extracts the fault kind from err, or FaultNone.
func FaultOf(err error) FaultKind {
	var re *ReceptionError
	if errors.As(err, &re) {
		return re.Kind
	}
	return FaultNone
}

// IsRecoverable returns true if err is a fault the operator can retry.
func IsRecoverable(err error) bool {
	return FaultOf(err).Recoverable()
}

// IsFatal returns true if err is a fault that leaves no way out but a power cycle.
func IsFatal(err error) bool {
	var k = FaultOf(err)
	return k != FaultNone && !k.Recoverable()
}

var (
	// ErrUnaligned is returned for addresses or sizes that are not a whole number of words.
	ErrUnaligned = errors.New("not word aligned")

	// ErrOutOfRange is returned for an access outside the flash.
	ErrOutOfRange = errors.New("address outside flash")

	// ErrProgramVerify is returned when a word needs bits set that are
	// already clear, meaning the sector was not erased.
	ErrProgramVerify = errors.New("program verify failed")
)
