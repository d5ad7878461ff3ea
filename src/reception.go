package audioboot

/*------------------------------------------------------------------
 *
 * Purpose:	Assemble decoded packets into flash blocks.
 *
 * Description:	Packets are appended to the block buffer at
 *		(packet_index mod packets_per_block) * packet_size.
 *		When the index wraps to a multiple of packets_per_block
 *		the whole buffer goes to flash.
 *
 *		After every good packet the decoder is reset so the next
 *		one is framed from scratch.  That is cheap.  At a block
 *		boundary the demodulator is resynchronised as well, which
 *		is expensive, but the sender leaves a gap there for the
 *		flash write anyway.
 *
 *---------------------------------------------------------------*/

import (
	"sync/atomic"

	"github.com/charmbracelet/log"
)

// Event is what Reception.Consume did with one symbol.
type Event int

const (
	EventNone Event = iota
	EventPacket
	EventBlockWritten
	EventFault
	EventEndOfTransmission
)

func (e Event) String() string {
	switch e {
	case EventNone:
		return "none"
	case EventPacket:
		return "packet"
	case EventBlockWritten:
		return "block written"
	case EventFault:
		return "fault"
	case EventEndOfTransmission:
		return "end of transmission"
	default:
		return "unknown"
	}
}

// BlockWriter is the part of the flash writer the pipeline uses.
type BlockWriter interface {
	ProgramBlock(data []byte) (int, error)
	Cursor() uint32
}

// ReceptionConfig sizes packets and blocks.
type ReceptionConfig struct {
	PacketSize int `yaml:"packet_size"`
	BlockSize  int `yaml:"block_size"`

	// RewindOnRecovery moves the staging cursor back to the start when
	// the operator acknowledges a fault.  Off by default: the cursor
	// stays where it was and new blocks are appended after it.
	RewindOnRecovery bool `yaml:"rewind_on_recovery"`
}

// PacketsPerBlock is BlockSize / PacketSize.
func (c ReceptionConfig) PacketsPerBlock() int {
	return c.BlockSize / c.PacketSize
}

// Reception is the packet to block pipeline.
type Reception struct {
	cfg    ReceptionConfig
	logger *log.Logger

	decoder PacketDecoder
	writer  BlockWriter
	state   *StateCell

	// resync is called at block boundaries after the decoder reset.
	resync func()

	block []byte

	// packetIndex is written here and read by the tick goroutine for
	// idle gating and the indicator.
	packetIndex atomic.Int64

	blocks int

	failed bool
	done   bool
}

// NewReception builds a pipeline.  resync must resynchronise the demodulator
// (and anything upstream of it).
func NewReception(cfg ReceptionConfig, decoder PacketDecoder, writer BlockWriter, state *StateCell, resync func(), logger *log.Logger) *Reception {
	return &Reception{
		cfg:     cfg,
		logger:  logger,
		decoder: decoder,
		writer:  writer,
		state:   state,
		resync:  resync,
		block:   make([]byte, cfg.BlockSize),
	}
}

// PacketIndex is the number of good packets since the last Restart.
func (r *Reception) PacketIndex() int {
	return int(r.packetIndex.Load())
}

// Idle is true until the first good packet after a Restart.
func (r *Reception) Idle() bool {
	return r.packetIndex.Load() == 0
}

// BlocksWritten counts ProgramBlock calls since construction.
func (r *Reception) BlocksWritten() int {
	return r.blocks
}

// Failed is the pipeline error flag.  Consume does nothing while it is set.
func (r *Reception) Failed() bool {
	return r.failed
}

// Done is set by an end-of-transmission marker and never cleared.
func (r *Reception) Done() bool {
	return r.done
}

// Pending is the number of bytes sitting in the block buffer.
func (r *Reception) Pending() int {
	return (r.PacketIndex() % r.cfg.PacketsPerBlock()) * r.cfg.PacketSize
}

// Restart empties the block buffer and clears the error flag.
func (r *Reception) Restart() {
	r.packetIndex.Store(0)
	r.failed = false
}

func (r *Reception) fault(kind FaultKind) error {
	r.failed = true
	r.state.Fail(kind)
	return &ReceptionError{Kind: kind, PacketIndex: r.PacketIndex(), Address: r.writer.Cursor()}
}

/*-------------------------------------------------------------------
 *
 * Name:	Consume
 *
 * Purpose:	Feed one symbol to the decoder and act on the outcome.
 *
 * Returns:	What happened, and an error for faults.  Sync and CRC
 *		faults are recoverable (see IsRecoverable); a capacity
 *		fault from the flash writer is not.
 *
 *--------------------------------------------------------------------*/

func (r *Reception) Consume(symbol byte) (Event, error) {
	if r.failed || r.done {
		return EventNone, nil
	}

	switch r.decoder.ProcessSymbol(symbol) {
	case DecodeOK:
		return r.packet()

	case DecodeErrorSync:
		r.logger.Warn("lost sync", "packet", r.PacketIndex())
		return EventFault, r.fault(FaultSync)

	case DecodeErrorCRC:
		r.logger.Warn("checksum mismatch", "packet", r.PacketIndex())
		return EventFault, r.fault(FaultChecksum)

	case DecodeEndOfTransmission:
		r.done = true
		r.state.Set(StateDone)
		r.logger.Info("end of transmission", "packets", r.PacketIndex(), "blocks", r.blocks, "unwritten", r.Pending())
		return EventEndOfTransmission, nil

	default:
		return EventNone, nil
	}
}

func (r *Reception) packet() (Event, error) {
	r.state.Set(StateReceiving)

	var perBlock = r.cfg.PacketsPerBlock()
	var index = r.PacketIndex()
	var offset = (index % perBlock) * r.cfg.PacketSize
	copy(r.block[offset:offset+r.cfg.PacketSize], r.decoder.PacketData())

	index++
	r.packetIndex.Store(int64(index))

	if index%perBlock != 0 {
		r.decoder.Reset()
		return EventPacket, nil
	}

	r.state.Set(StateWriting)
	r.logger.Debug("writing block", "block", r.blocks, "cursor", addrString(r.writer.Cursor()))

	var _, err = r.writer.ProgramBlock(r.block)
	r.blocks++
	if err != nil {
		var kind = FaultOf(err)
		if kind == FaultNone {
			kind = FaultFlash
		}
		r.logger.Error("block write failed", "error", err)
		r.failed = true
		r.state.Fail(kind)
		return EventFault, &ReceptionError{Kind: kind, PacketIndex: index, Address: r.writer.Cursor()}
	}

	r.decoder.Reset()
	if r.resync != nil {
		r.resync()
	}

	return EventBlockWritten, nil
}
