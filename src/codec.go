package audioboot

// The modem itself lives outside this package.  These are the narrow
// views the bootloader needs of it.

// SampleSink takes one sliced sample.  It is called from the audio
// goroutine and must not block.
type SampleSink interface {
	PushSample(bit bool)
}

// Demodulator recovers symbols from the sliced sample stream.
type Demodulator interface {
	SampleSink

	// Init puts the demodulator back into its power-on state.
	Init()

	// Sync starts a new timing acquisition.  Symbols in flight are dropped.
	Sync()

	Available() bool
	NextSymbol() byte

	// Overflowed is true once a symbol has been lost because the queue was full.
	Overflowed() bool
}

// DecodeResult is what the packet decoder makes of one symbol.
type DecodeResult int

const (
	// DecodeBusy: the symbol was absorbed, no packet yet.
	DecodeBusy DecodeResult = iota
	DecodeOK
	DecodeErrorSync
	DecodeErrorCRC
	DecodeEndOfTransmission
)

func (r DecodeResult) String() string {
	switch r {
	case DecodeBusy:
		return "busy"
	case DecodeOK:
		return "ok"
	case DecodeErrorSync:
		return "sync error"
	case DecodeErrorCRC:
		return "crc error"
	case DecodeEndOfTransmission:
		return "end of transmission"
	default:
		return "unknown"
	}
}

// PacketDecoder frames packets and checks their CRC.
type PacketDecoder interface {
	Init()

	// Reset drops any partly decoded packet.
	Reset()

	ProcessSymbol(symbol byte) DecodeResult

	// PacketData is the payload of the last DecodeOK.  Only valid until
	// the next ProcessSymbol or Reset.
	PacketData() []byte
}
