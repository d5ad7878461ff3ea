package audioboot

/*------------------------------------------------------------------
 *
 * Purpose:	Bench stand-ins for the modem: replay a packet capture.
 *
 * Description:	A capture is a sequence of records, each a kind byte
 *		and, for packets, the payload:
 *
 *			'P' <packet_size bytes>		good packet
 *			'S'				sync error
 *			'C'				checksum error
 *			'E'				end of transmission
 *
 *		The capture bytes are the symbols.  ReplayDemodulator
 *		queues them and ReplayDecoder frames the records, so
 *		the whole driver, pipeline and flash path can be run on
 *		a host without a modem.
 *
 *---------------------------------------------------------------*/

import (
	"bufio"
	"context"
	"io"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

const (
	RecordPacket    = 'P'
	RecordSyncError = 'S'
	RecordCRCError  = 'C'
	RecordEnd       = 'E'
)

// ReplayDemodulator hands out capture bytes as symbols.  Sliced samples
// pushed into it are only counted.
type ReplayDemodulator struct {
	queue *SymbolQueue

	pushed atomic.Int64
	syncs  atomic.Int64
}

func NewReplayDemodulator(capacity int) *ReplayDemodulator {
	return &ReplayDemodulator{queue: NewSymbolQueue(capacity)}
}

func (d *ReplayDemodulator) PushSample(bool) {
	d.pushed.Add(1)
}

func (d *ReplayDemodulator) Init() {
	d.queue.ClearOverflow()
}

// Sync is a no-op apart from counting: a capture has no timing to recover,
// and dropping queued bytes would lose records.
func (d *ReplayDemodulator) Sync() {
	d.syncs.Add(1)
}

func (d *ReplayDemodulator) Syncs() int {
	return int(d.syncs.Load())
}

func (d *ReplayDemodulator) Available() bool {
	return d.queue.Len() > 0
}

func (d *ReplayDemodulator) NextSymbol() byte {
	var s, _ = d.queue.Pop()
	return s
}

func (d *ReplayDemodulator) Overflowed() bool {
	return d.queue.Overflowed()
}

// Feed copies r into the queue, waiting for room rather than overflowing.
// It returns when r is exhausted or ctx is done.
func (d *ReplayDemodulator) Feed(ctx context.Context, r io.Reader) error {
	var br = bufio.NewReader(r)

	for {
		var b, err = br.ReadByte()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "read capture")
		}

		for d.queue.Len() >= d.queue.Cap() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Millisecond):
			}
		}

		d.queue.Push(b)
	}
}

// ReplayDecoder frames capture records.
type ReplayDecoder struct {
	packetSize int
	buf        []byte
	collecting bool
}

func NewReplayDecoder(packetSize int) *ReplayDecoder {
	return &ReplayDecoder{packetSize: packetSize, buf: make([]byte, 0, packetSize)}
}

func (d *ReplayDecoder) Init() {
	d.Reset()
}

func (d *ReplayDecoder) Reset() {
	d.buf = d.buf[:0]
	d.collecting = false
}

func (d *ReplayDecoder) ProcessSymbol(symbol byte) DecodeResult {
	if d.collecting {
		d.buf = append(d.buf, symbol)
		if len(d.buf) < d.packetSize {
			return DecodeBusy
		}
		d.collecting = false
		return DecodeOK
	}

	switch symbol {
	case RecordPacket:
		d.buf = d.buf[:0]
		d.collecting = true
		return DecodeBusy
	case RecordSyncError:
		return DecodeErrorSync
	case RecordCRCError:
		return DecodeErrorCRC
	case RecordEnd:
		return DecodeEndOfTransmission
	default:
		return DecodeErrorSync
	}
}

func (d *ReplayDecoder) PacketData() []byte {
	return d.buf
}

/*-------------------------------------------------------------------
 *
 * Name:	PackImage
 *
 * Purpose:	Write a capture for a firmware image.
 *
 * Description:	The image is padded with 0xFF to a whole number of
 *		blocks.  Only full blocks are ever written to flash, so
 *		an unpadded tail would be lost.
 *
 * Returns:	Number of packets written.
 *
 *--------------------------------------------------------------------*/

func PackImage(w io.Writer, image []byte, cfg ReceptionConfig) (int, error) {
	var padded = len(image)
	if rem := padded % cfg.BlockSize; rem != 0 || padded == 0 {
		padded += cfg.BlockSize - rem
	}

	var data = make([]byte, padded)
	copy(data, image)
	for i := len(image); i < padded; i++ {
		data[i] = 0xFF
	}

	var bw = bufio.NewWriter(w)
	var packets = 0

	for off := 0; off < padded; off += cfg.PacketSize {
		bw.WriteByte(RecordPacket)
		bw.Write(data[off : off+cfg.PacketSize])
		packets++
	}
	bw.WriteByte(RecordEnd)

	return packets, errors.Wrap(bw.Flush(), "write capture")
}
