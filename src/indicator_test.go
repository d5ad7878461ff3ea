package audioboot

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_AnimatorReceivingChase(t *testing.T) {
	var a Animator

	var sliders []uint8
	for p := 1; p <= 7; p++ {
		var f = a.Next(StateReceiving, FaultNone, p, 0)
		sliders = append(sliders, f.Sliders)
	}
	assert.Equal(t, []uint8{1, 2, 4, 8, 16, 32, 1}, sliders)

	// No new packet, no movement.
	var f = a.Next(StateReceiving, FaultNone, 7, 0)
	assert.Equal(t, uint8(1), f.Sliders)
	assert.Nil(t, f.Ring)
}

func Test_AnimatorRing(t *testing.T) {
	var a Animator

	var f = a.Next(StateReceiving, FaultNone, 6, 0)
	assert.Equal(t, []int{1}, f.Ring)
	assert.Equal(t, []bool{true}, f.RingOn)

	// Second lap clears.
	f = a.Next(StateReceiving, FaultNone, 6*(ringCount+2), 0)
	assert.Equal(t, []int{2}, f.Ring)
	assert.Equal(t, []bool{false}, f.RingOn)
}

func Test_AnimatorWritingBlink(t *testing.T) {
	var a Animator

	var on, off = -1, -1
	for tick := 1; tick <= 500; tick++ {
		var f = a.Next(StateWriting, FaultNone, 4, 64)
		if f.Sliders == allSliders && on < 0 {
			on = tick
		}
		if on > 0 && f.Sliders == 0 && off < 0 {
			off = tick
		}
	}

	assert.Equal(t, 200, on)
	assert.Equal(t, 401, off)
}

func Test_AnimatorWaiting(t *testing.T) {
	var a Animator

	var changes []Frame
	for tick := 1; tick <= 1700; tick++ {
		var f = a.Next(StateWaiting, FaultNone, 0, 0)
		if f.Ring != nil {
			changes = append(changes, Frame{Ring: append([]int(nil), f.Ring...), RingOn: append([]bool(nil), f.RingOn...)})
		}
	}

	require.Len(t, changes, 4)
	assert.Equal(t, []bool{true, false}, changes[0].RingOn)
	assert.Equal(t, []bool{false, true}, changes[1].RingOn)
	assert.Equal(t, []int{1, 2}, changes[2].Ring)
}

func Test_AnimatorLocks(t *testing.T) {
	var cases = map[FaultKind]uint8{
		FaultSync:           1<<lockAwaitAck | 1<<lockSync,
		FaultChecksum:       1<<lockAwaitAck | 1<<lockChecksum,
		FaultCapacity:       1<<lockAwaitAck | 1<<lockSync | 1<<lockChecksum,
		FaultSymbolOverflow: 1<<lockAwaitAck | 1<<lockSync | 1<<lockChecksum,
	}

	for fault, locks := range cases {
		var a Animator
		var f = a.Next(StateError, fault, 3, 0)
		assert.Equal(t, locks, f.Locks, "%s", fault)
		assert.Equal(t, uint8(0), f.Sliders)
	}

	var a Animator
	assert.Equal(t, uint8(0x21), a.Next(StateDone, FaultNone, 0, 0).Locks)

	// Back to waiting clears the locks.
	a.Next(StateError, FaultSync, 0, 0)
	assert.Equal(t, uint8(0), a.Next(StateWaiting, FaultNone, 0, 0).Locks)
}

func Test_LogIndicator(t *testing.T) {
	var buf bytes.Buffer
	var ind = &LogIndicator{Logger: bufferLogger(&buf), ProgressEvery: 4}

	ind.Render(Frame{State: StateWaiting})
	ind.Render(Frame{State: StateWaiting})
	ind.Render(Frame{State: StateReceiving, PacketIndex: 1})
	ind.Render(Frame{State: StateReceiving, PacketIndex: 4, Received: 64})
	ind.Render(Frame{State: StateError, Fault: FaultChecksum, PacketIndex: 5})

	var out = buf.String()
	assert.Equal(t, 1, strings.Count(out, "state=waiting"))
	assert.Contains(t, out, "state=receiving")
	assert.Contains(t, out, "packets=4")
	assert.Contains(t, out, "fault=checksum")
}

type mockGPIOLine struct {
	value  int
	writes int
	closed bool
	err    error
}

func (m *mockGPIOLine) SetValue(v int) error {
	if m.err != nil {
		return m.err
	}
	m.value = v
	m.writes++
	return nil
}

func (m *mockGPIOLine) Close() error {
	m.closed = true
	return nil
}

func mockLines(n int) ([]gpioOutputLine, []*mockGPIOLine) {
	var lines []gpioOutputLine
	var mocks []*mockGPIOLine
	for i := 0; i < n; i++ {
		var m = new(mockGPIOLine)
		lines = append(lines, m)
		mocks = append(mocks, m)
	}
	return lines, mocks
}

func Test_GPIOIndicatorRender(t *testing.T) {
	var sliders, sliderMocks = mockLines(sliderCount)
	var locks, lockMocks = mockLines(sliderCount)
	locks[0] = nil // not fitted

	var g = &GPIOIndicator{logger: discardLogger(), sliders: sliders, locks: locks}

	g.Render(Frame{Sliders: 0b000101, Locks: 0b001010})

	assert.Equal(t, 1, sliderMocks[0].value)
	assert.Equal(t, 0, sliderMocks[1].value)
	assert.Equal(t, 1, sliderMocks[2].value)
	assert.Equal(t, 1, lockMocks[1].value)
	assert.Equal(t, 1, lockMocks[3].value)
	assert.Equal(t, 0, lockMocks[0].writes)

	// Same frame again: nothing written.
	g.Render(Frame{Sliders: 0b000101, Locks: 0b001010})
	assert.Equal(t, 1, sliderMocks[0].writes)

	require.NoError(t, g.Close())
	for _, m := range sliderMocks {
		assert.True(t, m.closed)
		assert.Equal(t, 0, m.value)
	}
	assert.False(t, lockMocks[0].closed)
}

func Test_GPIOIndicatorDisablesOnError(t *testing.T) {
	var sliders, mocks = mockLines(2)
	mocks[1].err = errors.New("line gone")

	var g = &GPIOIndicator{logger: discardLogger(), sliders: sliders}

	g.Render(Frame{Sliders: 3})
	g.Render(Frame{Sliders: 0})

	assert.True(t, g.failed)
	assert.Equal(t, 1, mocks[0].writes)
}

func Test_SerialIndicatorPty(t *testing.T) {
	var s, err = OpenSerialIndicator(SerialIndicatorConfig{Device: "pty"}, discardLogger())
	require.NoError(t, err)
	defer s.Close()

	var panel, openErr = os.Open(s.Name())
	require.NoError(t, openErr)
	defer panel.Close()

	var lines = make(chan string, 8)
	go func() {
		var r = bufio.NewReader(panel)
		for {
			var line, readErr = r.ReadString('\n')
			if readErr != nil {
				close(lines)
				return
			}
			lines <- line
		}
	}()

	var next = func() string {
		select {
		case l := <-lines:
			return l
		case <-time.After(5 * time.Second):
			t.Fatal("no line from serial panel")
			return ""
		}
	}

	s.Render(Frame{State: StateWaiting})
	s.Render(Frame{State: StateReceiving, PacketIndex: 4, Received: 64})
	s.Render(Frame{State: StateError, Fault: FaultSync, PacketIndex: 5, Received: 64})

	assert.Equal(t, "STATE waiting none 0 0\r\n", next())
	assert.Equal(t, "STATE receiving none 4 64\r\n", next())
	assert.Equal(t, "BLOCK 4 64\r\n", next())
	assert.Equal(t, "STATE error sync 5 64\r\n", next())
}

type fakePublisher struct {
	topics   []string
	payloads []statusMessage
	closed   bool
}

func (f *fakePublisher) publish(topic string, payload []byte) {
	var msg statusMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		panic(err)
	}
	f.topics = append(f.topics, topic)
	f.payloads = append(f.payloads, msg)
}

func (f *fakePublisher) Close() error {
	f.closed = true
	return nil
}

func Test_MQTTIndicator(t *testing.T) {
	var pub = new(fakePublisher)
	var m = newMQTTIndicator(pub, MQTTIndicatorConfig{ProgressEvery: 4})

	m.Render(Frame{State: StateWaiting})
	m.Render(Frame{State: StateWaiting})
	for p := 1; p <= 8; p++ {
		m.Render(Frame{State: StateReceiving, PacketIndex: p, Received: (p / 4) * 64})
	}
	m.Render(Frame{State: StateError, Fault: FaultChecksum, PacketIndex: 9, Received: 128})

	require.Len(t, pub.payloads, 5)
	assert.Equal(t, "audioboot/status", pub.topics[0])
	assert.Equal(t, statusMessage{State: "waiting"}, pub.payloads[0])
	assert.Equal(t, statusMessage{State: "receiving", Packets: 1}, pub.payloads[1])
	assert.Equal(t, statusMessage{State: "receiving", Packets: 4, Bytes: 64}, pub.payloads[2])
	assert.Equal(t, statusMessage{State: "receiving", Packets: 8, Bytes: 128}, pub.payloads[3])
	assert.Equal(t, statusMessage{State: "error", Fault: "checksum", Packets: 9, Bytes: 128}, pub.payloads[4])

	require.NoError(t, m.Close())
	assert.True(t, pub.closed)
}

func Test_DefaultClientID(t *testing.T) {
	assert.True(t, strings.HasPrefix(DefaultClientID(), "audioboot"))
}

func Test_MultiIndicator(t *testing.T) {
	var seen []State
	var m = MultiIndicator{
		IndicatorFunc(func(f Frame) { seen = append(seen, f.State) }),
		IndicatorFunc(func(f Frame) { seen = append(seen, f.State) }),
	}

	m.Render(Frame{State: StateDone})
	assert.Equal(t, []State{StateDone, StateDone}, seen)
}
