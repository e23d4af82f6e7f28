package esp32

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"helical-go-migration/pkg/rigerr"
)

// fakeLink serves a scripted input stream and records writes. A read
// on an empty stream reports a quiet link (0, nil), which the client
// treats as "poll again".
type fakeLink struct {
	writes  [][]byte
	input   []byte
	flushes int

	// readChunk caps bytes served per Read, simulating a trickling
	// UART. Zero serves everything available.
	readChunk int

	closed bool
}

func (f *fakeLink) Write(p []byte) (int, error) {
	cp := make([]byte, len(p))
	copy(cp, p)
	f.writes = append(f.writes, cp)
	return len(p), nil
}

func (f *fakeLink) Read(p []byte) (int, error) {
	if len(f.input) == 0 {
		return 0, nil
	}
	n := len(p)
	if f.readChunk > 0 && n > f.readChunk {
		n = f.readChunk
	}
	if n > len(f.input) {
		n = len(f.input)
	}
	copy(p, f.input[:n])
	f.input = f.input[n:]
	return n, nil
}

func (f *fakeLink) FlushInput() error {
	f.flushes++
	return nil
}

func (f *fakeLink) Close() error {
	f.closed = true
	return nil
}

func le32(v int32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(v))
	return b[:]
}

func testSample() ImuSample {
	return ImuSample{
		TimestampUs:        123456,
		Ax:                 0.25,
		Ay:                 -1.5,
		Az:                 9.81,
		Gx:                 0.001,
		Gy:                 -0.002,
		Gz:                 3.14159,
		Omega:              6.28,
		RadialAccel:        42.5,
		CorrectiveMassG:    1.75,
		CorrectiveAngleDeg: 270.0,
	}
}

func TestEncoderPositionExchange(t *testing.T) {
	link := &fakeLink{input: le32(-283000)}
	c := NewClient(link)

	pos, err := c.EncoderPosition(2)
	if err != nil {
		t.Fatalf("EncoderPosition: %v", err)
	}
	if pos != -283000 {
		t.Errorf("position = %d, want -283000", pos)
	}

	if len(link.writes) != 1 {
		t.Fatalf("wrote %d frames, want 1", len(link.writes))
	}
	want := []byte{CmdEncoderPosition, 2, 0, 0, 0, 0}
	if !bytes.Equal(link.writes[0], want) {
		t.Errorf("frame = % x, want % x", link.writes[0], want)
	}
	if link.flushes != 1 {
		t.Errorf("input flushes = %d, want 1 (before the command)", link.flushes)
	}
}

func TestEncoderIndexValidation(t *testing.T) {
	link := &fakeLink{}
	c := NewClient(link)

	_, err := c.EncoderPosition(5)
	if !rigerr.IsInvalidArgument(err) {
		t.Fatalf("error = %v, want invalid argument", err)
	}
	if len(link.writes) != 0 {
		t.Error("rejected index must not reach the link")
	}
}

func TestAllEncoderPositions(t *testing.T) {
	var input []byte
	want := [EncoderCount]int32{10, -20, 30, -40, 2147483647}
	for _, v := range want {
		input = append(input, le32(v)...)
	}
	link := &fakeLink{input: input, readChunk: 3}
	c := NewClient(link)

	got, err := c.AllEncoderPositions()
	if err != nil {
		t.Fatalf("AllEncoderPositions: %v", err)
	}
	if got != want {
		t.Errorf("positions = %v, want %v", got, want)
	}
	wantFrame := []byte{CmdEncoderPosition, EncoderAll, 0, 0, 0, 0}
	if !bytes.Equal(link.writes[0], wantFrame) {
		t.Errorf("frame = % x, want % x", link.writes[0], wantFrame)
	}
}

func TestSetThetaVelocityFrame(t *testing.T) {
	link := &fakeLink{}
	c := NewClient(link)

	if err := c.SetThetaVelocity(-40904); err != nil {
		t.Fatalf("SetThetaVelocity: %v", err)
	}

	if len(link.writes) != 1 {
		t.Fatalf("wrote %d frames, want 1", len(link.writes))
	}
	frame := link.writes[0]
	if len(frame) != 6 {
		t.Fatalf("frame length = %d, want 6", len(frame))
	}
	if frame[0] != CmdThetaVel || frame[1] != ThetaVelSet {
		t.Errorf("frame header = % x, want %02x %02x", frame[:2], CmdThetaVel, ThetaVelSet)
	}
	if got := int32(binary.LittleEndian.Uint32(frame[2:])); got != -40904 {
		t.Errorf("encoded velocity = %d, want -40904", got)
	}
}

func TestDCDriverFrames(t *testing.T) {
	link := &fakeLink{}
	c := NewClient(link)

	if err := c.SetDCPWM(200); err != nil {
		t.Fatalf("SetDCPWM: %v", err)
	}
	if err := c.SetDCDirection(true); err != nil {
		t.Fatalf("SetDCDirection: %v", err)
	}

	want := [][]byte{
		{CmdDCDriver, DCSubPWM, 200, 0, 0, 0},
		{CmdDCDriver, DCSubDir, 1, 0, 0, 0},
	}
	if len(link.writes) != 2 {
		t.Fatalf("wrote %d frames, want 2", len(link.writes))
	}
	for i := range want {
		if !bytes.Equal(link.writes[i], want[i]) {
			t.Errorf("frame %d = % x, want % x", i, link.writes[i], want[i])
		}
	}
}

func TestGetImuSample(t *testing.T) {
	sample := testSample()
	var input []byte
	input = AppendPacket(input, PacketSample, MarshalSamplePayload(sample))
	input = AppendPacket(input, PacketAck, AckPayload(CmdIMU, IMUSubGetSample, true))

	link := &fakeLink{input: input, readChunk: 7}
	c := NewClient(link)

	got, err := c.GetImuSample(time.Second)
	if err != nil {
		t.Fatalf("GetImuSample: %v", err)
	}
	if got != sample {
		t.Errorf("sample = %+v, want %+v", got, sample)
	}

	wantFrame := []byte{CmdIMU, IMUSubGetSample, 0, 0, 0, 0}
	if !bytes.Equal(link.writes[0], wantFrame) {
		t.Errorf("frame = % x, want % x", link.writes[0], wantFrame)
	}
}

func TestSyncRecoveryThroughNoise(t *testing.T) {
	sample := testSample()

	// Garbage around the packet, including a stray 'I' that never
	// pairs with 'M', and an extra 'I' directly before the real sync
	// pair.
	input := []byte{0x00, 0xFF, 'X', 'I', 'Q', 0x7E, 'I'}
	input = AppendPacket(input, PacketSample, MarshalSamplePayload(sample))
	input = AppendPacket(input, PacketAck, AckPayload(CmdIMU, IMUSubGetSample, true))
	input = append(input, 0xEE, 0xEE) // trailing noise stays unread

	link := &fakeLink{input: input, readChunk: 2}
	c := NewClient(link)

	got, err := c.GetImuSample(time.Second)
	if err != nil {
		t.Fatalf("GetImuSample: %v", err)
	}
	if got != sample {
		t.Errorf("sample = %+v, want %+v", got, sample)
	}
}

func TestGetImuSampleNoData(t *testing.T) {
	var input []byte
	input = AppendPacket(input, PacketAck, AckPayload(CmdIMU, IMUSubGetSample, false))

	link := &fakeLink{input: input}
	c := NewClient(link)

	_, err := c.GetImuSample(time.Second)
	if !errors.Is(err, ErrNoSample) {
		t.Fatalf("error = %v, want ErrNoSample", err)
	}
}

func TestRepeatedAckServesCachedSample(t *testing.T) {
	sample := testSample()
	var input []byte
	input = AppendPacket(input, PacketSample, MarshalSamplePayload(sample))
	input = AppendPacket(input, PacketAck, AckPayload(CmdIMU, IMUSubGetSample, true))

	link := &fakeLink{input: input}
	c := NewClient(link)

	if _, err := c.GetImuSample(time.Second); err != nil {
		t.Fatalf("first GetImuSample: %v", err)
	}

	// Second request: the companion skips the SAMPLE packet and only
	// acknowledges.
	link.input = AppendPacket(nil, PacketAck, AckPayload(CmdIMU, IMUSubGetSample, true))

	got, err := c.GetImuSample(time.Second)
	if err != nil {
		t.Fatalf("second GetImuSample: %v", err)
	}
	if got != sample {
		t.Errorf("cached sample = %+v, want %+v", got, sample)
	}
}

func TestStatusPacketsAreSkipped(t *testing.T) {
	sample := testSample()
	var input []byte
	input = AppendPacket(input, PacketStatus, []byte("spin-up complete"))
	input = AppendPacket(input, PacketSample, MarshalSamplePayload(sample))
	input = AppendPacket(input, PacketStatus, []byte("temp 41C"))
	input = AppendPacket(input, PacketAck, AckPayload(CmdIMU, IMUSubGetSample, true))

	link := &fakeLink{input: input}
	c := NewClient(link)

	got, err := c.GetImuSample(time.Second)
	if err != nil {
		t.Fatalf("GetImuSample: %v", err)
	}
	if got != sample {
		t.Errorf("sample = %+v, want %+v", got, sample)
	}
}

func TestGetImuSampleTimeout(t *testing.T) {
	link := &fakeLink{}
	c := NewClient(link)

	_, err := c.GetImuSample(30 * time.Millisecond)
	if !rigerr.IsTimeout(err) {
		t.Fatalf("error = %v, want protocol timeout", err)
	}
}

func TestImuCalibration(t *testing.T) {
	link := &fakeLink{input: AppendPacket(nil, PacketAck, AckPayload(CmdIMU, IMUSubStartCalib, true))}
	c := NewClient(link)
	if err := c.RequestImuCalibration(time.Second); err != nil {
		t.Fatalf("RequestImuCalibration: %v", err)
	}

	link = &fakeLink{input: AppendPacket(nil, PacketAck, AckPayload(CmdIMU, IMUSubStartCalib, false))}
	c = NewClient(link)
	err := c.RequestImuCalibration(time.Second)
	if !rigerr.Is(err, rigerr.ErrCommand) {
		t.Fatalf("refused calibration: error = %v, want command error", err)
	}
}

func TestThetaZeroStatus(t *testing.T) {
	link := &fakeLink{input: []byte{1}}
	c := NewClient(link)
	zeroed, err := c.ThetaZeroed()
	if err != nil {
		t.Fatalf("ThetaZeroed: %v", err)
	}
	if !zeroed {
		t.Error("status byte 1 should report zeroed")
	}

	link = &fakeLink{input: []byte{0}}
	c = NewClient(link)
	zeroed, err = c.ThetaZeroed()
	if err != nil {
		t.Fatalf("ThetaZeroed: %v", err)
	}
	if zeroed {
		t.Error("status byte 0 should report not zeroed")
	}
}

func TestWaitThetaZeroComplete(t *testing.T) {
	// Zero bytes are keep-alive noise; the first nonzero byte ends
	// the wait.
	link := &fakeLink{input: []byte{0, 0, 5}}
	c := NewClient(link)
	if err := c.WaitThetaZeroComplete(time.Second); err != nil {
		t.Fatalf("WaitThetaZeroComplete: %v", err)
	}
}

func TestWaitThetaZeroCompleteTimeout(t *testing.T) {
	link := &fakeLink{}
	c := NewClient(link)
	err := c.WaitThetaZeroComplete(50 * time.Millisecond)
	if !rigerr.IsTimeout(err) {
		t.Fatalf("error = %v, want protocol timeout", err)
	}
}

func TestNextStreamSample(t *testing.T) {
	sample := testSample()
	var input []byte
	input = AppendPacket(input, PacketStatus, []byte("stream on"))
	input = AppendPacket(input, PacketSample, MarshalSamplePayload(sample))

	link := &fakeLink{input: input}
	c := NewClient(link)

	got, err := c.NextStreamSample(time.Second)
	if err != nil {
		t.Fatalf("NextStreamSample: %v", err)
	}
	if got != sample {
		t.Errorf("sample = %+v, want %+v", got, sample)
	}

	if cached, ok := c.LatestSample(); !ok || cached != sample {
		t.Errorf("LatestSample = %+v, %v; want the streamed sample", cached, ok)
	}
}
