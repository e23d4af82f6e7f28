// Package esp32 speaks the companion controller's serial protocol.
//
// The companion (an ESP32 on the rotating stage) accepts fixed 6-byte
// commands and answers in two distinct styles that must never be
// mixed: motion and encoder commands are answered with raw fixed-width
// values and nothing else, while IMU commands are answered with
// length-prefixed packets behind an "IM" sync pair. Applying packet
// parsing to a raw response, or vice versa, desynchronizes the link
// until the next input flush.
package esp32

import (
	"encoding/binary"
	"io"
	"math"
	"time"
)

// Link is the byte transport to the companion. *serial.Port satisfies
// it; tests substitute an in-memory script.
type Link interface {
	io.ReadWriteCloser

	// FlushInput discards pending input. Called before every command
	// so responses can never pair with a stale request.
	FlushInput() error
}

// Command bytes. Every host-to-companion frame is exactly 6 bytes:
// [command, subcommand, value, 0, 0, 0]. THETA_VEL SET overlays a
// little-endian int32 on bytes 2..5 instead of the single value byte.
const (
	CmdEncoderPosition = 0x10
	CmdDCDriver        = 0x20
	CmdThetaVel        = 0x30
	CmdThetaZero       = 0x40
	CmdIMU             = 0x50
)

// Subcommands.
const (
	EncoderAll = 0xFF // encoder index meaning "all five"

	DCSubPWM = 0x01
	DCSubDir = 0x02

	ThetaVelSet = 0x01

	ThetaZeroStart  = 0x01
	ThetaZeroStatus = 0x02
	ThetaZeroRead   = 0x03

	IMUSubGetSample   = 0x01
	IMUSubStartStream = 0x02
	IMUSubStopStream  = 0x03
	IMUSubStartCalib  = 0x04
)

// Packet types carried behind the "IM" sync pair.
const (
	PacketAck    = 0xA0
	PacketSample = 0xA1
	PacketStatus = 0xA2
)

const (
	// FrameSize is the fixed length of every host-to-companion
	// command.
	FrameSize = 6

	syncByte0 = 'I'
	syncByte1 = 'M'

	// SamplePayloadSize is the fixed length of a SAMPLE payload:
	// uint32 timestamp plus ten float32 channels.
	SamplePayloadSize = 44

	// EncoderCount is how many quadrature counters the companion
	// tracks.
	EncoderCount = 5
)

// Response deadlines. Short acknowledgments come back within a frame
// or two at 115200 baud; calibration and the zeroing sequence involve
// physical motion.
const (
	DefaultAckTimeout         = 500 * time.Millisecond
	DefaultCalibrationTimeout = 5 * time.Second
	DefaultThetaZeroTimeout   = 20 * time.Second
	thetaZeroCompletionPoll   = 200 * time.Millisecond
	quietLinkPause            = 2 * time.Millisecond
)

// ImuSample is one inertial measurement from the rotating stage.
// The wire layout is the struct in order, little-endian, no padding.
type ImuSample struct {
	TimestampUs uint32

	// Accelerometer, m/s².
	Ax, Ay, Az float32

	// Gyroscope, rad/s.
	Gx, Gy, Gz float32

	// Omega is the decoded rotation rate, rad/s.
	Omega float32

	// RadialAccel is the centripetal component at the sensor, m/s².
	RadialAccel float32

	// Balance correction computed on the companion.
	CorrectiveMassG    float32
	CorrectiveAngleDeg float32
}

// MarshalSamplePayload renders a sample in wire order. The mock
// companion and the test suites build SAMPLE packets with it.
func MarshalSamplePayload(s ImuSample) []byte {
	buf := make([]byte, 0, SamplePayloadSize)
	buf = binary.LittleEndian.AppendUint32(buf, s.TimestampUs)
	for _, f := range []float32{
		s.Ax, s.Ay, s.Az,
		s.Gx, s.Gy, s.Gz,
		s.Omega, s.RadialAccel,
		s.CorrectiveMassG, s.CorrectiveAngleDeg,
	} {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(f))
	}
	return buf
}

// parseSamplePayload is the inverse of MarshalSamplePayload. It
// rejects any payload that is not exactly SamplePayloadSize bytes.
func parseSamplePayload(payload []byte) (ImuSample, bool) {
	if len(payload) != SamplePayloadSize {
		return ImuSample{}, false
	}
	f := func(off int) float32 {
		return math.Float32frombits(binary.LittleEndian.Uint32(payload[off:]))
	}
	return ImuSample{
		TimestampUs:        binary.LittleEndian.Uint32(payload),
		Ax:                 f(4),
		Ay:                 f(8),
		Az:                 f(12),
		Gx:                 f(16),
		Gy:                 f(20),
		Gz:                 f(24),
		Omega:              f(28),
		RadialAccel:        f(32),
		CorrectiveMassG:    f(36),
		CorrectiveAngleDeg: f(40),
	}, true
}

// AppendPacket frames a payload behind the sync pair: 'I', 'M', type,
// length, payload. Payloads longer than 255 bytes cannot be framed.
func AppendPacket(dst []byte, pktType byte, payload []byte) []byte {
	if len(payload) > 255 {
		payload = payload[:255]
	}
	dst = append(dst, syncByte0, syncByte1, pktType, byte(len(payload)))
	return append(dst, payload...)
}

// AckPayload builds the 3-byte ACK payload the companion sends:
// command echo, subcommand, success flag.
func AckPayload(cmd, sub byte, ok bool) []byte {
	flag := byte(0)
	if ok {
		flag = 1
	}
	return []byte{cmd, sub, flag}
}
