package rotor

import (
	"encoding/binary"
	"time"

	"helical-go-migration/pkg/esp32"
)

// ThetaEncoder is the counter index wired to the rotating stage.
const ThetaEncoder = 2

// Device ties the counters, the velocity loop and the zeroing
// sequence together behind the wire protocol: 6-byte commands in,
// raw values or framed packets out. Not safe for concurrent use; the
// owner serializes command and tick events.
type Device struct {
	counters [esp32.EncoderCount]Counter
	loop     *VelocityLoop
	zero     *ZeroingSequence

	duty    uint8
	forward bool

	sampleSource func() esp32.ImuSample
	streaming    bool
}

// NewDevice returns an idle device: loop disabled, direction forward,
// all counters at zero.
func NewDevice() *Device {
	d := &Device{loop: NewVelocityLoop(), forward: true}
	d.zero = NewZeroingSequence(&d.counters[ThetaEncoder])
	return d
}

// Counter exposes channel i so a plant simulation can feed pulses in.
func (d *Device) Counter(i int) *Counter {
	return &d.counters[i]
}

// Duty is the PWM magnitude currently applied to the drive.
func (d *Device) Duty() uint8 {
	return d.duty
}

// ForwardDir is the state of the direction pin.
func (d *Device) ForwardDir() bool {
	return d.forward
}

// SetSampleSource installs the IMU sample generator. Without one,
// sample requests are acknowledged with the data-unavailable flag.
func (d *Device) SetSampleSource(fn func() esp32.ImuSample) {
	d.sampleSource = fn
}

// BeamBreak feeds one optical edge to the zeroing sequence.
func (d *Device) BeamBreak(now time.Time) {
	d.zero.Edge(now)
}

// Command handles one 6-byte host frame and returns the bytes to
// send back, nil when the command answers nothing.
func (d *Device) Command(frame []byte) []byte {
	if len(frame) != esp32.FrameSize {
		return nil
	}
	switch frame[0] {
	case esp32.CmdEncoderPosition:
		return d.encoderResponse(frame[1])
	case esp32.CmdDCDriver:
		d.loop.Disable()
		switch frame[1] {
		case esp32.DCSubPWM:
			d.duty = frame[2]
		case esp32.DCSubDir:
			d.forward = frame[2] != 0
		}
		return nil
	case esp32.CmdThetaVel:
		if frame[1] != esp32.ThetaVelSet {
			return nil
		}
		pps := int32(binary.LittleEndian.Uint32(frame[2:6]))
		d.loop.SetTarget(pps)
		if pps == 0 {
			d.duty = 0
		}
		// Lone acknowledge byte; the host flushes it away before
		// its next command.
		return []byte{1}
	case esp32.CmdThetaZero:
		return d.thetaZeroResponse(frame[1])
	case esp32.CmdIMU:
		return d.imuResponse(frame[1])
	}
	return nil
}

func (d *Device) encoderResponse(sub byte) []byte {
	if sub == esp32.EncoderAll {
		out := make([]byte, 0, 4*esp32.EncoderCount)
		for i := range d.counters {
			out = binary.LittleEndian.AppendUint32(out, uint32(d.counters[i].Position()))
		}
		return out
	}
	if int(sub) >= esp32.EncoderCount {
		return nil
	}
	return binary.LittleEndian.AppendUint32(nil, uint32(d.counters[sub].Position()))
}

func (d *Device) thetaZeroResponse(sub byte) []byte {
	switch sub {
	case esp32.ThetaZeroStart:
		d.loop.SetTarget(ZeroingVelocityPPS)
		d.zero.Start()
		return nil
	case esp32.ThetaZeroStatus:
		if d.zero.Measured() != 0 {
			return []byte{1}
		}
		return []byte{0}
	case esp32.ThetaZeroRead:
		return binary.LittleEndian.AppendUint32(nil, uint32(d.zero.Measured()))
	}
	return nil
}

func (d *Device) imuResponse(sub byte) []byte {
	switch sub {
	case esp32.IMUSubGetSample:
		if d.sampleSource == nil {
			return esp32.AppendPacket(nil, esp32.PacketAck, esp32.AckPayload(esp32.CmdIMU, sub, false))
		}
		out := esp32.AppendPacket(nil, esp32.PacketSample, esp32.MarshalSamplePayload(d.sampleSource()))
		return esp32.AppendPacket(out, esp32.PacketAck, esp32.AckPayload(esp32.CmdIMU, sub, true))
	case esp32.IMUSubStartStream:
		d.streaming = true
		return esp32.AppendPacket(nil, esp32.PacketAck, esp32.AckPayload(esp32.CmdIMU, sub, true))
	case esp32.IMUSubStopStream:
		d.streaming = false
		return esp32.AppendPacket(nil, esp32.PacketAck, esp32.AckPayload(esp32.CmdIMU, sub, true))
	case esp32.IMUSubStartCalib:
		ok := d.sampleSource != nil
		return esp32.AppendPacket(nil, esp32.PacketAck, esp32.AckPayload(esp32.CmdIMU, sub, ok))
	}
	return nil
}

// Tick advances one control interval: runs the velocity loop against
// the stage counter, checks the zeroing threshold, and returns any
// unsolicited bytes (the zeroing completion byte, stream samples).
func (d *Device) Tick() []byte {
	duty, forward := d.loop.Tick(d.counters[ThetaEncoder].Position())
	if d.loop.Enabled() {
		d.duty, d.forward = duty, forward
	}

	d.zero.Poll()

	var out []byte
	if d.zero.TakeCompleted() {
		d.loop.ResetState()
		out = append(out, 1)
	}
	if d.streaming && d.sampleSource != nil {
		out = esp32.AppendPacket(out, esp32.PacketSample, esp32.MarshalSamplePayload(d.sampleSource()))
	}
	return out
}
