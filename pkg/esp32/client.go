package esp32

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"helical-go-migration/pkg/log"
	"helical-go-migration/pkg/rigerr"
	"helical-go-migration/pkg/serial"
)

var logger = log.GetLogger("esp32")

// ErrNoSample reports that the companion acknowledged an IMU request
// but had no data to serve. It is a normal outcome while the stage is
// spinning up, not a transport fault.
var ErrNoSample = errors.New("esp32: no sample available")

// Client owns one companion link and serializes transactions on it.
// Every command-and-response exchange holds the client lock from flush
// to final byte, so concurrent callers cannot interleave responses.
type Client struct {
	mu   sync.Mutex
	link Link

	lastSample    ImuSample
	hasLastSample bool
}

// NewClient wraps an open link.
func NewClient(link Link) *Client {
	return &Client{link: link}
}

// Close closes the underlying link.
func (c *Client) Close() error {
	return c.link.Close()
}

// writeCommand flushes stale input and sends one 6-byte frame.
// Callers must hold c.mu.
func (c *Client) writeCommand(cmd, sub, value byte) error {
	if err := c.link.FlushInput(); err != nil {
		return rigerr.IO("esp32", err)
	}
	frame := []byte{cmd, sub, value, 0, 0, 0}
	n, err := c.link.Write(frame)
	if err != nil {
		return rigerr.IO("esp32", err)
	}
	if n != len(frame) {
		return rigerr.IO("esp32", fmt.Errorf("short write: %d of %d bytes", n, len(frame)))
	}
	return nil
}

// readFull fills buf before the deadline. A link read that yields
// nothing is retried until the deadline passes; only transport faults
// surface early.
func (c *Client) readFull(op string, buf []byte, deadline time.Time) error {
	off := 0
	for off < len(buf) {
		n, err := c.link.Read(buf[off:])
		if n > 0 {
			off += n
			continue
		}
		if err != nil && !errors.Is(err, serial.ErrTimeout) {
			return rigerr.IO("esp32", err)
		}
		if time.Now().After(deadline) {
			return rigerr.ProtocolTimeout(op, nil)
		}
		if err == nil {
			time.Sleep(quietLinkPause)
		}
	}
	return nil
}

// readPacket scans the stream for the next framed packet, discarding
// noise until the sync pair lines up. A stray 'I' inside noise does
// not cost more than itself: the scanner treats every 'I' as a fresh
// sync candidate, so a real packet directly behind garbage still
// parses.
func (c *Client) readPacket(deadline time.Time) (byte, []byte, error) {
	var b [1]byte
	sawSync := false
	for {
		if err := c.readFull("packet sync", b[:], deadline); err != nil {
			return 0, nil, err
		}
		switch {
		case sawSync && b[0] == syncByte1:
			var hdr [2]byte
			if err := c.readFull("packet header", hdr[:], deadline); err != nil {
				return 0, nil, err
			}
			length := int(hdr[1])
			payload := make([]byte, length)
			if length > 0 {
				if err := c.readFull("packet payload", payload, deadline); err != nil {
					return 0, nil, err
				}
			}
			return hdr[0], payload, nil
		case b[0] == syncByte0:
			sawSync = true
		default:
			sawSync = false
		}
	}
}

// cacheSample remembers the newest parsed sample so a repeated ACK can
// serve it without a fresh SAMPLE packet.
func (c *Client) cacheSample(s ImuSample) {
	c.lastSample = s
	c.hasLastSample = true
}

// LatestSample returns the most recently parsed sample, if any.
func (c *Client) LatestSample() (ImuSample, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSample, c.hasLastSample
}

// waitAck reads packets until an ACK for the given subcommand arrives
// or the deadline passes. Samples seen along the way are cached,
// status text is logged; neither ends the wait.
func (c *Client) waitAck(sub byte, deadline time.Time) (bool, error) {
	for {
		pktType, payload, err := c.readPacket(deadline)
		if err != nil {
			return false, err
		}
		switch pktType {
		case PacketAck:
			if len(payload) >= 3 && payload[1] == sub {
				return payload[2] != 0, nil
			}
		case PacketSample:
			if s, ok := parseSamplePayload(payload); ok {
				c.cacheSample(s)
			}
		case PacketStatus:
			logger.Info("companion: %s", string(payload))
		}
	}
}

// EncoderPosition reads one quadrature counter (index 0..4) as a raw
// little-endian int32 echo.
func (c *Client) EncoderPosition(index int) (int32, error) {
	if index < 0 || index >= EncoderCount {
		return 0, rigerr.InvalidArgument("encoder index", index)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.writeCommand(CmdEncoderPosition, byte(index), 0); err != nil {
		return 0, err
	}
	var buf [4]byte
	if err := c.readFull("encoder position", buf[:], time.Now().Add(DefaultAckTimeout)); err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(buf[:])), nil
}

// AllEncoderPositions reads all five counters in one exchange: a
// single raw 20-byte echo of five little-endian int32s.
func (c *Client) AllEncoderPositions() ([EncoderCount]int32, error) {
	var out [EncoderCount]int32

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.writeCommand(CmdEncoderPosition, EncoderAll, 0); err != nil {
		return out, err
	}
	var buf [4 * EncoderCount]byte
	if err := c.readFull("encoder positions", buf[:], time.Now().Add(DefaultAckTimeout)); err != nil {
		return out, err
	}
	for i := range out {
		out[i] = int32(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return out, nil
}

// SetDCPWM sets the DC driver's raw PWM magnitude. Bench diagnostics
// only; in normal operation the companion's velocity loop owns the
// actuator.
func (c *Client) SetDCPWM(pwm byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeCommand(CmdDCDriver, DCSubPWM, pwm)
}

// SetDCDirection sets the DC driver direction pin.
func (c *Client) SetDCDirection(forward bool) error {
	value := byte(0)
	if forward {
		value = 1
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeCommand(CmdDCDriver, DCSubDir, value)
}

// SetThetaVelocity commands the companion's velocity loop in signed
// pulses per second. The frame carries the velocity as a little-endian
// int32 across bytes 2..5. Fire and forget: the loop applies it on its
// next tick.
func (c *Client) SetThetaVelocity(pps int32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.link.FlushInput(); err != nil {
		return rigerr.IO("esp32", err)
	}
	frame := make([]byte, FrameSize)
	frame[0] = CmdThetaVel
	frame[1] = ThetaVelSet
	binary.LittleEndian.PutUint32(frame[2:], uint32(pps))
	n, err := c.link.Write(frame)
	if err != nil {
		return rigerr.IO("esp32", err)
	}
	if n != len(frame) {
		return rigerr.IO("esp32", fmt.Errorf("short write: %d of %d bytes", n, len(frame)))
	}
	return nil
}

// StartThetaZero kicks off the beam-break zeroing sequence.
func (c *Client) StartThetaZero() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeCommand(CmdThetaZero, ThetaZeroStart, 0)
}

// ThetaZeroed asks whether the zeroing sequence has completed. A quiet
// link inside the status window means "not yet", not an error.
func (c *Client) ThetaZeroed() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.writeCommand(CmdThetaZero, ThetaZeroStatus, 0); err != nil {
		return false, err
	}
	var status [1]byte
	err := c.readFull("theta zero status", status[:], time.Now().Add(DefaultAckTimeout))
	if err != nil {
		if rigerr.IsTimeout(err) {
			return false, nil
		}
		return false, err
	}
	return status[0] != 0, nil
}

// ThetaZeroMeasurement reads the pulse count captured at the second
// beam-break edge.
func (c *Client) ThetaZeroMeasurement() (int32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.writeCommand(CmdThetaZero, ThetaZeroRead, 0); err != nil {
		return 0, err
	}
	var buf [4]byte
	if err := c.readFull("theta zero measurement", buf[:], time.Now().Add(DefaultAckTimeout)); err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(buf[:])), nil
}

// WaitThetaZeroComplete blocks until the companion announces zeroing
// completion with a nonzero raw byte, or the timeout passes. Zero
// bytes on the link are discarded; only a nonzero byte completes the
// wait.
func (c *Client) WaitThetaZeroComplete(timeout time.Duration) error {
	if timeout == 0 {
		timeout = DefaultThetaZeroTimeout
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	deadline := time.Now().Add(timeout)
	var b [1]byte
	for {
		n, err := c.link.Read(b[:])
		if err != nil && !errors.Is(err, serial.ErrTimeout) {
			return rigerr.IO("esp32", err)
		}
		if n == 1 && b[0] != 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return rigerr.ProtocolTimeout("theta zero completion", nil)
		}
		if n == 0 && err == nil {
			time.Sleep(thetaZeroCompletionPoll)
		}
	}
}

// GetImuSample requests one inertial sample. The exchange accepts
// packets in any order: a SAMPLE followed by its ACK is the normal
// path, a bare successful ACK re-serves the cached sample, and an ACK
// with a zero flag means the companion has no data yet (ErrNoSample).
// Status packets are logged and skipped.
func (c *Client) GetImuSample(timeout time.Duration) (ImuSample, error) {
	if timeout == 0 {
		timeout = DefaultAckTimeout
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.writeCommand(CmdIMU, IMUSubGetSample, 0); err != nil {
		return ImuSample{}, err
	}

	deadline := time.Now().Add(timeout)
	for {
		pktType, payload, err := c.readPacket(deadline)
		if err != nil {
			return ImuSample{}, err
		}

		switch pktType {
		case PacketSample:
			sample, ok := parseSamplePayload(payload)
			if !ok {
				return ImuSample{}, rigerr.IO("esp32",
					fmt.Errorf("sample payload %d bytes, want %d", len(payload), SamplePayloadSize))
			}
			c.cacheSample(sample)
			acked, err := c.waitAck(IMUSubGetSample, deadline)
			if err != nil {
				return ImuSample{}, err
			}
			if !acked {
				return ImuSample{}, ErrNoSample
			}
			return sample, nil

		case PacketAck:
			if len(payload) >= 3 && payload[1] == IMUSubGetSample {
				if payload[2] == 0 {
					return ImuSample{}, ErrNoSample
				}
				if c.hasLastSample {
					return c.lastSample, nil
				}
				// Acked with nothing cached: the sample packet is
				// still in flight, keep reading.
			}

		case PacketStatus:
			logger.Info("companion: %s", string(payload))
		}
	}
}

// RequestImuCalibration starts the companion's IMU calibration and
// waits for the acknowledgment.
func (c *Client) RequestImuCalibration(timeout time.Duration) error {
	if timeout == 0 {
		timeout = DefaultCalibrationTimeout
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.writeCommand(CmdIMU, IMUSubStartCalib, 0); err != nil {
		return err
	}
	acked, err := c.waitAck(IMUSubStartCalib, time.Now().Add(timeout))
	if err != nil {
		return err
	}
	if !acked {
		return rigerr.Command("imu calibration refused by companion")
	}
	return nil
}

// StartImuStream asks the companion to push SAMPLE packets
// continuously. Pair with NextStreamSample and StopImuStream.
func (c *Client) StartImuStream() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeCommand(CmdIMU, IMUSubStartStream, 0)
}

// StopImuStream ends a streaming session.
func (c *Client) StopImuStream() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeCommand(CmdIMU, IMUSubStopStream, 0)
}

// NextStreamSample reads packets until the next SAMPLE arrives.
// Non-sample packets are handled the usual way and skipped.
func (c *Client) NextStreamSample(timeout time.Duration) (ImuSample, error) {
	if timeout == 0 {
		timeout = DefaultAckTimeout
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	deadline := time.Now().Add(timeout)
	for {
		pktType, payload, err := c.readPacket(deadline)
		if err != nil {
			return ImuSample{}, err
		}
		switch pktType {
		case PacketSample:
			if sample, ok := parseSamplePayload(payload); ok {
				c.cacheSample(sample)
				return sample, nil
			}
		case PacketStatus:
			logger.Info("companion: %s", string(payload))
		}
	}
}
