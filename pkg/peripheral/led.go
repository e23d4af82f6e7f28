package peripheral

import (
	"encoding/binary"

	"helical-go-migration/pkg/log"
	"helical-go-migration/pkg/rigerr"
)

var ledLogger = log.GetLogger("led")

// Default USB identity of the LED driver board.
const (
	LEDVendorID  = 0x04D8
	LEDProductID = 0x003F
)

// DefaultLEDCurrent is the operating current Configure applies when the
// caller does not override it, in milliamps.
const DefaultLEDCurrent = 450

// MaxLEDCurrent bounds the current register. The driver board misbehaves
// above this, so the value is refused before it reaches the wire.
const MaxLEDCurrent = 30000

// Register addresses on the LED driver board.
const (
	ledRegControl     = 0x1A
	ledRegStatus      = 0x10
	ledRegTemperature = 0x1C
)

// LED drives the UV LED controller board. Writes carry a report header,
// a data length, a register address and the payload; queries write the
// same shape with the read flag set and then block on the answer report.
type LED struct {
	dev ReportDevice
}

// NewLED wraps an open report channel to the LED driver board.
func NewLED(dev ReportDevice) *LED {
	return &LED{dev: dev}
}

// Configure turns the LED on at full brightness and applies the
// operating current.
func (l *LED) Configure(milliamps int) error {
	if err := l.Start(); err != nil {
		return err
	}
	if err := l.SetCurrent(milliamps); err != nil {
		return err
	}
	ledLogger.Info("led configured at %d mA", milliamps)
	return nil
}

// Start turns the LED fully on.
func (l *LED) Start() error {
	ledLogger.Info("led on")
	return l.writeRegister(ledRegControl, 0xFF)
}

// Stop turns the LED off.
func (l *LED) Stop() error {
	ledLogger.Info("led off")
	return l.writeRegister(ledRegControl, 0x00)
}

// SetPWM sets the LED brightness duty, 0 to 255.
func (l *LED) SetPWM(value int) error {
	if value < 0 || value > 255 {
		return rigerr.Range("led pwm", float64(value), 0, 255)
	}
	ledLogger.Info("led pwm %d", value)
	return l.writeRegister(ledRegControl, byte(value))
}

// SetCurrent sets the LED operating current in milliamps. The two
// payload bytes are big endian, unlike everything else on the rig.
func (l *LED) SetCurrent(milliamps int) error {
	if milliamps < 0 || milliamps > MaxLEDCurrent {
		return rigerr.Range("led current", float64(milliamps), 0, MaxLEDCurrent)
	}
	var data [2]byte
	binary.BigEndian.PutUint16(data[:], uint16(milliamps))
	ledLogger.Info("led current %d mA", milliamps)
	return l.writeRegister(ledRegControl, data[0], data[1])
}

// Status reads the board status register and returns the raw byte.
func (l *LED) Status() (byte, error) {
	resp, err := l.readRegister(ledRegStatus)
	if err != nil {
		return 0, err
	}
	return resp[6], nil
}

// Temperatures reads the three board temperatures in degrees Celsius:
// the LED driver board, the DMD, and the LED itself. The raw values are
// big-endian tenths of a degree.
func (l *LED) Temperatures() (driver, dmd, led float64, err error) {
	resp, err := l.readRegister(ledRegTemperature)
	if err != nil {
		return 0, 0, 0, err
	}
	driver = float64(binary.BigEndian.Uint16(resp[6:8])) / 10.0
	dmd = float64(binary.BigEndian.Uint16(resp[8:10])) / 10.0
	led = float64(binary.BigEndian.Uint16(resp[10:12])) / 10.0
	return driver, dmd, led, nil
}

// Close releases the underlying report channel.
func (l *LED) Close() error {
	return l.dev.Close()
}

func (l *LED) writeRegister(reg byte, data ...byte) error {
	buf := make([]byte, ReportSize)
	buf[2] = 0x01
	buf[3] = byte(len(data)) + 2
	buf[5] = byte(len(data))
	buf[6] = reg
	copy(buf[7:], data)
	return l.dev.WriteReport(buf)
}

func (l *LED) readRegister(reg byte) ([]byte, error) {
	buf := make([]byte, ReportSize)
	buf[1] = 0xC0
	buf[2] = 0x11
	buf[3] = 0x03
	buf[5] = 0x01
	buf[6] = reg
	if err := l.dev.WriteReport(buf); err != nil {
		return nil, err
	}
	resp := make([]byte, ReportSize)
	if _, err := l.dev.ReadReport(resp); err != nil {
		return nil, err
	}
	return resp, nil
}
