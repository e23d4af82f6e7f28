package peripheral

import (
	"encoding/binary"
	"time"

	"helical-go-migration/pkg/log"
)

var dlpLogger = log.GetLogger("dlp")

// Default USB identity of the DLPC900-class projector controller.
const (
	ProjectorVendorID  = 0x0451
	ProjectorProductID = 0xC900
)

// Report direction flags.
const (
	reportWrite = 0x40
	reportRead  = 0xC0
)

// Controller command words, little endian in the report.
const (
	cmdHardwareStatus  = 0x1A0A
	cmdMainStatus      = 0x1A0C
	cmdDisplayMode     = 0x1A1B
	cmdPatternControl  = 0x1A24
	cmdPatternConfig   = 0x1A31
	cmdPatternLUTEntry = 0x1A34
	cmdClockSelect     = 0x1A03
	cmdVideoReceiver   = 0x0267
)

// Display modes.
const (
	displayModeVideo        = 0x00
	displayModeVideoPattern = 0x02
)

// Pattern sequencer control arguments.
const (
	patternStop  = 0x00
	patternStart = 0x02
)

// Video receiver power modes.
const (
	receiverPowerDown   = 0x00
	receiverDisplayPort = 0x01
)

const clockInternal = 0x02

// fullWhiteLUTEntry is the single pattern table entry the rig uses: one
// frame, all mirrors on for the whole exposure.
var fullWhiteLUTEntry = []byte{
	0x00, 0x00, 0xCE, 0x0F, 0x00, 0x7E, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00,
}

// fullWhitePatternConfig points the sequencer at that one-entry table.
var fullWhitePatternConfig = []byte{0x01, 0x00, 0x00, 0x00, 0x00, 0x00}

// Projector drives a DLPC900-class controller over HID. Every exchange
// is write-then-read: the controller acknowledges each report before it
// accepts the next one, and wants a settle delay on top of that.
type Projector struct {
	dev ReportDevice

	settle      time.Duration // after every command exchange
	lutSettle   time.Duration // extra after a pattern table write
	applySettle time.Duration // extra after the pattern configuration pair
	lockTimeout time.Duration
	lockPoll    time.Duration
}

// NewProjector wraps an open report channel to the projector controller.
func NewProjector(dev ReportDevice) *Projector {
	return &Projector{
		dev:         dev,
		settle:      200 * time.Millisecond,
		lutSettle:   300 * time.Millisecond,
		applySettle: time.Second,
		lockTimeout: 10 * time.Second,
		lockPoll:    100 * time.Millisecond,
	}
}

// Configure brings the controller from power-on to a running full-white
// pattern backed by the external video source. The order matters: the
// controller refuses pattern commands until the receiver has locked.
func (p *Projector) Configure() error {
	dlpLogger.Info("configuring projector")
	if err := p.setDisplayMode(displayModeVideo); err != nil {
		return err
	}
	if err := p.setVideoReceiver(receiverDisplayPort); err != nil {
		return err
	}
	if err := p.setClockSource(clockInternal); err != nil {
		return err
	}
	if err := p.waitForLock(); err != nil {
		return err
	}
	if err := p.setPatternControl(patternStop); err != nil {
		return err
	}
	if err := p.setDisplayMode(displayModeVideoPattern); err != nil {
		return err
	}
	if err := p.writeFullWhiteLUT(); err != nil {
		return err
	}
	if err := p.configurePattern(); err != nil {
		return err
	}
	if err := p.setPatternControl(patternStart); err != nil {
		return err
	}
	dlpLogger.Info("projector pattern running")
	return nil
}

// PowerDown powers the video receiver down. The pattern sequencer is
// left alone; it goes dark with its source.
func (p *Projector) PowerDown() error {
	dlpLogger.Info("projector power down")
	return p.setVideoReceiver(receiverPowerDown)
}

// MainStatus reads the controller main status byte.
func (p *Projector) MainStatus() (byte, error) {
	resp, err := p.send(reportRead, cmdMainStatus, nil)
	if err != nil {
		return 0, err
	}
	return resp[4], nil
}

// VideoLocked reports whether the controller has locked onto the video
// source signal, main status bit 3.
func (p *Projector) VideoLocked() (bool, error) {
	status, err := p.MainStatus()
	if err != nil {
		return false, err
	}
	return status&0x08 != 0, nil
}

// HardwareOK checks the hardware status register for the healthy value.
func (p *Projector) HardwareOK() (bool, error) {
	resp, err := p.send(reportRead, cmdHardwareStatus, nil)
	if err != nil {
		return false, err
	}
	return resp[4] == 0x11, nil
}

// Close releases the underlying report channel.
func (p *Projector) Close() error {
	return p.dev.Close()
}

func (p *Projector) setDisplayMode(mode byte) error {
	_, err := p.send(reportWrite, cmdDisplayMode, []byte{mode})
	return err
}

func (p *Projector) setVideoReceiver(mode byte) error {
	_, err := p.send(reportWrite, cmdVideoReceiver, []byte{mode})
	return err
}

func (p *Projector) setClockSource(source byte) error {
	_, err := p.send(reportWrite, cmdClockSelect, []byte{source})
	return err
}

func (p *Projector) setPatternControl(action byte) error {
	_, err := p.send(reportWrite, cmdPatternControl, []byte{action})
	return err
}

func (p *Projector) writeFullWhiteLUT() error {
	if _, err := p.send(reportWrite, cmdPatternLUTEntry, fullWhiteLUTEntry); err != nil {
		return err
	}
	time.Sleep(p.lutSettle)
	return nil
}

// configurePattern sends the table configuration twice; the controller
// latches it reliably only on the repeat.
func (p *Projector) configurePattern() error {
	for i := 0; i < 2; i++ {
		if _, err := p.send(reportWrite, cmdPatternConfig, fullWhitePatternConfig); err != nil {
			return err
		}
	}
	time.Sleep(p.applySettle)
	return nil
}

// waitForLock polls the main status until the receiver reports a locked
// video signal. A lock timeout is logged and tolerated; the rest of the
// configuration sequence still goes out.
func (p *Projector) waitForLock() error {
	deadline := time.Now().Add(p.lockTimeout)
	for {
		locked, err := p.VideoLocked()
		if err != nil {
			return err
		}
		if locked {
			dlpLogger.Info("video signal locked")
			return nil
		}
		if time.Now().After(deadline) {
			dlpLogger.Warn("video signal lock timed out after %s", p.lockTimeout)
			return nil
		}
		time.Sleep(p.lockPoll)
	}
}

func (p *Projector) send(direction byte, command uint16, data []byte) ([]byte, error) {
	buf := make([]byte, ReportSize)
	buf[1] = direction
	buf[2] = 0xFF
	buf[3] = byte(len(data)) + 2
	binary.LittleEndian.PutUint16(buf[5:7], command)
	copy(buf[7:], data)
	if err := p.dev.WriteReport(buf); err != nil {
		return nil, err
	}
	resp := make([]byte, ReportSize)
	if _, err := p.dev.ReadReport(resp); err != nil {
		return nil, err
	}
	time.Sleep(p.settle)
	return resp, nil
}
