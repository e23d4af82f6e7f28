// Package peripheral drives the rig's non-motion devices: the UV LED
// driver board and the projector controller, both USB HID devices spoken
// to in fixed 65-byte reports, plus the external video player window.
// Hardware sits behind the ReportDevice and Player interfaces so the
// interpreter and the tests never touch a /dev node directly.
package peripheral

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"helical-go-migration/pkg/rigerr"
)

// ReportSize is the report length for every HID device on the rig: one
// report number byte plus 64 payload bytes.
const ReportSize = 65

// ReportDevice is a raw HID report channel.
type ReportDevice interface {
	// WriteReport sends one report. buf[0] carries the report number,
	// zero for the rig's devices.
	WriteReport(buf []byte) error

	// ReadReport blocks until the device produces a report and copies it
	// into buf.
	ReadReport(buf []byte) (int, error)

	Close() error
}

const hidrawSysfs = "/sys/class/hidraw"

type hidrawDevice struct {
	path string
	f    *os.File
}

// OpenHIDRaw opens a hidraw node as a ReportDevice.
func OpenHIDRaw(path string) (ReportDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, rigerr.IO("hidraw", err)
	}
	return &hidrawDevice{path: path, f: f}, nil
}

// OpenHID locates the hidraw node for the given USB vendor and product
// IDs and opens it. The kernel lists every HID interface under
// /sys/class/hidraw with a uevent file naming its parent.
func OpenHID(vendor, product uint16) (ReportDevice, error) {
	nodes, err := filepath.Glob(hidrawSysfs + "/hidraw*")
	if err != nil {
		return nil, rigerr.IO("hidraw", err)
	}
	for _, node := range nodes {
		raw, err := os.ReadFile(filepath.Join(node, "device", "uevent"))
		if err != nil {
			continue
		}
		if !matchHIDID(string(raw), vendor, product) {
			continue
		}
		return OpenHIDRaw(filepath.Join("/dev", filepath.Base(node)))
	}
	return nil, rigerr.NotConnected(fmt.Sprintf("hid %04x:%04x", vendor, product))
}

// matchHIDID parses the HID_ID=bus:vendor:product line the kernel writes
// into a hidraw uevent file.
func matchHIDID(uevent string, vendor, product uint16) bool {
	for _, line := range strings.Split(uevent, "\n") {
		if !strings.HasPrefix(line, "HID_ID=") {
			continue
		}
		parts := strings.Split(strings.TrimPrefix(line, "HID_ID="), ":")
		if len(parts) != 3 {
			return false
		}
		v, errV := strconv.ParseUint(parts[1], 16, 32)
		p, errP := strconv.ParseUint(parts[2], 16, 32)
		return errV == nil && errP == nil && uint16(v) == vendor && uint16(p) == product
	}
	return false
}

func (d *hidrawDevice) WriteReport(buf []byte) error {
	if _, err := d.f.Write(buf); err != nil {
		return rigerr.IO(d.path, err)
	}
	return nil
}

func (d *hidrawDevice) ReadReport(buf []byte) (int, error) {
	n, err := d.f.Read(buf)
	if err != nil {
		return 0, rigerr.IO(d.path, err)
	}
	return n, nil
}

func (d *hidrawDevice) Close() error {
	return d.f.Close()
}
