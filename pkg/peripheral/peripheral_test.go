package peripheral

import (
	"testing"
)

// fakeReportDevice records written reports and answers reads either from
// a queue or by calling respond with the most recent write.
type fakeReportDevice struct {
	writes  [][]byte
	replies [][]byte
	respond func(write []byte) []byte
	closed  bool
}

func (f *fakeReportDevice) WriteReport(buf []byte) error {
	cp := make([]byte, len(buf))
	copy(cp, buf)
	f.writes = append(f.writes, cp)
	return nil
}

func (f *fakeReportDevice) ReadReport(buf []byte) (int, error) {
	if len(f.replies) > 0 {
		r := f.replies[0]
		f.replies = f.replies[1:]
		return copy(buf, r), nil
	}
	if f.respond != nil && len(f.writes) > 0 {
		return copy(buf, f.respond(f.writes[len(f.writes)-1])), nil
	}
	return copy(buf, make([]byte, ReportSize)), nil
}

func (f *fakeReportDevice) Close() error {
	f.closed = true
	return nil
}

func (f *fakeReportDevice) queueReply(at int, data ...byte) {
	r := make([]byte, ReportSize)
	copy(r[at:], data)
	f.replies = append(f.replies, r)
}

func TestMatchHIDID(t *testing.T) {
	uevent := "DRIVER=hid-generic\nHID_ID=0003:00000451:0000C900\nHID_NAME=DLPC900\n"

	if !matchHIDID(uevent, 0x0451, 0xC900) {
		t.Fatal("expected match for 0451:C900")
	}
	if matchHIDID(uevent, 0x04D8, 0x003F) {
		t.Fatal("unexpected match for wrong ids")
	}
	if matchHIDID("DRIVER=hid-generic\n", 0x0451, 0xC900) {
		t.Fatal("matched uevent without HID_ID line")
	}
	if matchHIDID("HID_ID=0003:451\n", 0x0451, 0xC900) {
		t.Fatal("matched malformed HID_ID line")
	}
}
