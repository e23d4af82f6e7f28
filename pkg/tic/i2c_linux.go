//go:build linux

package tic

import (
	"fmt"
	"runtime"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Constants from linux/i2c.h and linux/i2c-dev.h.
const (
	i2cRdwr = 0x0707
	i2cMRd  = 0x0001
)

type i2cMsg struct {
	addr  uint16
	flags uint16
	len   uint16
	buf   uintptr
}

type i2cRdwrIoctlData struct {
	msgs  uintptr
	nmsgs uint32
}

// I2CConn is a Conn bound to one device address on a Linux i2c-dev
// character device. Each driver handle holds its own descriptor so a
// stuck transaction on one driver cannot corrupt another's state.
type I2CConn struct {
	mu     sync.Mutex
	fd     int
	addr   uint16
	device string
	closed bool
}

// OpenI2C opens device (e.g. /dev/i2c-1) and binds the connection to the
// given 7-bit address.
func OpenI2C(device string, addr uint16) (*I2CConn, error) {
	if device == "" {
		return nil, fmt.Errorf("tic: bus device path required")
	}
	if addr > 0x7F {
		return nil, fmt.Errorf("tic: address 0x%02X outside 7-bit range", addr)
	}
	fd, err := unix.Open(device, unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("tic: open %s: %w", device, err)
	}
	return &I2CConn{fd: fd, addr: addr, device: device}, nil
}

// Transact implements Conn using a combined I2C_RDWR transfer so the
// selector write and the data read share one bus transaction.
func (c *I2CConn) Transact(w, r []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrNotConnected
	}

	msgs := make([]i2cMsg, 0, 2)
	if len(w) > 0 {
		msgs = append(msgs, i2cMsg{
			addr: c.addr,
			len:  uint16(len(w)),
			buf:  uintptr(unsafe.Pointer(&w[0])),
		})
	}
	if r != nil {
		msgs = append(msgs, i2cMsg{
			addr:  c.addr,
			flags: i2cMRd,
			len:   uint16(len(r)),
			buf:   uintptr(unsafe.Pointer(&r[0])),
		})
	}
	if len(msgs) == 0 {
		return nil
	}

	data := i2cRdwrIoctlData{
		msgs:  uintptr(unsafe.Pointer(&msgs[0])),
		nmsgs: uint32(len(msgs)),
	}

	n, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(c.fd), i2cRdwr,
		uintptr(unsafe.Pointer(&data)))
	runtime.KeepAlive(w)
	runtime.KeepAlive(r)
	runtime.KeepAlive(msgs)
	if errno != 0 {
		return fmt.Errorf("tic: transfer addr 0x%02X on %s: %w", c.addr, c.device, errno)
	}
	if int(n) != len(msgs) {
		return fmt.Errorf("%w: %d of %d messages at addr 0x%02X", ErrIncomplete, n, len(msgs), c.addr)
	}
	return nil
}

// Close releases the bus descriptor.
func (c *I2CConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return unix.Close(c.fd)
}

// Address returns the bound 7-bit device address.
func (c *I2CConn) Address() uint16 {
	return c.addr
}
