//go:build linux

package serial

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Linux termios ioctl numbers.
const (
	ioctlGetTermios = unix.TCGETS
	ioctlSetTermios = unix.TCSETS
	ioctlTCFlush    = unix.TCFLSH
)

var standardSpeeds = map[int]uint32{
	1200:    unix.B1200,
	2400:    unix.B2400,
	4800:    unix.B4800,
	9600:    unix.B9600,
	19200:   unix.B19200,
	38400:   unix.B38400,
	57600:   unix.B57600,
	115200:  unix.B115200,
	230400:  unix.B230400,
	460800:  unix.B460800,
	921600:  unix.B921600,
	1000000: unix.B1000000,
}

// setSpeed programs the baud rate fields of a termios struct. Rates
// without a Bxxx constant go through BOTHER with the raw rate in the
// speed fields.
func setSpeed(termios *unix.Termios, baud int) error {
	if baud <= 0 {
		return fmt.Errorf("serial: invalid baud rate %d", baud)
	}
	termios.Cflag &^= unix.CBAUD
	if speed, ok := standardSpeeds[baud]; ok {
		termios.Cflag |= speed
		termios.Ispeed = speed
		termios.Ospeed = speed
		return nil
	}
	termios.Cflag |= unix.BOTHER
	termios.Ispeed = uint32(baud)
	termios.Ospeed = uint32(baud)
	return nil
}
