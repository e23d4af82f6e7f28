//go:build darwin

package serial

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Darwin termios ioctl numbers.
const (
	ioctlGetTermios = unix.TIOCGETA
	ioctlSetTermios = unix.TIOCSETA
	ioctlTCFlush    = unix.TIOCFLUSH
)

// setSpeed programs the baud rate fields of a termios struct. The BSD
// speed fields carry the rate itself, so no constant lookup is needed.
func setSpeed(termios *unix.Termios, baud int) error {
	if baud <= 0 {
		return fmt.Errorf("serial: invalid baud rate %d", baud)
	}
	termios.Ispeed = uint64(baud)
	termios.Ospeed = uint64(baud)
	return nil
}
