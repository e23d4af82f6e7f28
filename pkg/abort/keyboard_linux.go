//go:build linux

package abort

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// Keys that raise an abort when pressed on the controller console.
// Space matches muscle memory from the bench scripts; q is for
// operators on keyboards with flaky space bars.
const (
	keyAbortSpace = ' '
	keyAbortQuit  = 'q'
)

// KeyListener watches the controlling terminal for abort keypresses
// while a job runs. It switches stdin out of canonical mode so a single
// keypress is seen immediately, and restores the original settings on
// Close.
type KeyListener struct {
	ctrl *Controller
	fd   int
	old  *unix.Termios

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// StartKeyListener puts stdin into character mode and starts the watch
// goroutine. It fails when stdin is not a terminal (piped jobs run
// without a console listener; M112 and signals still work there).
func StartKeyListener(ctrl *Controller) (*KeyListener, error) {
	fd := int(os.Stdin.Fd())

	old, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return nil, fmt.Errorf("abort: stdin is not a terminal: %w", err)
	}

	raw := *old
	// Character-at-a-time, no echo. ISIG stays on so Ctrl+C still
	// reaches the signal handler.
	raw.Lflag &^= unix.ICANON | unix.ECHO
	raw.Cc[unix.VMIN] = 0
	raw.Cc[unix.VTIME] = 1 // 100ms read timeout keeps Close responsive

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, &raw); err != nil {
		return nil, fmt.Errorf("abort: set termios: %w", err)
	}

	l := &KeyListener{
		ctrl: ctrl,
		fd:   fd,
		old:  old,
		done: make(chan struct{}),
	}
	go l.watch()
	return l, nil
}

func (l *KeyListener) watch() {
	defer close(l.done)

	buf := make([]byte, 1)
	for {
		l.mu.Lock()
		closed := l.closed
		l.mu.Unlock()
		if closed {
			return
		}

		n, err := unix.Read(l.fd, buf)
		if err != nil {
			if err == unix.EINTR || err == unix.EAGAIN {
				continue
			}
			return
		}
		if n == 0 {
			continue // VTIME expired, poll the closed flag again
		}
		switch buf[0] {
		case keyAbortSpace, keyAbortQuit, 'Q':
			l.ctrl.Raise("operator keypress")
		case '\n', '\r':
			l.ctrl.PressEnter()
		}
	}
}

// Close stops the watch goroutine and restores the terminal settings.
// Safe to call more than once.
func (l *KeyListener) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	<-l.done
	if err := unix.IoctlSetTermios(l.fd, unix.TCSETS, l.old); err != nil {
		return fmt.Errorf("abort: restore termios: %w", err)
	}
	return nil
}
