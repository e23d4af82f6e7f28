// Package serial provides the byte link to the rig's companion
// controller.
//
// The companion sits on a UART at 115200 8N1 with no flow control. For
// bench work without hardware the same Port can be opened against a
// TCP endpoint (the mock companion listens on one); both paths expose
// the identical poll-based read behavior, so the protocol layer above
// cannot tell them apart.
package serial

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// Common errors
var (
	ErrTimeout = errors.New("serial: operation timed out")
	ErrClosed  = errors.New("serial: port closed")
)

// Config holds link configuration.
type Config struct {
	// Device path (e.g. /dev/ttyTHS1) or, for OpenTCP, host:port.
	Device string

	// Baud rate (default: 115200).
	BaudRate int

	// Connection timeout for TCP endpoints (default: 10 seconds).
	ConnectTimeout time.Duration

	// ReadTimeout bounds a single Read call. It is the polling
	// granularity of the protocol layer's deadline loops, not a
	// protocol deadline itself (default: 100ms).
	ReadTimeout time.Duration
}

// DefaultConfig returns a Config with the rig's link defaults.
func DefaultConfig() Config {
	return Config{
		BaudRate:       115200,
		ConnectTimeout: 10 * time.Second,
		ReadTimeout:    100 * time.Millisecond,
	}
}

// Port is one open link. Reads and writes may run concurrently with
// each other, but only one reader and one writer at a time.
type Port struct {
	mu         sync.Mutex
	fd         int
	device     string
	config     Config
	closed     bool
	oldTermios *unix.Termios
	isSocket   bool
}

// Open opens a serial device and configures it raw 8N1.
func Open(cfg Config) (*Port, error) {
	if cfg.Device == "" {
		return nil, errors.New("serial: device path required")
	}
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 115200
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 100 * time.Millisecond
	}

	fd, err := unix.Open(cfg.Device, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("serial: open %s: %w", cfg.Device, err)
	}

	oldTermios, err := unix.IoctlGetTermios(fd, ioctlGetTermios)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("serial: get termios: %w", err)
	}

	termios := *oldTermios

	// Raw input, no software flow control.
	termios.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON | unix.IXOFF | unix.IXANY

	// No output processing.
	termios.Oflag &^= unix.OPOST

	// 8N1, receiver on, modem lines ignored.
	termios.Cflag &^= unix.CSIZE | unix.PARENB | unix.PARODD | unix.CSTOPB | unix.CRTSCTS
	termios.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL

	// No canonical mode, echo, or signal characters.
	termios.Lflag &^= unix.ECHO | unix.ECHOE | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN

	if err := setSpeed(&termios, cfg.BaudRate); err != nil {
		unix.Close(fd)
		return nil, err
	}

	termios.Cc[unix.VMIN] = 0
	termios.Cc[unix.VTIME] = 1 // 100ms per-character timeout

	if err := unix.IoctlSetTermios(fd, ioctlSetTermios, &termios); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("serial: set termios: %w", err)
	}

	if err := unix.SetNonblock(fd, false); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("serial: set blocking: %w", err)
	}

	// Drop whatever accumulated while the companion was unattended.
	_ = unix.IoctlSetInt(fd, ioctlTCFlush, unix.TCIOFLUSH)

	return &Port{
		fd:         fd,
		device:     cfg.Device,
		config:     cfg,
		oldTermios: oldTermios,
	}, nil
}

// OpenTCP connects to a TCP endpoint that speaks the companion
// protocol, typically the mock companion on a development machine.
func OpenTCP(cfg Config) (*Port, error) {
	if cfg.Device == "" {
		return nil, errors.New("serial: TCP address required")
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 100 * time.Millisecond
	}

	addr, err := resolveAddr(cfg.Device)
	if err != nil {
		return nil, fmt.Errorf("serial: resolve address %s: %w", cfg.Device, err)
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, fmt.Errorf("serial: create TCP socket: %w", err)
	}

	deadline := time.Now().Add(cfg.ConnectTimeout)
	var connectErr error
	for time.Now().Before(deadline) {
		connectErr = unix.Connect(fd, addr)
		if connectErr == nil {
			break
		}
		if errors.Is(connectErr, unix.ECONNREFUSED) {
			time.Sleep(100 * time.Millisecond)
			continue
		}
		unix.Close(fd)
		return nil, fmt.Errorf("serial: connect to %s: %w", cfg.Device, connectErr)
	}
	if connectErr != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("serial: connect timeout to %s: %w", cfg.Device, connectErr)
	}

	return &Port{
		fd:       fd,
		device:   cfg.Device,
		config:   cfg,
		isSocket: true,
	}, nil
}

// resolveAddr turns "host:port" into a connectable IPv4 socket
// address. An empty host means loopback.
func resolveAddr(device string) (*unix.SockaddrInet4, error) {
	addr, err := net.ResolveTCPAddr("tcp4", device)
	if err != nil {
		return nil, err
	}
	if addr.Port == 0 {
		return nil, errors.New("port required")
	}
	sa := &unix.SockaddrInet4{Port: addr.Port}
	if ip := addr.IP.To4(); ip != nil {
		copy(sa.Addr[:], ip)
	} else {
		sa.Addr = [4]byte{127, 0, 0, 1}
	}
	return sa, nil
}

// Read reads up to len(buf) bytes. It waits at most the configured
// ReadTimeout for data and returns ErrTimeout if none arrived; callers
// running a protocol deadline treat that as "poll again".
func (p *Port) Read(buf []byte) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, ErrClosed
	}
	fd := p.fd
	timeout := p.config.ReadTimeout
	p.mu.Unlock()

	pfd := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	n, err := unix.Poll(pfd, int(timeout.Milliseconds()))
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return 0, nil // interrupted, caller retries
		}
		return 0, fmt.Errorf("serial: poll: %w", err)
	}
	if n == 0 {
		return 0, ErrTimeout
	}
	if pfd[0].Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
		return 0, io.EOF
	}

	n, err = unix.Read(fd, buf)
	if err != nil {
		return 0, fmt.Errorf("serial: read: %w", err)
	}
	if n == 0 && p.isSocket {
		return 0, io.EOF // orderly TCP shutdown
	}
	return n, nil
}

// Write writes buf to the link.
func (p *Port) Write(buf []byte) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, ErrClosed
	}
	fd := p.fd
	p.mu.Unlock()

	n, err := unix.Write(fd, buf)
	if err != nil {
		return 0, fmt.Errorf("serial: write: %w", err)
	}
	return n, nil
}

// FlushInput discards unread input. The protocol layer calls this
// before every command so a response can never pair with a stale
// request. On TCP endpoints buffered data is drained instead.
func (p *Port) FlushInput() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	fd := p.fd
	isSocket := p.isSocket
	p.mu.Unlock()

	if !isSocket {
		return unix.IoctlSetInt(fd, ioctlTCFlush, unix.TCIFLUSH)
	}

	// Sockets have no flush ioctl; eat whatever is already queued.
	buf := make([]byte, 256)
	for {
		pfd := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		n, err := unix.Poll(pfd, 0)
		if err != nil || n == 0 {
			return nil
		}
		if _, err := unix.Read(fd, buf); err != nil {
			return nil
		}
	}
}

// Close closes the link, restoring the original terminal settings on
// real serial devices.
func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	if p.oldTermios != nil && !p.isSocket {
		_ = unix.IoctlSetTermios(p.fd, ioctlSetTermios, p.oldTermios)
	}

	return unix.Close(p.fd)
}

// Device returns the device path or address.
func (p *Port) Device() string {
	return p.device
}

// SetReadTimeout adjusts the per-Read poll bound.
func (p *Port) SetReadTimeout(d time.Duration) {
	p.mu.Lock()
	p.config.ReadTimeout = d
	p.mu.Unlock()
}
