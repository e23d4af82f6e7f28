// Console key listener stub for non-Linux platforms.
//
// The rig controller is deployed on Linux; other platforms build for
// unit tests only, where the listener is never started.

//go:build !linux

package abort

import "errors"

// ErrNotSupported is returned by StartKeyListener on platforms without
// termios support.
var ErrNotSupported = errors.New("abort: key listener not supported on this platform")

// KeyListener is a stub for non-Linux platforms.
type KeyListener struct{}

// StartKeyListener always fails on this platform.
func StartKeyListener(ctrl *Controller) (*KeyListener, error) {
	return nil, ErrNotSupported
}

// Close is a no-op on this platform.
func (l *KeyListener) Close() error { return nil }
