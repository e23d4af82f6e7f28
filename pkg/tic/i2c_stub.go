//go:build !linux

package tic

import "fmt"

// I2CConn is only available on Linux (i2c-dev).
type I2CConn struct{}

// OpenI2C reports that i2c-dev is unavailable on this platform.
func OpenI2C(device string, addr uint16) (*I2CConn, error) {
	return nil, fmt.Errorf("tic: i2c bus not supported on this platform")
}

func (c *I2CConn) Transact(w, r []byte) error { return ErrNotConnected }
func (c *I2CConn) Close() error               { return nil }
func (c *I2CConn) Address() uint16            { return 0 }
