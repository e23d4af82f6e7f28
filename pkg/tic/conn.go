package tic

import "errors"

// Common errors
var (
	ErrNotConnected = errors.New("tic: not connected")
	ErrIncomplete   = errors.New("tic: transaction not fully acknowledged")
)

// Conn is one logical connection to one physical driver on the bus. A
// transaction is a write, optionally followed by a read of the same
// device without releasing the bus. Transactions are not reentrant; a
// Conn must not be used from more than one goroutine at a time.
type Conn interface {
	// Transact writes w to the device. When r is non-nil the read is
	// issued in the same combined transaction and fills r completely.
	Transact(w, r []byte) error
	Close() error
}

// Observe wraps a Conn and reports the outcome of every transaction to
// fn. The wiring layer uses it to count bus traffic per driver.
func Observe(c Conn, fn func(err error)) Conn {
	return &observedConn{inner: c, fn: fn}
}

type observedConn struct {
	inner Conn
	fn    func(err error)
}

func (o *observedConn) Transact(w, r []byte) error {
	err := o.inner.Transact(w, r)
	o.fn(err)
	return err
}

func (o *observedConn) Close() error {
	return o.inner.Close()
}
