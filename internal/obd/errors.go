package obd

import "errors"

var (
	// ErrTimeout is returned when a command result was not signaled in time.
	ErrTimeout = errors.New("obd: timed out waiting for response")
	// ErrNoData is returned when a command completed without a value of the
	// requested type (NO DATA, a rejected frame, or an unrelated reply).
	ErrNoData = errors.New("obd: no data")
	// ErrNotReady is returned when a request is made before Initialize succeeded.
	ErrNotReady = errors.New("obd: device not ready")
	// ErrDisposed is returned for any use of a disposed device.
	ErrDisposed = errors.New("obd: device disposed")
	// ErrInvalidPID is returned when a payload type does not expose a usable PID.
	ErrInvalidPID = errors.New("obd: invalid pid")
	// ErrInvalidState is returned when Initialize is called twice or after a failure.
	ErrInvalidState = errors.New("obd: invalid device state")
)
