package flash

import (
	"fmt"

	"github.com/pkg/errors"
)

var ErrNoDevice = errors.New("no avr detected on the serial port")
var ErrBoardNotFound = errors.New("board did not respond, make sure it is in bootload mode")
var ErrUnsupportedDevice = errors.New("bootloader does not support address autoincrement")
var ErrUnknownDeviceType = errors.New("unknown device type")
var ErrInvalidRange = errors.New("start or end address does not line up with page size")

// CommandError is returned when the bootloader answers a command with anything
// other than the expected response
type CommandError struct {
	Command  string
	Response []byte
}

func (e *CommandError) Error() string {
	if len(e.Response) == 0 {
		return fmt.Sprintf("no response to %s command", e.Command)
	}
	return fmt.Sprintf("bad response to %s command: %x", e.Command, e.Response)
}

// TransportError wraps an I/O failure of the underlying byte channel. It is
// distinct from a bad or missing response, which is a CommandError.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// PageWriteError reports that programming stopped at Addr. Every page before
// Addr has already been committed to the device.
type PageWriteError struct {
	Addr uint32
	Err  error
}

func (e *PageWriteError) Error() string {
	return fmt.Sprintf("page write failed at 0x%04X: %v", e.Addr, e.Err)
}

func (e *PageWriteError) Unwrap() error {
	return e.Err
}

// IsTransportFault reports whether err was caused by the byte channel itself
func IsTransportFault(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsCommandFailure reports whether err is a bad or missing response
func IsCommandFailure(err error) bool {
	var ce *CommandError
	return errors.As(err, &ce)
}
