package flash

import (
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.bug.st/serial"
)

var ErrClosed = errors.New("serial port is closed")

// SerialTransport is a Transport backed by a local serial port
type SerialTransport struct {
	port serial.Port
	rx   *rxQueue
}

// OpenSerial opens the tty at the requested baud rate using 8N1 framing and
// starts receiving
func OpenSerial(tty string, baud int) (*SerialTransport, error) {
	port, err := serial.Open(tty, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, errors.Wrap(err, "could not open serial")
	}

	st := &SerialTransport{
		port: port,
		rx:   newRxQueue(),
	}
	go st.loop(port)

	logrus.Debugf("serial open: %s @ %d", tty, baud)

	return st, nil
}

// loop forever reads from the port and queues the incoming bytes
func (st *SerialTransport) loop(port serial.Port) {
	buf := make([]byte, 64)

	port.SetReadTimeout(1 * time.Millisecond)

	for {
		n, err := port.Read(buf)
		if err != nil {

			// don't complain if we're just being closed
			if perr, ok := err.(*serial.PortError); ok {
				if perr.Code() == serial.PortClosed {
					st.rx.fail(&TransportError{Op: "read", Err: ErrClosed})
					return
				}
			}

			if errors.Is(err, syscall.EBADF) {
				st.rx.fail(&TransportError{Op: "read", Err: ErrClosed})
				return
			}

			logrus.Error("serial rx err: ", err.Error())
			st.rx.fail(&TransportError{Op: "read", Err: err})
			return
		}

		if n > 0 {
			logrus.Debugf("avr rx: %x", buf[:n])
			st.rx.push(buf[:n])
		}
	}
}

func (st *SerialTransport) Write(bs []byte) error {
	if st.port == nil {
		return &TransportError{Op: "write", Err: ErrClosed}
	}
	if _, err := st.port.Write(bs); err != nil {
		return &TransportError{Op: "write", Err: err}
	}
	logrus.Debugf("avr tx: %x", bs)
	return nil
}

func (st *SerialTransport) Read(n int) ([]byte, error) {
	return st.rx.readN(n)
}

func (st *SerialTransport) SetTimeout(to time.Duration) {
	st.rx.timeout = to
}

// Close releases the port. Pending reads fail with ErrClosed.
func (st *SerialTransport) Close() error {
	if st.port == nil {
		return nil
	}
	err := st.port.Close()
	st.port = nil
	logrus.Debug("serial close")
	return err
}
