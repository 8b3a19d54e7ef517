package flash

import (
	"time"
)

// Transport is the duplex byte channel a bootloader is reached over.
//
// Read returns up to n bytes. When the timeout set with SetTimeout elapses it
// returns whatever arrived so far with a nil error, so callers must always
// check the length. A non-nil error means the channel itself failed.
type Transport interface {
	Write(bs []byte) error
	Read(n int) ([]byte, error)
	SetTimeout(to time.Duration)
	Close() error
}

// rxQueue buffers bytes received by a transport's read loop until the
// protocol asks for them
type rxQueue struct {
	bytes   chan byte
	errs    chan error
	timeout time.Duration
}

func newRxQueue() *rxQueue {
	return &rxQueue{
		bytes:   make(chan byte, 1024),
		errs:    make(chan error, 1),
		timeout: ResponseTimeout,
	}
}

func (q *rxQueue) push(bs []byte) {
	for _, b := range bs {
		q.bytes <- b
	}
}

// fail records a channel error. Only the first one is kept.
func (q *rxQueue) fail(err error) {
	select {
	case q.errs <- err:
	default:
	}
}

// readN collects up to n bytes, stopping early when the timeout elapses
func (q *rxQueue) readN(n int) ([]byte, error) {
	bs := make([]byte, 0, n)

	timer := time.NewTimer(q.timeout)
	defer timer.Stop()

	for len(bs) < n {
		select {
		case b := <-q.bytes:
			bs = append(bs, b)
		case err := <-q.errs:
			// put it back so the next read fails as well
			q.fail(err)
			return bs, err
		case <-timer.C:
			return bs, nil
		}
	}

	return bs, nil
}
