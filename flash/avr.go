package flash

import (
	"time"

	"github.com/sirupsen/logrus"
)

const b_AVR_ACK byte = 0x0d
const b_AVR_CANCEL byte = 0x1b
const b_AVR_YES byte = 'Y'
const b_AVR_REJECT byte = '?'

// b_AVR_FILLER shows up ahead of the ack to a slow high byte write on some
// bootloaders and is ignored
const b_AVR_FILLER byte = 0x3f

// command bytes, all single ASCII characters
const (
	cmdSetAddress       byte = 'A'
	cmdChipErase        byte = 'e'
	cmdSetLED           byte = 'x'
	cmdClearLED         byte = 'y'
	cmdReadFuseHigh     byte = 'N'
	cmdReadFuseLow      byte = 'F'
	cmdReadWord         byte = 'R'
	cmdAutoIncrement    byte = 'a'
	cmdEnterProgramming byte = 'P'
	cmdLeaveProgramming byte = 'L'
	cmdFastWrite        byte = 'Z'
	cmdWriteLow         byte = 'c'
	cmdWriteHigh        byte = 'C'
	cmdWritePage        byte = 'm'
	cmdErasePage        byte = 'E'
	cmdSync             byte = 'S'
	cmdListDevices      byte = 't'
)

// ResponseTimeout is how long a command waits for its response unless it
// needs longer
var ResponseTimeout = 100 * time.Millisecond

// EraseTimeout bounds the wait for a chip erase to be acknowledged
var EraseTimeout = 3 * time.Second

// ReadWordTimeout bounds the wait for the two bytes of a word read
var ReadWordTimeout = 1 * time.Second

// ResyncTimeout is used while draining the link after a fault
var ResyncTimeout = 1 * time.Second

// WriteMode selects how page data is sent to the bootloader
type WriteMode int

const (
	WriteModeUnknown WriteMode = iota

	// WriteModeFast sends a whole page with one command
	WriteModeFast

	// WriteModeSlow sends a page one byte per command
	WriteModeSlow
)

func (m WriteMode) String() string {
	switch m {
	case WriteModeFast:
		return "fast"
	case WriteModeSlow:
		return "slow"
	default:
		return "unknown"
	}
}

// Session is the command layer over a Transport. It owns the transport for
// its lifetime; nothing else may read or write it concurrently.
//
// Session keeps the address it believes the bootloader's internal pointer is
// at. Only SetAddress moves it; any command that makes the device pointer move
// on its own invalidates it until the next SetAddress.
type Session struct {
	t Transport

	addr      uint32
	addrValid bool

	mode WriteMode
	led  bool

	timeout time.Duration
}

// NewSession wraps the provided transport
func NewSession(t Transport) *Session {
	s := &Session{t: t}
	s.setTimeout(ResponseTimeout)
	return s
}

// Address returns the believed device address pointer and whether it is
// currently known to match the device
func (s *Session) Address() (uint32, bool) {
	return s.addr, s.addrValid
}

// Mode returns the current page write mode
func (s *Session) Mode() WriteMode {
	return s.mode
}

// LED reports whether the bootloader's indicator LED was last set on
func (s *Session) LED() bool {
	return s.led
}

// Transport returns the underlying byte channel
func (s *Session) Transport() Transport {
	return s.t
}

func (s *Session) setTimeout(to time.Duration) {
	s.timeout = to
	s.t.SetTimeout(to)
}

// withTimeout runs fn with a different response timeout and restores the
// previous one afterwards
func (s *Session) withTimeout(to time.Duration, fn func() error) error {
	prev := s.timeout
	s.setTimeout(to)
	defer s.setTimeout(prev)
	return fn()
}

func (s *Session) write(bs ...byte) error {
	return s.t.Write(bs)
}

func (s *Session) readN(n int) ([]byte, error) {
	return s.t.Read(n)
}

// readByte reads a single response byte; ok is false if none arrived in time
func (s *Session) readByte() (b byte, ok bool, err error) {
	bs, err := s.readN(1)
	if err != nil || len(bs) != 1 {
		return 0, false, err
	}
	return bs[0], true, nil
}

// expect reads one byte and checks that it matches want
func (s *Session) expect(name string, want byte) error {
	b, ok, err := s.readByte()
	if err != nil {
		return err
	}
	if !ok {
		return &CommandError{Command: name}
	}
	if b != want {
		return &CommandError{Command: name, Response: []byte{b}}
	}
	return nil
}

// exec sends the command bytes and checks that they are acked
func (s *Session) exec(name string, bs ...byte) error {
	if err := s.write(bs...); err != nil {
		return err
	}
	if err := s.expect(name, b_AVR_ACK); err != nil {
		logrus.Debugf("%s: %v", name, err)
		return err
	}
	return nil
}
