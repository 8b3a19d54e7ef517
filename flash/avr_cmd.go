package flash

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// SetAddress moves the bootloader's address pointer to the provided byte
// address. The wire carries the word address, big endian.
func (s *Session) SetAddress(addr uint32) error {
	if addr%2 != 0 || addr/2 > 0xffff {
		return errors.Errorf("address 0x%X cannot be set", addr)
	}

	s.addrValid = false

	buf := make([]byte, 3)
	buf[0] = cmdSetAddress
	binary.BigEndian.PutUint16(buf[1:], uint16(addr/2))

	if err := s.exec("setAddress", buf...); err != nil {
		return err
	}

	s.addr = addr
	s.addrValid = true

	return nil
}

// EraseFlash erases the whole application section. The LED is lit for the
// duration of the erase.
func (s *Session) EraseFlash() error {
	if err := s.SetLED(); err != nil {
		return err
	}

	err := s.withTimeout(EraseTimeout, func() error {
		return s.exec("erase", cmdChipErase)
	})
	if err != nil {
		return err
	}

	return s.ClearLED()
}

// SetLED turns the bootloader's indicator LED on
func (s *Session) SetLED() error {
	if err := s.exec("setLED", cmdSetLED, 0x00); err != nil {
		return err
	}
	s.led = true
	return nil
}

// ClearLED turns the bootloader's indicator LED off
func (s *Session) ClearLED() error {
	if err := s.exec("clearLED", cmdClearLED, 0x00); err != nil {
		return err
	}
	s.led = false
	return nil
}

// ReadFuseHigh returns the high fuse byte
func (s *Session) ReadFuseHigh() (byte, error) {
	return s.readFuse(cmdReadFuseHigh)
}

// ReadFuseLow returns the low fuse byte
func (s *Session) ReadFuseLow() (byte, error) {
	return s.readFuse(cmdReadFuseLow)
}

func (s *Session) readFuse(cmd byte) (byte, error) {
	if err := s.write(cmd); err != nil {
		return 0, err
	}

	b, ok, err := s.readByte()
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrNoDevice
	}

	return b, nil
}

// ReadWord returns the flash word at the provided byte address, high byte
// first as the bootloader sends it
func (s *Session) ReadWord(addr uint32) (uint16, error) {
	if err := s.SetAddress(addr); err != nil {
		return 0, err
	}

	if err := s.write(cmdReadWord); err != nil {
		return 0, err
	}
	// the bootloader increments its pointer after a read
	s.addrValid = false

	var bs []byte
	err := s.withTimeout(ReadWordTimeout, func() (err error) {
		bs, err = s.readN(2)
		return
	})
	if err != nil {
		return 0, err
	}
	if len(bs) != 2 {
		return 0, &CommandError{Command: "readWord", Response: bs}
	}

	return uint16(bs[0])<<8 + uint16(bs[1]), nil
}

// probeAutoIncrement checks that the bootloader advances its address pointer
// on its own after writes
func (s *Session) probeAutoIncrement() error {
	if err := s.write(cmdAutoIncrement); err != nil {
		return err
	}
	if err := s.expect("autoIncrement", b_AVR_YES); err != nil {
		if IsCommandFailure(err) {
			return errors.Wrap(ErrUnsupportedDevice, err.Error())
		}
		return err
	}
	return nil
}

func (s *Session) enterProgramming() error {
	return s.exec("enterProgramming", cmdEnterProgramming)
}

func (s *Session) leaveProgramming() error {
	return s.exec("leaveProgramming", cmdLeaveProgramming)
}

// beginFastWrite starts a block write of a page. The page data follows.
func (s *Session) beginFastWrite() error {
	s.addrValid = false
	return s.write(cmdFastWrite)
}

// readFastProbe reads the byte a bootloader answers to the first block write
// with. It reports false if the bootloader refuses block writes.
func (s *Session) readFastProbe() (bool, error) {
	b, ok, err := s.readByte()
	if err != nil {
		return false, err
	}
	if ok && b == b_AVR_REJECT {
		return false, nil
	}
	if ok {
		logrus.Debugf("fast write probe: %x", b)
	}
	return true, nil
}

// sendPage sends the data of a block write and waits for the ack
func (s *Session) sendPage(page []byte) error {
	if err := s.write(page...); err != nil {
		return err
	}
	return s.expect("fastWrite", b_AVR_ACK)
}

// writeWord loads one word into the page buffer, low byte first
func (s *Session) writeWord(lo, hi byte) error {
	s.addrValid = false

	if err := s.exec("writeLow", cmdWriteLow, lo); err != nil {
		return err
	}

	if err := s.write(cmdWriteHigh, hi); err != nil {
		return err
	}
	for i := 0; i < 5; i++ {
		b, ok, err := s.readByte()
		if err != nil {
			return err
		}
		if !ok {
			return &CommandError{Command: "writeHigh"}
		}
		if b == b_AVR_ACK {
			return nil
		}
		if b != b_AVR_FILLER {
			return &CommandError{Command: "writeHigh", Response: []byte{b}}
		}
	}

	return &CommandError{Command: "writeHigh", Response: []byte{b_AVR_FILLER}}
}

// writePage commits the page buffer to flash at the current address
func (s *Session) writePage() error {
	return s.exec("writePage", cmdWritePage)
}

// erasePage erases the page at the current address. Some bootloaders do not
// answer this, so a missing or wrong response is only logged.
func (s *Session) erasePage() error {
	s.addrValid = false
	if err := s.write(cmdErasePage); err != nil {
		return err
	}
	b, ok, err := s.readByte()
	if err != nil {
		return err
	}
	if !ok || b != b_AVR_ACK {
		logrus.Warnf("erase page at 0x%04X: unexpected response %x", s.addr, b)
	}
	return nil
}

// resync flushes whatever command the bootloader is in the middle of with a
// burst of cancel bytes, drains the link and puts the address pointer back at
// addr. n should be at least the number of bytes the bootloader may still be
// waiting for.
func (s *Session) resync(addr uint32, n int) error {
	logrus.Warnf("resyncing at 0x%04X", addr)

	s.addrValid = false

	if err := s.write(bytes.Repeat([]byte{b_AVR_CANCEL}, n+5+4)...); err != nil {
		return errors.Wrap(err, "could not flush bootloader")
	}

	err := s.withTimeout(ResyncTimeout, func() error {
		bs, err := s.readN(n + 5 + 4)
		if len(bs) > 0 {
			logrus.Debugf("resync drained %d bytes", len(bs))
		}
		return err
	})
	if err != nil {
		return errors.Wrap(err, "could not drain bootloader")
	}

	return s.SetAddress(addr)
}
