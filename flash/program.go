package flash

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// DefaultMaxRetries is how many transport faults a single page may hit before
// programming gives up
const DefaultMaxRetries = 3

// ProgressFunc receives the number of pages processed so far and the number
// of pages in the pass
type ProgressFunc func(done, total int)

// ProgramOptions tunes a programming pass. The zero value is usable.
type ProgramOptions struct {
	MaxRetries int
	Progress   ProgressFunc
}

func (o *ProgramOptions) maxRetries() int {
	if o == nil || o.MaxRetries <= 0 {
		return DefaultMaxRetries
	}
	return o.MaxRetries
}

func (o *ProgramOptions) report(done, total int) {
	if o != nil && o.Progress != nil {
		o.Progress(done, total)
	}
}

// Result summarizes a programming pass
type Result struct {
	PagesWritten int
	PagesSkipped int
	Resyncs      int
	Mode         WriteMode

	// ExitErr is set when the image was written but the bootloader did not
	// acknowledge leaving programming mode
	ExitErr error
}

// PageCursor walks page aligned addresses in [start, end)
type PageCursor struct {
	Current  uint32
	End      uint32
	PageSize uint32
}

func newPageCursor(start, end, pageSize uint32) (*PageCursor, error) {
	if pageSize == 0 || start%pageSize != 0 || end%pageSize != 0 {
		return nil, errors.Wrapf(ErrInvalidRange, "0x%X-0x%X, page size %d", start, end, pageSize)
	}
	if start >= end {
		return nil, errors.Wrapf(ErrInvalidRange, "start 0x%X is not below end 0x%X", start, end)
	}
	return &PageCursor{Current: start, End: end, PageSize: pageSize}, nil
}

// Done reports whether the cursor has reached the end of its range
func (c *PageCursor) Done() bool {
	return c.Current >= c.End
}

// Next is the address of the page after the current one
func (c *PageCursor) Next() uint32 {
	return c.Current + c.PageSize
}

// Advance moves the cursor to the next page
func (c *PageCursor) Advance() {
	c.Current += c.PageSize
}

// Pages is the number of pages the cursor spans from start
func (c *PageCursor) Pages(start uint32) int {
	return int((c.End - start) / c.PageSize)
}

type pageOutcome int

const (
	pageWritten pageOutcome = iota
	pageSkipped
	pageRedo
)

// Flash runs a complete programming cycle for the device type: it locates
// the bootloader from the high fuse, erases the chip and programs every page
// below the bootloader. image must hold at least that many bytes, and
// anything past the bootloader address must be erased; the chip is left
// untouched otherwise.
func (s *Session) Flash(image []byte, id DeviceType, opts *ProgramOptions) (*Result, error) {
	dev, err := LookupDevice(id)
	if err != nil {
		return nil, err
	}

	fuse, err := s.ReadFuseHigh()
	if err != nil {
		return nil, errors.Wrap(err, "could not read high fuse")
	}

	boot := dev.BootloaderAddress(fuse)
	logrus.Infof("%s bootloader is at 0x%04X", dev, boot)

	if uint32(len(image)) < boot {
		return nil, errors.Wrapf(ErrInvalidRange, "image is %d bytes, need %d", len(image), boot)
	}
	for a := boot; a < uint32(len(image)); a++ {
		if image[a] != 0xff {
			return nil, errors.Wrapf(ErrInvalidRange, "image has data at 0x%04X, past the bootloader at 0x%04X", a, boot)
		}
	}

	if err := s.EraseFlash(); err != nil {
		return nil, errors.Wrap(err, "could not erase flash")
	}

	return s.ProgramFlash(image, 0, boot, dev, opts)
}

// ProgramFlash writes image[start:end] page by page. start and end must be
// page aligned; the range is checked before anything is sent.
//
// Pages that are entirely 0xFF are skipped. Pages are sent with a block write
// unless the bootloader refuses it on the first page, in which case the rest
// of the pass uses byte writes.
//
// A returned *PageWriteError means every page below its address has been
// programmed. Flash is not rolled back.
func (s *Session) ProgramFlash(image []byte, start, end uint32, dev Device, opts *ProgramOptions) (*Result, error) {
	ps := dev.Geometry.FlashPageSize

	cur, err := newPageCursor(start, end, ps)
	if err != nil {
		return nil, err
	}
	if uint32(len(image)) < end {
		return nil, errors.Wrapf(ErrInvalidRange, "image is %d bytes, end is 0x%X", len(image), end)
	}

	logrus.Infof("writing 0x%04X-0x%04X to %s", start, end, dev)

	res := &Result{}
	s.mode = WriteModeUnknown

	if err := s.SetLED(); err != nil {
		return res, err
	}
	if err := s.probeAutoIncrement(); err != nil {
		return res, err
	}
	if err := s.enterProgramming(); err != nil {
		return res, errors.Wrap(err, "could not enter programming mode")
	}
	if err := s.SetAddress(start); err != nil {
		return res, err
	}
	s.mode = WriteModeFast

	total := cur.Pages(start)
	done := 0
	probed := false
	faults, mismatches := 0, 0

	for !cur.Done() {
		addr := cur.Current
		page := image[addr : addr+ps]

		out, err := s.programPage(cur, page, &probed)
		if err == nil {
			switch out {
			case pageRedo:
				continue
			case pageSkipped:
				res.PagesSkipped++
			case pageWritten:
				res.PagesWritten++
			}

			cur.Advance()
			done++
			faults, mismatches = 0, 0
			opts.report(done, total)
			continue
		}

		switch {
		case IsTransportFault(err):
			faults++
			if faults > opts.maxRetries() {
				return res, &PageWriteError{Addr: addr, Err: err}
			}
		case IsCommandFailure(err):
			mismatches++
			if mismatches > 1 {
				return res, &PageWriteError{Addr: addr, Err: err}
			}
		default:
			return res, &PageWriteError{Addr: addr, Err: err}
		}

		logrus.Warnf("%s write failed at 0x%04X, retrying: %v", s.mode, addr, err)

		res.Resyncs++
		if err := s.recoverPage(addr, ps); err != nil {
			return res, &PageWriteError{Addr: addr, Err: err}
		}
	}

	res.Mode = s.mode
	logrus.Infof("upload complete: %d written, %d blank, %s mode", res.PagesWritten, res.PagesSkipped, res.Mode)

	// the image is committed at this point, so nothing below fails the run
	if err := s.ClearLED(); err != nil {
		logrus.Warnf("could not clear led: %v", err)
		res.ExitErr = err
	}
	if err := s.leaveProgramming(); err != nil {
		logrus.Warnf("could not leave programming mode: %v", err)
		if res.ExitErr == nil {
			res.ExitErr = err
		}
	}

	return res, nil
}

// programPage writes or skips the page under the cursor and leaves the device
// address pointer at the next page
func (s *Session) programPage(cur *PageCursor, page []byte, probed *bool) (pageOutcome, error) {
	if isBlank(page) {
		return pageSkipped, s.SetAddress(cur.Next())
	}

	if s.mode == WriteModeSlow {
		return pageWritten, s.slowWritePage(cur, page)
	}

	if err := s.beginFastWrite(); err != nil {
		return pageWritten, err
	}

	// the probe answer repeats until a block write has gone through
	probing := !*probed
	if probing {
		ok, err := s.readFastProbe()
		if err != nil {
			return pageWritten, err
		}

		if !ok {
			logrus.Info("bootloader refused block writes, using byte writes")
			s.mode = WriteModeSlow
			return pageRedo, s.SetAddress(cur.Current)
		}
	}

	if err := s.sendPage(page); err != nil {
		return pageWritten, err
	}
	if probing {
		*probed = true
	}

	return pageWritten, s.SetAddress(cur.Next())
}

// slowWritePage loads the page one word at a time and commits it
func (s *Session) slowWritePage(cur *PageCursor, page []byte) error {
	for j := 0; j+1 < len(page); j += 2 {
		if err := s.writeWord(page[j], page[j+1]); err != nil {
			return err
		}
	}

	// byte writes move the pointer in ways that are not reliable
	if err := s.SetAddress(cur.Current); err != nil {
		return err
	}
	if err := s.writePage(); err != nil {
		return err
	}
	return s.SetAddress(cur.Next())
}

// recoverPage puts the link back into a known state so the page at addr can be
// sent again
func (s *Session) recoverPage(addr, pageSize uint32) error {
	if err := s.resync(addr, int(pageSize)); err != nil {
		return err
	}

	if s.mode != WriteModeFast {
		return nil
	}

	// a block write may have left part of the page programmed
	if err := s.erasePage(); err != nil {
		return err
	}
	return s.SetAddress(addr)
}

func isBlank(page []byte) bool {
	for _, b := range page {
		if b != 0xff {
			return false
		}
	}
	return true
}
