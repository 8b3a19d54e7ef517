package flash

import (
	"bytes"
	"time"

	"github.com/pkg/errors"
)

var errLinkDown = errors.New("link down")

// scriptTransport answers reads from a fixed byte script and records writes
type scriptTransport struct {
	resp     []byte
	writes   bytes.Buffer
	timeouts []time.Duration
	readErr  error
	writeErr error
}

func newScriptTransport(resp ...byte) *scriptTransport {
	return &scriptTransport{resp: resp}
}

func (st *scriptTransport) Write(bs []byte) error {
	if st.writeErr != nil {
		return &TransportError{Op: "write", Err: st.writeErr}
	}
	st.writes.Write(bs)
	return nil
}

func (st *scriptTransport) Read(n int) ([]byte, error) {
	if st.readErr != nil {
		return nil, &TransportError{Op: "read", Err: st.readErr}
	}
	n = min(n, len(st.resp))
	bs := st.resp[:n]
	st.resp = st.resp[n:]
	return bs, nil
}

func (st *scriptTransport) SetTimeout(to time.Duration) {
	st.timeouts = append(st.timeouts, to)
}

func (st *scriptTransport) Close() error {
	return nil
}

type parseState int

const (
	stateIdle parseState = iota
	stateArgs
	stateFastData
)

// fakeBootloader simulates the bootloader end of the link closely enough to
// run whole programming passes against it
type fakeBootloader struct {
	boardID    string
	devices    []byte
	fuseHigh   byte
	fuseLow    byte
	pageSize   int
	noAutoInc  bool
	rejectFast bool
	fillers    int
	badLeave   bool
	silent     bool

	// writeFaults fails the transport write carrying block data for the
	// page at the address, that many times
	writeFaults map[uint32]int

	// badAcks answers block writes at the address with a wrong ack, that
	// many times
	badAcks map[uint32]int

	// slowFaults fails the transport write of the high byte of the word at
	// the address, that many times
	slowFaults map[uint32]int

	flash   []byte
	addr    uint32
	pageBuf []byte
	probed  bool
	led     bool

	state parseState
	cmd   byte
	args  []byte
	need  int
	out   []byte

	setAddrs   []uint32
	fastWrites []uint32
	slowPages  []uint32
	erasedAt   []uint32
	syncs      int
	fastCmds   int
	leaves     int
	cancels    int
	ledChanges []bool
	timeouts   []time.Duration
}

func newFakeBootloader(flashSize, pageSize int) *fakeBootloader {
	fb := &fakeBootloader{
		boardID:     "AVRBOOT",
		devices:     []byte{byte(DeviceTypeATmega32)},
		pageSize:    pageSize,
		flash:       bytes.Repeat([]byte{0xff}, flashSize),
		pageBuf:     bytes.Repeat([]byte{0xff}, pageSize),
		writeFaults: map[uint32]int{},
		badAcks:     map[uint32]int{},
		slowFaults:  map[uint32]int{},
	}
	return fb
}

func (fb *fakeBootloader) reply(bs ...byte) {
	fb.out = append(fb.out, bs...)
}

func (fb *fakeBootloader) Write(bs []byte) error {
	if fb.state == stateFastData && fb.writeFaults[fb.addr] > 0 {
		fb.writeFaults[fb.addr]--
		fb.state = stateIdle
		return &TransportError{Op: "write", Err: errLinkDown}
	}
	if fb.state == stateIdle && len(bs) > 0 && bs[0] == cmdWriteHigh && fb.slowFaults[fb.addr] > 0 {
		fb.slowFaults[fb.addr]--
		return &TransportError{Op: "write", Err: errLinkDown}
	}

	for _, b := range bs {
		fb.feed(b)
	}
	return nil
}

func (fb *fakeBootloader) feed(b byte) {
	switch fb.state {
	case stateArgs:
		fb.args = append(fb.args, b)
		if len(fb.args) == fb.need {
			fb.state = stateIdle
			fb.run(fb.cmd, fb.args)
		}
		return
	case stateFastData:
		fb.args = append(fb.args, b)
		if len(fb.args) == fb.pageSize {
			fb.state = stateIdle
			fb.fastWrite(fb.args)
		}
		return
	}

	if fb.silent {
		return
	}

	need := 0
	switch b {
	case cmdSetAddress:
		need = 2
	case cmdSetLED, cmdClearLED, cmdWriteLow, cmdWriteHigh:
		need = 1
	}
	if need > 0 {
		fb.state = stateArgs
		fb.cmd = b
		fb.args = nil
		fb.need = need
		return
	}
	fb.run(b, nil)
}

func (fb *fakeBootloader) run(cmd byte, args []byte) {
	switch cmd {
	case b_AVR_CANCEL:
		fb.cancels++
	case cmdSetAddress:
		fb.addr = (uint32(args[0])<<8 | uint32(args[1])) * 2
		fb.setAddrs = append(fb.setAddrs, fb.addr)
		fb.reply(b_AVR_ACK)
	case cmdSetLED:
		fb.led = true
		fb.ledChanges = append(fb.ledChanges, true)
		fb.reply(b_AVR_ACK)
	case cmdClearLED:
		fb.led = false
		fb.ledChanges = append(fb.ledChanges, false)
		fb.reply(b_AVR_ACK)
	case cmdChipErase:
		for i := range fb.flash {
			fb.flash[i] = 0xff
		}
		fb.reply(b_AVR_ACK)
	case cmdReadFuseHigh:
		fb.reply(fb.fuseHigh)
	case cmdReadFuseLow:
		fb.reply(fb.fuseLow)
	case cmdReadWord:
		fb.reply(fb.flash[fb.addr], fb.flash[fb.addr+1])
		fb.addr += 2
	case cmdAutoIncrement:
		if fb.noAutoInc {
			fb.reply('N')
		} else {
			fb.reply(b_AVR_YES)
		}
	case cmdEnterProgramming:
		fb.reply(b_AVR_ACK)
	case cmdLeaveProgramming:
		fb.leaves++
		if fb.badLeave {
			fb.reply(b_AVR_REJECT)
		} else {
			fb.reply(b_AVR_ACK)
		}
	case cmdFastWrite:
		fb.fastCmds++
		// the probe is answered until a block write is acknowledged
		if !fb.probed {
			if fb.rejectFast {
				fb.reply(b_AVR_REJECT)
				return
			}
			fb.reply('!')
		}
		fb.state = stateFastData
		fb.args = nil
	case cmdWriteLow:
		fb.pageBuf[int(fb.addr)%fb.pageSize] = args[0]
		fb.reply(b_AVR_ACK)
	case cmdWriteHigh:
		fb.pageBuf[int(fb.addr)%fb.pageSize+1] = args[0]
		fb.addr += 2
		for i := 0; i < fb.fillers; i++ {
			fb.reply(b_AVR_FILLER)
		}
		fb.reply(b_AVR_ACK)
	case cmdWritePage:
		base := fb.addr - fb.addr%uint32(fb.pageSize)
		copy(fb.flash[base:], fb.pageBuf)
		fb.slowPages = append(fb.slowPages, base)
		fb.pageBuf = bytes.Repeat([]byte{0xff}, fb.pageSize)
		fb.reply(b_AVR_ACK)
	case cmdErasePage:
		for i := 0; i < fb.pageSize; i++ {
			fb.flash[int(fb.addr)+i] = 0xff
		}
		fb.erasedAt = append(fb.erasedAt, fb.addr)
		fb.reply(b_AVR_ACK)
	case cmdSync:
		fb.syncs++
		fb.reply([]byte(fb.boardID)...)
	case cmdListDevices:
		fb.reply(fb.devices...)
		fb.reply(0x00)
	default:
		fb.reply(b_AVR_REJECT)
	}
}

func (fb *fakeBootloader) fastWrite(data []byte) {
	at := fb.addr
	fb.fastWrites = append(fb.fastWrites, at)
	copy(fb.flash[at:], data)
	fb.addr += uint32(fb.pageSize)

	if fb.badAcks[at] > 0 {
		fb.badAcks[at]--
		fb.reply(0x00)
		return
	}
	fb.probed = true
	fb.reply(b_AVR_ACK)
}

func (fb *fakeBootloader) Read(n int) ([]byte, error) {
	n = min(n, len(fb.out))
	bs := fb.out[:n]
	fb.out = fb.out[n:]
	return bs, nil
}

func (fb *fakeBootloader) SetTimeout(to time.Duration) {
	fb.timeouts = append(fb.timeouts, to)
}

func (fb *fakeBootloader) Close() error {
	return nil
}
