package flash

import (
	"bytes"
	"testing"
	"time"

	"github.com/pkg/errors"
)

func TestSetAddress(t *testing.T) {
	st := newScriptTransport(b_AVR_ACK)
	s := NewSession(st)

	if err := s.SetAddress(0x7e00); err != nil {
		t.Fatalf("SetAddress() error = %v", err)
	}
	if got, want := st.writes.Bytes(), []byte{'A', 0x3f, 0x00}; !bytes.Equal(got, want) {
		t.Errorf("wrote %x, want %x", got, want)
	}
	if addr, ok := s.Address(); !ok || addr != 0x7e00 {
		t.Errorf("Address() = 0x%X, %v", addr, ok)
	}
}

func TestSetAddressBadAck(t *testing.T) {
	tests := []struct {
		name string
		resp []byte
	}{
		{"no response", nil},
		{"wrong byte", []byte{'?'}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSession(newScriptTransport(tt.resp...))
			err := s.SetAddress(0x100)

			var ce *CommandError
			if !errors.As(err, &ce) || ce.Command != "setAddress" {
				t.Fatalf("SetAddress() error = %v, want setAddress CommandError", err)
			}
			if _, ok := s.Address(); ok {
				t.Error("address still marked valid after failure")
			}
		})
	}
}

func TestSetAddressOdd(t *testing.T) {
	st := newScriptTransport(b_AVR_ACK)
	if err := NewSession(st).SetAddress(0x101); err == nil {
		t.Fatal("SetAddress(odd) succeeded")
	}
	if st.writes.Len() != 0 {
		t.Errorf("wrote %x for a rejected address", st.writes.Bytes())
	}
}

func TestTransportFaultIsDistinct(t *testing.T) {
	st := newScriptTransport()
	st.writeErr = errLinkDown
	err := NewSession(st).SetAddress(0)

	if !IsTransportFault(err) {
		t.Errorf("IsTransportFault(%v) = false", err)
	}
	if IsCommandFailure(err) {
		t.Errorf("IsCommandFailure(%v) = true", err)
	}
	if !errors.Is(err, errLinkDown) {
		t.Errorf("error does not wrap the channel error: %v", err)
	}
}

func TestEraseFlash(t *testing.T) {
	st := newScriptTransport(b_AVR_ACK, b_AVR_ACK, b_AVR_ACK)
	s := NewSession(st)

	if err := s.EraseFlash(); err != nil {
		t.Fatalf("EraseFlash() error = %v", err)
	}
	if got, want := st.writes.Bytes(), []byte{'x', 0, 'e', 'y', 0}; !bytes.Equal(got, want) {
		t.Errorf("wrote %q, want %q", got, want)
	}
	if s.LED() {
		t.Error("LED left on after erase")
	}

	want := []time.Duration{ResponseTimeout, EraseTimeout, ResponseTimeout}
	if len(st.timeouts) != len(want) {
		t.Fatalf("timeouts = %v, want %v", st.timeouts, want)
	}
	for i := range want {
		if st.timeouts[i] != want[i] {
			t.Errorf("timeouts = %v, want %v", st.timeouts, want)
			break
		}
	}
}

func TestEraseFlashFails(t *testing.T) {
	s := NewSession(newScriptTransport(b_AVR_ACK))
	err := s.EraseFlash()

	var ce *CommandError
	if !errors.As(err, &ce) || ce.Command != "erase" {
		t.Fatalf("EraseFlash() error = %v, want erase CommandError", err)
	}
}

func TestReadFuse(t *testing.T) {
	st := newScriptTransport(0xda, 0xff)
	s := NewSession(st)

	hi, err := s.ReadFuseHigh()
	if err != nil || hi != 0xda {
		t.Errorf("ReadFuseHigh() = 0x%02X, %v", hi, err)
	}
	lo, err := s.ReadFuseLow()
	if err != nil || lo != 0xff {
		t.Errorf("ReadFuseLow() = 0x%02X, %v", lo, err)
	}
	if got := st.writes.String(); got != "NF" {
		t.Errorf("wrote %q, want %q", got, "NF")
	}
}

func TestReadFuseNoDevice(t *testing.T) {
	s := NewSession(newScriptTransport())
	if _, err := s.ReadFuseHigh(); !errors.Is(err, ErrNoDevice) {
		t.Errorf("ReadFuseHigh() error = %v, want ErrNoDevice", err)
	}
	if _, err := s.ReadFuseLow(); !errors.Is(err, ErrNoDevice) {
		t.Errorf("ReadFuseLow() error = %v, want ErrNoDevice", err)
	}
}

func TestReadWord(t *testing.T) {
	st := newScriptTransport(b_AVR_ACK, 0x12, 0x34)
	s := NewSession(st)

	w, err := s.ReadWord(0x200)
	if err != nil {
		t.Fatalf("ReadWord() error = %v", err)
	}
	if w != 0x1234 {
		t.Errorf("ReadWord() = 0x%04X, want 0x1234", w)
	}
	if got, want := st.writes.Bytes(), []byte{'A', 0x01, 0x00, 'R'}; !bytes.Equal(got, want) {
		t.Errorf("wrote %x, want %x", got, want)
	}
	if _, ok := s.Address(); ok {
		t.Error("address still marked valid after a read")
	}
}

func TestReadWordShort(t *testing.T) {
	for _, resp := range [][]byte{{b_AVR_ACK}, {b_AVR_ACK, 0x12}} {
		s := NewSession(newScriptTransport(resp...))
		w, err := s.ReadWord(0)

		var ce *CommandError
		if !errors.As(err, &ce) || ce.Command != "readWord" {
			t.Errorf("ReadWord() = 0x%04X, %v, want readWord CommandError", w, err)
		}
	}
}

func TestWriteWordFiller(t *testing.T) {
	tests := []struct {
		name    string
		resp    []byte
		wantErr bool
	}{
		{"plain ack", []byte{b_AVR_ACK, b_AVR_ACK}, false},
		{"four fillers", []byte{b_AVR_ACK, 0x3f, 0x3f, 0x3f, 0x3f, b_AVR_ACK}, false},
		{"five fillers", []byte{b_AVR_ACK, 0x3f, 0x3f, 0x3f, 0x3f, 0x3f, b_AVR_ACK}, true},
		{"bad byte", []byte{b_AVR_ACK, 0x00}, true},
		{"no ack for low", []byte{0x00}, true},
		{"silence", []byte{b_AVR_ACK}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := newScriptTransport(tt.resp...)
			err := NewSession(st).writeWord(0xaa, 0x55)
			if (err != nil) != tt.wantErr {
				t.Fatalf("writeWord() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr {
				if got, want := st.writes.Bytes(), []byte{'c', 0xaa, 'C', 0x55}; !bytes.Equal(got, want) {
					t.Errorf("wrote %x, want %x", got, want)
				}
			}
		})
	}
}

func TestProbeAutoIncrement(t *testing.T) {
	if err := NewSession(newScriptTransport('Y')).probeAutoIncrement(); err != nil {
		t.Errorf("probeAutoIncrement() error = %v", err)
	}
	if err := NewSession(newScriptTransport('N')).probeAutoIncrement(); !errors.Is(err, ErrUnsupportedDevice) {
		t.Errorf("probeAutoIncrement() error = %v, want ErrUnsupportedDevice", err)
	}
}

func TestResync(t *testing.T) {
	// the drain swallows everything pending, so the address set afterwards
	// sees no ack
	st := newScriptTransport(0x3f, 0x3f)
	s := NewSession(st)

	if err := s.resync(0x80, 16); !IsCommandFailure(err) {
		t.Fatalf("resync() error = %v, want setAddress failure", err)
	}

	wrote := st.writes.Bytes()
	if len(wrote) != 16+5+4+3 {
		t.Fatalf("wrote %d bytes, want %d", len(wrote), 16+5+4+3)
	}
	if !bytes.Equal(wrote[:25], bytes.Repeat([]byte{b_AVR_CANCEL}, 25)) {
		t.Errorf("flush = %x", wrote[:25])
	}
	if !bytes.Equal(wrote[25:], []byte{'A', 0x00, 0x40}) {
		t.Errorf("address = %x", wrote[25:])
	}
	if last := st.timeouts[len(st.timeouts)-1]; last != ResponseTimeout {
		t.Errorf("timeout left at %v", last)
	}
}
