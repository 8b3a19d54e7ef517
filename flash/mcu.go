package flash

import (
	"time"

	"github.com/piotrjaromin/gpio"
	"github.com/pkg/errors"
)

var DefaultBaud = 19200
var DefaultTTY = "/dev/ttyUSB0"

// ResetPulse is how long the reset line is held low when entering the
// bootloader, and how long the bootloader is given to start afterwards
var ResetPulse = 10 * time.Millisecond
var BootloaderStartup = 50 * time.Millisecond

// Config defines configuration for reaching and flashing the microcontroller
type Config struct {
	// ResetGPIO is the pin wired to the chip's reset line. When set it is
	// pulsed on Open so that the chip starts into its bootloader. Zero
	// means the board has to be put into the bootloader by hand.
	ResetGPIO int

	BootloaderBaud int
	TTY            string

	// BridgeURL reaches the serial port through a WebSocket bridge instead
	// of a local tty
	BridgeURL  string
	BridgeAuth WebSocketOptions
	MaxRetries int
	Progress   ProgressFunc
}

// Microcontroller represents an AVR chip running a serial bootloader
type Microcontroller struct {
	config *Config

	pinReset gpio.Pin
	hasReset bool

	session   *Session
	discovery *Discovery
}

// NewMicrocontroller will create a new reference to a particular chip
func NewMicrocontroller(c *Config) *Microcontroller {
	if c == nil {
		c = &Config{}
	}
	return &Microcontroller{config: c}
}

// TTY will return the TTY that will be used
func (mc *Microcontroller) TTY() string {
	if mc.config.TTY != "" {
		return mc.config.TTY
	}
	return DefaultTTY
}

// BaudRate will return the baud rate used to connect to the TTY
func (mc *Microcontroller) BaudRate() int {
	if mc.config.BootloaderBaud > 0 {
		return mc.config.BootloaderBaud
	}
	return DefaultBaud
}

func (mc *Microcontroller) setupPins() (err error) {
	if mc.config.ResetGPIO <= 0 {
		return nil
	}
	mc.pinReset, err = gpio.NewOutput(uint(mc.config.ResetGPIO), true)
	if err != nil {
		return
	}
	mc.hasReset = true
	return
}

// enterBootloader resets the chip so that it starts into its bootloader
func (mc *Microcontroller) enterBootloader() {
	if !mc.hasReset {
		return
	}
	mc.pinReset.Low()
	time.Sleep(ResetPulse)
	mc.pinReset.High()
	time.Sleep(BootloaderStartup)
}

// Identify will report the bootloader's id string and the device it will be
// programmed as
func (mc *Microcontroller) Identify() (*Discovery, error) {
	if mc.discovery != nil {
		return mc.discovery, nil
	}

	if !mc.IsOpen() {
		if err := mc.Open(); err != nil {
			return nil, err
		}
		defer mc.Close()
	}

	return mc.discovery, nil
}

// Fuses returns the low and high fuse bytes
func (mc *Microcontroller) Fuses() (lo, hi byte, err error) {
	if !mc.IsOpen() {
		if err = mc.Open(); err != nil {
			return
		}
		defer mc.Close()
	}

	if lo, err = mc.session.ReadFuseLow(); err != nil {
		return
	}
	hi, err = mc.session.ReadFuseHigh()
	return
}

// Open connects to the bootloader and identifies the chip. It does nothing
// when the connection is already open.
func (mc *Microcontroller) Open() (err error) {
	if mc.IsOpen() {
		return nil
	}

	if err = mc.setupPins(); err != nil {
		return errors.Wrap(err, "could not setup pins")
	}
	mc.enterBootloader()

	var t Transport
	if mc.config.BridgeURL != "" {
		t, err = DialWebSocket(mc.config.BridgeURL, mc.config.BridgeAuth)
	} else {
		t, err = OpenSerial(mc.TTY(), mc.BaudRate())
	}
	if err != nil {
		mc.cleanupPins()
		return err
	}

	mc.session = NewSession(t)

	mc.discovery, err = mc.session.Discover()
	if err != nil {
		mc.Close()
		return errors.Wrap(err, "could not find bootloader")
	}

	return nil
}

// Close will close the connection to the bootloader
func (mc *Microcontroller) Close() error {
	var err error
	if mc.session != nil {
		err = mc.session.Transport().Close()
		mc.session = nil
	}
	mc.cleanupPins()
	return err
}

func (mc *Microcontroller) cleanupPins() {
	if mc.hasReset {
		mc.pinReset.Cleanup()
		mc.hasReset = false
	}
}

func (mc *Microcontroller) IsOpen() bool {
	return mc.session != nil
}
