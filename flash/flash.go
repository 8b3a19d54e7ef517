package flash

import (
	"os"

	"github.com/pkg/errors"
)

// FlashPayloadFromFile will flash the raw binary image at filePath. The file
// is loaded at address zero.
func (mc *Microcontroller) FlashPayloadFromFile(filePath string) (*Result, error) {
	bs, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	return mc.FlashPayload(bs)
}

// FlashPayload will erase the chip and program the payload provided, starting
// at address zero. Bytes past the end of the payload are left erased.
func (mc *Microcontroller) FlashPayload(bs []byte) (*Result, error) {
	if !mc.IsOpen() {
		if err := mc.Open(); err != nil {
			return nil, err
		}
		defer mc.Close()
	}

	dev, err := LookupDevice(mc.discovery.Selected)
	if err != nil {
		return nil, err
	}

	if uint32(len(bs)) > dev.Geometry.FlashSize {
		return nil, errors.Errorf("payload is %d bytes, %s flash is %d", len(bs), dev, dev.Geometry.FlashSize)
	}

	image := padImage(bs, int(dev.Geometry.FlashSize))

	return mc.session.Flash(image, dev.Type, &ProgramOptions{
		MaxRetries: mc.config.MaxRetries,
		Progress:   mc.config.Progress,
	})
}
