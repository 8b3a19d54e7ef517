package flash

import (
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// DiscoveryTimeout is how long each sync attempt waits for the board to answer
var DiscoveryTimeout = 500 * time.Millisecond

const discoveryAttempts = 3
const boardIDLength = 7

// FindBoard looks for a bootloader on the link and returns the identifier it
// answers with. A board that is running its application will not answer; it
// has to be put into the bootloader first.
func (s *Session) FindBoard() (string, error) {
	var resp []byte

	err := s.withTimeout(DiscoveryTimeout, func() error {
		for i := 0; i < discoveryAttempts; i++ {
			if err := s.write(b_AVR_CANCEL, b_AVR_CANCEL, b_AVR_CANCEL, b_AVR_CANCEL, cmdSync); err != nil {
				return err
			}

			bs, err := s.readN(100)
			if err != nil {
				return err
			}
			if len(bs) > 0 {
				resp = bs
				return nil
			}

			logrus.Debugf("no answer to sync (attempt %d)", i+1)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	if len(resp) != boardIDLength {
		return "", errors.Wrapf(ErrBoardNotFound, "got %d bytes", len(resp))
	}

	logrus.Infof("found %s", resp)

	return string(resp), nil
}

// SupportedDevices returns the device types the bootloader reports, in the
// order it lists them
func (s *Session) SupportedDevices() ([]DeviceType, error) {
	if err := s.write(cmdListDevices); err != nil {
		return nil, err
	}

	bs, err := s.readN(500)
	if err != nil {
		return nil, err
	}
	if len(bs) == 0 || bs[len(bs)-1] != 0x00 {
		return nil, &CommandError{Command: "listDevices", Response: bs}
	}

	ids := make([]DeviceType, 0, len(bs)-1)
	for _, b := range bs[:len(bs)-1] {
		ids = append(ids, DeviceType(b))
		logrus.Debugf("bootloader supports %s", DeviceType(b))
	}

	return ids, nil
}

// Discovery is the outcome of Discover
type Discovery struct {
	BoardID string

	// Supported lists every device type the bootloader reported
	Supported []DeviceType

	// Selected is the last reported type, the one the flash is programmed
	// as
	Selected DeviceType
}

// Discover finds the bootloader and picks the device type to program
func (s *Session) Discover() (*Discovery, error) {
	id, err := s.FindBoard()
	if err != nil {
		return nil, err
	}

	types, err := s.SupportedDevices()
	if err != nil {
		return nil, errors.Wrap(err, "could not list supported devices")
	}
	if len(types) == 0 {
		return nil, errors.Wrap(ErrUnknownDeviceType, "bootloader reported no devices")
	}

	if len(types) > 1 {
		logrus.Warnf("bootloader reports %d device types, using the last one (%s)", len(types), types[len(types)-1])
	}

	return &Discovery{
		BoardID:   id,
		Supported: types,
		Selected:  types[len(types)-1],
	}, nil
}
