package afc

import (
	"bytes"
	"errors"
	"fmt"

	ios "github.com/ios-toolkit/go-idevicebackup/ios"
	plist "howett.net/plist"
)

const houseArrestServiceName = "com.apple.mobile.house_arrest"

// NewWithHouseArrest vends bundleID's container through house arrest and
// returns an AFC Client rooted at that container.
func NewWithHouseArrest(device ios.DeviceEntry, bundleID string) (*Client, error) {
	deviceConn, err := ios.ConnectToService(device, houseArrestServiceName)
	if err != nil {
		return nil, fmt.Errorf("afc: error connecting to house arrest: %w", err)
	}
	if err := vendContainer(deviceConn, bundleID); err != nil {
		deviceConn.Close()
		return nil, err
	}
	return NewWithDeviceConnection(deviceConn), nil
}

func vendContainer(deviceConn ios.DeviceConnectionInterface, bundleID string) error {
	plistCodec := ios.NewPlistCodec()
	msg, err := plistCodec.Encode(map[string]interface{}{"Command": "VendContainer", "Identifier": bundleID})
	if err != nil {
		return fmt.Errorf("afc: vendContainer encoding failed: %w", err)
	}
	if err := deviceConn.Send(msg); err != nil {
		return err
	}
	response, err := plistCodec.Decode(deviceConn.Reader())
	if err != nil {
		return err
	}
	return checkVendContainerResponse(response)
}

type vendContainerResponse struct {
	Status string
	Error  string
}

func checkVendContainerResponse(data []byte) error {
	var resp vendContainerResponse
	decoder := plist.NewDecoder(bytes.NewReader(data))
	if err := decoder.Decode(&resp); err != nil {
		return err
	}
	if resp.Status == "Complete" {
		return nil
	}
	if resp.Error != "" {
		return errors.New(resp.Error)
	}
	return errors.New("afc: unknown error vending container")
}
