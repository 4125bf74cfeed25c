package ios

import (
	"bytes"
	"fmt"
	"net"
	"runtime"
	"strings"

	plist "howett.net/plist"
)

// readDevicesRequest is the usbmuxd request that asks for the full
// DeviceList snapshot.
type readDevicesRequest struct {
	MessageType         string
	ProgName             string
	ClientVersionString string
}

func newReadDevicesRequest() readDevicesRequest {
	return readDevicesRequest{
		MessageType:         "ListDevices",
		ProgName:            "go-idevicebackup",
		ClientVersionString: "go-idevicebackup-0.1",
	}
}

// wireDeviceList and wireDeviceEntry mirror usbmuxd's actual plist shape,
// which is richer than the DeviceEntry this package exposes to callers.
type wireDeviceList struct {
	DeviceList []wireDeviceEntry
}

type wireDeviceEntry struct {
	DeviceID    int
	MessageType string
	Properties  wireDeviceProperties
}

type wireDeviceProperties struct {
	ConnectionSpeed int
	ConnectionType  string
	DeviceID        int
	LocationID      int
	ProductID       int
	SerialNumber    string
	NetworkAddress  []byte
	InterfaceIndex  uint32
}

// deviceListFromBytes parses the raw usbmuxd ListDevices reply into our
// domain DeviceList.
func deviceListFromBytes(plistBytes []byte) (DeviceList, error) {
	decoder := plist.NewDecoder(bytes.NewReader(plistBytes))
	var wire wireDeviceList
	if err := decoder.Decode(&wire); err != nil {
		return DeviceList{}, err
	}
	list := DeviceList{Devices: make([]DeviceEntry, len(wire.DeviceList))}
	for i, d := range wire.DeviceList {
		list.Devices[i] = DeviceEntry{
			DeviceID:       d.DeviceID,
			Udid:           d.Properties.SerialNumber,
			ConnectionType: ConnectionType(d.Properties.ConnectionType),
			NetworkAddress: parseNetworkAddress(d.Properties.NetworkAddress),
			InterfaceIndex: d.Properties.InterfaceIndex,
		}
	}
	return list, nil
}

// sockaddr family values as reported by usbmuxd's NetworkAddress sockaddr
// blob, which mirrors the host-side struct sockaddr layout.
const (
	sockaddrFamilyInet  = 2
	sockaddrFamilyInet6 = 30
)

// parseNetworkAddress decodes a raw struct sockaddr blob into a net.IP, for
// devices usbmuxd reports with ConnectionType Network. The address family
// sits at offset 1 (offset 0 on Windows, which omits sa_len); AF_INET
// carries 4 address bytes starting at offset 4, AF_INET6 carries 16
// address bytes starting at offset 8. Anything else, including an empty
// blob for USB-attached devices, decodes to nil.
func parseNetworkAddress(raw []byte) net.IP {
	familyOffset := 1
	if runtime.GOOS == "windows" {
		familyOffset = 0
	}
	if len(raw) <= familyOffset {
		return nil
	}
	switch raw[familyOffset] {
	case sockaddrFamilyInet:
		if len(raw) < 4+4 {
			return nil
		}
		return net.IP(raw[4 : 4+4])
	case sockaddrFamilyInet6:
		if len(raw) < 8+16 {
			return nil
		}
		return net.IP(raw[8 : 8+16])
	default:
		return nil
	}
}

// String returns a newline separated list of the udids in this DeviceList.
func (deviceList DeviceList) String() string {
	var sb strings.Builder
	for _, d := range deviceList.Devices {
		sb.WriteString(d.Udid)
		sb.WriteString("\n")
	}
	return sb.String()
}

// ListDevices sends a ListDevices request on muxConn and returns the
// resulting DeviceList.
func (muxConn *UsbMuxConnection) ListDevices() (DeviceList, error) {
	err := muxConn.Send(newReadDevicesRequest())
	if err != nil {
		return DeviceList{}, fmt.Errorf("listdevices: failed sending request: %w", err)
	}
	response, err := muxConn.ReadMessage()
	if err != nil {
		return DeviceList{}, fmt.Errorf("listdevices: failed reading response: %w", err)
	}
	return deviceListFromBytes(response.Payload)
}

// ListDevices opens a fresh connection to usbmuxd, requests the current
// DeviceList, and closes the connection again.
func ListDevices() (DeviceList, error) {
	muxConnection, err := NewUsbMuxConnectionSimple()
	if err != nil {
		return DeviceList{}, err
	}
	defer muxConnection.Close()
	return muxConnection.ListDevices()
}

// GetDevice returns the DeviceEntry matching udid. If udid is empty, it
// falls back to the "udid" environment variable, and if that is also
// empty, returns the first currently attached device.
func GetDevice(udid string) (DeviceEntry, error) {
	if udid == "" {
		udid = envUdid()
	}
	deviceList, err := ListDevices()
	if err != nil {
		return DeviceEntry{}, err
	}
	if udid == "" {
		if len(deviceList.Devices) == 0 {
			return DeviceEntry{}, NewError(KindDeviceDisconnected, "no iOS devices are attached to this host", nil)
		}
		return deviceList.Devices[0], nil
	}
	for _, device := range deviceList.Devices {
		if device.Udid == udid {
			return device, nil
		}
	}
	return DeviceEntry{}, NewError(KindDeviceDisconnected, fmt.Sprintf("device %q not found, is it attached?", udid), nil)
}
