package ios

import (
	"fmt"
)

type connectMessage struct {
	BundleID            string
	ClientVersionString string
	MessageType         string
	ProgName            string
	LibUSBMuxVersion    uint32 `plist:"kLibUSBMuxVersion"`
	DeviceID            uint32
	PortNumber          uint16
}

func newConnectMessage(deviceID int, portNumber uint16) connectMessage {
	return connectMessage{
		BundleID:            "go.idevicebackup.control",
		ClientVersionString: "go-idevicebackup-0.1",
		MessageType:         "Connect",
		ProgName:            "go-idevicebackup",
		LibUSBMuxVersion:    3,
		DeviceID:            uint32(deviceID),
		PortNumber:          portNumber,
	}
}

// Connect issues a Connect request to usbmuxd for deviceID on port. After
// this call succeeds, muxConn's underlying connection is the service
// connection, not a usbmux connection anymore.
func (muxConn *UsbMuxConnection) Connect(deviceID int, port uint16) error {
	msg := newConnectMessage(deviceID, Ntohs(port))
	if err := muxConn.Send(msg); err != nil {
		return err
	}
	resp, err := muxConn.ReadMessage()
	if err != nil {
		return err
	}
	response := MuxResponsefromBytes(resp.Payload)
	if response.IsSuccessFull() {
		return nil
	}
	return NewError(KindServiceStartFailed, fmt.Sprintf("failed connecting to service, usbmux error code %d", response.Number), nil)
}

// ConnectLockdown connects muxConn to the lockdown service that always
// listens on Lockdownport. After this call, muxConn itself can no longer
// be used; only the returned LockDownConnection can.
func (muxConn *UsbMuxConnection) ConnectLockdown(deviceID int) (*LockDownConnection, error) {
	msg := newConnectMessage(deviceID, Ntohs(Lockdownport))
	if err := muxConn.Send(msg); err != nil {
		return nil, err
	}
	resp, err := muxConn.ReadMessage()
	if err != nil {
		return nil, err
	}
	response := MuxResponsefromBytes(resp.Payload)
	if !response.IsSuccessFull() {
		return nil, NewError(KindNotLockdown, fmt.Sprintf("failed connecting to lockdown, usbmux error code %d", response.Number), nil)
	}
	lockdown := &LockDownConnection{muxConn.deviceConn, "", NewPlistCodec()}
	if err := lockdown.queryType(); err != nil {
		return nil, err
	}
	return lockdown, nil
}

type queryTypeRequest struct {
	Label   string
	Request string
}

type queryTypeResponse struct {
	Type  string
	Error string
}

// queryType performs lockdown's own handshake query, confirming the
// service speaking on the other end is actually lockdownd and not
// something else usbmux happened to connect to on that port.
func (lockDownConn *LockDownConnection) queryType() error {
	if err := lockDownConn.Send(queryTypeRequest{Label: "go.idevicebackup", Request: "QueryType"}); err != nil {
		return err
	}
	respBytes, err := lockDownConn.ReadMessage()
	if err != nil {
		return err
	}
	var resp queryTypeResponse
	if err := DecodePlist(respBytes, &resp); err != nil {
		return NewError(KindNotLockdown, "failed decoding QueryType response", err)
	}
	if resp.Error != "" {
		return NewError(KindNotLockdown, fmt.Sprintf("lockdown QueryType failed: %s", resp.Error), nil)
	}
	if resp.Type != "com.apple.mobile.lockdown" {
		return NewError(KindNotLockdown, fmt.Sprintf("expected com.apple.mobile.lockdown, got %q", resp.Type), nil)
	}
	return nil
}

// ConnectToService starts serviceName on device via a paired lockdown
// session and connects to it, returning the raw connection ready for the
// service's own codec.
func ConnectToService(device DeviceEntry, serviceName string) (DeviceConnectionInterface, error) {
	startServiceResponse, err := StartService(device, serviceName)
	if err != nil {
		return nil, err
	}
	pairRecord, err := ReadPairRecord(device.Udid)
	if err != nil {
		return nil, err
	}

	muxConn, err := NewUsbMuxConnectionSimple()
	if err != nil {
		return nil, fmt.Errorf("connectToService: could not connect to usbmuxd socket, is it running? %w", err)
	}
	err = muxConn.connectWithStartServiceResponse(device.DeviceID, startServiceResponse, pairRecord)
	if err != nil {
		return nil, err
	}
	return muxConn.ReleaseDeviceConnection(), nil
}

// connectWithStartServiceResponse connects to the service port
// startServiceResponse describes and enables TLS on it if requested.
func (muxConn *UsbMuxConnection) connectWithStartServiceResponse(deviceID int, startServiceResponse StartServiceResponse, pairRecord PairRecord) error {
	if err := muxConn.Connect(deviceID, startServiceResponse.Port); err != nil {
		return err
	}
	if startServiceResponse.EnableServiceSSL {
		if err := muxConn.deviceConn.EnableSessionSsl(pairRecord); err != nil {
			return err
		}
	}
	return nil
}

// ConnectLockdownWithSession opens usbmuxd, connects to lockdown, and
// starts a session using the on-disk pair record for device.
func ConnectLockdownWithSession(device DeviceEntry) (*LockDownConnection, error) {
	muxConnection, err := NewUsbMuxConnectionSimple()
	if err != nil {
		return nil, fmt.Errorf("connectLockdownWithSession: usbmux connection failed: %w", err)
	}
	defer muxConnection.ReleaseDeviceConnection()

	pairRecord, err := muxConnection.ReadPair(device.Udid)
	if err != nil {
		return nil, fmt.Errorf("connectLockdownWithSession: could not retrieve pair record: %w", err)
	}

	lockdownConnection, err := muxConnection.ConnectLockdown(device.DeviceID)
	if err != nil {
		return nil, fmt.Errorf("connectLockdownWithSession: lockdown connection failed: %w", err)
	}
	resp, err := lockdownConnection.StartSession(pairRecord)
	if err != nil {
		return nil, fmt.Errorf("connectLockdownWithSession: startSession failed: %+v error: %w", resp, err)
	}
	return lockdownConnection, nil
}
