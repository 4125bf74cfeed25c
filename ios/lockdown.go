package ios

import (
	"net"

	log "github.com/sirupsen/logrus"
)

// Lockdownport is the TCP port lockdownd always listens on.
const Lockdownport uint16 = 62078

// LockDownConnection lets a caller interact with the lockdown service on
// the device: basic queries, pairing, session start, and starting other
// services.
type LockDownConnection struct {
	deviceConnection DeviceConnectionInterface
	sessionID        string
	plistCodec       PlistCodec
}

// NewLockDownConnection wraps dev in a LockDownConnection with an empty
// session id and a fresh PlistCodec.
func NewLockDownConnection(dev DeviceConnectionInterface) *LockDownConnection {
	return &LockDownConnection{deviceConnection: dev, plistCodec: NewPlistCodec()}
}

// Close stops the active session, if any, then closes the underlying
// DeviceConnection.
func (lockDownConn *LockDownConnection) Close() {
	lockDownConn.StopSession()
	lockDownConn.deviceConnection.Close()
}

// EnableSessionSsl upgrades the underlying connection to TLS using
// pairRecord's host certificate and key.
func (lockDownConn LockDownConnection) EnableSessionSsl(pairRecord PairRecord) error {
	return lockDownConn.deviceConnection.EnableSessionSsl(pairRecord)
}

// Send converts msg to a plist and sends it with a 4 byte length field.
func (lockDownConn LockDownConnection) Send(msg interface{}) error {
	b, err := lockDownConn.plistCodec.Encode(msg)
	if err != nil {
		log.Error("failed lockdown send")
		return err
	}
	return lockDownConn.deviceConnection.Send(b)
}

// ReadMessage reads the next lockdown message and returns the raw plist
// bytes.
func (lockDownConn *LockDownConnection) ReadMessage() ([]byte, error) {
	reader := lockDownConn.deviceConnection.Reader()
	resp, err := lockDownConn.plistCodec.Decode(reader)
	if err != nil {
		return make([]byte, 0), err
	}
	return resp, err
}

func (lockDownConn *LockDownConnection) Conn() net.Conn {
	return lockDownConn.deviceConnection.Conn()
}
