// Package mobilebackup2 drives the DeviceLink envelope and the backup
// message loop over the com.apple.mobilebackup2 service connection,
// started the same way any other lockdown service connection is.
package mobilebackup2

import (
	"fmt"
	"io"
	"time"

	ios "github.com/ios-toolkit/go-idevicebackup/ios"
	log "github.com/sirupsen/logrus"
)

const serviceName = "com.apple.mobilebackup2"

// protocolVersionMajor is the DeviceLink major version this client sends
// back in its DLVersionsOk reply.
const protocolVersionMajor = 400

// Link is one open DeviceLink conversation: a plist-framed byte stream plus
// the version both sides agreed on at handshake time.
type Link struct {
	deviceConn ios.DeviceConnectionInterface
	codec      ios.PlistCodec
	versionMajor uint64
	versionMinor uint64
}

// Dial starts com.apple.mobilebackup2 on device and performs the
// DeviceLink version exchange, returning a Link ready for Backup.
func Dial(device ios.DeviceEntry) (*Link, error) {
	deviceConn, err := ios.ConnectToService(device, serviceName)
	if err != nil {
		return nil, fmt.Errorf("mobilebackup2: failed connecting to %s: %w", serviceName, err)
	}
	link := &Link{deviceConn: deviceConn, codec: ios.NewPlistCodec()}
	if err := link.exchangeVersions(); err != nil {
		deviceConn.Close()
		return nil, err
	}
	return link, nil
}

func (link *Link) exchangeVersions() error {
	reader := link.deviceConn.Reader()

	versionBytes, err := link.codec.Decode(reader)
	if err != nil {
		return ios.NewError(ios.KindProtocolViolation, "failed reading DLMessageVersionExchange", err)
	}
	arr, err := decodeArray(versionBytes)
	if err != nil || tagOf(arr) != dlMessageVersionExchange || len(arr) < 3 {
		return ios.NewError(ios.KindProtocolViolation, fmt.Sprintf("handshake failed, expected DLMessageVersionExchange, got %+v", arr), err)
	}
	major, ok := float64At(arr, 1)
	if !ok {
		return ios.NewError(ios.KindProtocolViolation, "version exchange missing major version", nil)
	}
	minor, _ := float64At(arr, 2)
	link.versionMajor = uint64(major)
	link.versionMinor = uint64(minor)

	reply, err := link.codec.Encode(plistArray{dlMessageVersionExchange, "DLVersionsOk", protocolVersionMajor})
	if err != nil {
		return err
	}
	if err := link.deviceConn.Send(reply); err != nil {
		return ios.NewError(ios.KindTransportLost, "failed sending DLVersionsOk", err)
	}

	readyBytes, err := link.codec.Decode(reader)
	if err != nil {
		return ios.NewError(ios.KindProtocolViolation, "failed reading DLMessageDeviceReady", err)
	}
	readyArr, err := decodeArray(readyBytes)
	if err != nil || tagOf(readyArr) != dlMessageDeviceReady {
		return ios.NewError(ios.KindProtocolViolation, fmt.Sprintf("handshake failed, expected DLMessageDeviceReady, got %+v", readyArr), err)
	}

	log.WithFields(log.Fields{"major": link.versionMajor, "minor": link.versionMinor}).Debug("mobilebackup2 version exchange complete")
	return nil
}

// Send encodes arr as a plist and writes it with the DeviceLink framing.
func (link *Link) Send(arr plistArray) error {
	b, err := link.codec.Encode(arr)
	if err != nil {
		return err
	}
	if err := link.deviceConn.Send(b); err != nil {
		return ios.NewError(ios.KindTransportLost, "failed sending DeviceLink message", err)
	}
	return nil
}

// Receive blocks for the next DeviceLink message and decodes it to a
// plistArray.
func (link *Link) Receive() (plistArray, error) {
	b, err := link.codec.Decode(link.deviceConn.Reader())
	if err != nil {
		if err == io.EOF {
			return nil, ios.NewError(ios.KindDeviceDisconnected, "device closed the mobilebackup2 connection", err)
		}
		return nil, ios.NewError(ios.KindTransportLost, "failed reading DeviceLink message", err)
	}
	return decodeArray(b)
}

// Reader exposes the raw byte stream, used by the file server to read
// streamed file chunks outside of the plist envelope.
func (link *Link) Reader() io.Reader {
	return link.deviceConn.Reader()
}

// SetReadDeadline arms the read timeout the message loop uses to treat a
// stalled device as a transient "not ready" event rather than a fatal
// transport failure.
func (link *Link) SetReadDeadline(deadline time.Time) error {
	return link.deviceConn.Conn().SetReadDeadline(deadline)
}

// Close tells the device the conversation is over and closes the
// underlying connection.
func (link *Link) Close() error {
	_ = link.Send(plistArray{dlMessageDisconnect})
	return link.deviceConn.Close()
}
