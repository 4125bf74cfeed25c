package mobilebackup2

import (
	ios "github.com/ios-toolkit/go-idevicebackup/ios"
	log "github.com/sirupsen/logrus"
)

const notificationProxyServiceName = "com.apple.mobile.notification_proxy"

// notifier posts the sync lifecycle notifications the lock-acquisition
// protocol expects, trimmed to the one-way PostNotification command the
// backup engine needs; it never observes notifications back from the
// device.
type notifier struct {
	deviceConn ios.DeviceConnectionInterface
	codec      ios.PlistCodec
}

type notificationProxyRequest struct {
	Command string
	Name    string `plist:"Name,omitempty"`
}

func newNotifier(device ios.DeviceEntry) (*notifier, error) {
	deviceConn, err := ios.ConnectToService(device, notificationProxyServiceName)
	if err != nil {
		return nil, err
	}
	return &notifier{deviceConn: deviceConn, codec: ios.NewPlistCodec()}, nil
}

func (n *notifier) post(name string) error {
	b, err := n.codec.Encode(notificationProxyRequest{Command: "PostNotification", Name: name})
	if err != nil {
		return err
	}
	log.WithField("notification", name).Debug("posting notification")
	return n.deviceConn.Send(b)
}

func (n *notifier) close() {
	b, err := n.codec.Encode(notificationProxyRequest{Command: "Shutdown"})
	if err == nil {
		_ = n.deviceConn.Send(b)
	}
	n.deviceConn.Close()
}
