package ios

import (
	"bytes"
	"context"

	log "github.com/sirupsen/logrus"
	plist "howett.net/plist"
)

// listenRequest is the usbmuxd request that subscribes this connection to
// device attach/detach notifications. Once sent, usbmuxd keeps pushing
// AttachedMessage/DetachedMessage frames on the same connection until it is
// closed.
type listenRequest struct {
	MessageType         string
	ProgName             string
	ClientVersionString string
	ConnType             int
}

func newListenRequest() listenRequest {
	return listenRequest{
		MessageType:         "Listen",
		ProgName:            "go-idevicebackup",
		ClientVersionString: "usbmuxd-471.8.1",
		ConnType:             1,
	}
}

// wireAttachedMessage mirrors the subset of usbmuxd's Attached/Detached
// notification shape this package cares about.
type wireAttachedMessage struct {
	MessageType string
	DeviceID    int
	Properties  wireDeviceProperties
}

// DeviceEvent is one attach or detach notification delivered by Listen.
type DeviceEvent struct {
	Attached bool
	Device   DeviceEntry
}

func attachedMessageFromBytes(plistBytes []byte) (wireAttachedMessage, error) {
	decoder := plist.NewDecoder(bytes.NewReader(plistBytes))
	var msg wireAttachedMessage
	err := decoder.Decode(&msg)
	return msg, err
}

// Listen subscribes muxConn to usbmuxd's attach/detach feed and streams
// DeviceEvent values on the returned channel until ctx is cancelled or the
// underlying connection is lost. The channel is closed on return; muxConn is
// not closed by Listen, callers own its lifetime.
func Listen(ctx context.Context, muxConn *UsbMuxConnection) (<-chan DeviceEvent, error) {
	if err := muxConn.Send(newListenRequest()); err != nil {
		return nil, err
	}
	response, err := muxConn.ReadMessage()
	if err != nil {
		return nil, err
	}
	if !MuxResponsefromBytes(response.Payload).IsSuccessFull() {
		return nil, NewError(KindProtocolViolation, "usbmuxd rejected Listen request", nil)
	}

	events := make(chan DeviceEvent)
	go func() {
		defer close(events)
		for {
			msg, err := muxConn.ReadMessage()
			if err != nil {
				log.WithError(err).Debug("usbmuxd listen loop ending")
				return
			}
			wire, err := attachedMessageFromBytes(msg.Payload)
			if err != nil {
				log.WithError(err).Warn("failed to decode usbmuxd attach/detach notification")
				continue
			}
			event := DeviceEvent{
				Attached: wire.MessageType == "Attached",
				Device: DeviceEntry{
					DeviceID:       wire.DeviceID,
					Udid:           wire.Properties.SerialNumber,
					ConnectionType: ConnectionType(wire.Properties.ConnectionType),
					NetworkAddress: parseNetworkAddress(wire.Properties.NetworkAddress),
					InterfaceIndex: wire.Properties.InterfaceIndex,
				},
			}
			select {
			case events <- event:
			case <-ctx.Done():
				return
			}
		}
	}()
	return events, nil
}
