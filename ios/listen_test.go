package ios

import (
	"net"
	"testing"
)

func TestAttachedMessageFromBytes(t *testing.T) {
	payload := ToPlistBytes(wireAttachedMessage{
		MessageType: "Attached",
		DeviceID:    7,
		Properties: wireDeviceProperties{
			SerialNumber:   "abc123",
			ConnectionType: "USB",
		},
	})

	msg, err := attachedMessageFromBytes(payload)
	if err != nil {
		t.Fatalf("attachedMessageFromBytes returned error: %v", err)
	}
	if msg.MessageType != "Attached" {
		t.Errorf("expected MessageType Attached, got %q", msg.MessageType)
	}
	if msg.DeviceID != 7 {
		t.Errorf("expected DeviceID 7, got %d", msg.DeviceID)
	}
	if msg.Properties.SerialNumber != "abc123" {
		t.Errorf("expected SerialNumber abc123, got %q", msg.Properties.SerialNumber)
	}
}

func TestNewListenRequest(t *testing.T) {
	req := newListenRequest()
	if req.MessageType != "Listen" {
		t.Errorf("expected MessageType Listen, got %q", req.MessageType)
	}
}

func TestParseNetworkAddressInet(t *testing.T) {
	raw := make([]byte, 16)
	raw[1] = sockaddrFamilyInet
	copy(raw[4:8], net.IPv4(192, 168, 1, 42).To4())

	ip := parseNetworkAddress(raw)
	if ip.String() != "192.168.1.42" {
		t.Errorf("expected 192.168.1.42, got %v", ip)
	}
}

func TestParseNetworkAddressInet6(t *testing.T) {
	want := net.ParseIP("fe80::1")
	raw := make([]byte, 28)
	raw[1] = sockaddrFamilyInet6
	copy(raw[8:24], want.To16())

	ip := parseNetworkAddress(raw)
	if !ip.Equal(want) {
		t.Errorf("expected %v, got %v", want, ip)
	}
}

func TestParseNetworkAddressUnknownFamily(t *testing.T) {
	raw := make([]byte, 16)
	raw[1] = 99
	if got := parseNetworkAddress(raw); got != nil {
		t.Errorf("expected nil for unknown family, got %v", got)
	}
}

func TestParseNetworkAddressEmpty(t *testing.T) {
	if got := parseNetworkAddress(nil); got != nil {
		t.Errorf("expected nil for empty address, got %v", got)
	}
}
