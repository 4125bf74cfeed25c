package mobilebackup2

import (
	"testing"

	ios "github.com/ios-toolkit/go-idevicebackup/ios"
	"github.com/stretchr/testify/assert"
)

// TestDialAgainstRealDevice exercises the full DeviceLink version exchange
// against a real device, skipping when none is attached.
func TestDialAgainstRealDevice(t *testing.T) {
	devices, err := ios.ListDevices()
	if err != nil || len(devices.Devices) == 0 {
		t.Skip("no devices connected")
		return
	}

	link, err := Dial(devices.Devices[0])
	if !assert.NoError(t, err) {
		return
	}
	defer link.Close()
	assert.NotZero(t, link.versionMajor)
}
