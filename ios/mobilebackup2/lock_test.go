package mobilebackup2

import (
	"testing"

	ios "github.com/ios-toolkit/go-idevicebackup/ios"
	"github.com/stretchr/testify/assert"
)

// TestAcquireSyncLockAgainstRealDevice exercises the full itunes-client sync
// handshake against a real device, skipping when none is attached,
// following the afc package's pattern of integration tests that degrade to
// a skip rather than a failure in CI.
func TestAcquireSyncLockAgainstRealDevice(t *testing.T) {
	devices, err := ios.ListDevices()
	if err != nil || len(devices.Devices) == 0 {
		t.Skip("no devices connected")
		return
	}

	device := devices.Devices[0]
	lock, err := acquireSyncLock(device)
	if !assert.NoError(t, err) {
		return
	}
	assert.NotNil(t, lock.lockFile)
	lock.release()
	assert.Nil(t, lock.lockFile)

	// release is idempotent.
	lock.release()
}
