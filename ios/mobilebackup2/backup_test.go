package mobilebackup2

import (
	"testing"

	"github.com/Masterminds/semver"
	ios "github.com/ios-toolkit/go-idevicebackup/ios"
	"github.com/stretchr/testify/assert"
)

func TestPasscodeCheckApplies(t *testing.T) {
	cases := []struct {
		version string
		applies bool
	}{
		{"15.0", false},
		{"15.7.1", true},
		{"15.7.5", true},
		{"15.9.9", true},
		{"16.0", false},
		{"16.0.1", false},
		{"16.1", true},
		{"17.4", true},
	}
	for _, c := range cases {
		v, err := semver.NewVersion(c.version)
		assert.NoError(t, err)
		assert.Equal(t, c.applies, passcodeCheckApplies(v), "version %s", c.version)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	e := NewBackupEngine(ios.DeviceEntry{Udid: "udid-under-test"}, Options{}, nil)
	assert.False(t, e.cancelled())
	e.Stop()
	e.Stop()
	assert.True(t, e.cancelled())
}
