package mobilebackup2

import (
	"testing"

	ios "github.com/ios-toolkit/go-idevicebackup/ios"
	"github.com/stretchr/testify/assert"
)

func TestInnerResultErrorMapsKnownCodes(t *testing.T) {
	assert.True(t, ios.IsKind(innerResultError(-208, ""), ios.KindDeviceLocked))
	assert.True(t, ios.IsKind(innerResultError(-38, "org policy"), ios.KindPolicyDenied))
	assert.True(t, ios.IsKind(innerResultError(-207, ""), ios.KindPolicyDenied))
	assert.True(t, ios.IsKind(innerResultError(-1, "weird"), ios.KindProtocolViolation))
}
