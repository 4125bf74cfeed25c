package mobilebackup2

import (
	"fmt"

	ios "github.com/ios-toolkit/go-idevicebackup/ios"
)

// innerResultError maps the ErrorCode carried inside a DLMessageProcessMessage
// dict to a typed error, per the protocol's documented terminal codes.
func innerResultError(code int, description string) error {
	switch code {
	case -208:
		return ios.NewError(ios.KindDeviceLocked, "device is locked, unlock it to continue the backup", nil)
	case -38, -207:
		return ios.NewError(ios.KindPolicyDenied, deviceErrorMessage(description, "backup denied by device policy"), nil)
	default:
		return ios.NewError(ios.KindProtocolViolation, fmt.Sprintf("device reported backup error %d: %s", code, description), nil)
	}
}

func deviceErrorMessage(description, fallback string) string {
	if description != "" {
		return description
	}
	return fallback
}
