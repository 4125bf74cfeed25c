package ios

import "fmt"

// Kind discriminates the error categories a caller of this library needs to
// branch on, per the protocol's error handling design. Use errors.As with
// *Error to recover the Kind from a wrapped error.
type Kind int

const (
	KindUnknown Kind = iota
	KindTransportLost
	KindProtocolViolation
	KindNotLockdown
	KindNotPaired
	KindUserDeniedPairing
	KindPairingRequiresPassword
	KindInvalidHostID
	KindTlsUpgradeFailed
	KindServiceStartFailed
	KindAfcError
	KindDeprecated
	KindDeviceDisconnected
	KindDeviceLocked
	KindPolicyDenied
	KindBackupFileError
)

func (k Kind) String() string {
	switch k {
	case KindTransportLost:
		return "TransportLost"
	case KindProtocolViolation:
		return "ProtocolViolation"
	case KindNotLockdown:
		return "NotLockdown"
	case KindNotPaired:
		return "NotPaired"
	case KindUserDeniedPairing:
		return "UserDeniedPairing"
	case KindPairingRequiresPassword:
		return "PairingRequiresPassword"
	case KindInvalidHostID:
		return "InvalidHostID"
	case KindTlsUpgradeFailed:
		return "TlsUpgradeFailed"
	case KindServiceStartFailed:
		return "ServiceStartFailed"
	case KindAfcError:
		return "AfcError"
	case KindDeprecated:
		return "Deprecated"
	case KindDeviceDisconnected:
		return "DeviceDisconnected"
	case KindDeviceLocked:
		return "DeviceLocked"
	case KindPolicyDenied:
		return "PolicyDenied"
	case KindBackupFileError:
		return "BackupFileError"
	default:
		return "Unknown"
	}
}

// Error is the concrete error type every typed failure in this module is
// wrapped in, so callers can branch on Kind with errors.As instead of
// string-matching.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds a *Error of the given Kind, optionally wrapping a cause.
func NewError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// Is lets errors.Is(err, &Error{Kind: KindX}) match any *Error of the same
// Kind by comparing the Kind field; Message and Err are ignored.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

// IsKind reports whether err (or something it wraps) carries the given Kind.
func IsKind(err error, kind Kind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			if e.Kind == kind {
				return true
			}
			err = e.Err
			continue
		}
		type unwrapper interface{ Unwrap() error }
		u, ok := err.(unwrapper)
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// AfcErrorCode is the additional payload carried by a KindAfcError: the raw
// AFC error code returned by the device's filesystem service. OpWouldBlock
// is the one recoverable code the lock-acquisition retry loop checks for.
type AfcErrorCode int

const (
	AfcErrSuccess         AfcErrorCode = 0
	AfcErrOpWouldBlock    AfcErrorCode = 19
	AfcErrObjectNotFound  AfcErrorCode = 8
	AfcErrPermDenied      AfcErrorCode = 10
)

// AfcError reports a non-zero AFC status code from the on-device filesystem
// service.
type AfcError struct {
	Code AfcErrorCode
}

func (e *AfcError) Error() string {
	return fmt.Sprintf("afc error code %d", e.Code)
}

// IsOpWouldBlock reports whether err is an AfcError carrying OpWouldBlock,
// the transient code the lock-retry loop treats as "try again".
func IsOpWouldBlock(err error) bool {
	var afcErr *AfcError
	for err != nil {
		if e, ok := err.(*AfcError); ok {
			afcErr = e
			break
		}
		type unwrapper interface{ Unwrap() error }
		u, ok := err.(unwrapper)
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return afcErr != nil && afcErr.Code == AfcErrOpWouldBlock
}
