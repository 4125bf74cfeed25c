// Package afc implements Apple File Conduit, the filesystem service the
// backup engine uses to acquire the device-side backup lock and to read
// the /iTunes_Control/iTunes/ sidecar files that Info.plist embeds, which
// travel outside the DeviceLink file transfer sublanguage.
package afc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	ios "github.com/ios-toolkit/go-idevicebackup/ios"
)

const (
	afcMagic      uint64 = 0x4141504c36414643
	afcHeaderSize uint64 = 40
)

const (
	opStatus                = 0x00000001
	opData                  = 0x00000002
	opReadDir                = 0x00000003
	opRemovePath             = 0x00000008
	opMakeDir                = 0x00000009
	opFileInfo               = 0x0000000A
	opDeviceInfo             = 0x0000000B
	opFileOpen               = 0x0000000D
	opFileOpenResult         = 0x0000000E
	opFileRead               = 0x0000000F
	opFileWrite              = 0x00000010
	opFileClose              = 0x00000014
	opRenamePath             = 0x00000018
	opFileLock               = 0x0000001B
	opRemovePathAndContents  = 0x00000022
)

// Mode is the open mode passed to Client.Open, mirroring AFC's own
// open-mode constants.
type Mode uint64

const (
	READ_ONLY                Mode = 0x00000001
	READ_WRITE_CREATE        Mode = 0x00000002
	WRITE_ONLY_CREATE_TRUNC  Mode = 0x00000003
	READ_WRITE_CREATE_TRUNC  Mode = 0x00000004
	WRITE_ONLY_CREATE_APPEND Mode = 0x00000005
	READ_WRITE_CREATE_APPEND Mode = 0x00000006
)

// LockOperation is the flock(2)-style operation passed to Client.Lock,
// used by the backup engine to hold the exclusive lock iTunes-compatible
// tools take on the /com.apple.itunes.lock_sync file handle for the
// duration of a backup.
type LockOperation uint64

const (
	LockShared    LockOperation = 1 | 4 // LOCK_SH | LOCK_NB
	LockExclusive LockOperation = 2 | 4 // LOCK_EX | LOCK_NB
	LockUnlock    LockOperation = 8 | 4 // LOCK_UN | LOCK_NB
)

const (
	errSuccess                = 0
	errUnknown                = 1
	errOperationHeaderInvalid = 2
	errNoResources            = 3
	errReadError              = 4
	errWriteError             = 5
	errUnknownPacketType      = 6
	errInvalidArgument        = 7
	errObjectNotFound         = 8
	errObjectIsDir            = 9
	errPermDenied             = 10
	errServiceNotConnected    = 11
	errOperationTimeout       = 12
	errTooMuchData            = 13
	errEndOfData              = 14
	errOperationNotSupported  = 15
	errObjectExists           = 16
	errObjectBusy             = 17
	errNoSpaceLeft            = 18
	errOperationWouldBlock    = 19
	errIoError                = 20
	errOperationInterrupted   = 21
	errOperationInProgress    = 22
	errInternalError          = 23
	errMuxError               = 30
	errNoMemory               = 31
	errNotEnoughData          = 32
	errDirNotEmpty            = 33
)

var errNames = map[uint64]string{
	errUnknown:                "UnknownError",
	errOperationHeaderInvalid: "OperationHeaderInvalid",
	errNoResources:            "NoResources",
	errReadError:              "ReadError",
	errWriteError:             "WriteError",
	errUnknownPacketType:      "UnknownPacketType",
	errInvalidArgument:        "InvalidArgument",
	errObjectNotFound:         "ObjectNotFound",
	errObjectIsDir:            "ObjectIsDir",
	errPermDenied:             "PermDenied",
	errServiceNotConnected:    "ServiceNotConnected",
	errOperationTimeout:       "OperationTimeout",
	errTooMuchData:            "TooMuchData",
	errEndOfData:              "EndOfData",
	errOperationNotSupported:  "OperationNotSupported",
	errObjectExists:           "ObjectExists",
	errObjectBusy:             "ObjectBusy",
	errNoSpaceLeft:            "NoSpaceLeft",
	errOperationWouldBlock:    "OperationWouldBlock",
	errIoError:                "IoError",
	errOperationInterrupted:   "OperationInterrupted",
	errOperationInProgress:    "OperationInProgress",
	errInternalError:          "InternalError",
	errMuxError:               "MuxError",
	errNoMemory:               "NoMemory",
	errNotEnoughData:          "NotEnoughData",
	errDirNotEmpty:            "DirNotEmpty",
}

// getError wraps a non-zero AFC status code in ios.AfcError, so callers
// outside this package can use ios.IsOpWouldBlock and friends instead of
// matching on this package's own error type.
func getError(errorCode uint64) error {
	if errorCode == errSuccess {
		return nil
	}
	return &ios.AfcError{Code: ios.AfcErrorCode(errorCode)}
}

func errName(code uint64) string {
	if name, ok := errNames[code]; ok {
		return name
	}
	return fmt.Sprintf("code %d", code)
}

func isPermissionDenied(err error) bool {
	var afcErr *ios.AfcError
	return errors.As(err, &afcErr) && afcErr.Code == ios.AfcErrPermDenied
}

type header struct {
	Magic     uint64
	EntireLen uint64
	ThisLen   uint64
	PacketNum uint64
	Operation uint64
}

type packet struct {
	Header        header
	HeaderPayload []byte
	Payload       []byte
}

func decodePacket(reader io.Reader) (packet, error) {
	var h header
	if err := binary.Read(reader, binary.LittleEndian, &h); err != nil {
		return packet{}, err
	}
	if h.Magic != afcMagic {
		return packet{}, fmt.Errorf("afc: wrong magic %x, expected %x", h.Magic, afcMagic)
	}
	headerPayloadLen := h.ThisLen - afcHeaderSize
	headerPayload := make([]byte, headerPayloadLen)
	if headerPayloadLen > 0 {
		if _, err := io.ReadFull(reader, headerPayload); err != nil {
			return packet{}, err
		}
	}
	payloadLen := h.EntireLen - h.ThisLen
	payload := make([]byte, payloadLen)
	if payloadLen > 0 {
		if _, err := io.ReadFull(reader, payload); err != nil {
			return packet{}, err
		}
	}
	return packet{h, headerPayload, payload}, nil
}

func encodePacket(p packet, writer io.Writer) error {
	if err := binary.Write(writer, binary.LittleEndian, p.Header); err != nil {
		return err
	}
	if len(p.HeaderPayload) > 0 {
		if _, err := writer.Write(p.HeaderPayload); err != nil {
			return err
		}
	}
	if len(p.Payload) > 0 {
		if _, err := writer.Write(p.Payload); err != nil {
			return err
		}
	}
	return nil
}
