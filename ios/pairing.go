package ios

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.mozilla.org/pkcs7"
	plist "howett.net/plist"
)

// PairRecord is the persisted state of a successful pairing with a device:
// the host/root certificate chain lockdown issued, the HostID and
// SystemBUID used to resume a session without re-pairing, and the escrow
// bag iTunes-compatible tools use for passcode-less re-pairing.
type PairRecord struct {
	DeviceCertificate []byte
	HostPrivateKey    []byte
	HostCertificate   []byte
	RootPrivateKey    []byte
	RootCertificate   []byte
	SystemBUID        string
	HostID            string
	EscrowBag         []byte
	WiFiMACAddress    string
}

func pairRecordDir() string {
	if dir := os.Getenv("IDEVICEBACKUP_PAIR_RECORD_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".idevicebackup"
	}
	return filepath.Join(home, ".idevicebackup", "pairrecords")
}

func pairRecordPath(udid string) string {
	return filepath.Join(pairRecordDir(), fmt.Sprintf("%s.plist", udid))
}

// SavePairRecord persists record under a local path keyed by udid.
func SavePairRecord(udid string, record PairRecord) error {
	dir := pairRecordDir()
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return NewError(KindBackupFileError, "failed creating pair record directory", err)
	}
	return os.WriteFile(pairRecordPath(udid), ToPlistBytes(record), 0o600)
}

// clearPairRecord removes the locally saved pair record for udid, if any.
// A missing file is not an error: there was nothing to clear.
func clearPairRecord(udid string) error {
	err := os.Remove(pairRecordPath(udid))
	if err != nil && !os.IsNotExist(err) {
		return NewError(KindBackupFileError, "failed clearing stale pair record", err)
	}
	return nil
}

// ReadPairRecord loads the pair record saved for udid by a prior call to
// Pair.
func ReadPairRecord(udid string) (PairRecord, error) {
	data, err := os.ReadFile(pairRecordPath(udid))
	if err != nil {
		return PairRecord{}, NewError(KindNotPaired, fmt.Sprintf("no pair record for device %s, pair it first", udid), err)
	}
	var record PairRecord
	if err := DecodePlist(data, &record); err != nil {
		return PairRecord{}, NewError(KindNotPaired, "failed decoding pair record", err)
	}
	return record, nil
}

// DecodePlist decodes plist bytes into dest.
func DecodePlist(data []byte, dest interface{}) error {
	decoder := plist.NewDecoder(bytes.NewReader(data))
	return decoder.Decode(dest)
}

// readPairRecordRequest asks usbmuxd for the pair record it has cached for
// a udid, independently of lockdown. SavePairRecord writes only the local
// copy; nothing in this package sends a record to usbmuxd.
type readPairRecordRequest struct {
	MessageType  string
	PairRecordID string
}

type readPairRecordResponse struct {
	PairRecordData []byte
}

// ReadPair asks usbmuxd for the pair record of the given udid. usbmuxd is
// the on-disk source of truth for pair records on a real host; we keep our
// own copy in ReadPairRecord/SavePairRecord for when usbmuxd's copy hasn't
// been seeded yet (first pairing in this process).
func (muxConn *UsbMuxConnection) ReadPair(udid string) (PairRecord, error) {
	err := muxConn.Send(readPairRecordRequest{MessageType: "ReadPairRecord", PairRecordID: udid})
	if err != nil {
		return PairRecord{}, err
	}
	resp, err := muxConn.ReadMessage()
	if err != nil {
		return PairRecord{}, err
	}
	var wire readPairRecordResponse
	if err := DecodePlist(resp.Payload, &wire); err != nil || len(wire.PairRecordData) == 0 {
		return ReadPairRecord(udid)
	}
	var record PairRecord
	if err := DecodePlist(wire.PairRecordData, &record); err != nil {
		return ReadPairRecord(udid)
	}
	return record, nil
}

// NewHostID generates a fresh, upper-case HostID/GUID suitable for pairing
// and Info.plist assembly.
func NewHostID() string {
	return strings.ToUpper(uuid.NewString())
}

// NewSystemBUID generates a fresh host "system buid", the identifier
// iTunes-compatible tools use to tell one host apart from another across
// many paired devices.
func NewSystemBUID() string {
	return strings.ToUpper(uuid.NewString())
}

type pairRequest struct {
	Label           string
	Request         string
	ProtocolVersion string
	PairRecord      pairRecordPayload
	PairingOptions  map[string]interface{}
}

type pairRecordPayload struct {
	DeviceCertificate []byte
	HostCertificate   []byte
	RootCertificate   []byte
	HostID            string
	SystemBUID        string
}

type pairResponse struct {
	EscrowBag     []byte
	Error         string
	DeviceCertificate []byte
}

func pairResponseFromBytes(data []byte) pairResponse {
	var resp pairResponse
	_ = DecodePlist(data, &resp)
	return resp
}

// Pair runs the lockdown pairing state machine against device: it fetches
// the device's public key, mints a certificate chain, and submits a Pair
// request, retrying while the device reports the pairing dialog is still
// pending (the user has to tap "Trust" on the handheld) and failing with a
// typed error for every other rejection lockdown can report.
func Pair(device DeviceEntry) (PairRecord, error) {
	lockdown, err := connectLockdownForPairing(device)
	if err != nil {
		return PairRecord{}, err
	}
	defer lockdown.deviceConnection.Close()

	devicePublicKey, err := queryDevicePublicKey(lockdown)
	if err != nil {
		return PairRecord{}, err
	}

	rootCert, hostCert, deviceCert, rootKey, hostKey, err := createRootCertificate(devicePublicKey)
	if err != nil {
		return PairRecord{}, NewError(KindProtocolViolation, "failed generating pairing certificates", err)
	}

	hostID := NewHostID()
	systemBUID := NewSystemBUID()

	backoff := 200 * time.Millisecond
	const maxBackoff = 30 * time.Second
	retriedInvalidHostID := false
	for {
		req := pairRequest{
			Label:           "go.idevicebackup",
			Request:         "Pair",
			ProtocolVersion: "2",
			PairRecord: pairRecordPayload{
				DeviceCertificate: deviceCert,
				HostCertificate:   hostCert,
				RootCertificate:   rootCert,
				HostID:            hostID,
				SystemBUID:        systemBUID,
			},
			PairingOptions: map[string]interface{}{"ExtendedPairingErrors": true},
		}
		if err := lockdown.Send(req); err != nil {
			return PairRecord{}, err
		}
		respBytes, err := lockdown.ReadMessage()
		if err != nil {
			return PairRecord{}, err
		}
		resp := pairResponseFromBytes(respBytes)
		switch resp.Error {
		case "":
			record := PairRecord{
				DeviceCertificate: deviceCert,
				HostPrivateKey:    hostKey,
				HostCertificate:   hostCert,
				RootPrivateKey:    rootKey,
				RootCertificate:   rootCert,
				SystemBUID:        systemBUID,
				HostID:            hostID,
				EscrowBag:         resp.EscrowBag,
			}
			validateEscrowBag(record.EscrowBag)
			if err := SavePairRecord(device.Udid, record); err != nil {
				return PairRecord{}, err
			}
			return record, nil
		case "PasswordProtected":
			return PairRecord{}, NewError(KindPairingRequiresPassword, "device requires a passcode before pairing", nil)
		case "PairingDialogResponsePending":
			log.WithField("udid", device.Udid).Debug("waiting for user to confirm pairing on device")
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		case "UserDeniedPairing":
			return PairRecord{}, NewError(KindUserDeniedPairing, "user denied the pairing request on the device", nil)
		case "InvalidHostID":
			if retriedInvalidHostID {
				return PairRecord{}, NewError(KindInvalidHostID, "device rejected our HostID, pair records may be out of sync", nil)
			}
			retriedInvalidHostID = true
			log.WithField("udid", device.Udid).Debug("device rejected our HostID, clearing the local pair record and retrying once")
			if err := clearPairRecord(device.Udid); err != nil {
				return PairRecord{}, err
			}
			hostID = NewHostID()
			systemBUID = NewSystemBUID()
			continue
		default:
			return PairRecord{}, NewError(KindProtocolViolation, fmt.Sprintf("pairing failed: %s", resp.Error), nil)
		}
	}
}

func connectLockdownForPairing(device DeviceEntry) (*LockDownConnection, error) {
	muxConn, err := NewUsbMuxConnectionSimple()
	if err != nil {
		return nil, fmt.Errorf("pair: could not connect to usbmuxd: %w", err)
	}
	lockdown, err := muxConn.ConnectLockdown(device.DeviceID)
	if err != nil {
		return nil, fmt.Errorf("pair: could not connect to lockdown: %w", err)
	}
	return lockdown, nil
}

type getPublicKeyRequest struct {
	Label   string
	Key     string
	Request string
}

type getPublicKeyResponse struct {
	Key   []byte
	Error string
}

func queryDevicePublicKey(lockdown *LockDownConnection) ([]byte, error) {
	err := lockdown.Send(getPublicKeyRequest{Label: "go.idevicebackup", Key: "DevicePublicKey", Request: "GetValue"})
	if err != nil {
		return nil, err
	}
	respBytes, err := lockdown.ReadMessage()
	if err != nil {
		return nil, err
	}
	var resp getPublicKeyResponse
	if err := DecodePlist(respBytes, &resp); err != nil {
		return nil, NewError(KindProtocolViolation, "failed decoding DevicePublicKey response", err)
	}
	if resp.Error != "" {
		return nil, NewError(KindProtocolViolation, fmt.Sprintf("could not read DevicePublicKey: %s", resp.Error), nil)
	}
	if len(resp.Key) == 0 {
		return nil, NewError(KindProtocolViolation, "device returned an empty DevicePublicKey", nil)
	}
	return resp.Key, nil
}

// validateEscrowBag parses the PKCS#7 signed-data structure an escrow bag
// carries, purely to confirm it decodes and to log the signer count. The
// spec only asks this library to carry the bag opaquely; we never need its
// plaintext, so a parse failure is logged, not propagated.
func validateEscrowBag(escrowBag []byte) {
	if len(escrowBag) == 0 {
		return
	}
	p7, err := pkcs7.Parse(escrowBag)
	if err != nil {
		log.WithError(err).Debug("escrow bag did not parse as PKCS#7, carrying it opaquely")
		return
	}
	log.WithField("signers", len(p7.Signers)).Debug("escrow bag parsed")
}
