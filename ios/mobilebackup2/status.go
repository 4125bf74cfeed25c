package mobilebackup2

import (
	"os"
	"path/filepath"

	ios "github.com/ios-toolkit/go-idevicebackup/ios"
)

// SnapshotState is the ordinal stage within a single backup, as reported
// by the device's Status.plist. Forward progress is the norm; the only
// permitted backward move is re-entering Waiting after a transient
// timeout (see advance).
type SnapshotState int

const (
	SnapshotUninitialized SnapshotState = iota
	SnapshotWaiting
	SnapshotModeling
	SnapshotMetadata
	SnapshotRunning
	SnapshotFinished
)

func (s SnapshotState) String() string {
	switch s {
	case SnapshotWaiting:
		return "Waiting"
	case SnapshotModeling:
		return "Modeling"
	case SnapshotMetadata:
		return "Metadata"
	case SnapshotRunning:
		return "Running"
	case SnapshotFinished:
		return "Finished"
	default:
		return "Uninitialized"
	}
}

func snapshotStateFromString(s string) SnapshotState {
	switch s {
	case "Waiting":
		return SnapshotWaiting
	case "Modeling":
		return SnapshotModeling
	case "Metadata":
		return SnapshotMetadata
	case "Running":
		return SnapshotRunning
	case "Finished":
		return SnapshotFinished
	default:
		return SnapshotUninitialized
	}
}

// Status is the decoded contents of the device-supplied Status.plist.
type Status struct {
	SnapshotState SnapshotState
	BackupState   string
	Date          string
	Version       string
	UUID          string
	IsFullBackup  bool
}

type wireStatus struct {
	SnapshotState string
	BackupState   string
	Date          string
	Version       string
	UUID          string
	IsFullBackup  bool
}

func statusFromPlist(data []byte) (Status, error) {
	var wire wireStatus
	if err := ios.DecodePlist(data, &wire); err != nil {
		return Status{}, err
	}
	return Status{
		SnapshotState: snapshotStateFromString(wire.SnapshotState),
		BackupState:   wire.BackupState,
		Date:          wire.Date,
		Version:       wire.Version,
		UUID:          wire.UUID,
		IsFullBackup:  wire.IsFullBackup,
	}, nil
}

func readStatusFile(backupRoot, udid string) (Status, error) {
	path := filepath.Join(backupRoot, udid, "Status.plist")
	data, err := os.ReadFile(path)
	if err != nil {
		return Status{}, err
	}
	return statusFromPlist(data)
}

// advance applies next to the engine's tracked state, enforcing the
// forward-only invariant: any backward move is rejected unless it is a
// re-entry into Waiting, which the message loop uses to signal a transient
// read-timeout retry.
func advance(current, next SnapshotState) SnapshotState {
	if next == SnapshotWaiting || next >= current {
		return next
	}
	return current
}
