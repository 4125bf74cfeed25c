package mobilebackup2

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAdvanceNeverMovesBackward(t *testing.T) {
	assert.Equal(t, SnapshotModeling, advance(SnapshotModeling, SnapshotUninitialized))
	assert.Equal(t, SnapshotRunning, advance(SnapshotRunning, SnapshotMetadata))
}

func TestAdvanceAllowsForwardProgress(t *testing.T) {
	assert.Equal(t, SnapshotMetadata, advance(SnapshotModeling, SnapshotMetadata))
	assert.Equal(t, SnapshotFinished, advance(SnapshotRunning, SnapshotFinished))
}

func TestAdvanceAllowsReentryIntoWaiting(t *testing.T) {
	assert.Equal(t, SnapshotWaiting, advance(SnapshotRunning, SnapshotWaiting))
	assert.Equal(t, SnapshotWaiting, advance(SnapshotFinished, SnapshotWaiting))
}

func TestSnapshotStateStringRoundTrip(t *testing.T) {
	for _, s := range []SnapshotState{SnapshotUninitialized, SnapshotWaiting, SnapshotModeling, SnapshotMetadata, SnapshotRunning, SnapshotFinished} {
		assert.Equal(t, s, snapshotStateFromString(s.String()))
	}
}

func TestStatusFromPlist(t *testing.T) {
	data := []byte(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>SnapshotState</key>
	<string>Running</string>
	<key>BackupState</key>
	<string>new</string>
	<key>UUID</key>
	<string>ABCD</string>
	<key>IsFullBackup</key>
	<true/>
</dict>
</plist>`)

	status, err := statusFromPlist(data)
	assert.NoError(t, err)
	assert.Equal(t, SnapshotRunning, status.SnapshotState)
	assert.Equal(t, "new", status.BackupState)
	assert.Equal(t, "ABCD", status.UUID)
	assert.True(t, status.IsFullBackup)
}
