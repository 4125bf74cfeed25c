package mobilebackup2

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	ios "github.com/ios-toolkit/go-idevicebackup/ios"
	"github.com/stretchr/testify/assert"
)

func TestResolveLocalPathRejectsEscape(t *testing.T) {
	root := t.TempDir()
	udid := "abc123"

	local, err := resolveLocalPath(root, udid, "Manifest.db")
	assert.NoError(t, err)
	assert.Equal(t, filepath.Join(root, udid, "Manifest.db"), local)

	_, err = resolveLocalPath(root, udid, "../../etc/passwd")
	assert.Error(t, err)
	assert.True(t, ios.IsKind(err, ios.KindBackupFileError))
}

func TestResolveLocalPathAllowsBackupRootItself(t *testing.T) {
	root := t.TempDir()
	local, err := resolveLocalPath(root, "udid", ".")
	assert.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "udid"), local)
}

func chunk(code resultCode, payload []byte) []byte {
	buf := new(bytes.Buffer)
	size := int32(len(payload) + 1)
	_ = binary.Write(buf, binary.BigEndian, size)
	buf.WriteByte(byte(code))
	buf.Write(payload)
	return buf.Bytes()
}

func endOfFile() []byte {
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.BigEndian, int32(0))
	return buf.Bytes()
}

func endOfBatch() []byte {
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.BigEndian, int32(-1))
	return buf.Bytes()
}

type nopSink struct{ NoopSink }

func TestReceiveOneFileWritesExactBytes(t *testing.T) {
	root := t.TempDir()
	localPath := filepath.Join(root, "00", "abcdef")
	assert.NoError(t, os.MkdirAll(filepath.Dir(localPath), 0o755))

	var wire bytes.Buffer
	payload := bytes.Repeat([]byte("x"), 1024)
	wire.Write(chunk(resultFileData, payload))
	wire.Write(chunk(resultSuccess, nil))

	file := BackupFile{DevicePath: "/dev/path", BackupPath: "00/abcdef", LocalPath: localPath}
	failed, done, batchEnded, err := receiveOneFile(&wire, file, nopSink{})
	assert.NoError(t, err)
	assert.False(t, failed)
	assert.True(t, done)
	assert.False(t, batchEnded)

	got, err := os.ReadFile(localPath)
	assert.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestReceiveOneFileReportsRemoteError(t *testing.T) {
	var wire bytes.Buffer
	wire.Write(chunk(resultRemoteError, []byte("denied")))

	var sink sinkSpy
	file := BackupFile{DevicePath: "/dev/path", BackupPath: "00/denied"}
	failed, done, batchEnded, err := receiveOneFile(&wire, file, &sink)
	assert.NoError(t, err)
	assert.True(t, failed)
	assert.False(t, done)
	assert.False(t, batchEnded)
	assert.Len(t, sink.transferErrors, 1)
}

func TestReceiveOneFileZeroSizeEndsFileCleanly(t *testing.T) {
	var wire bytes.Buffer
	wire.Write(chunk(resultFileData, []byte("partial")))
	wire.Write(endOfFile())

	localPath := filepath.Join(t.TempDir(), "file")
	file := BackupFile{LocalPath: localPath}
	failed, done, batchEnded, err := receiveOneFile(&wire, file, nopSink{})
	assert.NoError(t, err)
	assert.False(t, failed)
	assert.True(t, done)
	assert.False(t, batchEnded)
}

func TestReceiveOneFileSignalsBatchEnd(t *testing.T) {
	var wire bytes.Buffer
	wire.Write(endOfBatch())

	file := BackupFile{DevicePath: "/dev/path", BackupPath: "00/abcdef"}
	failed, done, batchEnded, err := receiveOneFile(&wire, file, nopSink{})
	assert.NoError(t, err)
	assert.False(t, failed)
	assert.False(t, done)
	assert.True(t, batchEnded)
}

func TestSkipRemainingBatchEntry(t *testing.T) {
	var wire bytes.Buffer
	wire.Write(chunk(resultRemoteError, []byte("denied")))

	batchEnded, err := skipRemainingBatchEntry(&wire)
	assert.NoError(t, err)
	assert.False(t, batchEnded)
	assert.Equal(t, 0, wire.Len())
}

func TestSkipRemainingBatchEntryDetectsBatchEnd(t *testing.T) {
	var wire bytes.Buffer
	wire.Write(endOfBatch())

	batchEnded, err := skipRemainingBatchEntry(&wire)
	assert.NoError(t, err)
	assert.True(t, batchEnded)
}

type sinkSpy struct {
	NoopSink
	transferErrors []BackupFile
}

func (s *sinkSpy) FileTransferError(file BackupFile, err error) {
	s.transferErrors = append(s.transferErrors, file)
}
