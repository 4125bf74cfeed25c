package mobilebackup2

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	ios "github.com/ios-toolkit/go-idevicebackup/ios"
)

// resultCode is the one-byte tag that precedes every chunk in the file
// reception sublanguage.
type resultCode byte

const (
	resultSuccess     resultCode = 0x00
	resultFileNotFound resultCode = 0x06
	resultRemoteError  resultCode = 0x0B
	resultFileData     resultCode = 0x0C
)

const chunkBufferSize = 32 * 1024

// resolveLocalPath joins backupRoot/udid with backupPath and verifies the
// result stays inside that directory, rejecting ".." segments after
// normalization the way the protocol's own path-safety rule requires.
func resolveLocalPath(backupRoot, udid, backupPath string) (string, error) {
	root := filepath.Join(backupRoot, udid)
	local := filepath.Join(root, filepath.FromSlash(backupPath))
	if local != root && !strings.HasPrefix(local, root+string(filepath.Separator)) {
		return "", ios.NewError(ios.KindBackupFileError, fmt.Sprintf("backup path %q escapes the backup root", backupPath), nil)
	}
	return local, nil
}

// receiveFiles drains one DLMessageDownloadFiles batch from link, writing
// each file under backupRoot/udid and reporting progress through sink. It
// returns the files that failed to transfer; a per-file failure never
// aborts the batch.
func receiveFiles(link *Link, backupRoot, udid string, requests []backupFileRequest, sink Sink) ([]BackupFile, error) {
	var failed []BackupFile
	reader := link.Reader()

	for _, req := range requests {
		file := BackupFile{DevicePath: req.devicePath, BackupPath: req.backupPath}

		localPath, err := resolveLocalPath(backupRoot, udid, req.backupPath)
		if err != nil {
			sink.FileTransferError(file, err)
			failed = append(failed, file)
			batchEnded, err := skipRemainingBatchEntry(reader)
			if err != nil {
				return failed, err
			}
			if batchEnded {
				break
			}
			continue
		}
		file.LocalPath = localPath

		sink.BeforeReceivingFile(file)
		if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
			return failed, ios.NewError(ios.KindBackupFileError, "failed creating backup directory", err)
		}

		failedFile, done, batchEnded, err := receiveOneFile(reader, file, sink)
		if err != nil {
			return failed, err
		}
		if done {
			sink.FileReceived(file)
		}
		if failedFile {
			failed = append(failed, file)
		}
		if batchEnded {
			break
		}
	}
	return failed, nil
}

// receiveOneFile reads chunks for a single file until it sees a
// terminating size (0 ends the file cleanly, negative ends the whole
// batch, reported via batchEnded). done reports whether the file
// completed successfully.
func receiveOneFile(reader io.Reader, file BackupFile, sink Sink) (failed bool, done bool, batchEnded bool, err error) {
	var out *os.File
	defer func() {
		if out != nil {
			out.Close()
		}
	}()

	for {
		size, err := readChunkSize(reader)
		if err != nil {
			return false, false, false, err
		}
		if size == 0 {
			return false, true, false, nil
		}
		if size < 0 {
			return false, false, true, nil
		}

		codeByte := make([]byte, 1)
		if _, err := io.ReadFull(reader, codeByte); err != nil {
			return false, false, false, ios.NewError(ios.KindTransportLost, "failed reading file chunk result code", err)
		}
		code := resultCode(codeByte[0])
		remaining := int(size) - 1

		switch code {
		case resultFileData:
			if out == nil {
				out, err = os.Create(file.LocalPath)
				if err != nil {
					return false, false, false, ios.NewError(ios.KindBackupFileError, "failed creating local file", err)
				}
			}
			if err := streamChunk(reader, out, remaining, file, sink); err != nil {
				return false, false, false, err
			}
		case resultSuccess:
			return false, true, false, nil
		default:
			msg, err := readErrorMessage(reader, remaining)
			if err != nil {
				return false, false, false, err
			}
			transferErr := ios.NewError(ios.KindBackupFileError, msg, nil)
			sink.FileTransferError(file, transferErr)
			return true, false, false, nil
		}
	}
}

func readChunkSize(reader io.Reader) (int32, error) {
	buf := make([]byte, 4)
	if _, err := io.ReadFull(reader, buf); err != nil {
		return 0, ios.NewError(ios.KindTransportLost, "failed reading file chunk size", err)
	}
	return int32(binary.BigEndian.Uint32(buf)), nil
}

func streamChunk(reader io.Reader, out *os.File, remaining int, file BackupFile, sink Sink) error {
	buf := make([]byte, chunkBufferSize)
	for remaining > 0 {
		n := chunkBufferSize
		if remaining < n {
			n = remaining
		}
		read, err := io.ReadFull(reader, buf[:n])
		if err != nil {
			return ios.NewError(ios.KindTransportLost, "failed reading file data", err)
		}
		if _, err := out.Write(buf[:read]); err != nil {
			return ios.NewError(ios.KindBackupFileError, "failed writing local file", err)
		}
		sink.FileReceiving(file, read)
		remaining -= read
	}
	return nil
}

func readErrorMessage(reader io.Reader, remaining int) (string, error) {
	if remaining <= 0 {
		return "unknown file transfer error", nil
	}
	buf := make([]byte, remaining)
	if _, err := io.ReadFull(reader, buf); err != nil {
		return "", ios.NewError(ios.KindTransportLost, "failed reading file transfer error message", err)
	}
	return string(buf), nil
}

// skipRemainingBatchEntry drains chunks for an entry this package rejected
// before writing anything, so the stream stays aligned with the device's
// framing for the rest of the batch. batchEnded reports whether the
// terminating chunk ended the whole DLMessageDownloadFiles batch rather
// than just this entry.
func skipRemainingBatchEntry(reader io.Reader) (batchEnded bool, err error) {
	for {
		size, err := readChunkSize(reader)
		if err != nil {
			return false, err
		}
		if size == 0 {
			return false, nil
		}
		if size < 0 {
			return true, nil
		}
		codeByte := make([]byte, 1)
		if _, err := io.ReadFull(reader, codeByte); err != nil {
			return false, ios.NewError(ios.KindTransportLost, "failed reading file chunk result code", err)
		}
		remaining := int(size) - 1
		if remaining > 0 {
			if _, err := io.CopyN(io.Discard, reader, int64(remaining)); err != nil {
				return false, ios.NewError(ios.KindTransportLost, "failed discarding rejected file chunk", err)
			}
		}
		if resultCode(codeByte[0]) != resultFileData {
			return false, nil
		}
	}
}
