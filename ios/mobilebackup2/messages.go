package mobilebackup2

import (
	"bytes"
	"fmt"

	plist "howett.net/plist"
)

// plistArray is a DeviceLink message: a plist array whose first element is
// a string tag.
type plistArray []interface{}

const (
	dlMessageVersionExchange      = "DLMessageVersionExchange"
	dlMessageDeviceReady          = "DLMessageDeviceReady"
	dlMessageProcessMessage       = "DLMessageProcessMessage"
	dlMessageDisconnect           = "DLMessageDisconnect"
	dlMessagePing                 = "DLMessagePing"
	dlMessageStatusResponse       = "DLMessageStatusResponse"
	dlMessageDownloadFiles        = "DLMessageDownloadFiles"
	dlMessageUploadFiles          = "DLMessageUploadFiles"
	dlMessageGetFreeDiskSpace     = "DLMessageGetFreeDiskSpace"
	dlMessageContentsOfDirectory  = "DLMessageContentsOfDirectory"
	dlMessageCreateDirectory      = "DLMessageCreateDirectory"
	dlMessageMoveFiles            = "DLMessageMoveFiles"
	dlMessageMoveItems            = "DLMessageMoveItems"
	dlMessageRemoveFiles          = "DLMessageRemoveFiles"
	dlMessageRemoveItems          = "DLMessageRemoveItems"
	dlMessageCopyItem             = "DLMessageCopyItem"
	dlMessageRestoreFiles         = "DLMessageRestoreFiles"
)

func decodeArray(plistBytes []byte) (plistArray, error) {
	decoder := plist.NewDecoder(bytes.NewReader(plistBytes))
	var data plistArray
	err := decoder.Decode(&data)
	return data, err
}

// tagOf returns the DLMessage tag at index 0 of arr, or "" if arr is empty
// or its first element is not a string.
func tagOf(arr plistArray) string {
	if len(arr) == 0 {
		return ""
	}
	tag, _ := arr[0].(string)
	return tag
}

// dictAt returns arr[i] as a map, tolerating a missing or wrongly typed
// element by returning nil instead of panicking — DLMessage payloads are
// attacker-controlled from this client's point of view.
func dictAt(arr plistArray, i int) map[string]interface{} {
	if i >= len(arr) {
		return nil
	}
	m, _ := arr[i].(map[string]interface{})
	return m
}

func stringAt(m map[string]interface{}, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

// stringSliceAt returns arr[i] as a []string, tolerating non-string
// elements by skipping them.
func stringSliceAt(arr plistArray, i int) []string {
	if i >= len(arr) {
		return nil
	}
	raw, ok := arr[i].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// stringMapAt returns arr[i] as a map[string]string, for the
// source→destination dictionaries DLMessageMoveFiles/DLMessageMoveItems
// carry.
func stringMapAt(arr plistArray, i int) map[string]string {
	m := dictAt(arr, i)
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

func boolAt(arr plistArray, i int) (bool, bool) {
	if i >= len(arr) {
		return false, false
	}
	b, ok := arr[i].(bool)
	return b, ok
}

func stringAtIndex(arr plistArray, i int) string {
	if i >= len(arr) {
		return ""
	}
	s, _ := arr[i].(string)
	return s
}

func float64At(arr plistArray, i int) (float64, bool) {
	if i >= len(arr) {
		return 0, false
	}
	switch v := arr[i].(type) {
	case float64:
		return v, true
	case uint64:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// backupFileRequest is one entry of a DLMessageDownloadFiles batch: the
// path on the device and the path the backup protocol wants it stored
// under, relative to the backup root.
type backupFileRequest struct {
	devicePath string
	backupPath string
}

func parseDownloadFilesBatch(arr plistArray) ([]backupFileRequest, error) {
	if len(arr) < 2 {
		return nil, fmt.Errorf("mobilebackup2: DLMessageDownloadFiles array too short: %+v", arr)
	}
	files, ok := arr[1].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("mobilebackup2: DLMessageDownloadFiles second element was not a dictionary")
	}
	requests := make([]backupFileRequest, 0, len(files))
	for devicePath, v := range files {
		backupPath, _ := v.(string)
		requests = append(requests, backupFileRequest{devicePath: devicePath, backupPath: backupPath})
	}
	return requests, nil
}

// backupRequest is the top-level Backup message sent once DeviceLink is
// ready and, if required, the passcode prerequisite has been cleared.
type backupRequest struct {
	MessageName      string
	TargetIdentifier string
	SourceIdentifier string
	Options          map[string]interface{}
}

func newBackupRequest(udid string, forceFullBackup bool) plistArray {
	return plistArray{
		dlMessageProcessMessage,
		backupRequest{
			MessageName:      "Backup",
			TargetIdentifier: udid,
			SourceIdentifier: udid,
			Options:          map[string]interface{}{"ForceFullBackup": forceFullBackup},
		},
	}
}

func statusResponse(code int, dict map[string]interface{}) plistArray {
	if dict == nil {
		dict = map[string]interface{}{}
	}
	return plistArray{dlMessageStatusResponse, code, dict}
}
