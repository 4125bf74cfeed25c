package mobilebackup2

import (
	"testing"

	"github.com/stretchr/testify/assert"
	plist "howett.net/plist"
)

func TestDecodeArrayRoundTrip(t *testing.T) {
	encoded, err := plist.Marshal(plistArray{"DLMessagePing", "payload"}, plist.XMLFormat)
	assert.NoError(t, err)

	decoded, err := decodeArray(encoded)
	assert.NoError(t, err)
	assert.Equal(t, "DLMessagePing", tagOf(decoded))
	assert.Equal(t, "payload", stringAtIndex(decoded, 1))
}

func TestTagOfEmptyArray(t *testing.T) {
	assert.Equal(t, "", tagOf(plistArray{}))
	assert.Equal(t, "", tagOf(plistArray{42}))
}

func TestFloat64At(t *testing.T) {
	arr := plistArray{"tag", float64(12.5), uint64(7), "not a number"}
	v, ok := float64At(arr, 1)
	assert.True(t, ok)
	assert.Equal(t, 12.5, v)

	v, ok = float64At(arr, 2)
	assert.True(t, ok)
	assert.Equal(t, float64(7), v)

	_, ok = float64At(arr, 3)
	assert.False(t, ok)

	_, ok = float64At(arr, 99)
	assert.False(t, ok)
}

func TestStringSliceAt(t *testing.T) {
	arr := plistArray{"tag", []interface{}{"a", "b", 3}}
	assert.Equal(t, []string{"a", "b"}, stringSliceAt(arr, 1))
	assert.Nil(t, stringSliceAt(arr, 99))
}

func TestStringMapAt(t *testing.T) {
	arr := plistArray{"tag", map[string]interface{}{"src": "dst", "ignored": 1}}
	m := stringMapAt(arr, 1)
	assert.Equal(t, "dst", m["src"])
	assert.Len(t, m, 1)
}

func TestParseDownloadFilesBatch(t *testing.T) {
	arr := plistArray{
		"DLMessageDownloadFiles",
		map[string]interface{}{"/dev/a": "00/a", "/dev/b": "01/b"},
	}
	requests, err := parseDownloadFilesBatch(arr)
	assert.NoError(t, err)
	assert.Len(t, requests, 2)
}

func TestParseDownloadFilesBatchRejectsMalformed(t *testing.T) {
	_, err := parseDownloadFilesBatch(plistArray{"DLMessageDownloadFiles"})
	assert.Error(t, err)

	_, err = parseDownloadFilesBatch(plistArray{"DLMessageDownloadFiles", "not a dict"})
	assert.Error(t, err)
}

func TestNewBackupRequestShape(t *testing.T) {
	arr := newBackupRequest("ABCD1234", true)
	assert.Equal(t, dlMessageProcessMessage, tagOf(arr))
	req, ok := arr[1].(backupRequest)
	assert.True(t, ok)
	assert.Equal(t, "Backup", req.MessageName)
	assert.Equal(t, "ABCD1234", req.TargetIdentifier)
	assert.Equal(t, true, req.Options["ForceFullBackup"])
}

func TestStatusResponseShape(t *testing.T) {
	arr := statusResponse(0, nil)
	assert.Equal(t, dlMessageStatusResponse, tagOf(arr))
	assert.Equal(t, 0, arr[1])
	assert.Equal(t, map[string]interface{}{}, arr[2])
}
