package mobilebackup2

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

const testUdid = "udid-under-test"

func TestCreateAndListDirectory(t *testing.T) {
	root := t.TempDir()

	assert.NoError(t, createDirectory(root, testUdid, "a-dir"))
	assert.NoError(t, os.WriteFile(filepath.Join(root, testUdid, "a-dir", "file.txt"), []byte("hi"), 0o644))

	entries, err := contentsOfDirectory(root, testUdid, "a-dir", false)
	assert.NoError(t, err)
	entry, ok := entries["file.txt"].(map[string]interface{})
	assert.True(t, ok)
	assert.Equal(t, "DLFileTypeRegular", entry["DLFileType"])
	assert.EqualValues(t, 2, entry["DLFileSize"])
}

func TestContentsOfDirectoryRejectsEscape(t *testing.T) {
	root := t.TempDir()
	_, err := contentsOfDirectory(root, testUdid, "../../outside", false)
	assert.Error(t, err)
}

func TestContentsOfDirectoryRecursive(t *testing.T) {
	root := t.TempDir()
	assert.NoError(t, createDirectory(root, testUdid, "a-dir/nested"))
	assert.NoError(t, os.WriteFile(filepath.Join(root, testUdid, "a-dir", "nested", "deep.txt"), []byte("x"), 0o644))

	shallow, err := contentsOfDirectory(root, testUdid, "a-dir", false)
	assert.NoError(t, err)
	assert.NotContains(t, shallow, "nested/deep.txt")

	deep, err := contentsOfDirectory(root, testUdid, "a-dir", true)
	assert.NoError(t, err)
	assert.Contains(t, deep, "nested")
	assert.Contains(t, deep, "nested/deep.txt")
}

func TestMoveItems(t *testing.T) {
	root := t.TempDir()
	assert.NoError(t, createDirectory(root, testUdid, "."))
	original := filepath.Join(root, testUdid, "old")
	assert.NoError(t, os.WriteFile(original, []byte("content"), 0o644))

	assert.NoError(t, moveItems(root, testUdid, map[string]string{"old": "new/renamed"}))

	_, err := os.Stat(original)
	assert.True(t, os.IsNotExist(err))
	data, err := os.ReadFile(filepath.Join(root, testUdid, "new", "renamed"))
	assert.NoError(t, err)
	assert.Equal(t, "content", string(data))
}

func TestRemoveItems(t *testing.T) {
	root := t.TempDir()
	assert.NoError(t, createDirectory(root, testUdid, "a-dir"))
	file := filepath.Join(root, testUdid, "a-dir", "file.txt")
	assert.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	assert.NoError(t, removeItems(root, testUdid, []string{"a-dir"}))
	_, err := os.Stat(filepath.Join(root, testUdid, "a-dir"))
	assert.True(t, os.IsNotExist(err))
}

func TestCopyItem(t *testing.T) {
	root := t.TempDir()
	assert.NoError(t, createDirectory(root, testUdid, "."))
	src := filepath.Join(root, testUdid, "src")
	assert.NoError(t, os.WriteFile(src, []byte("payload"), 0o644))

	assert.NoError(t, copyItem(root, testUdid, "src", "dst"))

	data, err := os.ReadFile(filepath.Join(root, testUdid, "dst"))
	assert.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	original, err := os.ReadFile(src)
	assert.NoError(t, err)
	assert.Equal(t, "payload", string(original))
}

func TestCopyItemSkipsDirectories(t *testing.T) {
	root := t.TempDir()
	assert.NoError(t, createDirectory(root, testUdid, "src-dir"))

	assert.NoError(t, copyItem(root, testUdid, "src-dir", "dst-dir"))

	_, err := os.Stat(filepath.Join(root, testUdid, "dst-dir"))
	assert.True(t, os.IsNotExist(err))
}
