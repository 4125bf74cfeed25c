package afc

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"testing"

	ios "github.com/ios-toolkit/go-idevicebackup/ios"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

// These tests exercise a real AFC service and are skipped when no device
// is attached, degrading to a skip rather than a failure in CI.
func TestAfc(t *testing.T) {
	devices, err := ios.ListDevices()
	if err != nil {
		t.Skipf("failed to list devices: %s", err)
		return
	}
	if len(devices.Devices) == 0 {
		t.Skipf("no devices connected")
		return
	}

	for _, device := range devices.Devices {
		t.Run(fmt.Sprintf("device %s", device.Udid), func(t *testing.T) {
			client, err := New(device)
			if !assert.NoError(t, err) {
				return
			}
			defer client.Close()

			t.Run("list root", func(t *testing.T) {
				_, err := client.List("/")
				assert.NoError(t, err)
			})

			t.Run("list invalid folder returns error", func(t *testing.T) {
				_, err := client.List("/invalid123")
				assert.Error(t, err)
			})

			t.Run("create, write, read, remove a file", func(t *testing.T) {
				f, err := client.Open("./test-file", READ_WRITE_CREATE_TRUNC)
				assert.NoError(t, err)

				n, err := f.Write([]byte("test"))
				assert.NoError(t, err)
				assert.Equal(t, 4, n)
				assert.NoError(t, f.Close())

				info, err := client.Stat("./test-file")
				assert.NoError(t, err)
				assert.EqualValues(t, 4, info.Size)

				f, err = client.Open("./test-file", READ_ONLY)
				assert.NoError(t, err)
				b := make([]byte, 8)
				n, err = f.Read(b)
				assert.NoError(t, err)
				assert.Equal(t, []byte("test"), b[:n])

				assert.NoError(t, client.Remove("./test-file"))
			})

			t.Run("create and delete nested directory", func(t *testing.T) {
				assert.NoError(t, client.MkDir("./some/nested/directory"))

				info, err := client.Stat("./some/nested/directory")
				assert.NoError(t, err)
				assert.Equal(t, S_IFDIR, info.Type)

				assert.NoError(t, client.RemoveAll("./some"))
				_, err = client.Stat("./some")
				assert.Error(t, err)
			})

			t.Run("lock and unlock a file", func(t *testing.T) {
				f, err := client.Open("./test-lock", READ_WRITE_CREATE_TRUNC)
				assert.NoError(t, err)
				assert.NoError(t, f.Lock(LockExclusive))
				assert.NoError(t, f.Lock(LockUnlock))
				assert.NoError(t, f.Close())
				assert.NoError(t, client.Remove("./test-lock"))
			})

			t.Run("walk dir", func(t *testing.T) {
				basePath := path.Join("./", uuid.New().String())
				mustCreateDir(client, basePath)
				mustCreateDir(client, path.Join(basePath, "a-dir"))
				mustCreateDir(client, path.Join(basePath, "a-dir", "subdir"))
				mustCreateFile(client, path.Join(basePath, "a-dir", "file"))
				mustCreateDir(client, path.Join(basePath, "c-dir"))

				t.Run("visit all", func(t *testing.T) {
					var visited []string
					err := client.WalkDir(basePath, func(p string, info FileInfo, err error) error {
						visited = append(visited, p)
						return nil
					})
					assert.NoError(t, err)
					sort.Strings(visited)
					assert.Equal(t, []string{
						path.Join(basePath, "a-dir"),
						path.Join(basePath, "a-dir/file"),
						path.Join(basePath, "a-dir/subdir"),
						path.Join(basePath, "c-dir"),
					}, visited)
				})

				t.Run("skip dir", func(t *testing.T) {
					var visited []string
					err := client.WalkDir(basePath, func(p string, info FileInfo, err error) error {
						visited = append(visited, p)
						if path.Base(p) == "a-dir" {
							return fs.SkipDir
						}
						return nil
					})
					assert.NoError(t, err)
					assert.Equal(t, []string{
						path.Join(basePath, "a-dir"),
						path.Join(basePath, "c-dir"),
					}, visited)
				})

				t.Run("skip all", func(t *testing.T) {
					var visited []string
					err := client.WalkDir(basePath, func(p string, info FileInfo, err error) error {
						visited = append(visited, p)
						return fs.SkipAll
					})
					assert.NoError(t, err)
					assert.Equal(t, []string{path.Join(basePath, "a-dir")}, visited)
				})

				t.Run("return error stops walkdir", func(t *testing.T) {
					var visited []string
					walkErr := errors.New("stop walkdir")
					err := client.WalkDir(basePath, func(p string, info FileInfo, err error) error {
						visited = append(visited, p)
						return walkErr
					})
					assert.Len(t, visited, 1)
					assert.Equal(t, walkErr, err)
				})
			})

			t.Run("device info", func(t *testing.T) {
				info, err := client.DeviceInfo()
				assert.NoError(t, err)
				assert.NotEmpty(t, info.Model)
			})
		})
	}
}

func TestSplitNullTerminated(t *testing.T) {
	parts := splitNullTerminated([]byte("a\x00b\x00c\x00"))
	assert.Equal(t, []string{"a", "b", "c"}, parts)
}

func TestFileTypeHelpers(t *testing.T) {
	dir := FileInfo{Type: S_IFDIR}
	link := FileInfo{Type: S_IFLNK}
	assert.True(t, dir.IsDir())
	assert.False(t, dir.IsLink())
	assert.True(t, link.IsLink())
}

func mustCreateDir(c *Client, dir string) {
	if err := c.MkDir(dir); err != nil {
		panic(err)
	}
}

func mustCreateFile(c *Client, p string) {
	f, err := c.Open(p, READ_WRITE_CREATE)
	if err != nil {
		panic(err)
	}
	_ = f.Close()
}
