package afc

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"

	ios "github.com/ios-toolkit/go-idevicebackup/ios"
)

const serviceName = "com.apple.afc"

// WalkFunc is called once per entry by Client.WalkDir. Returning
// fs.SkipDir for a directory skips that directory's contents; fs.SkipAll stops
// the walk entirely; any other non-nil error aborts the walk and is
// returned from WalkDir.
type WalkFunc func(path string, info FileInfo, err error) error

// Client speaks the AFC packet protocol over an already-started
// com.apple.afc (or com.apple.mobile.house_arrest-vended) service
// connection.
type Client struct {
	connection io.ReadWriteCloser
	packetNum  atomic.Int64
}

// New connects to the AFC service on device and returns a ready Client.
func New(device ios.DeviceEntry) (*Client, error) {
	deviceConn, err := ios.ConnectToService(device, serviceName)
	if err != nil {
		return nil, fmt.Errorf("afc: error connecting to service %q: %w", serviceName, err)
	}
	return NewWithDeviceConnection(deviceConn), nil
}

// NewWithDeviceConnection wraps an already-open device connection (for
// example one vended by house arrest) in an AFC Client.
func NewWithDeviceConnection(d ios.DeviceConnectionInterface) *Client {
	return &Client{connection: d}
}

// Close closes the underlying service connection.
func (c *Client) Close() error {
	if err := c.connection.Close(); err != nil {
		return fmt.Errorf("afc: error closing client: %w", err)
	}
	return nil
}

// List returns the names of all entries directly under p, skipping "."
// and "..".
func (c *Client) List(p string) ([]string, error) {
	if err := c.sendPacket(opReadDir, []byte(nullTerminated(p)), nil); err != nil {
		return nil, fmt.Errorf("afc: error listing %q: %w", p, err)
	}
	resp, err := c.readPacket()
	if err != nil {
		return nil, fmt.Errorf("afc: error listing %q: %w", p, err)
	}
	var list []string
	for _, entry := range splitNullTerminated(resp.Payload) {
		if entry == "." || entry == ".." || entry == "" {
			continue
		}
		list = append(list, entry)
	}
	return list, nil
}

// File is an open AFC file handle.
type File struct {
	client *Client
	handle uint64
}

// Open opens p in the given Mode and returns a File ready for Read/Write.
func (c *Client) Open(p string, mode Mode) (*File, error) {
	pathBytes := nullTerminatedBytes(p)
	headerPayload := make([]byte, 8+len(pathBytes))
	binary.LittleEndian.PutUint64(headerPayload, uint64(mode))
	copy(headerPayload[8:], pathBytes)

	if err := c.sendPacket(opFileOpen, headerPayload, nil); err != nil {
		return nil, fmt.Errorf("afc: error opening %q: %w", p, err)
	}
	resp, err := c.readPacket()
	if err != nil {
		return nil, fmt.Errorf("afc: error opening %q: %w", p, err)
	}
	return &File{client: c, handle: binary.LittleEndian.Uint64(resp.HeaderPayload)}, nil
}

// Read implements io.Reader against the device-side file handle.
func (f *File) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	headerPayload := make([]byte, 16)
	binary.LittleEndian.PutUint64(headerPayload, f.handle)
	binary.LittleEndian.PutUint64(headerPayload[8:], uint64(len(p)))

	if err := f.client.sendPacket(opFileRead, headerPayload, nil); err != nil {
		return 0, fmt.Errorf("afc: error reading: %w", err)
	}
	resp, err := f.client.readPacket()
	if err != nil {
		return 0, fmt.Errorf("afc: error reading: %w", err)
	}
	copy(p, resp.Payload)
	if len(resp.Payload) == 0 {
		return 0, io.EOF
	}
	return len(resp.Payload), nil
}

// Write implements io.Writer against the device-side file handle.
func (f *File) Write(p []byte) (int, error) {
	headerPayload := make([]byte, 8)
	binary.LittleEndian.PutUint64(headerPayload, f.handle)
	if err := f.client.sendPacket(opFileWrite, headerPayload, p); err != nil {
		return 0, fmt.Errorf("afc: error writing: %w", err)
	}
	if _, err := f.client.readPacket(); err != nil {
		return 0, fmt.Errorf("afc: error writing: %w", err)
	}
	return len(p), nil
}

// Close releases the device-side file handle.
func (f *File) Close() error {
	headerPayload := make([]byte, 8)
	binary.LittleEndian.PutUint64(headerPayload, f.handle)
	if err := f.client.sendPacket(opFileClose, headerPayload, nil); err != nil {
		return fmt.Errorf("afc: error closing file: %w", err)
	}
	if _, err := f.client.readPacket(); err != nil {
		return fmt.Errorf("afc: error closing file: %w", err)
	}
	return nil
}

// Lock applies op to the open file handle, following flock(2) semantics.
// The backup engine holds a LockExclusive on the /com.apple.itunes.lock_sync
// file handle for the lifetime of a backup session, and retries on
// ios.IsOpWouldBlock while another tool holds it.
func (f *File) Lock(op LockOperation) error {
	headerPayload := make([]byte, 16)
	binary.LittleEndian.PutUint64(headerPayload, f.handle)
	binary.LittleEndian.PutUint64(headerPayload[8:], uint64(op))
	if err := f.client.sendPacket(opFileLock, headerPayload, nil); err != nil {
		return fmt.Errorf("afc: error locking file: %w", err)
	}
	if _, err := f.client.readPacket(); err != nil {
		return err
	}
	return nil
}

// CreateDir creates the directory at p, including missing parents.
func (c *Client) CreateDir(p string) error {
	if err := c.sendPacket(opMakeDir, nullTerminatedBytes(p), nil); err != nil {
		return fmt.Errorf("afc: error creating dir %q: %w", p, err)
	}
	if _, err := c.readPacket(); err != nil {
		return fmt.Errorf("afc: error creating dir %q: %w", p, err)
	}
	return nil
}

// MkDir is an alias for CreateDir, matching libimobiledevice's naming.
func (c *Client) MkDir(p string) error { return c.CreateDir(p) }

// Remove deletes the file at p. If p is a non-empty directory this fails.
func (c *Client) Remove(p string) error {
	return c.delete(p, false)
}

// DeleteRecursive deletes p and, if p is a directory, everything under it.
func (c *Client) DeleteRecursive(p string) error {
	return c.delete(p, true)
}

// RemoveAll is an alias for DeleteRecursive.
func (c *Client) RemoveAll(p string) error { return c.DeleteRecursive(p) }

func (c *Client) delete(p string, recursive bool) error {
	op := uint64(opRemovePath)
	if recursive {
		op = opRemovePathAndContents
	}
	if err := c.sendPacket(op, nullTerminatedBytes(p), nil); err != nil {
		return fmt.Errorf("afc: error deleting %q: %w", p, err)
	}
	if _, err := c.readPacket(); err != nil {
		return fmt.Errorf("afc: error deleting %q: %w", p, err)
	}
	return nil
}

// Rename moves the file or directory at oldPath to newPath.
func (c *Client) Rename(oldPath, newPath string) error {
	oldBytes := nullTerminatedBytes(oldPath)
	newBytes := nullTerminatedBytes(newPath)
	headerPayload := append(append([]byte{}, oldBytes...), newBytes...)
	if err := c.sendPacket(opRenamePath, headerPayload, nil); err != nil {
		return fmt.Errorf("afc: error renaming %q to %q: %w", oldPath, newPath, err)
	}
	if _, err := c.readPacket(); err != nil {
		return fmt.Errorf("afc: error renaming %q to %q: %w", oldPath, newPath, err)
	}
	return nil
}

func (c *Client) sendPacket(operation uint64, headerPayload []byte, payload []byte) error {
	num := c.packetNum.Add(1)
	thisLen := afcHeaderSize + uint64(len(headerPayload))
	p := packet{
		Header: header{
			Magic:     afcMagic,
			EntireLen: thisLen + uint64(len(payload)),
			ThisLen:   thisLen,
			PacketNum: uint64(num),
			Operation: operation,
		},
		HeaderPayload: headerPayload,
		Payload:       payload,
	}
	return encodePacket(p, c.connection)
}

func (c *Client) readPacket() (packet, error) {
	p, err := decodePacket(c.connection)
	if err != nil {
		return packet{}, err
	}
	if p.Header.Operation == opStatus {
		code := binary.LittleEndian.Uint64(p.HeaderPayload)
		if err := getError(code); err != nil {
			return p, err
		}
	}
	return p, nil
}

// FileType is the st_ifmt classification AFC reports for a path.
type FileType string

const (
	S_IFDIR FileType = "S_IFDIR"
	S_IFMT  FileType = "S_IFREG"
	S_IFLNK FileType = "S_IFLNK"
)

// FileInfo is the subset of AFC's file-info response this package exposes.
type FileInfo struct {
	Name       string
	Type       FileType
	Mode       uint32
	Size       int64
	LinkTarget string
}

func (fi FileInfo) IsDir() bool  { return fi.Type == S_IFDIR }
func (fi FileInfo) IsLink() bool { return fi.Type == S_IFLNK }

// Stat retrieves file info for path p.
func (c *Client) Stat(p string) (FileInfo, error) {
	if err := c.sendPacket(opFileInfo, nullTerminatedBytes(p), nil); err != nil {
		return FileInfo{}, fmt.Errorf("afc: error statting %q: %w", p, err)
	}
	resp, err := c.readPacket()
	if err != nil {
		return FileInfo{}, fmt.Errorf("afc: error statting %q: %w", p, err)
	}

	info := FileInfo{Name: path.Base(p)}
	reader := bufio.NewReader(bytes.NewReader(resp.Payload))
	for {
		key, kerr := reader.ReadString('\x00')
		if kerr != nil || len(key) <= 1 {
			break
		}
		key = key[:len(key)-1]
		value, verr := reader.ReadString('\x00')
		if verr != nil {
			break
		}
		value = value[:len(value)-1]
		switch key {
		case "st_ifmt":
			info.Type = FileType(value)
		case "st_size":
			info.Size, _ = strconv.ParseInt(value, 10, 64)
		case "st_mode":
			mode, _ := strconv.ParseUint(value, 8, 32)
			info.Mode = uint32(mode)
		case "st_linktarget":
			info.LinkTarget = value
		}
	}
	return info, nil
}

// WalkDir walks the tree rooted at p depth-first, in sorted order, calling
// f for every entry. Permission errors on individual entries are skipped
// rather than aborting the whole walk.
func (c *Client) WalkDir(p string, f WalkFunc) error {
	if err := c.walkDir(p, f); err != nil && !errors.Is(err, fs.SkipAll) {
		return err
	}
	return nil
}

func (c *Client) walkDir(p string, f WalkFunc) error {
	entries, err := c.List(p)
	if err != nil {
		if isPermissionDenied(err) {
			return nil
		}
		return err
	}
	sort.Strings(entries)

	for _, entry := range entries {
		entryPath := path.Join(p, entry)
		info, err := c.Stat(entryPath)
		if err != nil {
			if isPermissionDenied(err) {
				continue
			}
			return err
		}
		if err := f(entryPath, info, nil); err != nil {
			if errors.Is(err, fs.SkipDir) {
				continue
			}
			return err
		}
		if info.IsDir() {
			if err := c.walkDir(entryPath, f); err != nil {
				return err
			}
		}
	}
	return nil
}

// DeviceInfo reports the device's filesystem model and free/total space.
type DeviceInfo struct {
	Model      string
	TotalBytes uint64
	FreeBytes  uint64
	BlockSize  uint64
}

// DeviceInfo retrieves DeviceInfo for the filesystem the AFC service is
// rooted at.
func (c *Client) DeviceInfo() (DeviceInfo, error) {
	if err := c.sendPacket(opDeviceInfo, nil, nil); err != nil {
		return DeviceInfo{}, fmt.Errorf("afc: error getting device info: %w", err)
	}
	resp, err := c.readPacket()
	if err != nil {
		return DeviceInfo{}, fmt.Errorf("afc: error getting device info: %w", err)
	}
	kv := splitNullTerminated(resp.Payload)
	m := make(map[string]string)
	for i := 0; i+1 < len(kv); i += 2 {
		m[kv[i]] = kv[i+1]
	}
	var info DeviceInfo
	info.Model = m["Model"]
	info.TotalBytes, _ = strconv.ParseUint(m["FSTotalBytes"], 10, 64)
	info.FreeBytes, _ = strconv.ParseUint(m["FSFreeBytes"], 10, 64)
	info.BlockSize, _ = strconv.ParseUint(m["FSBlockSize"], 10, 64)
	return info, nil
}

func nullTerminated(s string) string { return s + "\x00" }

func nullTerminatedBytes(s string) []byte { return append([]byte(s), 0) }

func splitNullTerminated(payload []byte) []string {
	parts := strings.Split(string(payload), "\x00")
	if len(parts) > 0 && parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	return parts
}
