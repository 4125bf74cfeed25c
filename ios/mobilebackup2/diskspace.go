package mobilebackup2

import "golang.org/x/sys/unix"

// freeDiskSpace reports the free bytes available on the filesystem backing
// path, for DLMessageGetFreeDiskSpace replies. The host storage this
// backend reports on is always a unix-like filesystem for the backup
// engine's targets; unlike ios.GetUsbmuxdSocket's runtime.GOOS branch for
// the multiplexer socket, this has no Windows counterpart wired in here.
func freeDiskSpace(path string) (uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, err
	}
	return stat.Bfree * uint64(stat.Bsize), nil
}
