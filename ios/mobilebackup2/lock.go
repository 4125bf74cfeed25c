package mobilebackup2

import (
	"time"

	afc "github.com/ios-toolkit/go-idevicebackup/ios/afc"
	ios "github.com/ios-toolkit/go-idevicebackup/ios"
)

const (
	lockFilePath      = "/com.apple.itunes.lock_sync"
	lockMaxAttempts   = 50
	lockRetryInterval = 200 * time.Millisecond
)

// syncLock holds the device-side resources the backup engine must release
// on every exit path: the AFC handle backing the exclusive lock and the
// notification_proxy connection used to announce sync lifecycle events.
type syncLock struct {
	afcClient *afc.Client
	lockFile  *afc.File
	notifier  *notifier
}

// acquireSyncLock runs the itunes-client sync handshake end to end: notify
// syncWillStart, open the lock file, notify syncLockRequest, spin on
// AFC_LOCK(exclusive) until it is granted or the attempt budget is spent,
// then notify syncDidStart. Any failure releases everything it has already
// acquired before returning.
func acquireSyncLock(device ios.DeviceEntry) (*syncLock, error) {
	n, err := newNotifier(device)
	if err != nil {
		return nil, err
	}
	if err := n.post("com.apple.itunes-client.syncWillStart"); err != nil {
		n.close()
		return nil, err
	}

	afcClient, err := afc.New(device)
	if err != nil {
		n.close()
		return nil, err
	}

	lockFile, err := afcClient.Open(lockFilePath, afc.READ_WRITE_CREATE)
	if err != nil {
		afcClient.Close()
		n.close()
		return nil, err
	}

	if err := n.post("com.apple.itunes-mobdev.syncLockRequest"); err != nil {
		lockFile.Close()
		afcClient.Close()
		n.close()
		return nil, err
	}

	if err := waitForExclusiveLock(lockFile); err != nil {
		lockFile.Close()
		afcClient.Close()
		n.close()
		return nil, err
	}

	if err := n.post("com.apple.itunes-client.syncDidStart"); err != nil {
		_ = lockFile.Lock(afc.LockUnlock)
		lockFile.Close()
		afcClient.Close()
		n.close()
		return nil, err
	}

	return &syncLock{afcClient: afcClient, lockFile: lockFile, notifier: n}, nil
}

func waitForExclusiveLock(lockFile *afc.File) error {
	for attempt := 0; attempt < lockMaxAttempts; attempt++ {
		err := lockFile.Lock(afc.LockExclusive)
		if err == nil {
			return nil
		}
		if !ios.IsOpWouldBlock(err) {
			return ios.NewError(ios.KindAfcError, "acquiring the backup sync lock failed", err)
		}
		time.Sleep(lockRetryInterval)
	}
	return ios.NewError(ios.KindAfcError, "timed out waiting for the device to grant the backup sync lock", nil)
}

// release drops the exclusive lock and tears down both connections this
// lock opened. It is idempotent: calling it twice is harmless.
func (l *syncLock) release() {
	if l == nil {
		return
	}
	if l.lockFile != nil {
		_ = l.lockFile.Lock(afc.LockUnlock)
		l.lockFile.Close()
		l.lockFile = nil
	}
	if l.afcClient != nil {
		l.afcClient.Close()
		l.afcClient = nil
	}
	if l.notifier != nil {
		l.notifier.close()
		l.notifier = nil
	}
}
