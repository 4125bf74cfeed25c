package mobilebackup2

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/Masterminds/semver"
	ios "github.com/ios-toolkit/go-idevicebackup/ios"
	log "github.com/sirupsen/logrus"
)

const (
	messageReadTimeout = 180 * time.Second
	waitingRetryDelay  = 100 * time.Millisecond
)

// Options configures one backup run.
type Options struct {
	// BackupRoot is the directory backups are stored under; the actual
	// files land in BackupRoot/<udid>.
	BackupRoot string
	// ForceFullBackup asks the device to discard its incremental backup
	// state and send every file again.
	ForceFullBackup bool
	// InstalledApps supplies the per-app metadata Info.plist's
	// Applications section needs; enumerating installed apps is left to
	// the caller since it is Installation Proxy's job, not this
	// package's.
	InstalledApps []InstalledApplication
}

// BackupEngine drives one backup conversation end to end: lock acquisition,
// DeviceLink handshake, the passcode prerequisite check, and the message
// dispatch loop, reporting everything it observes through a Sink.
type BackupEngine struct {
	device ios.DeviceEntry
	opts   Options
	sink   Sink

	link *Link
	lock *syncLock

	snapshot    SnapshotState
	infoWritten bool
	failedFiles []BackupFile
	cancel      chan struct{}

	userCancelled      bool
	deviceDisconnected bool
}

// NewBackupEngine builds an engine for one backup run against device. sink
// may be nil, in which case events are dropped.
func NewBackupEngine(device ios.DeviceEntry, opts Options, sink Sink) *BackupEngine {
	if sink == nil {
		sink = NoopSink{}
	}
	return &BackupEngine{device: device, opts: opts, sink: sink, cancel: make(chan struct{})}
}

// Stop requests cooperative cancellation. The loop finishes whatever chunk
// it is mid-read on before the next checkpoint, then exits with
// Result.UserCancelled set.
func (e *BackupEngine) Stop() {
	select {
	case <-e.cancel:
	default:
		close(e.cancel)
	}
}

func (e *BackupEngine) cancelled() bool {
	select {
	case <-e.cancel:
		return true
	default:
		return false
	}
}

// Run performs the full backup conversation. It always raises Completed
// before returning, whether it returns nil or an error.
func (e *BackupEngine) Run() error {
	e.sink.Started()
	defer func() {
		e.sink.Completed(Result{
			FailedFiles:        e.failedFiles,
			UserCancelled:      e.userCancelled,
			DeviceDisconnected: e.deviceDisconnected,
		})
	}()

	lock, err := acquireSyncLock(e.device)
	if err != nil {
		e.sink.Error(err)
		return err
	}
	e.lock = lock

	link, err := Dial(e.device)
	if err != nil {
		e.teardown()
		e.sink.Error(err)
		return err
	}
	e.link = link

	runErr := e.run()
	e.teardown()
	return runErr
}

func (e *BackupEngine) run() error {
	if err := e.checkPasscodePrerequisite(); err != nil {
		e.sink.Error(err)
		return err
	}
	e.reportResumeState()
	if err := e.link.Send(newBackupRequest(e.device.Udid, e.opts.ForceFullBackup)); err != nil {
		e.sink.Error(err)
		return err
	}
	return e.messageLoop()
}

// reportResumeState surfaces where a previous, incomplete backup left off
// before asking the device to resume it, when the caller hasn't forced a
// fresh full backup and a prior Manifest.plist is present.
func (e *BackupEngine) reportResumeState() {
	if e.opts.ForceFullBackup {
		return
	}
	manifestPath := filepath.Join(e.opts.BackupRoot, e.device.Udid, "Manifest.plist")
	if _, err := os.Stat(manifestPath); err != nil {
		return
	}
	status, err := readStatusFile(e.opts.BackupRoot, e.device.Udid)
	if err != nil {
		return
	}
	e.snapshot = advance(e.snapshot, status.SnapshotState)
	e.sink.Status(fmt.Sprintf("resuming from %s (%s)", status.SnapshotState, status.BackupState))
}

func (e *BackupEngine) teardown() {
	if e.link != nil {
		e.link.Close()
		e.link = nil
	}
	e.lock.release()
	e.lock = nil
}

// checkPasscodePrerequisite queries MobileGestalt for PasswordConfigured on
// the OS ranges known to require it, [15.7.1, 16.0) and [16.1, ∞). A
// Deprecated reply is treated conservatively as "passcode required".
func (e *BackupEngine) checkPasscodePrerequisite() error {
	version, err := ios.GetProductVersion(e.device)
	if err != nil {
		return err
	}
	if !passcodeCheckApplies(version) {
		return nil
	}

	lockdown, err := ios.ConnectLockdownWithSession(e.device)
	if err != nil {
		return err
	}
	defer lockdown.Close()

	value, err := lockdown.GetValue("com.apple.mobile.gestalt", "PasswordConfigured")
	if err != nil {
		if ios.IsKind(err, ios.KindDeprecated) {
			e.sink.PasscodeRequiredForBackup()
			return nil
		}
		return err
	}
	if value.Kind == ios.ValueKindBool && value.Bool {
		e.sink.PasscodeRequiredForBackup()
	}
	return nil
}

// passcodeCheckApplies reports whether version falls in [15.7.1, 16.0) or
// [16.1, ∞), the ranges on which the device requires a passcode check
// before it will start a backup.
func passcodeCheckApplies(version *semver.Version) bool {
	lowerIncl := ios.IOS15_7_1()
	upperExcl := ios.IOS16()
	secondLowerIncl := semver.MustParse("16.1")

	atLeast := func(v, bound *semver.Version) bool { return v.GreaterThan(bound) || v.Equal(bound) }

	inFirstRange := atLeast(version, lowerIncl) && version.LessThan(upperExcl)
	inSecondRange := atLeast(version, secondLowerIncl)
	return inFirstRange || inSecondRange
}

func (e *BackupEngine) messageLoop() error {
	for {
		if e.cancelled() {
			e.userCancelled = true
			return nil
		}

		if err := e.link.SetReadDeadline(time.Now().Add(messageReadTimeout)); err != nil {
			return err
		}
		msg, err := e.link.Receive()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				e.snapshot = advance(e.snapshot, SnapshotWaiting)
				e.sink.Status("waiting for device")
				time.Sleep(waitingRetryDelay)
				continue
			}
			if ios.IsKind(err, ios.KindDeviceDisconnected) {
				e.deviceDisconnected = true
				return nil
			}
			return err
		}

		finished, err := e.dispatch(msg)
		if err != nil {
			return err
		}
		if finished {
			return nil
		}
	}
}

// dispatch handles one DLMessage array. finished reports whether the
// session is done (DLMessageDisconnect or a terminal ProcessMessage).
func (e *BackupEngine) dispatch(msg plistArray) (finished bool, err error) {
	switch tagOf(msg) {

	case dlMessageDownloadFiles:
		requests, err := parseDownloadFilesBatch(msg)
		if err != nil {
			return false, err
		}
		failed, err := receiveFiles(e.link, e.opts.BackupRoot, e.device.Udid, requests, e.sink)
		if err != nil {
			return false, err
		}
		e.failedFiles = append(e.failedFiles, failed...)
		e.noteInfoPlist()
		if percent, ok := float64At(msg, 3); ok {
			e.sink.Progress(percent)
		}
		return false, e.link.Send(statusResponse(0, nil))

	case dlMessageUploadFiles, dlMessageRestoreFiles:
		return false, e.link.Send(statusResponse(0, nil))

	case dlMessageGetFreeDiskSpace:
		free, err := freeDiskSpace(e.opts.BackupRoot)
		if err != nil {
			return false, err
		}
		return false, e.link.Send(plistArray{dlMessageStatusResponse, 0, free})

	case dlMessageContentsOfDirectory:
		recursive, _ := boolAt(msg, 2)
		dict, err := contentsOfDirectory(e.opts.BackupRoot, e.device.Udid, stringAtIndex(msg, 1), recursive)
		if err != nil {
			return false, e.link.Send(statusResponse(-1, nil))
		}
		return false, e.link.Send(plistArray{dlMessageStatusResponse, 0, dict})

	case dlMessageCreateDirectory:
		if err := createDirectory(e.opts.BackupRoot, e.device.Udid, stringAtIndex(msg, 1)); err != nil {
			return false, e.link.Send(statusResponse(-1, nil))
		}
		return false, e.link.Send(statusResponse(0, nil))

	case dlMessageMoveFiles, dlMessageMoveItems:
		if err := moveItems(e.opts.BackupRoot, e.device.Udid, stringMapAt(msg, 1)); err != nil {
			return false, e.link.Send(statusResponse(-1, nil))
		}
		return false, e.link.Send(statusResponse(0, nil))

	case dlMessageRemoveFiles, dlMessageRemoveItems:
		if err := removeItems(e.opts.BackupRoot, e.device.Udid, stringSliceAt(msg, 1)); err != nil {
			return false, e.link.Send(statusResponse(-1, nil))
		}
		return false, e.link.Send(statusResponse(0, nil))

	case dlMessageCopyItem:
		// The device is not known to require a reply here; one is sent
		// anyway per the safer reading of an otherwise silent exchange.
		if err := copyItem(e.opts.BackupRoot, e.device.Udid, stringAtIndex(msg, 1), stringAtIndex(msg, 2)); err != nil {
			return false, e.link.Send(statusResponse(-1, nil))
		}
		return false, e.link.Send(statusResponse(0, nil))

	case dlMessageProcessMessage:
		return e.handleProcessMessage(msg)

	case dlMessagePing:
		return false, e.link.Send(msg)

	case dlMessageDisconnect:
		return true, nil

	default:
		log.WithField("tag", tagOf(msg)).Debug("mobilebackup2: ignoring unhandled DLMessage")
		return false, nil
	}
}

func (e *BackupEngine) handleProcessMessage(msg plistArray) (finished bool, err error) {
	dict := dictAt(msg, 1)
	if dict == nil {
		return false, ios.NewError(ios.KindProtocolViolation, fmt.Sprintf("malformed DLMessageProcessMessage: %+v", msg), nil)
	}

	if code, ok := dict["ErrorCode"]; ok {
		if n, ok := toInt(code); ok && n != 0 {
			description, _ := dict["ErrorDescription"].(string)
			innerErr := innerResultError(n, description)
			e.sink.Error(innerErr)
			return true, innerErr
		}
	}

	e.noteInfoPlist()
	e.refreshStatus()

	if finished, ok := dict["IsFinished"].(bool); ok && finished {
		e.snapshot = advance(e.snapshot, SnapshotFinished)
		return true, nil
	}
	return false, nil
}

func toInt(v interface{}) (int, bool) {
	switch t := v.(type) {
	case int64:
		return int(t), true
	case uint64:
		return int(t), true
	case int:
		return t, true
	case float64:
		return int(t), true
	}
	return 0, false
}

// noteInfoPlist builds Info.plist the first time the session has made
// forward progress; afterwards it is a no-op.
func (e *BackupEngine) noteInfoPlist() {
	if e.infoWritten {
		return
	}
	if err := buildInfoPlist(e.device, e.opts.BackupRoot, e.opts.InstalledApps, time.Now().UTC().Format(time.RFC3339)); err != nil {
		e.sink.Error(err)
		return
	}
	e.infoWritten = true
}

// refreshStatus re-reads Status.plist from disk, if the device has written
// one yet, and advances the tracked snapshot state and Status event.
func (e *BackupEngine) refreshStatus() {
	status, err := readStatusFile(e.opts.BackupRoot, e.device.Udid)
	if err != nil {
		return
	}
	e.snapshot = advance(e.snapshot, status.SnapshotState)
	e.sink.Status(status.BackupState)
}
