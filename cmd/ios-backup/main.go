package main

import (
	"fmt"
	"os"

	"github.com/docopt/docopt-go"
	ios "github.com/ios-toolkit/go-idevicebackup/ios"
	mobilebackup2 "github.com/ios-toolkit/go-idevicebackup/ios/mobilebackup2"
	log "github.com/sirupsen/logrus"
)

const version = "local-build"

func main() {
	usage := fmt.Sprintf(`ios-backup %s

Usage:
  ios-backup backup <backupdir> [options]
  ios-backup list [options]
  ios-backup -h | --help
  ios-backup --version

Options:
  -v --verbose       Enable Debug Logging.
  --udid=<udid>      UDID of the device to back up.
  --full             Force a full backup, discarding any incremental state.
  -h --help          Show this screen.
  --version          Show the version.
`, version)

	arguments, err := docopt.ParseDoc(usage)
	if err != nil {
		log.Fatal(err)
	}

	if verbose, _ := arguments.Bool("--verbose"); verbose {
		log.SetLevel(log.DebugLevel)
	}

	if shouldPrintVersion, _ := arguments.Bool("--version"); shouldPrintVersion {
		fmt.Println(version)
		return
	}

	if list, _ := arguments.Bool("list"); list {
		runList()
		return
	}

	if backup, _ := arguments.Bool("backup"); backup {
		backupDir, _ := arguments.String("<backupdir>")
		udid, _ := arguments.String("--udid")
		forceFullBackup, _ := arguments.Bool("--full")
		runBackup(backupDir, udid, forceFullBackup)
	}
}

func runList() {
	devices, err := ios.ListDevices()
	if err != nil {
		log.WithError(err).Fatal("failed listing devices")
	}
	for _, device := range devices.Devices {
		fmt.Println(device.Udid)
	}
}

func runBackup(backupDir, udid string, forceFullBackup bool) {
	device, err := resolveDevice(udid)
	if err != nil {
		log.WithError(err).Fatal("failed resolving target device")
	}

	opts := mobilebackup2.Options{
		BackupRoot:      backupDir,
		ForceFullBackup: forceFullBackup,
	}
	engine := mobilebackup2.NewBackupEngine(device, opts, cliSink{})

	if err := engine.Run(); err != nil {
		log.WithError(err).Fatal("backup failed")
	}
}

func resolveDevice(udid string) (ios.DeviceEntry, error) {
	if udid != "" {
		return ios.GetDevice(udid)
	}
	devices, err := ios.ListDevices()
	if err != nil {
		return ios.DeviceEntry{}, err
	}
	if len(devices.Devices) == 0 {
		return ios.DeviceEntry{}, ios.NewError(ios.KindDeviceDisconnected, "no iOS devices are attached to this host", nil)
	}
	return devices.Devices[0], nil
}

// cliSink renders backup lifecycle events to the terminal through logrus,
// keeping the command layer a thin presentation shell over the library
// that does the actual protocol work.
type cliSink struct {
	mobilebackup2.NoopSink
}

func (cliSink) Started() {
	log.Info("backup started")
}

func (cliSink) Progress(percent float64) {
	log.WithField("percent", percent).Info("backup progress")
}

func (cliSink) Status(message string) {
	log.WithField("status", message).Debug("device status")
}

func (cliSink) FileReceived(file mobilebackup2.BackupFile) {
	log.WithField("path", file.BackupPath).Debug("received file")
}

func (cliSink) FileTransferError(file mobilebackup2.BackupFile, err error) {
	log.WithField("path", file.BackupPath).WithError(err).Warn("file transfer failed")
}

func (cliSink) PasscodeRequiredForBackup() {
	log.Warn("device requires a passcode to be entered before backup can continue")
}

func (cliSink) Error(err error) {
	log.WithError(err).Error("backup error")
}

func (cliSink) Completed(result mobilebackup2.Result) {
	log.WithFields(log.Fields{
		"failedFiles":        len(result.FailedFiles),
		"userCancelled":      result.UserCancelled,
		"deviceDisconnected": result.DeviceDisconnected,
	}).Info("backup completed")
	if len(result.FailedFiles) > 0 {
		os.Exit(1)
	}
}
