package mobilebackup2

import (
	"os"
	"path/filepath"

	ios "github.com/ios-toolkit/go-idevicebackup/ios"
	log "github.com/sirupsen/logrus"
)

// contentsOfDirectory lists backupRoot/udid/path for DLMessageContentsOfDirectory,
// describing each entry the way the device expects: file type and size.
// When recursive is set, entries below subdirectories are included too,
// keyed by their path relative to path, so the device's deep
// Manifest.plist/Status.plist presence checks succeed against nested
// backup-root paths rather than only the immediate directory.
func contentsOfDirectory(backupRoot, udid, path string, recursive bool) (map[string]interface{}, error) {
	local, err := resolveLocalPath(backupRoot, udid, path)
	if err != nil {
		return nil, err
	}
	out := make(map[string]interface{})
	if !recursive {
		entries, err := os.ReadDir(local)
		if err != nil {
			return nil, ios.NewError(ios.KindBackupFileError, "failed listing directory", err)
		}
		for _, entry := range entries {
			describeEntry(out, entry.Name(), entry)
		}
		return out, nil
	}

	err = filepath.WalkDir(local, func(p string, d os.DirEntry, err error) error {
		if err != nil || p == local {
			return err
		}
		rel, relErr := filepath.Rel(local, p)
		if relErr != nil {
			return relErr
		}
		describeEntry(out, filepath.ToSlash(rel), d)
		return nil
	})
	if err != nil {
		return nil, ios.NewError(ios.KindBackupFileError, "failed walking directory", err)
	}
	return out, nil
}

func describeEntry(out map[string]interface{}, key string, entry os.DirEntry) {
	info, err := entry.Info()
	if err != nil {
		return
	}
	fileType := "DLFileTypeRegular"
	if entry.IsDir() {
		fileType = "DLFileTypeDirectory"
	}
	out[key] = map[string]interface{}{
		"DLFileType": fileType,
		"DLFileSize": info.Size(),
	}
}

func createDirectory(backupRoot, udid, path string) error {
	local, err := resolveLocalPath(backupRoot, udid, path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(local, 0o755); err != nil {
		return ios.NewError(ios.KindBackupFileError, "failed creating directory", err)
	}
	return nil
}

func moveItems(backupRoot, udid string, srcToDst map[string]string) error {
	for src, dst := range srcToDst {
		localSrc, err := resolveLocalPath(backupRoot, udid, src)
		if err != nil {
			return err
		}
		localDst, err := resolveLocalPath(backupRoot, udid, dst)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(localDst), 0o755); err != nil {
			return ios.NewError(ios.KindBackupFileError, "failed creating destination directory", err)
		}
		if err := os.Rename(localSrc, localDst); err != nil {
			return ios.NewError(ios.KindBackupFileError, "failed moving backup item", err)
		}
	}
	return nil
}

func removeItems(backupRoot, udid string, paths []string) error {
	for _, p := range paths {
		local, err := resolveLocalPath(backupRoot, udid, p)
		if err != nil {
			return err
		}
		if err := os.RemoveAll(local); err != nil {
			return ios.NewError(ios.KindBackupFileError, "failed removing backup item", err)
		}
	}
	return nil
}

// copyItem copies src to dst. Directory sources are logged and skipped per
// the device's own CopyItem semantics, which only ever target files.
func copyItem(backupRoot, udid, src, dst string) error {
	localSrc, err := resolveLocalPath(backupRoot, udid, src)
	if err != nil {
		return err
	}
	localDst, err := resolveLocalPath(backupRoot, udid, dst)
	if err != nil {
		return err
	}
	info, err := os.Stat(localSrc)
	if err != nil {
		return ios.NewError(ios.KindBackupFileError, "failed statting copy source", err)
	}
	if info.IsDir() {
		log.WithField("path", src).Debug("mobilebackup2: skipping copy of directory")
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(localDst), 0o755); err != nil {
		return ios.NewError(ios.KindBackupFileError, "failed creating destination directory", err)
	}
	data, err := os.ReadFile(localSrc)
	if err != nil {
		return ios.NewError(ios.KindBackupFileError, "failed reading copy source", err)
	}
	if err := os.WriteFile(localDst, data, 0o644); err != nil {
		return ios.NewError(ios.KindBackupFileError, "failed writing copy destination", err)
	}
	return nil
}
