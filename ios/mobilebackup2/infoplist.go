package mobilebackup2

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	afc "github.com/ios-toolkit/go-idevicebackup/ios/afc"
	ios "github.com/ios-toolkit/go-idevicebackup/ios"
)

// InstalledApplication is the per-app data Info.plist's "Applications" map
// needs. Enumerating installed apps is Installation Proxy's job, which is
// out of this module's scope; callers that want a populated Applications
// section supply it themselves through Options.
type InstalledApplication struct {
	BundleID        string
	ApplicationSINF []byte
	ITunesMetadata  []byte
	PlaceholderIcon []byte
}

// iTunesFileNames is the fixed set of sidecar files Info.plist's "iTunes
// Files" dictionary may carry, read from /iTunes_Control/iTunes/ over AFC
// when present.
var iTunesFileNames = []string{
	"iTunesPrefs",
	"IC-Info.sidb",
	"IC-Info.sidv",
	"PurchaseCookie",
	"syncServices.plist",
}

type infoPlistApplication struct {
	ApplicationSINF []byte
	ITunesMetadata  []byte
	PlaceholderIcon []byte
}

type infoPlist struct {
	Applications          map[string]infoPlistApplication
	InstalledApplications []string `plist:"Installed Applications"`
	BuildVersion           string
	DeviceName             string
	DisplayName            string                  `plist:"Display Name"`
	GUID                   string
	ICCID                  string
	IMEI                   string
	MEID                   string
	PhoneNumber            string                  `plist:"Phone Number"`
	ProductType            string                  `plist:"Product Type"`
	ProductVersion         string                  `plist:"Product Version"`
	SerialNumber           string                  `plist:"Serial Number"`
	TargetIdentifier       string                  `plist:"Target Identifier"`
	TargetType             string                  `plist:"Target Type"`
	UniqueIdentifier       string                  `plist:"Unique Identifier"`
	LastBackupDate         string                  `plist:"Last Backup Date"`
	ITunesFiles            map[string][]byte       `plist:"iTunes Files"`
	IBooksData2            []byte                  `plist:"iBooks Data 2,omitempty"`
	ITunesSettings         map[string]interface{}  `plist:"iTunes Settings,omitempty"`
	ITunesVersion          string                  `plist:"iTunes Version"`
}

// buildInfoPlist assembles Info.plist's contents for device, following the
// field list the backup exchange expects, and writes it under
// backupRoot/udid/Info.plist.
func buildInfoPlist(device ios.DeviceEntry, backupRoot string, apps []InstalledApplication, nowRFC3339 string) error {
	lockdown, err := ios.ConnectLockdownWithSession(device)
	if err != nil {
		return err
	}
	defer lockdown.Close()

	get := func(key string) string {
		v, err := lockdown.GetValue("", key)
		if err != nil || v.Kind != ios.ValueKindString {
			return ""
		}
		return v.String
	}

	udidUpper := strings.ToUpper(device.Udid)
	doc := infoPlist{
		Applications:         make(map[string]infoPlistApplication, len(apps)),
		InstalledApplications: make([]string, 0, len(apps)),
		BuildVersion:          get("BuildVersion"),
		DeviceName:            get("DeviceName"),
		DisplayName:           get("DeviceName"),
		GUID:                  ios.NewHostID(),
		ICCID:                 get("IntegratedCircuitCardIdentity"),
		IMEI:                  get("InternationalMobileEquipmentIdentity"),
		MEID:                  get("MobileEquipmentIdentifier"),
		PhoneNumber:           get("PhoneNumber"),
		ProductType:           get("ProductType"),
		ProductVersion:        get("ProductVersion"),
		SerialNumber:          get("SerialNumber"),
		TargetIdentifier:      udidUpper,
		TargetType:            "Device",
		UniqueIdentifier:      udidUpper,
		LastBackupDate:        nowRFC3339,
		ITunesFiles:           readITunesFiles(device),
		ITunesVersion:         itunesVersion(get("MinITunesVersion")),
	}
	for _, app := range apps {
		doc.Applications[app.BundleID] = infoPlistApplication{
			ApplicationSINF: app.ApplicationSINF,
			ITunesMetadata:  app.ITunesMetadata,
			PlaceholderIcon: app.PlaceholderIcon,
		}
		doc.InstalledApplications = append(doc.InstalledApplications, app.BundleID)
	}

	path := filepath.Join(backupRoot, device.Udid, "Info.plist")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return ios.NewError(ios.KindBackupFileError, "failed creating backup directory", err)
	}
	return os.WriteFile(path, []byte(ios.ToPlist(doc)), 0o644)
}

func itunesVersion(minITunesVersion string) string {
	if minITunesVersion != "" {
		return minITunesVersion
	}
	return "10.0.1"
}

// readITunesFiles fetches the fixed set of iTunes sidecar files the device
// carries under /iTunes_Control/iTunes/, skipping any that are absent.
func readITunesFiles(device ios.DeviceEntry) map[string][]byte {
	client, err := afc.New(device)
	if err != nil {
		return nil
	}
	defer client.Close()

	files := make(map[string][]byte)
	for _, name := range iTunesFileNames {
		devicePath := "/iTunes_Control/iTunes/" + name
		f, err := client.Open(devicePath, afc.READ_ONLY)
		if err != nil {
			continue
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			continue
		}
		files[name] = data
	}
	return files
}
