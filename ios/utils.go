package ios

import (
	"encoding/binary"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/Masterminds/semver"
	plist "howett.net/plist"
)

// ToPlist marshals data as an XML plist string. Make sure the fields you
// want included are exported.
func ToPlist(data interface{}) string {
	return string(ToPlistBytes(data))
}

// ParsePlist decodes plist bytes into a generic map, for replies whose
// shape isn't worth a dedicated struct.
func ParsePlist(data []byte) (map[string]interface{}, error) {
	var result map[string]interface{}
	_, err := plist.Unmarshal(data, &result)
	return result, err
}

// ToPlistBytes marshals data as an XML plist.
func ToPlistBytes(data interface{}) []byte {
	b, err := plist.Marshal(data, plist.XMLFormat)
	if err != nil {
		panic(fmt.Sprintf("failed converting %v to plist: %v", data, err))
	}
	return b
}

// ToBinPlistBytes marshals data as a binary plist, used by services that
// speak binary rather than XML plists.
func ToBinPlistBytes(data interface{}) []byte {
	b, err := plist.Marshal(data, plist.BinaryFormat)
	if err != nil {
		panic(fmt.Sprintf("failed converting %v to binary plist: %v", data, err))
	}
	return b
}

// Ntohs re-implements the C function of the same name: network order to
// host order, swapping the endianness of port.
func Ntohs(port uint16) uint16 {
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, port)
	return binary.LittleEndian.Uint16(buf)
}

func envUdid() string {
	udid := os.Getenv("udid")
	if udid != "" {
		return udid
	}
	return ""
}

// PathExists reports whether path exists on disk.
func PathExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// iOS version boundaries for gating protocol behavior that changed across
// releases; mobilebackup2's passcode prerequisite check uses IOS15_7_1 and
// IOS16.
func IOS11() *semver.Version { return semver.MustParse("11.0") }
func IOS12() *semver.Version { return semver.MustParse("12.0") }
func IOS14() *semver.Version { return semver.MustParse("14.0") }
func IOS15_7_1() *semver.Version { return semver.MustParse("15.7.1") }
func IOS16() *semver.Version { return semver.MustParse("16.0") }
func IOS17() *semver.Version { return semver.MustParse("17.0") }

// FixWindowsPaths replaces backslashes with forward slashes and strips
// "X:/" style windows drive letters, for backup roots passed in on Windows.
func FixWindowsPaths(path string) string {
	path = strings.ReplaceAll(path, "\\", "/")
	if strings.Contains(path, ":/") {
		path = strings.Split(path, ":/")[1]
	}
	return path
}

// ByteCountDecimal formats b bytes as a human readable decimal size, used
// in backup progress logging.
func ByteCountDecimal(b int64) string {
	const unit = 1000
	if b < unit {
		return fmt.Sprintf("%dB", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%cB", float64(b)/float64(div), "kMGTPE"[exp])
}

// InterfaceToStringSlice casts intfSlice to []interface{} and converts each
// entry to a string, returning an empty slice rather than panicking on a
// shape mismatch.
func InterfaceToStringSlice(intfSlice interface{}) []string {
	slice, ok := intfSlice.([]interface{})
	if !ok {
		return []string{}
	}
	result := make([]string, 0, len(slice))
	for _, v := range slice {
		s, ok := v.(string)
		if !ok {
			continue
		}
		result = append(result, s)
	}
	return result
}

// GenericSliceToType converts a slice of interfaces to a slice of T,
// failing if any element does not already have dynamic type T.
func GenericSliceToType[T any](input []interface{}) ([]T, error) {
	result := make([]T, len(input))
	for i, intf := range input {
		t, ok := intf.(T)
		if !ok {
			return []T{}, fmt.Errorf("genericSliceToType: could not convert %v to %T", intf, result[i])
		}
		result[i] = t
	}
	return result, nil
}

func getSocketTypeAndAddress(socketAddress string) (string, string) {
	chunks := strings.Split(socketAddress, "://")
	if len(chunks) != 2 {
		panic("needs scheme://address")
	}
	return chunks[0], chunks[1]
}

func toUnixSocketPath(socketAddress string) string {
	scheme, name := getSocketTypeAndAddress(socketAddress)
	if scheme != "unix" {
		panic("needs a unix socket")
	}
	return name
}

// GetUsbmuxdSocket returns the address usbmuxd listens on for this
// platform, honoring the USBMUXD_SOCKET_ADDRESS override.
func GetUsbmuxdSocket() string {
	if override := os.Getenv("USBMUXD_SOCKET_ADDRESS"); override != "" {
		if strings.Contains(override, ":") {
			return "tcp://" + override
		}
		return "unix://" + override
	}
	switch runtime.GOOS {
	case "windows":
		return "tcp://127.0.0.1:27015"
	default:
		return "unix:///var/run/usbmuxd"
	}
}
