package ios_test

import (
	"testing"

	ios "github.com/ios-toolkit/go-idevicebackup/ios"

	"github.com/stretchr/testify/assert"
)

type sampleData struct {
	StringValue string
	IntValue    int
	FloatValue  float64
}

func TestNtohs(t *testing.T) {
	assert.Equal(t, uint16(32498), ios.Ntohs(ios.Lockdownport))
}

func TestToPlistProducesValidXML(t *testing.T) {
	data := sampleData{"d", 4, 0.2}
	actual := ios.ToPlist(data)
	assert.Contains(t, actual, "<?xml")
	assert.Contains(t, actual, "StringValue")
}

func TestByteCountDecimal(t *testing.T) {
	testCases := map[string]struct {
		input    int64
		expected string
	}{
		"bytes":     {500, "500B"},
		"kilobytes": {1500, "1.5kB"},
		"megabytes": {1500000, "1.5MB"},
	}
	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.expected, ios.ByteCountDecimal(tc.input))
		})
	}
}

func TestFixWindowsPaths(t *testing.T) {
	assert.Equal(t, "Users/me/Backup", ios.FixWindowsPaths(`C:\Users\me\Backup`))
	assert.Equal(t, "/var/mobile/Media", ios.FixWindowsPaths("/var/mobile/Media"))
}

func TestGenericSliceToType(t *testing.T) {
	strs, err := ios.GenericSliceToType[string]([]interface{}{"a", "b"})
	assert.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, strs)

	_, err = ios.GenericSliceToType[string]([]interface{}{"a", 5})
	assert.Error(t, err)
}
