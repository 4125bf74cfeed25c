package ios_test

import (
	"bytes"
	"testing"

	ios "github.com/ios-toolkit/go-idevicebackup/ios"

	"github.com/stretchr/testify/assert"
)

func TestPlistCodecRoundTrip(t *testing.T) {
	codec := ios.NewPlistCodec()
	testCases := map[string]struct {
		data interface{}
	}{
		"start service response": {ios.StartServiceResponse{Port: 1234, Request: "StartService", Service: "com.apple.mobilebackup2", EnableServiceSSL: true}},
		"mux response":           {ios.MuxResponse{MessageType: "Result", Number: 0}},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			encoded, err := codec.Encode(tc.data)
			if !assert.NoError(t, err) {
				return
			}
			decoded, err := codec.Decode(bytes.NewReader(encoded))
			if !assert.NoError(t, err) {
				return
			}
			assert.Equal(t, ios.ToPlist(tc.data), string(decoded))
		})
	}
}

func TestPlistCodecRejectsTruncatedPayload(t *testing.T) {
	codec := ios.NewPlistCodec()
	encoded, err := codec.Encode(ios.MuxResponse{MessageType: "Result", Number: 0})
	if !assert.NoError(t, err) {
		return
	}
	truncated := encoded[:len(encoded)-2]
	_, err = codec.Decode(bytes.NewReader(truncated))
	assert.Error(t, err)
}
