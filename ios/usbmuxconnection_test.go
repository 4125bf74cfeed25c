package ios_test

import (
	"bytes"
	"encoding/binary"
	"net"
	"testing"

	ios "github.com/ios-toolkit/go-idevicebackup/ios"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// DeviceConnectionMock is a testify/mock stand-in for parts of
// ios.DeviceConnectionInterface; no test in this file uses it.
type DeviceConnectionMock struct {
	mock.Mock
	writeBuf bytes.Buffer
}

func (m *DeviceConnectionMock) Close() error {
	args := m.Called()
	return args.Error(0)
}
func (m *DeviceConnectionMock) Send(message []byte) error {
	args := m.Called(message)
	return args.Error(0)
}
func (m *DeviceConnectionMock) Reader() interface{ Read(p []byte) (int, error) } {
	panic("unused")
}
func (m *DeviceConnectionMock) Conn() net.Conn {
	return nil
}
func (m *DeviceConnectionMock) EnableSessionSsl(pairRecord ios.PairRecord) error {
	args := m.Called(pairRecord)
	return args.Error(0)
}

func TestUsbMuxHeaderFraming(t *testing.T) {
	// Encode/decode round trip for the usbmux wire header: Length, Version,
	// Request, Tag as little endian uint32s, length counting the 16 byte
	// header itself.
	header := struct {
		Length  uint32
		Version uint32
		Request uint32
		Tag     uint32
	}{Length: 16 + 4, Version: 1, Request: 8, Tag: 42}

	buf := new(bytes.Buffer)
	assert.NoError(t, binary.Write(buf, binary.LittleEndian, header))
	buf.Write([]byte{1, 2, 3, 4})

	var decoded struct {
		Length  uint32
		Version uint32
		Request uint32
		Tag     uint32
	}
	assert.NoError(t, binary.Read(bytes.NewReader(buf.Bytes()[:16]), binary.LittleEndian, &decoded))
	assert.Equal(t, header, decoded)
	assert.Equal(t, uint32(20), decoded.Length)
}

func TestMuxResponseIsSuccessfulOnZero(t *testing.T) {
	success := ios.MuxResponse{MessageType: "Result", Number: 0}
	failure := ios.MuxResponse{MessageType: "Result", Number: 2}
	assert.True(t, success.IsSuccessFull())
	assert.False(t, failure.IsSuccessFull())
}
