package ios

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"reflect"

	log "github.com/sirupsen/logrus"
)

// PlistCodec is a codec for plist based services with [4 byte big endian
// length][plist-payload] framed messages, used by the lockdown client and
// every plist-speaking service connection started through it.
type PlistCodec struct{}

// NewPlistCodec creates a codec for plist based services with [4 byte big
// endian length][plist-payload] framed messages.
func NewPlistCodec() PlistCodec {
	return PlistCodec{}
}

// Encode encodes message to the lockdown plist wire format: a 4 byte
// unsigned big endian length followed by the plist itself.
func (plistCodec PlistCodec) Encode(message interface{}) ([]byte, error) {
	stringContent := ToPlist(message)
	log.Tracef("lockdown send %v", reflect.TypeOf(message))
	buf := new(bytes.Buffer)
	length := len(stringContent)
	messageLength := uint32(length)

	err := binary.Write(buf, binary.BigEndian, messageLength)
	if err != nil {
		return nil, err
	}
	buf.Write([]byte(stringContent))
	return buf.Bytes(), nil
}

// Decode reads one length-prefixed plist message from r and returns the
// raw plist bytes.
func (plistCodec PlistCodec) Decode(r io.Reader) ([]byte, error) {
	if r == nil {
		return nil, errors.New("reader was nil")
	}
	buf := make([]byte, 4)
	err := binary.Read(r, binary.BigEndian, buf)
	if err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(buf)
	payloadBytes := make([]byte, length)
	n, err := io.ReadFull(r, payloadBytes)
	if err != nil {
		return nil, fmt.Errorf("lockdown payload had incorrect size: %d expected: %d original error: %w", n, length, err)
	}
	return payloadBytes, nil
}
