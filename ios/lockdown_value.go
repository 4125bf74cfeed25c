package ios

import (
	"bytes"

	"github.com/Masterminds/semver"
	plist "howett.net/plist"
)

// ValueKind discriminates the dynamic shapes a lockdown GetValue reply can
// take. Apple's wire format gives every domain/key pair back as a bare
// plist value with no type tag, so this package classifies it on decode
// instead of forcing every caller to assert the right Go type by hand.
type ValueKind int

const (
	ValueKindNil ValueKind = iota
	ValueKindString
	ValueKindBool
	ValueKindInt
	ValueKindData
	ValueKindArray
	ValueKindDict
)

// Value is a lockdown GetValue result, tagged with the Go type the plist
// payload actually decoded to.
type Value struct {
	Kind   ValueKind
	String string
	Bool   bool
	Int    int64
	Data   []byte
	Array  []interface{}
	Dict   map[string]interface{}
}

func valueFromInterface(v interface{}) Value {
	switch t := v.(type) {
	case nil:
		return Value{Kind: ValueKindNil}
	case string:
		return Value{Kind: ValueKindString, String: t}
	case bool:
		return Value{Kind: ValueKindBool, Bool: t}
	case int64:
		return Value{Kind: ValueKindInt, Int: t}
	case uint64:
		return Value{Kind: ValueKindInt, Int: int64(t)}
	case int:
		return Value{Kind: ValueKindInt, Int: int64(t)}
	case []byte:
		return Value{Kind: ValueKindData, Data: t}
	case []interface{}:
		return Value{Kind: ValueKindArray, Array: t}
	case map[string]interface{}:
		return Value{Kind: ValueKindDict, Dict: t}
	default:
		return Value{Kind: ValueKindNil}
	}
}

type getValueRequest struct {
	Label   string
	Domain  string `plist:",omitempty"`
	Key     string `plist:",omitempty"`
	Request string
}

type getValueResponse struct {
	Key     string
	Request string
	Value   interface{}
	Error   string
}

func getValueResponseFromBytes(plistBytes []byte) getValueResponse {
	decoder := plist.NewDecoder(bytes.NewReader(plistBytes))
	var data getValueResponse
	_ = decoder.Decode(&data)
	return data
}

// GetValue performs a lockdown GetValue request for a domain/key pair; an
// empty domain queries the root domain and an empty key fetches the whole
// domain as a Value of kind ValueKindDict.
func (lockDownConn *LockDownConnection) GetValue(domain, key string) (Value, error) {
	err := lockDownConn.Send(getValueRequest{Label: "go.idevicebackup", Domain: domain, Key: key, Request: "GetValue"})
	if err != nil {
		return Value{}, err
	}
	respBytes, err := lockDownConn.ReadMessage()
	if err != nil {
		return Value{}, err
	}
	resp := getValueResponseFromBytes(respBytes)
	if resp.Error == "DeprecatedInThisVersion" {
		return Value{}, NewError(KindDeprecated, "lockdown GetValue: "+domain+"/"+key+" is deprecated on this iOS version", nil)
	}
	if resp.Error != "" {
		return Value{}, NewError(KindProtocolViolation, "lockdown GetValue failed: "+resp.Error, nil)
	}
	return valueFromInterface(resp.Value), nil
}

// GetValueForKey is a convenience wrapper for GetValue("", key), the
// common case of querying the root domain.
func GetValueForKey(device DeviceEntry, key string) (Value, error) {
	lockdown, err := ConnectLockdownWithSession(device)
	if err != nil {
		return Value{}, err
	}
	defer lockdown.Close()
	return lockdown.GetValue("", key)
}

// GetProductVersion fetches and parses device's ProductVersion, for the
// iOS-version-gated behavior checks against IOS15_7_1/IOS16/IOS17.
func GetProductVersion(device DeviceEntry) (*semver.Version, error) {
	lockdown, err := ConnectLockdownWithSession(device)
	if err != nil {
		return nil, err
	}
	defer lockdown.Close()
	value, err := lockdown.GetValue("", "ProductVersion")
	if err != nil {
		return nil, err
	}
	return semver.NewVersion(value.String)
}

type setValueRequest struct {
	Label   string
	Domain  string `plist:",omitempty"`
	Key     string `plist:",omitempty"`
	Value   interface{}
	Request string
}

// SetValue performs a lockdown SetValue request for a domain/key pair.
func (lockDownConn *LockDownConnection) SetValue(domain, key string, value interface{}) error {
	err := lockDownConn.Send(setValueRequest{Label: "go.idevicebackup", Domain: domain, Key: key, Value: value, Request: "SetValue"})
	if err != nil {
		return err
	}
	respBytes, err := lockDownConn.ReadMessage()
	if err != nil {
		return err
	}
	resp := getValueResponseFromBytes(respBytes)
	if resp.Error != "" {
		return NewError(KindProtocolViolation, "lockdown SetValue failed: "+resp.Error, nil)
	}
	return nil
}
