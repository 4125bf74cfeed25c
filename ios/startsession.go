package ios

import (
	"bytes"

	plist "howett.net/plist"
)

type startSessionRequest struct {
	Label           string
	ProtocolVersion string
	Request         string
	HostID          string
	SystemBUID      string
}

func newStartSessionRequest(hostID string, systemBuid string) startSessionRequest {
	return startSessionRequest{
		Label:           "go.idevicebackup",
		ProtocolVersion: "2",
		Request:         "StartSession",
		HostID:          hostID,
		SystemBUID:      systemBuid,
	}
}

// StartSessionResponse is lockdown's reply to a StartSession request.
type StartSessionResponse struct {
	EnableSessionSSL bool
	Request          string
	SessionID        string
	Error            string
}

func startSessionResponsefromBytes(plistBytes []byte) StartSessionResponse {
	decoder := plist.NewDecoder(bytes.NewReader(plistBytes))
	var data StartSessionResponse
	_ = decoder.Decode(&data)
	return data
}

// StartSession sends a StartSession request using pairRecord's HostID and
// SystemBUID, then upgrades the connection to TLS if the device asks for
// it, which it almost always does.
func (lockDownConn *LockDownConnection) StartSession(pairRecord PairRecord) (StartSessionResponse, error) {
	err := lockDownConn.Send(newStartSessionRequest(pairRecord.HostID, pairRecord.SystemBUID))
	if err != nil {
		return StartSessionResponse{}, err
	}
	resp, err := lockDownConn.ReadMessage()
	if err != nil {
		return StartSessionResponse{}, err
	}
	response := startSessionResponsefromBytes(resp)
	if response.Error != "" {
		return response, NewError(KindNotPaired, response.Error, nil)
	}
	lockDownConn.sessionID = response.SessionID
	if response.EnableSessionSSL {
		err = lockDownConn.deviceConnection.EnableSessionSsl(pairRecord)
		if err != nil {
			return StartSessionResponse{}, err
		}
	}
	return response, nil
}
