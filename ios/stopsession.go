package ios

type stopSessionRequest struct {
	Label     string
	Request   string
	SessionID string
}

// StopSession tells lockdown the current session is over. Close() calls
// this on every teardown path, including ones already handling an error,
// and discards the returned error.
func (lockDownConn *LockDownConnection) StopSession() error {
	if lockDownConn.sessionID == "" {
		return nil
	}
	err := lockDownConn.Send(stopSessionRequest{Label: "go.idevicebackup", Request: "StopSession", SessionID: lockDownConn.sessionID})
	if err != nil {
		return err
	}
	_, err = lockDownConn.ReadMessage()
	lockDownConn.sessionID = ""
	return err
}
