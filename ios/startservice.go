package ios

import (
	"bytes"
	"fmt"

	log "github.com/sirupsen/logrus"
	plist "howett.net/plist"
)

type startServiceRequest struct {
	Label   string
	Request string
	Service string
}

// StartServiceResponse is lockdown's reply to a StartService request: the
// port the service is listening on and whether the connection needs a TLS
// upgrade before it can be used.
type StartServiceResponse struct {
	Port             uint16
	Request          string
	Service          string
	EnableServiceSSL bool
	Error            string
}

func getStartServiceResponsefromBytes(plistBytes []byte) StartServiceResponse {
	decoder := plist.NewDecoder(bytes.NewReader(plistBytes))
	var data StartServiceResponse
	_ = decoder.Decode(&data)
	return data
}

// StartService asks lockdown to start serviceName and returns the port it
// was started on.
func (lockDownConn *LockDownConnection) StartService(serviceName string) (StartServiceResponse, error) {
	err := lockDownConn.Send(startServiceRequest{Label: "go.idevicebackup", Request: "StartService", Service: serviceName})
	if err != nil {
		return StartServiceResponse{}, err
	}
	resp, err := lockDownConn.ReadMessage()
	if err != nil {
		return StartServiceResponse{}, err
	}
	response := getStartServiceResponsefromBytes(resp)
	if response.Error != "" {
		return StartServiceResponse{}, NewError(KindServiceStartFailed, fmt.Sprintf("could not start service %s: %s", serviceName, response.Error), nil)
	}
	log.WithFields(log.Fields{"port": response.Port, "request": response.Request, "service": response.Service, "enableServiceSSL": response.EnableServiceSSL}).Debug("service started on device")
	return response, nil
}

// StartService opens a fresh, paired lockdown session to device and starts
// serviceName on it, closing the lockdown connection afterward (the
// service itself keeps running on the port it reports).
func StartService(device DeviceEntry, serviceName string) (StartServiceResponse, error) {
	lockdown, err := ConnectLockdownWithSession(device)
	if err != nil {
		return StartServiceResponse{}, err
	}
	defer lockdown.Close()
	return lockdown.StartService(serviceName)
}
