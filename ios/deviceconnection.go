package ios

import (
	"crypto/tls"
	"io"
	"net"
	"strings"

	log "github.com/sirupsen/logrus"
)

// DeviceConnectionInterface is a physical network connection to usbmuxd, a
// lockdown session, or a service started through lockdown. Implementations
// let the caller switch codecs and upgrade to TLS mid-connection.
type DeviceConnectionInterface interface {
	Close() error
	Send(message []byte) error
	Reader() io.Reader
	Writer() io.Writer
	EnableSessionSsl(pairRecord PairRecord) error
	Conn() net.Conn
	io.ReadWriteCloser
}

// DeviceConnection wraps the net.Conn to the device, supporting a TLS
// upgrade in place once the pair record is known.
type DeviceConnection struct {
	c net.Conn
}

// Read reads incoming data from the connection to the device.
func (conn *DeviceConnection) Read(p []byte) (n int, err error) {
	return conn.c.Read(p)
}

// Write writes data on the connection to the device.
func (conn *DeviceConnection) Write(p []byte) (n int, err error) {
	return conn.c.Write(p)
}

// NewDeviceConnection dials socketToConnectTo and wraps the resulting
// net.Conn.
func NewDeviceConnection(socketToConnectTo string) (*DeviceConnection, error) {
	conn := &DeviceConnection{}
	return conn, conn.connectToSocketAddress(socketToConnectTo)
}

// NewDeviceConnectionWithConn wraps an already connected net.Conn.
func NewDeviceConnectionWithConn(conn net.Conn) *DeviceConnection {
	return &DeviceConnection{c: conn}
}

func (conn *DeviceConnection) connectToSocketAddress(socketAddress string) error {
	if strings.HasPrefix(socketAddress, "/var") {
		socketAddress = "unix://" + socketAddress
	}
	network, address := getSocketTypeAndAddress(socketAddress)
	c, err := net.Dial(network, address)
	if err != nil {
		return err
	}
	log.Tracef("opening connection: %v", &c)
	conn.c = c
	return nil
}

// Close closes the network connection.
func (conn *DeviceConnection) Close() error {
	log.Tracef("closing connection: %v", &conn.c)
	return conn.c.Close()
}

// Send writes bytes to the connection, closing it on any write error since
// the wire protocols here have no notion of partial-message recovery.
func (conn *DeviceConnection) Send(bytes []byte) error {
	n, err := conn.c.Write(bytes)
	if n < len(bytes) {
		log.Errorf("deviceConnection failed writing %d bytes, only %d sent", len(bytes), n)
	}
	if err != nil {
		log.Errorf("failed sending: %s", err)
		conn.Close()
		return err
	}
	return nil
}

// Reader exposes the underlying net.Conn as io.Reader.
func (conn *DeviceConnection) Reader() io.Reader {
	return conn.c
}

// Writer exposes the underlying net.Conn as io.Writer.
func (conn *DeviceConnection) Writer() io.Writer {
	return conn.c
}

// EnableSessionSsl wraps the underlying net.Conn in a client tls.Conn using
// the host certificate/key from pairRecord. The device is trusted
// unconditionally: there is no CA to verify it against, and a successful
// lockdown pairing is the only authentication this protocol offers.
func (conn *DeviceConnection) EnableSessionSsl(pairRecord PairRecord) error {
	tlsConn, err := conn.createClientTLSConn(pairRecord)
	if err != nil {
		return err
	}
	conn.c = net.Conn(tlsConn)
	return nil
}

func (conn *DeviceConnection) createClientTLSConn(pairRecord PairRecord) (*tls.Conn, error) {
	cert, err := tls.X509KeyPair(pairRecord.HostCertificate, pairRecord.HostPrivateKey)
	if err != nil {
		return nil, NewError(KindTlsUpgradeFailed, "failed loading host cert/key pair", err)
	}
	conf := &tls.Config{
		InsecureSkipVerify: true,
		Certificates:       []tls.Certificate{cert},
		ClientAuth:         tls.NoClientCert,
	}

	tlsConn := tls.Client(conn.c, conf)
	if err := tlsConn.Handshake(); err != nil {
		return nil, NewError(KindTlsUpgradeFailed, "tls handshake failed", err)
	}

	log.Tracef("enabled session ssl on %v, wrapped with tlsConn %v", &conn.c, &tlsConn)
	return tlsConn, nil
}

// Conn returns the current underlying net.Conn.
func (conn *DeviceConnection) Conn() net.Conn {
	return conn.c
}
