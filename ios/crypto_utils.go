package ios

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"
)

// createRootCertificate builds a throwaway root CA, a host certificate,
// and a certificate for the device's own public key (devicePublicKeyPEM),
// all signed by the same root key pair. Apple's pairing protocol does not
// ask the host to prove its certificate chain to anyone, so a fresh,
// self-signed root generated per pairing is as good as any other.
func createRootCertificate(devicePublicKeyPEM []byte) (rootCert, hostCert, deviceCert, rootPrivateKey, hostPrivateKey []byte, err error) {
	bitSize := 2048

	rootKeyPair, err := rsa.GenerateKey(rand.Reader, bitSize)
	if err != nil {
		return nil, nil, nil, nil, nil, err
	}
	var serial big.Int
	serial.SetInt64(0)

	rootSKI, err := computeSKIKey(&rootKeyPair.PublicKey)
	if err != nil {
		return nil, nil, nil, nil, nil, err
	}

	rootCertTemplate := x509.Certificate{
		SerialNumber:          &serial,
		Subject:               pkix.Name{},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().AddDate(10, 0, 0),
		SignatureAlgorithm:    x509.SHA1WithRSA,
		BasicConstraintsValid: true,
		IsCA:                  true,
		ExtraExtensions:       []pkix.Extension{{Id: []int{2, 5, 29, 14}, Value: rootSKI}},
	}
	rootCertBytes, err := x509.CreateCertificate(rand.Reader, &rootCertTemplate, &rootCertTemplate, &rootKeyPair.PublicKey, rootKeyPair)
	if err != nil {
		return nil, nil, nil, nil, nil, err
	}

	hostCertTemplate := x509.Certificate{
		SerialNumber:          &serial,
		Subject:               pkix.Name{},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().AddDate(10, 0, 0),
		SignatureAlgorithm:    x509.SHA1WithRSA,
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  false,
		ExtraExtensions:       []pkix.Extension{{Id: []int{2, 5, 29, 14}, Value: rootSKI}},
	}
	hostCertBytes, err := x509.CreateCertificate(rand.Reader, &hostCertTemplate, &hostCertTemplate, &rootKeyPair.PublicKey, rootKeyPair)
	if err != nil {
		return nil, nil, nil, nil, nil, err
	}

	block, _ := pem.Decode(devicePublicKeyPEM)
	if block == nil {
		return nil, nil, nil, nil, nil, errors.New("failed to parse PEM block containing the device public key")
	}
	var devicePublicKey rsa.PublicKey
	if _, err := asn1.Unmarshal(block.Bytes, &devicePublicKey); err != nil {
		return nil, nil, nil, nil, nil, err
	}

	deviceSKI, err := computeSKIKey(&devicePublicKey)
	if err != nil {
		return nil, nil, nil, nil, nil, err
	}
	deviceCertTemplate := x509.Certificate{
		SerialNumber:          &serial,
		Subject:               pkix.Name{},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().AddDate(10, 0, 0),
		SignatureAlgorithm:    x509.SHA1WithRSA,
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  false,
		ExtraExtensions:       []pkix.Extension{{Id: []int{2, 5, 29, 14}, Value: deviceSKI}},
	}
	deviceCertBytes, err := x509.CreateCertificate(rand.Reader, &deviceCertTemplate, &deviceCertTemplate, &devicePublicKey, rootKeyPair)
	if err != nil {
		return nil, nil, nil, nil, nil, err
	}

	rootPrivateKeyPEM := savePEMKey(rootKeyPair)
	return certBytesToPEM(rootCertBytes), certBytesToPEM(hostCertBytes), certBytesToPEM(deviceCertBytes), rootPrivateKeyPEM, rootPrivateKeyPEM, nil
}

func computeSKIKey(pub *rsa.PublicKey) ([]byte, error) {
	encodedPub, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, err
	}
	var subPKI subjectPublicKeyInfo
	if _, err := asn1.Unmarshal(encodedPub, &subPKI); err != nil {
		return nil, err
	}
	pubHash := sha1.Sum(subPKI.SubjectPublicKey.Bytes)
	return []byte(toHexString(pubHash[:])), nil
}

func toHexString(b []byte) string {
	digestString := fmt.Sprintf("%x", b)
	if len(digestString)%2 == 1 {
		digestString = "0" + digestString
	}
	re := regexp.MustCompile("..")
	digestString = strings.TrimRight(re.ReplaceAllString(digestString, "$0:"), ":")
	return strings.ToUpper(digestString)
}

type subjectPublicKeyInfo struct {
	Algorithm        pkix.AlgorithmIdentifier
	SubjectPublicKey asn1.BitString
}

func certBytesToPEM(certBytes []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certBytes})
}

func savePEMKey(key *rsa.PrivateKey) []byte {
	block := &pem.Block{
		Type:  "PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	}
	return pem.EncodeToMemory(block)
}
