package codesign

import (
	"crypto"
	"crypto/sha1"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	gop12 "software.sslmate.com/src/go-pkcs12"
)

// SigningIdentity is a certificate and private key loaded from a P12 bundle.
// fox never signs with the key itself; the identity is used to name the
// certificate for codesign and to check it against the chosen profile.
type SigningIdentity struct {
	Certificate *x509.Certificate
	PrivateKey  crypto.PrivateKey
	CertChain   []*x509.Certificate
	TeamID      string
}

// LoadSigningIdentity decodes a PKCS#12 bundle
func LoadSigningIdentity(p12Data []byte, password string) (*SigningIdentity, error) {
	privateKey, cert, caCerts, err := gop12.DecodeChain(p12Data, password)
	if err != nil {
		return nil, fmt.Errorf("failed to decode P12: %w", err)
	}

	chain := append([]*x509.Certificate{cert}, caCerts...)

	return &SigningIdentity{
		Certificate: cert,
		PrivateKey:  privateKey,
		CertChain:   chain,
		TeamID:      extractTeamID(cert),
	}, nil
}

// ReadSigningIdentity loads the P12 bundle at path
func ReadSigningIdentity(path, password string) (*SigningIdentity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read P12 file: %w", err)
	}
	return LoadSigningIdentity(data, password)
}

// CommonName is the certificate common name, e.g.
// "Apple Development: Jane Doe (ABCDE12345)". codesign accepts it as -s.
func (id *SigningIdentity) CommonName() string {
	return id.Certificate.Subject.CommonName
}

// Fingerprint returns the upper-case SHA-1 hash of the certificate, the
// unambiguous form of a codesign identity.
func (id *SigningIdentity) Fingerprint() string {
	sum := sha1.Sum(id.Certificate.Raw)
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

func extractTeamID(cert *x509.Certificate) string {
	// Apple Team IDs are the 10 character OU
	for _, ou := range cert.Subject.OrganizationalUnit {
		if len(ou) == 10 {
			return ou
		}
	}
	return ""
}
