package codesign

import (
	"bytes"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	"go.mozilla.org/pkcs7"
	"howett.net/plist"
)

// ProvisioningProfile represents a parsed .mobileprovision file
type ProvisioningProfile struct {
	Name                        string                 `plist:"Name"`
	TeamName                    string                 `plist:"TeamName"`
	TeamIdentifier              []string               `plist:"TeamIdentifier"`
	AppIDName                   string                 `plist:"AppIDName"`
	ApplicationIdentifierPrefix []string               `plist:"ApplicationIdentifierPrefix"`
	Entitlements                map[string]interface{} `plist:"Entitlements"`
	DeveloperCertificates       [][]byte               `plist:"DeveloperCertificates"`
	ProvisionedDevices          []string               `plist:"ProvisionedDevices"`
	ProvisionsAllDevices        bool                   `plist:"ProvisionsAllDevices"`
	CreationDate                time.Time              `plist:"CreationDate"`
	ExpirationDate              time.Time              `plist:"ExpirationDate"`
	UUID                        string                 `plist:"UUID"`
	Platform                    []string               `plist:"Platform"`
}

var (
	plistBegin = []byte("<?xml")
	plistEnd   = []byte("</plist>")
)

// ParseProvisioningProfile parses a .mobileprovision file.
// The file is a CMS (PKCS#7) signed container with a plist payload. Data
// that is not a valid container is searched for the embedded XML plist.
func ParseProvisioningProfile(data []byte) (*ProvisioningProfile, error) {
	payload, err := profilePayload(data)
	if err != nil {
		return nil, err
	}

	var profile ProvisioningProfile
	if _, err := plist.Unmarshal(payload, &profile); err != nil {
		return nil, fmt.Errorf("failed to parse provisioning profile plist: %w", err)
	}

	return &profile, nil
}

func profilePayload(data []byte) ([]byte, error) {
	// CMS content info is a DER SEQUENCE
	if len(data) > 0 && data[0] == 0x30 {
		p7, err := pkcs7.Parse(data)
		if err == nil {
			return p7.Content, nil
		}
	}

	begin := bytes.Index(data, plistBegin)
	end := bytes.LastIndex(data, plistEnd)
	if begin < 0 || end < begin {
		return nil, fmt.Errorf("failed to parse provisioning profile: neither a PKCS#7 container nor a plist")
	}
	return data[begin : end+len(plistEnd)], nil
}

// ReadProvisioningProfile reads and parses the profile at path
func ReadProvisioningProfile(path string) (*ProvisioningProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read provisioning profile: %w", err)
	}
	return ParseProvisioningProfile(data)
}

// GetTeamID returns the team identifier from the profile
func (p *ProvisioningProfile) GetTeamID() string {
	if len(p.TeamIdentifier) > 0 {
		return p.TeamIdentifier[0]
	}
	if len(p.ApplicationIdentifierPrefix) > 0 {
		return p.ApplicationIdentifierPrefix[0]
	}
	return ""
}

// GetApplicationIdentifier returns the application identifier from entitlements
func (p *ProvisioningProfile) GetApplicationIdentifier() string {
	if appID, ok := p.Entitlements["application-identifier"].(string); ok {
		return appID
	}
	return ""
}

// IsExpired checks if the provisioning profile has expired
func (p *ProvisioningProfile) IsExpired() bool {
	return time.Now().After(p.ExpirationDate)
}

// Kind classifies the profile the way Xcode does: development profiles list
// devices and allow debugging, ad hoc profiles list devices only, enterprise
// profiles provision all devices and the rest are App Store profiles.
func (p *ProvisioningProfile) Kind() string {
	debuggable, _ := p.Entitlements["get-task-allow"].(bool)
	switch {
	case p.ProvisionsAllDevices:
		return "enterprise"
	case len(p.ProvisionedDevices) > 0 && debuggable:
		return "development"
	case len(p.ProvisionedDevices) > 0:
		return "ad-hoc"
	default:
		return "app-store"
	}
}

// GetCertificates parses and returns the developer certificates from the profile
func (p *ProvisioningProfile) GetCertificates() ([]*x509.Certificate, error) {
	var certs []*x509.Certificate
	for i, certData := range p.DeveloperCertificates {
		cert, err := x509.ParseCertificate(certData)
		if err != nil {
			return nil, fmt.Errorf("failed to parse certificate %d: %w", i, err)
		}
		certs = append(certs, cert)
	}
	return certs, nil
}

// MatchesCertificate checks if the given certificate matches any certificate in the profile
func (p *ProvisioningProfile) MatchesCertificate(cert *x509.Certificate) bool {
	for _, certData := range p.DeveloperCertificates {
		profileCert, err := x509.ParseCertificate(certData)
		if err != nil {
			continue
		}
		if cert.Equal(profileCert) {
			return true
		}
	}
	return false
}
