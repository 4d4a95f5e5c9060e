package codesign

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.mozilla.org/pkcs7"
	"howett.net/plist"
)

// Fixtures are generated on the fly: a self-signed "Apple Development"
// certificate and CMS-signed profiles carrying it.

var (
	fixtureOnce sync.Once
	fixtureKey  *rsa.PrivateKey
	fixtureCert *x509.Certificate
	fixtureErr  error
)

const fixtureTeamID = "ABCDE12345"

func testCertificate(t *testing.T) (*x509.Certificate, *rsa.PrivateKey) {
	t.Helper()
	fixtureOnce.Do(func() {
		fixtureKey, fixtureErr = rsa.GenerateKey(rand.Reader, 2048)
		if fixtureErr != nil {
			return
		}
		tmpl := &x509.Certificate{
			SerialNumber: big.NewInt(42),
			Subject: pkix.Name{
				CommonName:         "Apple Development: Jane Doe (" + fixtureTeamID + ")",
				OrganizationalUnit: []string{fixtureTeamID},
				Organization:       []string{"Example Inc"},
			},
			NotBefore:   time.Now().Add(-time.Hour),
			NotAfter:    time.Now().Add(24 * time.Hour),
			KeyUsage:    x509.KeyUsageDigitalSignature,
			ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageCodeSigning},
		}
		der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &fixtureKey.PublicKey, fixtureKey)
		if err != nil {
			fixtureErr = err
			return
		}
		fixtureCert, fixtureErr = x509.ParseCertificate(der)
	})
	if fixtureErr != nil {
		t.Fatalf("failed to create test certificate: %v", fixtureErr)
	}
	return fixtureCert, fixtureKey
}

type profileFixture struct {
	Name       string
	UUID       string
	Expires    time.Time
	BundleID   string
	Devices    []string
	AllDevices bool
}

func (f profileFixture) plist(t *testing.T) []byte {
	t.Helper()
	cert, _ := testCertificate(t)

	expires := f.Expires
	if expires.IsZero() {
		expires = time.Now().Add(365 * 24 * time.Hour)
	}
	bundleID := f.BundleID
	if bundleID == "" {
		bundleID = "com.example.app"
	}

	payload := map[string]interface{}{
		"Name":                        f.Name,
		"UUID":                        f.UUID,
		"TeamName":                    "Example Inc",
		"TeamIdentifier":              []string{fixtureTeamID},
		"ApplicationIdentifierPrefix": []string{fixtureTeamID},
		"CreationDate":                time.Now().Add(-24 * time.Hour).UTC().Truncate(time.Second),
		"ExpirationDate":              expires.UTC().Truncate(time.Second),
		"DeveloperCertificates":       [][]byte{cert.Raw},
		"Entitlements": map[string]interface{}{
			"application-identifier":              fixtureTeamID + "." + bundleID,
			"com.apple.developer.team-identifier": fixtureTeamID,
			"get-task-allow":                      true,
			"keychain-access-groups":              []interface{}{fixtureTeamID + ".*", "com.apple.token"},
		},
	}
	if len(f.Devices) > 0 {
		payload["ProvisionedDevices"] = f.Devices
	}
	if f.AllDevices {
		payload["ProvisionsAllDevices"] = true
	}

	data, err := plist.MarshalIndent(payload, plist.XMLFormat, "\t")
	if err != nil {
		t.Fatalf("failed to marshal profile plist: %v", err)
	}
	return data
}

// signed wraps the plist in a CMS container like Apple does
func (f profileFixture) signed(t *testing.T) []byte {
	t.Helper()
	cert, key := testCertificate(t)

	sd, err := pkcs7.NewSignedData(f.plist(t))
	if err != nil {
		t.Fatalf("NewSignedData: %v", err)
	}
	if err := sd.AddSigner(cert, key, pkcs7.SignerInfoConfig{}); err != nil {
		t.Fatalf("AddSigner: %v", err)
	}
	data, err := sd.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	return data
}

func writeProfile(t *testing.T, dir, file string, f profileFixture) string {
	t.Helper()
	path := filepath.Join(dir, file)
	if err := os.WriteFile(path, f.signed(t), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

// writeApp creates a minimal unpacked app bundle
func writeApp(t *testing.T, dir, name, bundleID string) string {
	t.Helper()
	app := filepath.Join(dir, name+".app")
	if err := os.MkdirAll(filepath.Join(app, "_CodeSignature"), 0755); err != nil {
		t.Fatal(err)
	}

	info := map[string]interface{}{
		"CFBundleIdentifier":         bundleID,
		"CFBundleExecutable":         name,
		"CFBundleName":               name,
		"CFBundleShortVersionString": "1.2.0",
		"CFBundleVersion":            "42",
	}
	data, err := plist.MarshalIndent(info, plist.XMLFormat, "\t")
	if err != nil {
		t.Fatal(err)
	}

	files := map[string][]byte{
		"Info.plist":                     data,
		name:                             machOHeader(),
		"embedded.mobileprovision":       []byte("old profile"),
		"_CodeSignature/CodeResources":   []byte("old resources"),
		"Base.lproj/Main.storyboardc/x":  []byte("nib"),
		"Frameworks/Lib.framework/Lib":   machOHeader(),
		"Frameworks/libswiftCore.dylib":  machOHeader(),
		"PlugIns/Share.appex/Share":      machOHeader(),
		"PlugIns/Share.appex/Info.plist": data,
	}
	for rel, content := range files {
		path := filepath.Join(app, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, content, 0755); err != nil {
			t.Fatal(err)
		}
	}
	return app
}

// machOHeader is a 64-bit arm64 executable header with no load commands
func machOHeader() []byte {
	return []byte{
		0xcf, 0xfa, 0xed, 0xfe, // MH_MAGIC_64
		0x0c, 0x00, 0x00, 0x01, // CPU_TYPE_ARM64
		0x00, 0x00, 0x00, 0x00, // CPU_SUBTYPE_ARM64_ALL
		0x02, 0x00, 0x00, 0x00, // MH_EXECUTE
		0x00, 0x00, 0x00, 0x00, // ncmds
		0x00, 0x00, 0x00, 0x00, // sizeofcmds
		0x00, 0x00, 0x00, 0x00, // flags
		0x00, 0x00, 0x00, 0x00, // reserved
	}
}
