package codesign

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseProvisioningProfile(t *testing.T) {
	data := profileFixture{Name: "Example Dev", UUID: "1111-2222", BundleID: "com.example.app"}.signed(t)

	profile, err := ParseProvisioningProfile(data)
	if err != nil {
		t.Fatalf("ParseProvisioningProfile failed: %v", err)
	}

	if profile.Name != "Example Dev" {
		t.Errorf("Name = %q", profile.Name)
	}
	if profile.UUID != "1111-2222" {
		t.Errorf("UUID = %q", profile.UUID)
	}
	if profile.GetTeamID() != fixtureTeamID {
		t.Errorf("GetTeamID = %q", profile.GetTeamID())
	}
	if got := profile.GetApplicationIdentifier(); got != fixtureTeamID+".com.example.app" {
		t.Errorf("GetApplicationIdentifier = %q", got)
	}
	if profile.IsExpired() {
		t.Error("profile should not be expired")
	}

	cert, _ := testCertificate(t)
	if !profile.MatchesCertificate(cert) {
		t.Error("profile should contain the signing certificate")
	}
	certs, err := profile.GetCertificates()
	if err != nil || len(certs) != 1 {
		t.Fatalf("GetCertificates = %d, %v", len(certs), err)
	}
}

func TestParseProvisioningProfileUnsigned(t *testing.T) {
	// Some tooling strips the CMS envelope; the plist is found by its tokens
	raw := profileFixture{Name: "Stripped"}.plist(t)
	data := append([]byte("garbage"), raw...)
	data = append(data, []byte("\x00\x00trailing")...)

	profile, err := ParseProvisioningProfile(data)
	if err != nil {
		t.Fatalf("ParseProvisioningProfile failed: %v", err)
	}
	if profile.Name != "Stripped" {
		t.Errorf("Name = %q", profile.Name)
	}
}

func TestParseProvisioningProfileInvalid(t *testing.T) {
	if _, err := ParseProvisioningProfile([]byte("not a profile")); err == nil {
		t.Fatal("expected error")
	}
}

func TestProfileKind(t *testing.T) {
	tests := []struct {
		fixture profileFixture
		want    string
	}{
		{profileFixture{Name: "dev", Devices: []string{"00008030-001"}}, "development"},
		{profileFixture{Name: "enterprise", AllDevices: true}, "enterprise"},
		{profileFixture{Name: "store"}, "app-store"},
	}

	for _, tt := range tests {
		profile, err := ParseProvisioningProfile(tt.fixture.signed(t))
		if err != nil {
			t.Fatal(err)
		}
		if got := profile.Kind(); got != tt.want {
			t.Errorf("%s: Kind = %q, want %q", tt.fixture.Name, got, tt.want)
		}
	}
}

func TestFindProfileExistingPath(t *testing.T) {
	dir := t.TempDir()
	path := writeProfile(t, dir, "custom.mobileprovision", profileFixture{Name: "Path Profile"})

	got, err := FindProfile(path, filepath.Join(dir, "unused"))
	if err != nil {
		t.Fatalf("FindProfile failed: %v", err)
	}
	if got != path {
		t.Errorf("FindProfile = %q, want %q", got, path)
	}
}

func TestFindProfileRelativePath(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "rel.mobileprovision", profileFixture{Name: "Relative"})

	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	defer os.Chdir(wd)

	got, err := FindProfile("rel.mobileprovision", t.TempDir())
	if err != nil {
		t.Fatalf("FindProfile failed: %v", err)
	}
	if !filepath.IsAbs(got) || filepath.Base(got) != "rel.mobileprovision" {
		t.Errorf("FindProfile = %q, want absolute path", got)
	}
}

func TestFindProfileByName(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "a.mobileprovision", profileFixture{Name: "Other Profile", UUID: "AAAA"})
	want := writeProfile(t, dir, "b.mobileprovision", profileFixture{Name: "Example AdHoc", UUID: "BBBB"})
	os.WriteFile(filepath.Join(dir, "broken.mobileprovision"), []byte("garbage"), 0644)
	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("Example AdHoc"), 0644)

	got, err := FindProfile("Example AdHoc", dir)
	if err != nil {
		t.Fatalf("FindProfile failed: %v", err)
	}
	if got != want {
		t.Errorf("FindProfile = %q, want %q", got, want)
	}

	name, err := ProfileName(got)
	if err != nil || name != "Example AdHoc" {
		t.Errorf("ProfileName = %q, %v", name, err)
	}
}

func TestFindProfileByNamePrefersLatestExpiry(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	writeProfile(t, dir, "1.mobileprovision", profileFixture{Name: "Dup", Expires: now.Add(-48 * time.Hour)})
	want := writeProfile(t, dir, "2.mobileprovision", profileFixture{Name: "Dup", Expires: now.Add(90 * 24 * time.Hour)})
	writeProfile(t, dir, "3.mobileprovision", profileFixture{Name: "Dup", Expires: now.Add(30 * 24 * time.Hour)})

	got, err := FindProfileByName("Dup", dir)
	if err != nil {
		t.Fatalf("FindProfileByName failed: %v", err)
	}
	if got != want {
		t.Errorf("FindProfileByName = %q, want %q", got, want)
	}
}

func TestFindProfileByUUID(t *testing.T) {
	dir := t.TempDir()
	want := writeProfile(t, dir, "x.mobileprovision", profileFixture{Name: "Named", UUID: "8F1C2D3E-0000-4000-8000-000000000001"})

	got, err := FindProfile("8f1c2d3e-0000-4000-8000-000000000001", dir)
	if err != nil {
		t.Fatalf("FindProfile failed: %v", err)
	}
	if got != want {
		t.Errorf("FindProfile = %q, want %q", got, want)
	}
}

func TestFindProfileNotFound(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "a.mobileprovision", profileFixture{Name: "Something"})

	tests := []struct {
		name  string
		input string
		dir   string
	}{
		{"no match", "Missing Profile", dir},
		{"missing directory", "Missing Profile", filepath.Join(dir, "does-not-exist")},
		{"empty input", "", dir},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FindProfile(tt.input, tt.dir)
			if !errors.Is(err, ErrProfileNotFound) {
				t.Errorf("expected ErrProfileNotFound, got %v", err)
			}
		})
	}
}

func TestListProfilesSorted(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "1.mobileprovision", profileFixture{Name: "Zulu"})
	writeProfile(t, dir, "2.mobileprovision", profileFixture{Name: "Alpha"})

	profiles, err := ListProfiles(dir)
	if err != nil {
		t.Fatalf("ListProfiles failed: %v", err)
	}
	if len(profiles) != 2 || profiles[0].Name != "Alpha" || profiles[1].Name != "Zulu" {
		t.Errorf("unexpected order: %+v", profiles)
	}
}
