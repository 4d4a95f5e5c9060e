package codesign

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ProfileExt is the file extension of installed provisioning profiles
const ProfileExt = ".mobileprovision"

// ErrProfileNotFound is returned when neither a path nor an installed
// profile matches the lookup input.
var ErrProfileNotFound = errors.New("couldn't find profile")

// InstalledProfile pairs a parsed profile with the file it was read from
type InstalledProfile struct {
	Path string
	*ProvisioningProfile
}

// DefaultProfilesDir returns the directory Xcode installs profiles into
func DefaultProfilesDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join("~", "Library", "MobileDevice", "Provisioning Profiles")
	}
	return filepath.Join(home, "Library", "MobileDevice", "Provisioning Profiles")
}

// IsProvisioningProfile reports whether path looks like a profile file
func IsProvisioningProfile(path string) bool {
	return strings.HasSuffix(path, ProfileExt)
}

// ProfileName returns the Name field embedded in the profile at path
func ProfileName(path string) (string, error) {
	profile, err := ReadProvisioningProfile(path)
	if err != nil {
		return "", err
	}
	return profile.Name, nil
}

// FindProfile resolves input to a provisioning profile path. An input that
// names an existing file is returned as an absolute path; anything else is
// looked up by name among the profiles installed in dir.
func FindProfile(input, dir string) (string, error) {
	if input == "" {
		return "", fmt.Errorf("%w: empty profile name", ErrProfileNotFound)
	}

	if _, err := os.Stat(input); err == nil {
		return filepath.Abs(input)
	}

	return FindProfileByName(input, dir)
}

// FindProfileByName scans dir for the profile whose Name equals name. When
// several profiles share the name, the one expiring last wins. A profile
// whose UUID equals name is used when no Name matches.
func FindProfileByName(name, dir string) (string, error) {
	profiles, err := ListProfiles(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %q (no profiles directory %s)", ErrProfileNotFound, name, dir)
		}
		return "", err
	}

	var best *InstalledProfile
	for i := range profiles {
		p := &profiles[i]
		if p.Name != name {
			continue
		}
		if best == nil || p.ExpirationDate.After(best.ExpirationDate) {
			best = p
		}
	}
	if best != nil {
		return best.Path, nil
	}

	for _, p := range profiles {
		if p.UUID != "" && strings.EqualFold(p.UUID, name) {
			return p.Path, nil
		}
	}

	return "", fmt.Errorf("%w: %q in %s", ErrProfileNotFound, name, dir)
}

// ListProfiles parses every profile file in dir and returns them sorted by
// name. Files that fail to parse are skipped.
func ListProfiles(dir string) ([]InstalledProfile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var profiles []InstalledProfile
	for _, entry := range entries {
		if entry.IsDir() || !IsProvisioningProfile(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		profile, err := ReadProvisioningProfile(path)
		if err != nil {
			continue
		}
		profiles = append(profiles, InstalledProfile{Path: path, ProvisioningProfile: profile})
	}

	sort.SliceStable(profiles, func(i, j int) bool {
		return profiles[i].Name < profiles[j].Name
	})
	return profiles, nil
}
