// Package config loads fox settings from a YAML file and the environment.
//
// Values are resolved with the precedence flag > environment > file >
// built-in default; the flag layer is applied by the caller.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultFile is looked up in the working directory when no settings file
// is named explicitly.
const DefaultFile = "fox.yaml"

// Environment variables read by Load
const (
	EnvSettings         = "FOX_SETTINGS"
	EnvIdentity         = "FOX_IDENTITY"
	EnvProfile          = "FOX_PROFILE"
	EnvProfilesDir      = "FOX_PROFILES_DIR"
	EnvKeychain         = "FOX_KEYCHAIN"
	EnvKeychainPassword = "FOX_KEYCHAIN_PASSWORD"
	EnvP12              = "FOX_P12"
	EnvP12Password      = "FOX_P12_PASSWORD"
)

// Settings holds defaults for the ipa and resign commands
type Settings struct {
	// Project is the .xcodeproj to build (optional)
	Project string `yaml:"project,omitempty"`

	// Target is the xcodebuild target
	Target string `yaml:"target,omitempty"`

	// Configuration is the build configuration, Debug when empty
	Configuration string `yaml:"configuration,omitempty"`

	// Identity is the codesign identity (common name or SHA-1)
	Identity string `yaml:"identity,omitempty"`

	// Profile is a provisioning profile path or name
	Profile string `yaml:"profile,omitempty"`

	// ProfilesDir overrides where profiles are looked up by name
	ProfilesDir string `yaml:"profiles_dir,omitempty"`

	Keychain         string `yaml:"keychain,omitempty"`
	KeychainPassword string `yaml:"keychain_password,omitempty"`

	// P12 is a certificate bundle imported into Keychain before building
	P12         string `yaml:"p12,omitempty"`
	P12Password string `yaml:"p12_password,omitempty"`

	// Packager selects "native" (default) or "xcrun" packaging
	Packager string `yaml:"packager,omitempty"`
}

// Load reads the settings file at path, or $FOX_SETTINGS, or ./fox.yaml,
// then applies environment overrides. A missing default file is not an
// error; a missing explicit file is.
func Load(path string) (Settings, error) {
	explicit := path != ""
	if !explicit {
		if env := os.Getenv(EnvSettings); env != "" {
			path, explicit = env, true
		} else {
			path = DefaultFile
		}
	}

	var s Settings
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &s); err != nil {
			return Settings{}, fmt.Errorf("failed to parse settings file %s: %w", path, err)
		}
	case os.IsNotExist(err) && !explicit:
	default:
		return Settings{}, fmt.Errorf("failed to read settings file %s: %w", path, err)
	}

	s.applyEnv()
	return s, nil
}

func (s *Settings) applyEnv() {
	for env, field := range map[string]*string{
		EnvIdentity:         &s.Identity,
		EnvProfile:          &s.Profile,
		EnvProfilesDir:      &s.ProfilesDir,
		EnvKeychain:         &s.Keychain,
		EnvKeychainPassword: &s.KeychainPassword,
		EnvP12:              &s.P12,
		EnvP12Password:      &s.P12Password,
	} {
		if v := os.Getenv(env); v != "" {
			*field = v
		}
	}
}

// Pick returns the first non-empty value
func Pick(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
