// Package pipeline sequences the external tools behind fox's two commands:
// building and packaging an app, and re-signing an existing IPA.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/aluedeke/go-fox/pkg/codesign"
	"github.com/aluedeke/go-fox/pkg/keychain"
	"github.com/aluedeke/go-fox/pkg/shell"
	"github.com/aluedeke/go-fox/pkg/xcode"
	"github.com/sirupsen/logrus"
)

// ErrIPANotFound is returned when the package to re-sign does not exist
var ErrIPANotFound = errors.New("couldn't find ipa")

// Packagers accepted by BuildOptions.Packager
const (
	PackagerNative = "native"
	PackagerXcrun  = "xcrun"
)

// Pipeline holds the tool wrappers shared by both commands
type Pipeline struct {
	Xcode    *xcode.Xcode
	Keychain *keychain.Manager
	Signer   *codesign.Signer
	Logger   *logrus.Logger
	Out      io.Writer // build and codesign output
}

// New wires every tool wrapper to the same runner and logger
func New(runner shell.Runner, logger *logrus.Logger, out io.Writer) *Pipeline {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if out == nil {
		out = io.Discard
	}
	return &Pipeline{
		Xcode:    xcode.New(runner, logger),
		Keychain: keychain.New(runner, logger),
		Signer:   codesign.NewSigner(runner, logger, out),
		Logger:   logger,
		Out:      out,
	}
}

// KeychainOptions names the keychain that holds the signing identity
type KeychainOptions struct {
	Path     string
	Password string
}

func (k KeychainOptions) canUnlock() bool {
	return k.Path != "" && k.Password != ""
}

// unlock unlocks the keychain when both a path and a password are known
func (p *Pipeline) unlock(ctx context.Context, k KeychainOptions) error {
	if !k.canUnlock() {
		return nil
	}
	return p.Keychain.Unlock(ctx, k.Path, k.Password)
}

// resolveProfile locates the profile and reports which one was picked
func (p *Pipeline) resolveProfile(input, dir string) (string, error) {
	if dir == "" {
		dir = codesign.DefaultProfilesDir()
	}
	path, err := codesign.FindProfile(input, dir)
	if err != nil {
		return "", err
	}

	profile, err := codesign.ReadProvisioningProfile(path)
	if err != nil {
		return "", err
	}
	log := p.Logger.WithFields(logrus.Fields{"profile": profile.Name, "path": path})
	if profile.IsExpired() {
		log.Warn("provisioning profile has expired")
	} else {
		log.Info("using provisioning profile")
	}
	return path, nil
}

// absOutput makes the output path absolute. Its directory is created by
// ensureOutputDir once there is something to write.
func absOutput(output string) (string, error) {
	if output == "" {
		return "", errors.New("output path is required")
	}
	return filepath.Abs(output)
}

func ensureOutputDir(output string) error {
	if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	return nil
}
