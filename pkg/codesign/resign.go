package codesign

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/aluedeke/go-fox/pkg/shell"
	"github.com/sirupsen/logrus"
)

const (
	embeddedProfileName  = "embedded.mobileprovision"
	codeSignatureDir     = "_CodeSignature"
	appEntitlementsName  = "Entitlements.plist"
	appResourceRulesName = "ResourceRules.plist"
)

// ResignOptions contains all options for resigning a .app bundle
type ResignOptions struct {
	AppPath     string // Path to the unpacked .app bundle
	Identity    string // codesign -s value: common name or SHA-1
	ProfilePath string
	Keychain    string // Optional keychain to look the identity up in
	NewBundleID string // Optional: if set, changes the bundle ID
	Verify      bool   // Check the main executable carries a signature afterwards
}

// Signer drives the external codesign tool
type Signer struct {
	Runner shell.Runner
	Logger *logrus.Logger
	Out    io.Writer // receives codesign output
}

// NewSigner returns a Signer that runs codesign through runner
func NewSigner(runner shell.Runner, logger *logrus.Logger, out io.Writer) *Signer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if out == nil {
		out = io.Discard
	}
	return &Signer{Runner: runner, Logger: logger, Out: out}
}

// Resign replaces the provisioning profile of an unpacked .app bundle,
// drops its old signature and signs it again, nested bundles first.
func (s *Signer) Resign(ctx context.Context, opts ResignOptions) error {
	if opts.AppPath == "" {
		return fmt.Errorf("app path is required")
	}
	if opts.Identity == "" {
		return fmt.Errorf("signing identity is required")
	}
	if opts.ProfilePath == "" {
		return fmt.Errorf("provisioning profile is required")
	}

	profileData, err := os.ReadFile(opts.ProfilePath)
	if err != nil {
		return fmt.Errorf("failed to read provisioning profile: %w", err)
	}
	profile, err := ParseProvisioningProfile(profileData)
	if err != nil {
		return fmt.Errorf("failed to parse provisioning profile: %w", err)
	}
	if profile.IsExpired() {
		s.Logger.WithField("profile", profile.Name).Warn("provisioning profile has expired")
	}

	log := s.Logger.WithField("app", filepath.Base(opts.AppPath))

	if err := os.RemoveAll(filepath.Join(opts.AppPath, codeSignatureDir)); err != nil {
		return fmt.Errorf("failed to remove old _CodeSignature: %w", err)
	}

	embedded := filepath.Join(opts.AppPath, embeddedProfileName)
	if err := os.Remove(embedded); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove embedded.mobileprovision: %w", err)
	}
	if err := os.WriteFile(embedded, profileData, 0644); err != nil {
		return fmt.Errorf("failed to write embedded.mobileprovision: %w", err)
	}
	log.WithField("profile", profile.Name).Debug("embedded provisioning profile")

	if opts.NewBundleID != "" {
		if err := SetBundleID(opts.AppPath, opts.NewBundleID); err != nil {
			return fmt.Errorf("failed to update Info.plist: %w", err)
		}
		log.WithField("bundle_id", opts.NewBundleID).Debug("changed bundle identifier")
	}

	workDir, err := os.MkdirTemp("", "fox-sign-*")
	if err != nil {
		return fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer os.RemoveAll(workDir)

	entitlementsPath, err := s.entitlementsFor(opts, profile, workDir)
	if err != nil {
		return err
	}

	nested, err := FindNestedBundles(opts.AppPath)
	if err != nil {
		return fmt.Errorf("failed to find nested bundles: %w", err)
	}
	for _, bundle := range nested {
		if err := s.sign(ctx, bundle, opts, nil); err != nil {
			return err
		}
	}

	args := []string{}
	if rules := filepath.Join(opts.AppPath, appResourceRulesName); fileExists(rules) {
		args = append(args, "--resource-rules", rules)
	}
	args = append(args, "--entitlements", entitlementsPath)
	if err := s.sign(ctx, opts.AppPath, opts, args); err != nil {
		return err
	}

	if opts.Verify {
		bin, err := InspectAppExecutable(opts.AppPath)
		if err != nil {
			return fmt.Errorf("failed to verify signature: %w", err)
		}
		if !bin.Signed {
			return fmt.Errorf("%s has no code signature after signing", bin.Path)
		}
		sig, err := ReadSignature(bin.Path)
		if err != nil {
			return fmt.Errorf("failed to read signature of %s: %w", bin.Path, err)
		}
		if sig.AdHoc() {
			return fmt.Errorf("%s is only ad hoc signed", bin.Path)
		}
		log.WithFields(logrus.Fields{
			"arches":     bin.Arches,
			"identifier": sig.Identifier,
			"signer":     sig.Signer,
		}).Info("verified code signature")
	}

	return nil
}

// entitlementsFor picks the entitlements file for the main bundle: the
// app's own Entitlements.plist unless the bundle ID changes, otherwise the
// profile's entitlements.
func (s *Signer) entitlementsFor(opts ResignOptions, profile *ProvisioningProfile, workDir string) (string, error) {
	own := filepath.Join(opts.AppPath, appEntitlementsName)
	if opts.NewBundleID == "" && fileExists(own) {
		return own, nil
	}

	if profile.Entitlements == nil {
		return "", fmt.Errorf("provisioning profile %q has no entitlements", profile.Name)
	}
	entitlements := profile.Entitlements
	if opts.NewBundleID != "" {
		entitlements = UpdateEntitlementsForBundleID(entitlements, profile.GetTeamID(), opts.NewBundleID)
	}
	return WriteEntitlements(workDir, entitlements)
}

func (s *Signer) sign(ctx context.Context, path string, opts ResignOptions, extra []string) error {
	args := []string{"-f", "-s", opts.Identity}
	args = append(args, extra...)
	if opts.Keychain != "" {
		keychain, err := filepath.Abs(opts.Keychain)
		if err != nil {
			return err
		}
		args = append(args, "--keychain", keychain)
	}
	args = append(args, path)

	res, err := s.Runner.Run(ctx, shell.Cmd{Name: "codesign", Args: args})
	if res != nil && len(res.Output) > 0 {
		s.Out.Write(res.Output)
	}
	if err != nil {
		return fmt.Errorf("failed to sign %s: %w", filepath.Base(path), err)
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
