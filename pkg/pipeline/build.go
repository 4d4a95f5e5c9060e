package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aluedeke/go-fox/pkg/codesign"
	"github.com/aluedeke/go-fox/pkg/xcode"
	"github.com/sirupsen/logrus"
)

// BuildOptions are the inputs of the ipa command
type BuildOptions struct {
	Project       string
	Target        string
	Configuration string
	Identity      string // may be empty when P12 is set
	Profile       string // path or profile name
	ProfilesDir   string
	Keychain      KeychainOptions
	P12           string
	P12Password   string
	Packager      string // PackagerNative (default) or PackagerXcrun
	Output        string
}

// BuildIPA builds the target, signs the product with the identity and
// profile and writes the archive to opts.Output. It returns the absolute
// path of the archive.
func (p *Pipeline) BuildIPA(ctx context.Context, opts BuildOptions) (string, error) {
	packager := opts.Packager
	if packager == "" {
		packager = PackagerNative
	}
	if packager != PackagerNative && packager != PackagerXcrun {
		return "", fmt.Errorf("unknown packager %q", packager)
	}

	output, err := absOutput(opts.Output)
	if err != nil {
		return "", err
	}

	profilePath, err := p.resolveProfile(opts.Profile, opts.ProfilesDir)
	if err != nil {
		return "", err
	}

	identity, err := p.importIdentity(ctx, opts, profilePath)
	if err != nil {
		return "", err
	}
	if identity == "" {
		return "", errors.New("signing identity is required")
	}

	if opts.Keychain.Path != "" {
		if err := p.Keychain.Add(ctx, opts.Keychain.Path); err != nil {
			return "", err
		}
	}
	if err := p.unlock(ctx, opts.Keychain); err != nil {
		return "", err
	}

	args := xcode.BuildArgs{
		Project:       opts.Project,
		Target:        opts.Target,
		Configuration: opts.Configuration,
		Action:        "build",
		Identity:      identity,
		Keychain:      opts.Keychain.Path,
	}
	buildOutput, err := p.Xcode.Build(ctx, args, p.Out)
	if err != nil {
		return "", fmt.Errorf("build failed: %w", err)
	}

	appPath, err := p.productPath(ctx, args, buildOutput)
	if err != nil {
		return "", err
	}
	p.Logger.WithField("app", appPath).Info("build succeeded")

	// Long builds can outlive the keychain's lock timeout
	if err := p.unlock(ctx, opts.Keychain); err != nil {
		return "", err
	}

	if packager == PackagerXcrun {
		return output, p.packageXcrun(ctx, appPath, identity, profilePath, output)
	}
	return output, p.packageNative(ctx, appPath, identity, profilePath, opts.Keychain.Path, output)
}

// importIdentity loads the optional P12 bundle, imports it into the
// keychain and returns the identity to sign with.
func (p *Pipeline) importIdentity(ctx context.Context, opts BuildOptions, profilePath string) (string, error) {
	if opts.P12 == "" {
		return opts.Identity, nil
	}

	id, err := codesign.ReadSigningIdentity(opts.P12, opts.P12Password)
	if err != nil {
		return "", err
	}
	log := p.Logger.WithFields(logrus.Fields{
		"identity":    id.CommonName(),
		"fingerprint": id.Fingerprint(),
	})
	log.Debug("loaded signing identity")

	if profile, err := codesign.ReadProvisioningProfile(profilePath); err == nil && !profile.MatchesCertificate(id.Certificate) {
		log.Warn("signing certificate is not included in the provisioning profile")
	}

	if opts.Keychain.Path == "" {
		return "", errors.New("--keychain is required to import a P12 identity")
	}
	if err := p.unlock(ctx, opts.Keychain); err != nil {
		return "", err
	}
	if err := p.Keychain.Import(ctx, opts.Keychain.Path, opts.P12, opts.P12Password); err != nil {
		return "", err
	}

	if opts.Identity != "" {
		return opts.Identity, nil
	}
	return id.CommonName(), nil
}

// productPath resolves BUILT_PRODUCTS_DIR/FULL_PRODUCT_NAME, asking
// xcodebuild first and scraping the build log when that fails.
func (p *Pipeline) productPath(ctx context.Context, args xcode.BuildArgs, buildOutput string) (string, error) {
	settings, err := p.Xcode.ShowBuildSettings(ctx, args)
	if err == nil {
		var path string
		if path, err = xcode.ResolveProduct(settings); err == nil {
			return path, nil
		}
	}
	p.Logger.WithError(err).Debug("build settings query failed, scraping build output")

	path, err := xcode.ResolveProduct(xcode.ScrapeSettings(buildOutput))
	if err != nil {
		return "", fmt.Errorf("could not locate build product: %w", err)
	}
	return path, nil
}

func (p *Pipeline) packageNative(ctx context.Context, appPath, identity, profilePath, keychain, output string) error {
	stage, staged, err := codesign.StagePayload(appPath)
	if err != nil {
		return err
	}
	defer os.RemoveAll(stage)

	err = p.Signer.Resign(ctx, codesign.ResignOptions{
		AppPath:     staged,
		Identity:    identity,
		ProfilePath: profilePath,
		Keychain:    keychain,
	})
	if err != nil {
		return err
	}

	if err := ensureOutputDir(output); err != nil {
		return err
	}
	if err := codesign.RepackageIPA(stage, output); err != nil {
		return err
	}
	p.Logger.WithField("ipa", output).Info("packaged")
	return nil
}

func (p *Pipeline) packageXcrun(ctx context.Context, appPath, identity, profilePath, output string) error {
	ipaPath, err := p.Xcode.PackageApplication(ctx, appPath, identity, profilePath, p.Out)
	if err != nil {
		return err
	}
	if filepath.Clean(ipaPath) == output {
		return nil
	}
	if err := ensureOutputDir(output); err != nil {
		return err
	}
	if err := codesign.MoveFile(ipaPath, output); err != nil {
		return fmt.Errorf("failed to move %s to %s: %w", ipaPath, output, err)
	}
	p.Logger.WithField("ipa", output).Info("packaged")
	return nil
}
