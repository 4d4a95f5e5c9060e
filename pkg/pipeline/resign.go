package pipeline

import (
	"context"
	"fmt"
	"os"

	"github.com/aluedeke/go-fox/pkg/codesign"
	"github.com/sirupsen/logrus"
)

// ResignIPAOptions are the inputs of the resign command
type ResignIPAOptions struct {
	IPA         string
	Identity    string
	Profile     string // path or profile name
	ProfilesDir string
	Keychain    KeychainOptions
	BundleID    string
	Verify      bool
	Output      string
}

// ResignIPA re-signs an existing archive and writes the result to
// opts.Output, returning its absolute path.
func (p *Pipeline) ResignIPA(ctx context.Context, opts ResignIPAOptions) (string, error) {
	if opts.IPA == "" {
		return "", ErrIPANotFound
	}
	if _, err := os.Stat(opts.IPA); err != nil {
		return "", fmt.Errorf("%w: %s", ErrIPANotFound, opts.IPA)
	}

	output, err := absOutput(opts.Output)
	if err != nil {
		return "", err
	}

	profilePath, err := p.resolveProfile(opts.Profile, opts.ProfilesDir)
	if err != nil {
		return "", err
	}

	if opts.Keychain.Path != "" {
		if err := p.Keychain.Add(ctx, opts.Keychain.Path); err != nil {
			return "", err
		}
	}
	if err := p.unlock(ctx, opts.Keychain); err != nil {
		return "", err
	}

	extracted, err := codesign.ExtractIPA(opts.IPA)
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(extracted)

	appPath, err := codesign.FindAppBundle(extracted)
	if err != nil {
		return "", err
	}
	p.Logger.WithFields(logrus.Fields{"ipa": opts.IPA, "app": appPath}).Debug("extracted")

	err = p.Signer.Resign(ctx, codesign.ResignOptions{
		AppPath:     appPath,
		Identity:    opts.Identity,
		ProfilePath: profilePath,
		Keychain:    opts.Keychain.Path,
		NewBundleID: opts.BundleID,
		Verify:      opts.Verify,
	})
	if err != nil {
		return "", err
	}

	if err := ensureOutputDir(output); err != nil {
		return "", err
	}
	if err := codesign.RepackageIPA(extracted, output); err != nil {
		return "", err
	}
	p.Logger.WithField("ipa", output).Info("re-signed")
	return output, nil
}
