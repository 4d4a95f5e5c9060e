package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aluedeke/go-fox/pkg/config"
	"github.com/aluedeke/go-fox/pkg/pipeline"
	"github.com/aluedeke/go-fox/pkg/shell"
	"github.com/docopt/docopt-go"
	"github.com/sirupsen/logrus"
)

func flag(opts docopt.Opts, name string) string {
	v, _ := opts.String(name)
	return v
}

func loadSettings(opts docopt.Opts) (config.Settings, error) {
	return config.Load(flag(opts, "--settings"))
}

// buildOptions merges flags over the settings file and environment
func buildOptions(opts docopt.Opts, s config.Settings) (pipeline.BuildOptions, error) {
	b := pipeline.BuildOptions{
		Project:       config.Pick(flag(opts, "--project"), s.Project),
		Target:        config.Pick(flag(opts, "--target"), s.Target),
		Configuration: config.Pick(flag(opts, "--config"), s.Configuration),
		Identity:      config.Pick(flag(opts, "--identity"), s.Identity),
		Profile:       config.Pick(flag(opts, "--profile"), s.Profile),
		ProfilesDir:   config.Pick(flag(opts, "--profiles-dir"), s.ProfilesDir),
		Keychain: pipeline.KeychainOptions{
			Path:     config.Pick(flag(opts, "--keychain"), s.Keychain),
			Password: config.Pick(flag(opts, "--keychain-password"), s.KeychainPassword),
		},
		P12:         config.Pick(flag(opts, "--p12"), s.P12),
		P12Password: config.Pick(flag(opts, "--p12-password"), s.P12Password),
		Packager:    config.Pick(flag(opts, "--packager"), s.Packager),
		Output:      flag(opts, "--output"),
	}

	if b.Target == "" {
		return b, fmt.Errorf("--target is required (or set target in %s)", config.DefaultFile)
	}
	if b.Identity == "" && b.P12 == "" {
		return b, fmt.Errorf("--identity is required (or set %s environment variable)", config.EnvIdentity)
	}
	if b.Profile == "" {
		return b, fmt.Errorf("--profile is required (or set %s environment variable)", config.EnvProfile)
	}
	return b, nil
}

func resignOptions(opts docopt.Opts, s config.Settings) (pipeline.ResignIPAOptions, error) {
	verify, _ := opts.Bool("--verify")
	r := pipeline.ResignIPAOptions{
		IPA:         flag(opts, "--ipa"),
		Identity:    config.Pick(flag(opts, "--identity"), s.Identity),
		Profile:     config.Pick(flag(opts, "--profile"), s.Profile),
		ProfilesDir: config.Pick(flag(opts, "--profiles-dir"), s.ProfilesDir),
		Keychain: pipeline.KeychainOptions{
			Path:     config.Pick(flag(opts, "--keychain"), s.Keychain),
			Password: config.Pick(flag(opts, "--keychain-password"), s.KeychainPassword),
		},
		BundleID: flag(opts, "--bundleid"),
		Verify:   verify,
		Output:   flag(opts, "--output"),
	}

	if r.Identity == "" {
		return r, fmt.Errorf("--identity is required (or set %s environment variable)", config.EnvIdentity)
	}
	if r.Profile == "" {
		return r, fmt.Errorf("--profile is required (or set %s environment variable)", config.EnvProfile)
	}
	return r, nil
}

func newPipeline(logger *logrus.Logger) *pipeline.Pipeline {
	return pipeline.New(shell.NewExecRunner(logger), logger, os.Stdout)
}

func runIPA(ctx context.Context, opts docopt.Opts, logger *logrus.Logger) error {
	s, err := loadSettings(opts)
	if err != nil {
		return err
	}
	b, err := buildOptions(opts, s)
	if err != nil {
		return err
	}

	fmt.Printf("Building target: %s\n", b.Target)
	if b.Identity != "" {
		fmt.Printf("Using identity: %s\n", b.Identity)
	}
	fmt.Printf("Using profile: %s\n", b.Profile)
	fmt.Printf("Output: %s\n", b.Output)
	fmt.Println()

	output, err := newPipeline(logger).BuildIPA(ctx, b)
	if err != nil {
		return err
	}

	fmt.Println()
	success.Printf("Successfully built IPA: %s\n", output)
	return nil
}

func runResign(ctx context.Context, opts docopt.Opts, logger *logrus.Logger) error {
	s, err := loadSettings(opts)
	if err != nil {
		return err
	}
	r, err := resignOptions(opts, s)
	if err != nil {
		return err
	}

	fmt.Printf("Resigning IPA: %s\n", r.IPA)
	fmt.Printf("Using identity: %s\n", r.Identity)
	fmt.Printf("Using profile: %s\n", r.Profile)
	fmt.Printf("Output: %s\n", r.Output)
	if r.BundleID != "" {
		fmt.Printf("New Bundle ID: %s\n", r.BundleID)
	}
	fmt.Println()

	output, err := newPipeline(logger).ResignIPA(ctx, r)
	if err != nil {
		return err
	}

	fmt.Println()
	success.Printf("Successfully resigned IPA: %s\n", output)
	return nil
}
