package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/docopt/docopt-go"
	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
)

const version = "1.0.0"

const usage = `fox - iOS build, package and re-sign tool

Builds an iOS target with xcodebuild and packages it as a signed IPA, or
re-signs an existing IPA with another identity and provisioning profile.

Usage:
  fox ipa --output=<path> [--target=<t>] [--project=<p>] [--config=<c>] [--identity=<id>] [--profile=<p>] [--profiles-dir=<dir>] [--keychain=<k>] [--keychain-password=<pw>] [--p12=<path>] [--p12-password=<pw>] [--packager=<mode>] [--settings=<file>] [-v]
  fox resign --ipa=<path> --output=<path> [--identity=<id>] [--profile=<p>] [--profiles-dir=<dir>] [--keychain=<k>] [--keychain-password=<pw>] [--bundleid=<id>] [--verify] [--settings=<file>] [-v]
  fox info (--ipa=<path> | --profile=<p>) [--profiles-dir=<dir>] [--settings=<file>] [-v]
  fox profiles [--profiles-dir=<dir>] [--settings=<file>] [-v]
  fox -h | --help
  fox --version

Commands:
  ipa       Build a target and package the product as a signed IPA
  resign    Re-sign an existing IPA
  info      Display information about an IPA or a provisioning profile
  profiles  List the installed provisioning profiles

Options:
  --output=<path>           Where to write the IPA
  --target=<t>              Build target
  --project=<p>             Xcode project (defaults to the one in the working directory)
  --config=<c>              Build configuration (defaults to Debug)
  --identity=<id>           Code signing identity, common name or SHA-1
  --profile=<p>             Provisioning profile path or name
  --profiles-dir=<dir>      Where profiles are looked up by name
                            (defaults to ~/Library/MobileDevice/Provisioning Profiles)
  --keychain=<k>            Keychain holding the signing identity
  --keychain-password=<pw>  Unlock the keychain with this password
  --p12=<path>              Import this P12 identity into the keychain before building
  --p12-password=<pw>       Password of the P12 file
  --packager=<mode>         "native" signs and zips the app, "xcrun" uses PackageApplication
  --ipa=<path>              IPA to re-sign or inspect
  --bundleid=<id>           Change the bundle identifier while re-signing
  --verify                  Check the main executable is signed afterwards
  --settings=<file>         YAML settings file (defaults to $FOX_SETTINGS or ./fox.yaml)
  -v --verbose              Debug logging
  -h --help                 Show this help message
  --version                 Show version

Environment Variables:
  FOX_SETTINGS              Settings file (overridden by --settings)
  FOX_IDENTITY              Signing identity (overridden by --identity)
  FOX_PROFILE               Provisioning profile (overridden by --profile)
  FOX_PROFILES_DIR          Profile directory (overridden by --profiles-dir)
  FOX_KEYCHAIN              Keychain (overridden by --keychain)
  FOX_KEYCHAIN_PASSWORD     Keychain password (overridden by --keychain-password)
  FOX_P12                   P12 identity (overridden by --p12)
  FOX_P12_PASSWORD          P12 password (overridden by --p12-password)

Examples:
  # Build and package with an installed profile
  fox ipa --target=MyApp --identity="Apple Development: Jane Doe" --profile="MyApp Development" --output=build/MyApp.ipa

  # Build on CI with a dedicated keychain
  fox ipa --target=MyApp --config=Release --identity="Apple Distribution: Example Inc" \
    --profile=dist.mobileprovision --keychain=ci.keychain --keychain-password=secret --output=MyApp.ipa

  # Re-sign an existing IPA under another bundle ID
  fox resign --ipa=MyApp.ipa --identity="Apple Distribution: Example Inc" --profile=adhoc.mobileprovision \
    --bundleid=com.example.beta --output=MyApp-beta.ipa

  # Inspect an IPA or a profile
  fox info --ipa=MyApp.ipa
  fox info --profile="MyApp Development"
`

var (
	success = color.New(color.FgGreen, color.Bold)
	failure = color.New(color.FgRed, color.Bold)
)

func main() {
	opts, err := docopt.ParseArgs(usage, os.Args[1:], version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing arguments: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(opts)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, opts, logger); err != nil {
		stop()
		failure.Fprint(os.Stderr, "Error: ")
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts docopt.Opts, logger *logrus.Logger) error {
	if ipa, _ := opts.Bool("ipa"); ipa {
		return runIPA(ctx, opts, logger)
	} else if resign, _ := opts.Bool("resign"); resign {
		return runResign(ctx, opts, logger)
	} else if info, _ := opts.Bool("info"); info {
		return runInfo(opts, os.Stdout)
	} else if profiles, _ := opts.Bool("profiles"); profiles {
		return runProfiles(opts, os.Stdout)
	}
	return nil
}

func newLogger(opts docopt.Opts) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	logger.SetLevel(logrus.WarnLevel)
	if verbose, _ := opts.Bool("--verbose"); verbose {
		logger.SetLevel(logrus.DebugLevel)
	}
	return logger
}
