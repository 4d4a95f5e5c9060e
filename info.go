package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aluedeke/go-fox/pkg/codesign"
	"github.com/aluedeke/go-fox/pkg/config"
	"github.com/docopt/docopt-go"
)

// profilesDir resolves --profiles-dir over the settings file and
// $FOX_PROFILES_DIR, falling back to the Xcode profile directory.
func profilesDir(opts docopt.Opts) (string, error) {
	if dir := flag(opts, "--profiles-dir"); dir != "" {
		return dir, nil
	}
	s, err := loadSettings(opts)
	if err != nil {
		return "", err
	}
	return config.Pick(s.ProfilesDir, codesign.DefaultProfilesDir()), nil
}

func runInfo(opts docopt.Opts, w io.Writer) error {
	if ipa := flag(opts, "--ipa"); ipa != "" {
		return showIPAInfo(w, ipa)
	}
	if profile := flag(opts, "--profile"); profile != "" {
		dir, err := profilesDir(opts)
		if err != nil {
			return err
		}
		path, err := codesign.FindProfile(profile, dir)
		if err != nil {
			return err
		}
		return showProfileInfo(w, path)
	}
	return fmt.Errorf("either --ipa or --profile is required")
}

func runProfiles(opts docopt.Opts, w io.Writer) error {
	dir, err := profilesDir(opts)
	if err != nil {
		return err
	}
	profiles, err := codesign.ListProfiles(dir)
	if err != nil {
		return err
	}
	if len(profiles) == 0 {
		fmt.Fprintln(w, "No provisioning profiles installed")
		return nil
	}

	for _, p := range profiles {
		expired := ""
		if p.IsExpired() {
			expired = " (expired)"
		}
		fmt.Fprintf(w, "%-40s %-11s %s  %s%s\n",
			p.Name, p.Kind(), p.GetApplicationIdentifier(), p.ExpirationDate.Format("2006-01-02"), expired)
	}
	return nil
}

func showIPAInfo(w io.Writer, ipaPath string) error {
	tempDir, err := codesign.ExtractIPA(ipaPath)
	if err != nil {
		return fmt.Errorf("failed to extract IPA: %w", err)
	}
	defer os.RemoveAll(tempDir)

	appPath, err := codesign.FindAppBundle(tempDir)
	if err != nil {
		return fmt.Errorf("failed to find app bundle: %w", err)
	}

	info, err := codesign.ReadBundleInfo(appPath)
	if err != nil {
		return fmt.Errorf("failed to read Info.plist: %w", err)
	}

	fmt.Fprintln(w, "IPA Information")
	fmt.Fprintln(w, "===============")
	fmt.Fprintf(w, "File:        %s\n", ipaPath)
	fmt.Fprintf(w, "App Name:    %s\n", filepath.Base(appPath))
	fmt.Fprintf(w, "Bundle ID:   %s\n", info.CFBundleIdentifier)
	fmt.Fprintf(w, "Version:     %s (%s)\n", info.CFBundleShortVersionString, info.CFBundleVersion)
	fmt.Fprintf(w, "Executable:  %s\n", info.CFBundleExecutable)

	if bin, err := codesign.InspectAppExecutable(appPath); err == nil {
		fmt.Fprintf(w, "Arches:      %s\n", strings.Join(bin.Arches, ", "))
		fmt.Fprintf(w, "Signed:      %v\n", bin.Signed)
	}
	if sig, err := codesign.ReadSignature(filepath.Join(appPath, info.CFBundleExecutable)); err == nil {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Code Signature")
		fmt.Fprintln(w, "--------------")
		fmt.Fprintf(w, "Identifier:     %s\n", sig.Identifier)
		fmt.Fprintf(w, "Team ID:        %s\n", sig.TeamID)
		fmt.Fprintf(w, "CDHash:         %s (%s)\n", sig.CDHash, sig.HashType)
		if sig.AdHoc() {
			fmt.Fprintln(w, "Signer:         ad hoc")
		} else {
			fmt.Fprintf(w, "Signer:         %s\n", sig.Signer)
		}
	}

	embedded := filepath.Join(appPath, "embedded.mobileprovision")
	if profile, err := codesign.ReadProvisioningProfile(embedded); err == nil {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Embedded Provisioning Profile")
		fmt.Fprintln(w, "-----------------------------")
		fmt.Fprintf(w, "Name:           %s\n", profile.Name)
		fmt.Fprintf(w, "Type:           %s\n", profile.Kind())
		fmt.Fprintf(w, "Team ID:        %s\n", profile.GetTeamID())
		fmt.Fprintf(w, "App ID:         %s\n", profile.GetApplicationIdentifier())
		fmt.Fprintf(w, "Expired:        %v\n", profile.IsExpired())
		fmt.Fprintf(w, "Expiration:     %s\n", profile.ExpirationDate.Format("2006-01-02"))
		printCertificates(w, profile)
	}
	return nil
}

func showProfileInfo(w io.Writer, profilePath string) error {
	profile, err := codesign.ReadProvisioningProfile(profilePath)
	if err != nil {
		return err
	}

	fmt.Fprintln(w, "Provisioning Profile Information")
	fmt.Fprintln(w, "================================")
	fmt.Fprintf(w, "File:           %s\n", profilePath)
	fmt.Fprintf(w, "Name:           %s\n", profile.Name)
	fmt.Fprintf(w, "Type:           %s\n", profile.Kind())
	fmt.Fprintf(w, "Team ID:        %s\n", profile.GetTeamID())
	fmt.Fprintf(w, "App ID:         %s\n", profile.GetApplicationIdentifier())
	fmt.Fprintf(w, "UUID:           %s\n", profile.UUID)
	fmt.Fprintf(w, "Created:        %s\n", profile.CreationDate.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "Expiration:     %s\n", profile.ExpirationDate.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "Expired:        %v\n", profile.IsExpired())
	printCertificates(w, profile)

	if len(profile.ProvisionedDevices) > 0 {
		fmt.Fprintf(w, "Devices:        %d\n", len(profile.ProvisionedDevices))
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Provisioned Devices:")
		for _, udid := range profile.ProvisionedDevices {
			fmt.Fprintf(w, "  - %s\n", udid)
		}
	}

	if len(profile.Entitlements) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Entitlements:")
		keys := make([]string, 0, len(profile.Entitlements))
		for key := range profile.Entitlements {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			fmt.Fprintf(w, "  %s: %v\n", key, profile.Entitlements[key])
		}
	}
	return nil
}

func printCertificates(w io.Writer, profile *codesign.ProvisioningProfile) {
	certs, err := profile.GetCertificates()
	if err != nil {
		return
	}
	fmt.Fprintf(w, "Certificates:   %d\n", len(certs))
	for i, cert := range certs {
		fmt.Fprintf(w, "  [%d] %s\n", i+1, cert.Subject.CommonName)
		fmt.Fprintf(w, "      Serial: %s\n", cert.SerialNumber.String())
		fmt.Fprintf(w, "      Expires: %s\n", cert.NotAfter.Format("2006-01-02"))
		if len(cert.Subject.OrganizationalUnit) > 0 {
			fmt.Fprintf(w, "      Team ID: %s\n", cert.Subject.OrganizationalUnit[0])
		}
	}
}
