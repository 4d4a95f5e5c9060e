package codesign

import (
	"fmt"
	"os"
	"path/filepath"

	"howett.net/plist"
)

// BundleInfo holds the Info.plist keys fox reports and rewrites
type BundleInfo struct {
	CFBundleIdentifier         string   `plist:"CFBundleIdentifier"`
	CFBundleExecutable         string   `plist:"CFBundleExecutable"`
	CFBundleName               string   `plist:"CFBundleName"`
	CFBundleDisplayName        string   `plist:"CFBundleDisplayName"`
	CFBundleShortVersionString string   `plist:"CFBundleShortVersionString"`
	CFBundleVersion            string   `plist:"CFBundleVersion"`
	CFBundleSupportedPlatforms []string `plist:"CFBundleSupportedPlatforms"`
	MinimumOSVersion           string   `plist:"MinimumOSVersion"`
}

// ReadBundleInfo parses the Info.plist of the bundle at bundlePath
func ReadBundleInfo(bundlePath string) (*BundleInfo, error) {
	data, err := os.ReadFile(filepath.Join(bundlePath, "Info.plist"))
	if err != nil {
		return nil, fmt.Errorf("failed to read Info.plist: %w", err)
	}

	var info BundleInfo
	if _, err := plist.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to parse Info.plist: %w", err)
	}
	return &info, nil
}

// GetAppBundleID reads the bundle ID from an app's Info.plist
func GetAppBundleID(appPath string) (string, error) {
	info, err := ReadBundleInfo(appPath)
	if err != nil {
		return "", err
	}
	if info.CFBundleIdentifier == "" {
		return "", fmt.Errorf("CFBundleIdentifier not found in Info.plist")
	}
	return info.CFBundleIdentifier, nil
}

// GetAppExecutableName reads the executable name from an app's Info.plist
func GetAppExecutableName(appPath string) (string, error) {
	info, err := ReadBundleInfo(appPath)
	if err != nil {
		return "", err
	}
	if info.CFBundleExecutable == "" {
		return "", fmt.Errorf("CFBundleExecutable not found in Info.plist")
	}
	return info.CFBundleExecutable, nil
}

// SetBundleID rewrites CFBundleIdentifier in the bundle's Info.plist,
// keeping every other key and the original plist format.
func SetBundleID(bundlePath, bundleID string) error {
	infoPlistPath := filepath.Join(bundlePath, "Info.plist")

	data, err := os.ReadFile(infoPlistPath)
	if err != nil {
		return fmt.Errorf("failed to read Info.plist: %w", err)
	}

	var info map[string]interface{}
	format, err := plist.Unmarshal(data, &info)
	if err != nil {
		return fmt.Errorf("failed to parse Info.plist: %w", err)
	}

	info["CFBundleIdentifier"] = bundleID

	var newData []byte
	if format == plist.XMLFormat {
		newData, err = plist.MarshalIndent(info, format, "\t")
	} else {
		newData, err = plist.Marshal(info, format)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal Info.plist: %w", err)
	}

	if err := os.WriteFile(infoPlistPath, newData, 0644); err != nil {
		return fmt.Errorf("failed to write Info.plist: %w", err)
	}
	return nil
}
