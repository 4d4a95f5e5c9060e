package codesign

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"howett.net/plist"
)

// ExtractEntitlements returns the profile's entitlements as XML plist bytes
func ExtractEntitlements(profile *ProvisioningProfile) ([]byte, error) {
	if profile.Entitlements == nil {
		return nil, fmt.Errorf("provisioning profile has no entitlements")
	}
	return EntitlementsToXML(profile.Entitlements)
}

// EntitlementsToXML converts entitlements map to XML plist bytes
func EntitlementsToXML(entitlements map[string]interface{}) ([]byte, error) {
	data, err := plist.MarshalIndent(entitlements, plist.XMLFormat, "\t")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal entitlements to XML: %w", err)
	}
	return data, nil
}

// ParseEntitlementsXML parses plist entitlements into a map
func ParseEntitlementsXML(data []byte) (map[string]interface{}, error) {
	var entitlements map[string]interface{}
	if _, err := plist.Unmarshal(data, &entitlements); err != nil {
		return nil, fmt.Errorf("failed to parse entitlements XML: %w", err)
	}
	return entitlements, nil
}

// UpdateEntitlementsForBundleID rewrites application-identifier and
// keychain-access-groups for a new bundle ID. The input map is not modified.
func UpdateEntitlementsForBundleID(entitlements map[string]interface{}, teamID, newBundleID string) map[string]interface{} {
	updated := make(map[string]interface{}, len(entitlements))
	for k, v := range entitlements {
		updated[k] = v
	}

	bundleID := strings.TrimPrefix(newBundleID, teamID+".")
	appID := teamID + "." + bundleID
	updated["application-identifier"] = appID

	if groups, ok := updated["keychain-access-groups"].([]interface{}); ok {
		rewritten := make([]interface{}, 0, len(groups))
		for _, group := range groups {
			s, ok := group.(string)
			if ok && strings.HasPrefix(s, teamID+".") {
				rewritten = append(rewritten, appID)
				continue
			}
			rewritten = append(rewritten, group)
		}
		updated["keychain-access-groups"] = rewritten
	}

	return updated
}

// WriteEntitlements writes entitlements as an XML plist into dir and
// returns the file path, for codesign --entitlements.
func WriteEntitlements(dir string, entitlements map[string]interface{}) (string, error) {
	data, err := EntitlementsToXML(entitlements)
	if err != nil {
		return "", err
	}

	path := filepath.Join(dir, "entitlements.plist")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write entitlements: %w", err)
	}
	return path, nil
}
