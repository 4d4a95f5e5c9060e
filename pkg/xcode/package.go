package xcode

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aluedeke/go-fox/pkg/shell"
)

// PackageApplication signs and archives an app with the legacy
// "xcrun PackageApplication" script, embedding profilePath. The script
// writes the archive next to the app; its path is returned.
//
// Xcode 8.3 removed the script. Newer toolchains should use fox's own
// packager instead.
func (x *Xcode) PackageApplication(ctx context.Context, appPath, identity, profilePath string, out io.Writer) (string, error) {
	argv := []string{
		"-v",
		"-sdk", DefaultSDK,
		"PackageApplication", appPath,
		"--sign", identity,
		"--embed", profilePath,
	}

	cmd := shell.Cmd{Name: "xcrun", Args: argv, Stream: out}
	fmt.Fprintln(out, cmd.String())

	if _, err := x.Runner.Run(ctx, cmd); err != nil {
		return "", fmt.Errorf("PackageApplication failed: %w", err)
	}

	ipaPath := PackagedIPAPath(appPath)
	if _, err := os.Stat(ipaPath); err != nil {
		return "", fmt.Errorf("PackageApplication did not produce %s: %w", ipaPath, err)
	}
	return ipaPath, nil
}

// PackagedIPAPath is where PackageApplication leaves the archive for app:
// the same path with the "app" extension replaced by "ipa".
func PackagedIPAPath(appPath string) string {
	return strings.TrimSuffix(appPath, "app") + "ipa"
}
