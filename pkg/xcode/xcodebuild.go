// Package xcode wraps the xcodebuild and xcrun command-line tools.
package xcode

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/aluedeke/go-fox/pkg/shell"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultSDK is the SDK fox builds against
	DefaultSDK = "iphoneos"
	// DefaultConfiguration is the build configuration used when none is given
	DefaultConfiguration = "Debug"
)

// Build setting names fox reads back after a build
const (
	BuiltProductsDir = "BUILT_PRODUCTS_DIR"
	FullProductName  = "FULL_PRODUCT_NAME"
)

// BuildArgs holds the arguments needed to invoke xcodebuild
type BuildArgs struct {
	SDK           string // -sdk, defaults to iphoneos
	Project       string // -project, optional
	Target        string // -target
	Configuration string // -configuration, defaults to Debug
	Action        string // e.g. "build"; empty runs xcodebuild's default action
	Identity      string // CODE_SIGN_IDENTITY build setting
	Keychain      string // passed to codesign through OTHER_CODE_SIGN_FLAGS
	Settings      []string
}

// Argv constructs the xcodebuild argument list. The keychain path is made
// absolute because xcodebuild runs codesign from another directory.
func (a BuildArgs) Argv() ([]string, error) {
	if a.Target == "" {
		return nil, errors.New("build target is required")
	}

	sdk := a.SDK
	if sdk == "" {
		sdk = DefaultSDK
	}
	config := a.Configuration
	if config == "" {
		config = DefaultConfiguration
	}

	argv := []string{"-sdk", sdk}
	if a.Project != "" {
		argv = append(argv, "-project", a.Project)
	}
	argv = append(argv, "-target", a.Target, "-configuration", config)
	if a.Action != "" {
		argv = append(argv, a.Action)
	}

	// Build settings go after the action
	if a.Identity != "" {
		argv = append(argv, "CODE_SIGN_IDENTITY="+a.Identity)
	}
	if a.Keychain != "" {
		keychain, err := filepath.Abs(a.Keychain)
		if err != nil {
			return nil, err
		}
		argv = append(argv, "OTHER_CODE_SIGN_FLAGS=--keychain="+keychain)
	}
	argv = append(argv, a.Settings...)
	return argv, nil
}

// Xcode runs xcodebuild and xcrun
type Xcode struct {
	Runner shell.Runner
	Logger *logrus.Logger
}

// New returns an Xcode wrapper using runner
func New(runner shell.Runner, logger *logrus.Logger) *Xcode {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Xcode{Runner: runner, Logger: logger}
}

// Build runs xcodebuild, streaming its combined output to out while
// capturing it. A non-zero exit is returned as *shell.ExitError together
// with the captured output.
func (x *Xcode) Build(ctx context.Context, args BuildArgs, out io.Writer) (string, error) {
	argv, err := args.Argv()
	if err != nil {
		return "", err
	}

	x.Logger.WithFields(logrus.Fields{
		"target": args.Target,
		"config": args.Configuration,
	}).Info("building")

	res, err := x.Runner.Run(ctx, shell.Cmd{Name: "xcodebuild", Args: argv, Stream: out})
	var output string
	if res != nil {
		output = string(res.Output)
	}
	if err != nil {
		return output, explain(output, args, err)
	}
	return output, nil
}

// explain adds a hint to well known xcodebuild failures
func explain(output string, args BuildArgs, err error) error {
	switch {
	case strings.Contains(output, "does not contain a target named"):
		return fmt.Errorf("target %q not found: %w", args.Target, err)
	case strings.Contains(output, "xcodebuild: error: The project"):
		return fmt.Errorf("project %q not found: %w", args.Project, err)
	case strings.Contains(output, "User interaction is not allowed"):
		return fmt.Errorf("keychain is locked, pass --keychain-password: %w", err)
	}
	return err
}

type settingsEntry struct {
	Action        string            `json:"action"`
	Target        string            `json:"target"`
	BuildSettings map[string]string `json:"buildSettings"`
}

// ShowBuildSettings asks xcodebuild for the resolved build settings of the
// target, using the -json output instead of scraping text.
func (x *Xcode) ShowBuildSettings(ctx context.Context, args BuildArgs) (map[string]string, error) {
	args.Action = ""
	argv, err := args.Argv()
	if err != nil {
		return nil, err
	}
	argv = append(argv, "-showBuildSettings", "-json")

	var stderr bytes.Buffer
	out, err := shell.Output(ctx, x.Runner, shell.Cmd{Name: "xcodebuild", Args: argv, Stderr: &stderr})
	if stderr.Len() > 0 {
		x.Logger.Debugf("xcodebuild -showBuildSettings stderr:\n%s", stderr.String())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query build settings: %w", err)
	}
	return parseSettingsJSON([]byte(out), args.Target)
}

// parseSettingsJSON decodes the first JSON array in data that starts on its
// own line. Tool warnings may surround the document.
func parseSettingsJSON(data []byte, target string) (map[string]string, error) {
	entries, err := decodeSettings(data)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, errors.New("xcodebuild returned no build settings")
	}

	for _, e := range entries {
		if e.Target == target {
			return e.BuildSettings, nil
		}
	}
	return entries[0].BuildSettings, nil
}

func decodeSettings(data []byte) ([]settingsEntry, error) {
	err := errors.New("no JSON document in output")
	for off := 0; off < len(data); {
		line := data[off:]
		if i := bytes.IndexByte(line, '\n'); i >= 0 {
			line = line[:i+1]
		}
		if bytes.HasPrefix(bytes.TrimSpace(line), []byte("[")) {
			var entries []settingsEntry
			// Decode stops after the first value, ignoring anything printed after it
			if err = json.NewDecoder(bytes.NewReader(data[off:])).Decode(&entries); err == nil {
				return entries, nil
			}
		}
		off += len(line)
	}
	return nil, fmt.Errorf("failed to parse build settings: %w", err)
}

// ResolveProduct joins BUILT_PRODUCTS_DIR and FULL_PRODUCT_NAME
func ResolveProduct(settings map[string]string) (string, error) {
	dir, name := settings[BuiltProductsDir], settings[FullProductName]
	if dir == "" {
		return "", fmt.Errorf("%s not set", BuiltProductsDir)
	}
	if name == "" {
		return "", fmt.Errorf("%s not set", FullProductName)
	}
	return filepath.Join(dir, name), nil
}
