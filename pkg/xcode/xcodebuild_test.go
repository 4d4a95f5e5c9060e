package xcode

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/aluedeke/go-fox/pkg/shell"
	"github.com/aluedeke/go-fox/pkg/shell/shelltest"
	"github.com/sirupsen/logrus"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestBuildArgsArgv(t *testing.T) {
	keychain, _ := filepath.Abs("ci.keychain")

	tests := []struct {
		name string
		args BuildArgs
		want []string
	}{
		{
			name: "minimal",
			args: BuildArgs{Target: "MyApp", Identity: "iPhone Developer"},
			want: []string{"-sdk", "iphoneos", "-target", "MyApp", "-configuration", "Debug",
				"CODE_SIGN_IDENTITY=iPhone Developer"},
		},
		{
			name: "project keychain and action",
			args: BuildArgs{
				Project:       "MyApp.xcodeproj",
				Target:        "MyApp",
				Configuration: "Release",
				Action:        "build",
				Identity:      "iPhone Distribution: Example",
				Keychain:      "ci.keychain",
			},
			want: []string{"-sdk", "iphoneos", "-project", "MyApp.xcodeproj", "-target", "MyApp",
				"-configuration", "Release", "build",
				"CODE_SIGN_IDENTITY=iPhone Distribution: Example",
				"OTHER_CODE_SIGN_FLAGS=--keychain=" + keychain},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.args.Argv()
			if err != nil {
				t.Fatalf("Argv failed: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Argv = %v\nwant   %v", got, tt.want)
			}
		})
	}
}

func TestBuildArgsRequireTarget(t *testing.T) {
	if _, err := (BuildArgs{}).Argv(); err == nil {
		t.Fatal("expected error without target")
	}
}

func TestBuildStreamsOutput(t *testing.T) {
	runner := (&shelltest.Runner{}).On("xcodebuild", nil, shelltest.Response{Output: "** BUILD SUCCEEDED **\n"})
	x := New(runner, quietLogger())

	var out bytes.Buffer
	output, err := x.Build(context.Background(), BuildArgs{Target: "MyApp"}, &out)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if output != "** BUILD SUCCEEDED **\n" || out.String() != output {
		t.Errorf("output = %q, streamed %q", output, out.String())
	}
}

func TestBuildFailureKeepsExitStatus(t *testing.T) {
	runner := (&shelltest.Runner{}).On("xcodebuild", nil, shelltest.Response{
		Output:   "xcodebuild: error: The project named \"Nope\" does not contain a target named \"MyApp\".\n",
		ExitCode: 65,
	})
	x := New(runner, quietLogger())

	_, err := x.Build(context.Background(), BuildArgs{Target: "MyApp"}, io.Discard)

	var exitErr *shell.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected *shell.ExitError, got %v", err)
	}
	if exitErr.ExitCode != 65 {
		t.Errorf("exit code = %d, want 65", exitErr.ExitCode)
	}
	if !strings.Contains(err.Error(), `target "MyApp" not found`) {
		t.Errorf("missing hint: %v", err)
	}
}

const settingsJSON = `Command line invocation:
    xcodebuild -showBuildSettings -json
[
  {
    "action" : "build",
    "buildSettings" : {
      "BUILT_PRODUCTS_DIR" : "/tmp/build/Debug-iphoneos",
      "FULL_PRODUCT_NAME" : "Widget.appex"
    },
    "target" : "Widget"
  },
  {
    "action" : "build",
    "buildSettings" : {
      "BUILT_PRODUCTS_DIR" : "/tmp/build/Debug-iphoneos",
      "FULL_PRODUCT_NAME" : "MyApp.app"
    },
    "target" : "MyApp"
  }
]`

func TestShowBuildSettings(t *testing.T) {
	runner := (&shelltest.Runner{}).On("xcodebuild", []string{"-showBuildSettings", "-json"},
		shelltest.Response{Output: settingsJSON})
	x := New(runner, quietLogger())

	settings, err := x.ShowBuildSettings(context.Background(), BuildArgs{Target: "MyApp", Action: "build"})
	if err != nil {
		t.Fatalf("ShowBuildSettings failed: %v", err)
	}

	product, err := ResolveProduct(settings)
	if err != nil {
		t.Fatalf("ResolveProduct failed: %v", err)
	}
	if product != "/tmp/build/Debug-iphoneos/MyApp.app" {
		t.Errorf("product = %q", product)
	}

	for _, a := range runner.Commands[0].Args {
		if a == "build" {
			t.Errorf("settings query must not run the build action: %v", runner.Commands[0].Args)
		}
	}
}

func TestShowBuildSettingsIgnoresToolNoise(t *testing.T) {
	noisy := "2026-10-16 09:12:44.101 xcodebuild[51234:987654] Requested but did not find extension point with identifier Xcode.IDEKit.ExtensionSentinelHostApplications\n" +
		"[MT] DVTAssertions: Warning in DVTFoundation/DVTDeveloperPaths.m:42\n" +
		settingsJSON +
		"\n2026-10-16 09:12:45.002 xcodebuild[51234:987700] [MT] IDERunDestination: Supported platforms are empty\n"

	runner := (&shelltest.Runner{}).On("xcodebuild", []string{"-showBuildSettings", "-json"},
		shelltest.Response{Output: noisy})
	x := New(runner, quietLogger())

	settings, err := x.ShowBuildSettings(context.Background(), BuildArgs{Target: "MyApp"})
	if err != nil {
		t.Fatalf("ShowBuildSettings failed: %v", err)
	}
	if product, _ := ResolveProduct(settings); product != "/tmp/build/Debug-iphoneos/MyApp.app" {
		t.Errorf("product = %q", product)
	}
}

func TestParseSettingsJSONWithoutDocument(t *testing.T) {
	if _, err := parseSettingsJSON([]byte("xcodebuild[1:2] warning\n[MT] nothing here\n"), "MyApp"); err == nil {
		t.Error("expected error when no JSON document is printed")
	}
}

func TestResolveProductMissing(t *testing.T) {
	if _, err := ResolveProduct(map[string]string{FullProductName: "MyApp.app"}); err == nil {
		t.Error("expected error without BUILT_PRODUCTS_DIR")
	}
	if _, err := ResolveProduct(map[string]string{BuiltProductsDir: "/tmp"}); err == nil {
		t.Error("expected error without FULL_PRODUCT_NAME")
	}
}

func TestParseSetenv(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		want   string
		wantOK bool
	}{
		{
			name:   "setenv",
			text:   "    setenv BUILT_PRODUCTS_DIR /Users/ci/build/Debug-iphoneos\n",
			want:   "/Users/ci/build/Debug-iphoneos",
			wantOK: true,
		},
		{
			name:   "setenv quoted",
			text:   "setenv BUILT_PRODUCTS_DIR \"/Users/ci/My Build/Debug-iphoneos\"\n",
			want:   "/Users/ci/My Build/Debug-iphoneos",
			wantOK: true,
		},
		{
			name:   "export escaped",
			text:   "    export BUILT_PRODUCTS_DIR\\=/Users/ci/My\\ Build/Release-iphoneos\n",
			want:   "/Users/ci/My Build/Release-iphoneos",
			wantOK: true,
		},
		{
			name:   "show build settings text",
			text:   "Build settings for action build and target MyApp:\n    BUILT_PRODUCTS_DIR = /tmp/p\n",
			want:   "/tmp/p",
			wantOK: true,
		},
		{
			name:   "first wins",
			text:   "setenv BUILT_PRODUCTS_DIR /first\nsetenv BUILT_PRODUCTS_DIR /second\n",
			want:   "/first",
			wantOK: true,
		},
		{
			name:   "prefix of other variable",
			text:   "setenv BUILT_PRODUCTS_DIR_OTHER /nope\n",
			wantOK: false,
		},
		{
			name:   "absent",
			text:   "** BUILD SUCCEEDED **\n",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseSetenv(BuiltProductsDir, tt.text)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("ParseSetenv = (%q, %v), want (%q, %v)", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestScrapeSettings(t *testing.T) {
	output := "setenv BUILT_PRODUCTS_DIR /tmp/out\nsetenv FULL_PRODUCT_NAME MyApp.app\n"
	product, err := ResolveProduct(ScrapeSettings(output))
	if err != nil {
		t.Fatalf("ResolveProduct failed: %v", err)
	}
	if product != "/tmp/out/MyApp.app" {
		t.Errorf("product = %q", product)
	}
}

func TestPackageApplication(t *testing.T) {
	dir := t.TempDir()
	app := filepath.Join(dir, "MyApp.app")

	runner := (&shelltest.Runner{}).On("xcrun", []string{"PackageApplication"}, shelltest.Response{
		Do: func(shell.Cmd) error {
			return os.WriteFile(filepath.Join(dir, "MyApp.ipa"), []byte("PK"), 0644)
		},
	})
	x := New(runner, quietLogger())

	ipa, err := x.PackageApplication(context.Background(), app, "iPhone Distribution", "/tmp/p.mobileprovision", io.Discard)
	if err != nil {
		t.Fatalf("PackageApplication failed: %v", err)
	}
	if ipa != filepath.Join(dir, "MyApp.ipa") {
		t.Errorf("ipa = %q", ipa)
	}

	want := []string{"-v", "-sdk", "iphoneos", "PackageApplication", app,
		"--sign", "iPhone Distribution", "--embed", "/tmp/p.mobileprovision"}
	if !reflect.DeepEqual(runner.Commands[0].Args, want) {
		t.Errorf("args = %v, want %v", runner.Commands[0].Args, want)
	}
}
