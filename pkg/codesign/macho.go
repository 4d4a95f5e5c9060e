package codesign

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/blacktop/go-macho"
	"github.com/blacktop/go-macho/types"
)

// BinaryInfo summarises a Mach-O executable
type BinaryInfo struct {
	Path   string
	Fat    bool
	Arches []string
	Signed bool // every slice carries LC_CODE_SIGNATURE
}

// InspectBinary opens a thin or fat Mach-O and reports its architectures and
// whether it has been signed.
func InspectBinary(path string) (*BinaryInfo, error) {
	magic, err := readMagic(path)
	if err != nil {
		return nil, err
	}

	info := &BinaryInfo{Path: path}
	switch {
	case isFatMagic(magic):
		fat, err := macho.OpenFat(path)
		if err != nil {
			return nil, fmt.Errorf("failed to parse fat Mach-O %s: %w", path, err)
		}
		defer fat.Close()

		info.Fat = true
		info.Signed = len(fat.Arches) > 0
		for _, arch := range fat.Arches {
			info.Arches = append(info.Arches, archName(arch.CPU))
			if arch.File.CodeSignature() == nil {
				info.Signed = false
			}
		}
	case isThinMagic(magic):
		m, err := macho.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to parse Mach-O %s: %w", path, err)
		}
		defer m.Close()

		info.Arches = []string{archName(m.CPU)}
		info.Signed = m.CodeSignature() != nil
	default:
		return nil, fmt.Errorf("%s is not a Mach-O binary", path)
	}

	return info, nil
}

// InspectAppExecutable inspects the main executable named by the app's Info.plist
func InspectAppExecutable(appPath string) (*BinaryInfo, error) {
	execName, err := GetAppExecutableName(appPath)
	if err != nil {
		return nil, err
	}
	return InspectBinary(filepath.Join(appPath, execName))
}

func archName(cpu types.CPU) string {
	switch cpu {
	case types.CPUArm64:
		return "arm64"
	case types.CPUAmd64:
		return "x86_64"
	case types.CPUArm:
		return "armv7"
	}
	return strings.ToLower(cpu.String())
}

func readMagic(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	magic := make([]byte, 4)
	if _, err := io.ReadFull(f, magic); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return magic, nil
}

// MH_MAGIC_64 and MH_MAGIC, little endian on disk
func isThinMagic(m []byte) bool {
	return (m[0] == 0xcf || m[0] == 0xce) && m[1] == 0xfa && m[2] == 0xed && m[3] == 0xfe
}

// FAT_MAGIC and FAT_MAGIC_64, big endian on disk
func isFatMagic(m []byte) bool {
	return m[0] == 0xca && m[1] == 0xfe && m[2] == 0xba && (m[3] == 0xbe || m[3] == 0xbf)
}

func isMachO(path string) bool {
	magic, err := readMagic(path)
	if err != nil {
		return false
	}
	return isThinMagic(magic) || isFatMagic(magic)
}

// FindNestedBundles returns the frameworks, dylibs, plug-ins and watch apps
// inside an app that codesign must sign before the app itself. The result
// is ordered deepest first.
func FindNestedBundles(appPath string) ([]string, error) {
	var nested []string

	err := filepath.Walk(appPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path == appPath {
			return nil
		}

		switch filepath.Ext(path) {
		case ".framework", ".appex", ".xctest", ".app":
			if info.IsDir() {
				nested = append(nested, path)
			}
		case ".dylib":
			if info.Mode().IsRegular() && isMachO(path) {
				nested = append(nested, path)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(nested, func(i, j int) bool {
		return depth(nested[i]) > depth(nested[j])
	})
	return nested, nil
}

func depth(path string) int {
	return strings.Count(path, string(os.PathSeparator))
}
