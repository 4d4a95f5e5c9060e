package codesign

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

// PayloadDir is the top-level directory of an IPA; it is the only entry
// written back when an archive is repacked.
const PayloadDir = "Payload"

// ExtractIPA extracts an IPA file to a temporary directory
// Returns the path to the temp directory
func ExtractIPA(ipaPath string) (string, error) {
	tempDir, err := os.MkdirTemp("", "fox-ipa-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp directory: %w", err)
	}
	// TMPDIR itself may sit behind a symlink (/var on macOS)
	if resolved, err := filepath.EvalSymlinks(tempDir); err == nil {
		tempDir = resolved
	}

	r, err := zip.OpenReader(ipaPath)
	if err != nil {
		os.RemoveAll(tempDir)
		return "", fmt.Errorf("failed to open IPA: %w", err)
	}
	defer r.Close()

	for _, f := range r.File {
		if err := extractZipFile(f, tempDir); err != nil {
			os.RemoveAll(tempDir)
			return "", fmt.Errorf("failed to extract %s: %w", f.Name, err)
		}
	}

	return tempDir, nil
}

// extractZipFile writes one entry below destDir, which must be free of
// symlinks. Entries and symlink targets that resolve outside destDir are
// rejected.
func extractZipFile(f *zip.File, destDir string) error {
	// zip slip
	destPath := filepath.Join(destDir, f.Name)
	if !within(destDir, destPath) || destPath == filepath.Clean(destDir) {
		return fmt.Errorf("invalid file path: %s", f.Name)
	}

	mode := f.Mode()
	if mode.IsDir() {
		if err := os.MkdirAll(destPath, 0755); err != nil {
			return err
		}
		return checkResolved(destDir, destPath, f.Name)
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return err
	}
	if err := checkResolved(destDir, filepath.Dir(destPath), f.Name); err != nil {
		return err
	}
	if fi, err := os.Lstat(destPath); err == nil && fi.Mode()&os.ModeSymlink != 0 {
		return fmt.Errorf("refusing to write through symlink: %s", f.Name)
	}

	src, err := f.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	if mode&os.ModeSymlink != 0 {
		data, err := io.ReadAll(src)
		if err != nil {
			return err
		}
		target := string(data)
		if filepath.IsAbs(target) || !within(destDir, filepath.Join(filepath.Dir(destPath), target)) {
			return fmt.Errorf("symlink %s points outside the archive: %s", f.Name, target)
		}
		return os.Symlink(target, destPath)
	}

	dst, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode.Perm()|0600)
	if err != nil {
		return err
	}
	defer dst.Close()

	_, err = io.Copy(dst, src)
	return err
}

// checkResolved fails when path, with symlinks resolved, is outside root
func checkResolved(root, path, name string) error {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return err
	}
	if !within(root, resolved) {
		return fmt.Errorf("invalid file path: %s resolves outside the archive", name)
	}
	return nil
}

// within reports whether path is root or lies below it, compared lexically
func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(os.PathSeparator))
}

// FindAppBundle finds the .app bundle inside an extracted IPA
// Returns the full path to the .app directory
func FindAppBundle(extractedDir string) (string, error) {
	payloadDir := filepath.Join(extractedDir, PayloadDir)

	entries, err := os.ReadDir(payloadDir)
	if err != nil {
		return "", fmt.Errorf("failed to read Payload directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() && strings.HasSuffix(entry.Name(), ".app") {
			return filepath.Join(payloadDir, entry.Name()), nil
		}
	}

	return "", fmt.Errorf("no .app bundle found in Payload directory")
}

// RepackageIPA zips the Payload directory of extractedDir into outputPath
// with Payload as the archive root. Anything else in extractedDir, such as
// iTunesMetadata.plist, is left out.
func RepackageIPA(extractedDir, outputPath string) error {
	payload := filepath.Join(extractedDir, PayloadDir)
	if _, err := os.Stat(payload); err != nil {
		return fmt.Errorf("missing %s directory: %w", PayloadDir, err)
	}

	outFile, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}

	w := zip.NewWriter(outFile)
	walkErr := filepath.Walk(payload, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		relPath, err := filepath.Rel(extractedDir, path)
		if err != nil {
			return err
		}
		return addZipEntry(w, path, filepath.ToSlash(relPath), info)
	})

	closeErr := w.Close()
	fileErr := outFile.Close()
	if err := errors.Join(walkErr, closeErr, fileErr); err != nil {
		os.Remove(outputPath)
		return err
	}
	return nil
}

func addZipEntry(w *zip.Writer, path, name string, info os.FileInfo) error {
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	header.Name = name

	switch {
	case info.IsDir():
		header.Name += "/"
		header.Method = zip.Store
		_, err := w.CreateHeader(header)
		return err
	case info.Mode()&os.ModeSymlink != 0:
		target, err := os.Readlink(path)
		if err != nil {
			return err
		}
		header.Method = zip.Store
		writer, err := w.CreateHeader(header)
		if err != nil {
			return err
		}
		_, err = io.WriteString(writer, target)
		return err
	}

	header.Method = zip.Deflate
	writer, err := w.CreateHeader(header)
	if err != nil {
		return err
	}

	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	_, err = io.Copy(writer, file)
	return err
}

// StagePayload copies an app bundle into a fresh temp directory laid out as
// an unpacked IPA (<tmp>/Payload/<App>.app). It returns the temp directory
// and the path of the copied bundle.
func StagePayload(appPath string) (string, string, error) {
	tempDir, err := os.MkdirTemp("", "fox-stage-*")
	if err != nil {
		return "", "", fmt.Errorf("failed to create temp directory: %w", err)
	}

	staged := filepath.Join(tempDir, PayloadDir, filepath.Base(appPath))
	if err := CopyAppBundle(appPath, staged); err != nil {
		os.RemoveAll(tempDir)
		return "", "", fmt.Errorf("failed to stage %s: %w", appPath, err)
	}
	return tempDir, staged, nil
}

// CopyAppBundle copies a .app bundle directory from src to dst
func CopyAppBundle(src, dst string) error {
	if err := os.RemoveAll(dst); err != nil {
		return fmt.Errorf("failed to remove existing destination: %w", err)
	}
	if err := os.MkdirAll(dst, 0755); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}

	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		relPath, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if relPath == "." {
			return nil
		}
		dstPath := filepath.Join(dst, relPath)

		switch {
		case info.IsDir():
			return os.MkdirAll(dstPath, info.Mode().Perm()|0700)
		case info.Mode()&os.ModeSymlink != 0:
			target, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(target, dstPath)
		}
		return copyFile(path, dstPath, info.Mode())
	})
}

// copyFile copies a single file from src to dst with the given mode using streaming I/O
func copyFile(src, dst string, mode os.FileMode) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer srcFile.Close()

	dstFile, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode.Perm())
	if err != nil {
		return err
	}

	if _, err := io.Copy(dstFile, srcFile); err != nil {
		dstFile.Close()
		return err
	}
	return dstFile.Close()
}

// MoveFile renames src to dst, copying across file systems when needed
func MoveFile(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}

	var linkErr *os.LinkError
	if !errors.As(err, &linkErr) || !errors.Is(linkErr.Err, syscall.EXDEV) {
		return err
	}

	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if err := copyFile(src, dst, info.Mode()); err != nil {
		return err
	}
	return os.Remove(src)
}
