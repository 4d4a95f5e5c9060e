// Package keychain manages macOS keychains through the security tool.
package keychain

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/aluedeke/go-fox/pkg/shell"
	"github.com/sirupsen/logrus"
)

// Manager runs security commands
type Manager struct {
	Runner shell.Runner
	Logger *logrus.Logger
}

// New returns a Manager using runner
func New(runner shell.Runner, logger *logrus.Logger) *Manager {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Manager{Runner: runner, Logger: logger}
}

// List returns the keychain search list in order
func (m *Manager) List(ctx context.Context) ([]string, error) {
	out, err := shell.Output(ctx, m.Runner, shell.Cmd{Name: "security", Args: []string{"list-keychains"}})
	if err != nil {
		return nil, fmt.Errorf("failed to list keychains: %w", err)
	}
	return ParseList(out), nil
}

// ParseList parses `security list-keychains` output: one quoted path per
// line. Duplicates are dropped.
func ParseList(out string) []string {
	var keychains []string
	seen := map[string]bool{}
	for _, line := range strings.Split(out, "\n") {
		k := strings.Trim(strings.TrimSpace(line), `"`)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		keychains = append(keychains, k)
	}
	return keychains
}

// Add puts the keychain at path on the search list so codesign can find
// identities in it. A keychain already on the list is left alone.
func (m *Manager) Add(ctx context.Context, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	keychains, err := m.List(ctx)
	if err != nil {
		return err
	}
	for _, k := range keychains {
		if k == abs {
			m.Logger.WithField("keychain", abs).Debug("keychain already in search list")
			return nil
		}
	}

	args := append([]string{"list-keychains", "-s"}, keychains...)
	args = append(args, abs)
	if _, err := m.Runner.Run(ctx, shell.Cmd{Name: "security", Args: args}); err != nil {
		return fmt.Errorf("failed to add keychain %s: %w", abs, err)
	}
	m.Logger.WithField("keychain", abs).Info("added keychain to search list")
	return nil
}

// Unlock unlocks the keychain at path
func (m *Manager) Unlock(ctx context.Context, path, password string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	cmd := shell.Cmd{
		Name:    "security",
		Args:    []string{"-v", "unlock-keychain", "-p", password, abs},
		Secrets: []string{password},
	}
	if _, err := m.Runner.Run(ctx, cmd); err != nil {
		return fmt.Errorf("failed to unlock keychain %s: %w", abs, err)
	}
	m.Logger.WithField("keychain", abs).Debug("unlocked keychain")
	return nil
}

// Import adds the identity in a P12 bundle to the keychain and lets
// codesign use its key without prompting.
func (m *Manager) Import(ctx context.Context, path, p12Path, password string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	cmd := shell.Cmd{
		Name:    "security",
		Args:    []string{"import", p12Path, "-k", abs, "-P", password, "-T", "/usr/bin/codesign"},
		Secrets: []string{password},
	}
	res, err := m.Runner.Run(ctx, cmd)
	if err != nil {
		// security refuses to import an identity twice
		if res != nil && strings.Contains(string(res.Output), "already exists") {
			m.Logger.WithField("p12", p12Path).Debug("identity already in keychain")
			return nil
		}
		return fmt.Errorf("failed to import %s: %w", p12Path, err)
	}
	m.Logger.WithFields(logrus.Fields{"keychain": abs, "p12": p12Path}).Info("imported signing identity")
	return nil
}
