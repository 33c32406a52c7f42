package resolver

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Installer fetches a missing package into the project. The resolver calls
// it at most once per package name per build.
type Installer interface {
	Install(ctx context.Context, dir, pkg string) error
}

// InstallerFunc adapts a function to Installer
type InstallerFunc func(ctx context.Context, dir, pkg string) error

// Install calls f
func (f InstallerFunc) Install(ctx context.Context, dir, pkg string) error {
	return f(ctx, dir, pkg)
}

// NPMInstaller installs packages with the npm CLI
type NPMInstaller struct {
	// Command defaults to "npm"
	Command string
}

// Install runs `npm install --save <pkg>` in dir
func (n NPMInstaller) Install(ctx context.Context, dir, pkg string) error {
	command := n.Command
	if command == "" {
		command = "npm"
	}

	cmd := exec.CommandContext(ctx, command, "install", "--save", pkg)
	cmd.Dir = dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return fmt.Errorf("%s install %s failed: %w", command, pkg, err)
		}
		return fmt.Errorf("%s install %s failed: %w: %s", command, pkg, err, msg)
	}
	return nil
}
