package converge

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openfroyo/insta/pkg/system"
)

// Package ensures every named package is installed. dpkg based hosts are
// detected by /usr/bin/dpkg; anything else is treated as yum based.
func (c *Converger) Package(ctx context.Context, names ...string) (bool, error) {
	if len(names) == 0 {
		return false, fmt.Errorf("package name is required")
	}

	dpkg, err := c.sys.Stat(ctx, "/usr/bin/dpkg")
	if err != nil {
		return false, fmt.Errorf("failed to detect package manager: %w", err)
	}

	changed := false
	for _, name := range names {
		var installed bool
		var err error
		if dpkg.Exists {
			installed, err = c.ensureDpkg(ctx, name)
		} else {
			installed, err = c.ensureYum(ctx, name)
		}
		if err != nil {
			return changed, err
		}
		changed = changed || installed
	}
	return changed, nil
}

func (c *Converger) ensureDpkg(ctx context.Context, name string) (bool, error) {
	return c.observe(ctx, PrimitivePackage, name, func(ctx context.Context) (bool, error) {
		out, err := c.sys.Run(ctx, system.Command{Name: "dpkg", Args: []string{"--get-selections", name}})
		if err != nil && !isExit(err) {
			return false, fmt.Errorf("failed to query package %s: %w", name, err)
		}

		selection := ""
		if out != nil {
			selection = strings.TrimSpace(out.Stdout)
		}
		if selection != "" && !strings.HasSuffix(selection, "deinstall") {
			return false, nil
		}

		if _, err := c.run(ctx, system.Command{Name: "apt-get", Args: []string{"install", "-y", name}, Sudo: true}); err != nil {
			return false, err
		}
		return true, nil
	})
}

func (c *Converger) ensureYum(ctx context.Context, name string) (bool, error) {
	return c.observe(ctx, PrimitivePackage, name, func(ctx context.Context) (bool, error) {
		out, err := c.sys.Run(ctx, system.Command{Name: "yum", Args: []string{"list", "installed", name}})
		if err != nil && !isExit(err) {
			return false, fmt.Errorf("failed to query package %s: %w", name, err)
		}

		missing := err != nil
		if out != nil && strings.Contains(out.Stdout+out.Stderr, "No matching Packages") {
			missing = true
		}
		if !missing {
			return false, nil
		}

		if _, err := c.run(ctx, system.Command{Name: "yum", Args: []string{"install", "-y", name}, Sudo: true}); err != nil {
			return false, err
		}
		return true, nil
	})
}

func isExit(err error) bool {
	var exit *system.ExitError
	return errors.As(err, &exit)
}
