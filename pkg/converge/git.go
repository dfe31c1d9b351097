package converge

import (
	"context"
	"path/filepath"

	"github.com/openfroyo/insta/pkg/system"
)

// Clone checks out addr into dir with submodules, optionally resetting to
// commit. An existing dir is left alone whatever it contains.
func (c *Converger) Clone(ctx context.Context, addr, dir, commit string) (bool, error) {
	dir, err := c.expand(dir)
	if err != nil {
		return false, err
	}

	return c.observe(ctx, PrimitiveClone, dir, func(ctx context.Context) (bool, error) {
		info, err := c.sys.Stat(ctx, dir)
		if err != nil {
			return false, err
		}
		if info.Exists {
			return false, nil
		}

		parent := filepath.Dir(dir)
		pinfo, err := c.sys.Stat(ctx, parent)
		if err != nil {
			return false, err
		}
		if !pinfo.Exists {
			if _, err := c.run(ctx, system.Command{Name: "mkdir", Args: []string{"-p", parent}, Sudo: c.escalate(parent)}); err != nil {
				return false, err
			}
		}

		if _, err := c.run(ctx, system.Command{Name: "git", Args: []string{"clone", "--recursive", addr, dir}}); err != nil {
			return false, err
		}
		if commit != "" {
			if _, err := c.run(ctx, system.Command{Name: "git", Args: []string{"-C", dir, "reset", "--hard", commit}}); err != nil {
				return true, err
			}
		}
		return true, nil
	})
}
