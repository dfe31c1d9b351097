package converge

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/openfroyo/insta/pkg/system"
)

// DefaultDownloadDir is where Curl saves files when no directory is given.
const DefaultDownloadDir = "~/Software"

// Make rebuilds target with cmds unless it exists and is newer than every
// dependency. In each command $@ expands to the target, $^ to all
// dependencies and $< to the first one, all shell-quoted.
func (c *Converger) Make(ctx context.Context, target string, cmds []string, deps ...string) (bool, error) {
	if len(cmds) == 0 {
		return false, fmt.Errorf("make %s: no commands", target)
	}

	target, err := c.expand(target)
	if err != nil {
		return false, err
	}
	expanded := make([]string, len(deps))
	for i, dep := range deps {
		if expanded[i], err = c.expand(dep); err != nil {
			return false, err
		}
	}
	deps = expanded

	return c.observe(ctx, PrimitiveMake, target, func(ctx context.Context) (bool, error) {
		fresh, err := c.upToDate(ctx, target, deps)
		if err != nil {
			return false, err
		}
		if fresh {
			return false, nil
		}

		for _, cmd := range cmds {
			if _, err := c.run(ctx, system.Shell(expandMakeVars(cmd, target, deps))); err != nil {
				return true, err
			}
		}
		return true, nil
	})
}

func (c *Converger) upToDate(ctx context.Context, target string, deps []string) (bool, error) {
	info, err := c.sys.Stat(ctx, target)
	if err != nil {
		return false, err
	}
	if !info.Exists {
		return false, nil
	}

	for _, dep := range deps {
		dinfo, err := c.sys.Stat(ctx, dep)
		if err != nil {
			return false, err
		}
		if !dinfo.Exists {
			return false, fmt.Errorf("make %s: dependency %s: %w", target, dep, ErrNotFound)
		}
		if !info.ModTime.After(dinfo.ModTime) {
			return false, nil
		}
	}
	return true, nil
}

func expandMakeVars(cmd, target string, deps []string) string {
	quoted := make([]string, len(deps))
	for i, d := range deps {
		quoted[i] = system.Quote(d)
	}

	pairs := []string{"$@", system.Quote(target), "$^", strings.Join(quoted, " ")}
	if len(deps) > 0 {
		pairs = append(pairs, "$<", quoted[0])
	}
	return strings.NewReplacer(pairs...).Replace(cmd)
}

// Curl downloads rawURL into dir unless the file is already there, and
// returns the local file path.
func (c *Converger) Curl(ctx context.Context, rawURL, dir string) (string, bool, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false, fmt.Errorf("invalid url %q: %w", rawURL, err)
	}
	name := path.Base(u.Path)
	if name == "" || name == "/" || name == "." {
		return "", false, fmt.Errorf("url %q has no file name", rawURL)
	}

	if dir == "" {
		dir = DefaultDownloadDir
	}
	fname, err := c.expand(path.Join(dir, name))
	if err != nil {
		return "", false, err
	}

	changed, err := c.Make(ctx, fname, []string{"curl " + system.Quote(rawURL) + " -o $@"})
	return fname, changed, err
}
