package converge

import (
	"context"
	"crypto/sha256"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/openfroyo/insta/pkg/system"
)

// Link makes to a relative symlink pointing at from. When to is a directory
// and from is not, the link is created inside it under from's base name.
//
// An existing symlink at the destination is accepted as is. An existing
// regular file is never replaced; whether its contents equal from is logged.
func (c *Converger) Link(ctx context.Context, from, to string) (bool, error) {
	from, err := c.expand(from)
	if err != nil {
		return false, err
	}
	to, err = c.expandLink(to)
	if err != nil {
		return false, err
	}

	src, err := c.sys.Stat(ctx, from)
	if err != nil {
		return false, err
	}
	if !src.Exists {
		return false, fmt.Errorf("link source %s: %w", from, ErrNotFound)
	}

	dst, err := c.sys.Stat(ctx, to)
	if err != nil {
		return false, err
	}
	if dst.IsDir && !src.IsDir {
		to = filepath.Join(to, filepath.Base(from))
	}

	return c.observe(ctx, PrimitiveLink, to, func(ctx context.Context) (bool, error) {
		existing, err := c.sys.Stat(ctx, to)
		if err != nil {
			return false, err
		}
		if existing.Exists {
			if existing.IsSymlink {
				return false, nil
			}
			equal, err := c.sameContent(ctx, from, to)
			if err != nil {
				return false, err
			}
			if equal {
				c.logger.Warn().Str("path", to).Msg(to + " exists, contents equal")
			} else {
				c.logger.Warn().Str("path", to).Msg(to + " exists, contents NOT equal")
			}
			return false, nil
		}

		rel, err := filepath.Rel(filepath.Dir(to), from)
		if err != nil {
			return false, fmt.Errorf("failed to relativize %s: %w", from, err)
		}
		if _, err := c.run(ctx, system.Command{Name: "ln", Args: []string{"-s", rel, to}, Sudo: c.escalate(to)}); err != nil {
			return false, err
		}
		return true, nil
	})
}

// expandLink expands the parent of p and keeps its last component, so a
// symlink already at p is not resolved to what it points at.
func (c *Converger) expandLink(p string) (string, error) {
	p = filepath.Clean(p)
	if p == "~" || p == "." || p == ".." || p == string(filepath.Separator) {
		return c.expand(p)
	}
	dir, err := c.expand(filepath.Dir(p))
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, filepath.Base(p)), nil
}

// Copy copies from over to unless both already hold the same bytes.
func (c *Converger) Copy(ctx context.Context, from, to string) (bool, error) {
	from, err := c.expand(from)
	if err != nil {
		return false, err
	}
	to, err = c.expand(to)
	if err != nil {
		return false, err
	}

	return c.observe(ctx, PrimitiveCopy, to, func(ctx context.Context) (bool, error) {
		src, err := c.sys.Stat(ctx, from)
		if err != nil {
			return false, err
		}
		if !src.Exists {
			return false, fmt.Errorf("copy source %s: %w", from, ErrNotFound)
		}

		dst, err := c.sys.Stat(ctx, to)
		if err != nil {
			return false, err
		}
		if dst.Exists {
			equal, err := c.sameContent(ctx, from, to)
			if err != nil {
				return false, err
			}
			if equal {
				return false, nil
			}
		}

		if err := c.sys.Copy(ctx, from, to, c.escalate(to)); err != nil {
			return false, fmt.Errorf("failed to copy %s to %s: %w", from, to, err)
		}
		return true, nil
	})
}

// Chmod sets the permission bits of p to perms, an octal string such as
// "600" or "0755".
func (c *Converger) Chmod(ctx context.Context, p, perms string) (bool, error) {
	mode, err := strconv.ParseUint(perms, 8, 32)
	if err != nil || mode > 0o7777 {
		return false, fmt.Errorf("invalid permissions %q", perms)
	}
	want := strconv.FormatUint(mode, 8)

	p, err = c.expand(p)
	if err != nil {
		return false, err
	}

	return c.observe(ctx, PrimitiveChmod, p, func(ctx context.Context) (bool, error) {
		info, err := c.sys.Stat(ctx, p)
		if err != nil {
			return false, err
		}
		if !info.Exists {
			return false, fmt.Errorf("chmod %s: %w", p, ErrNotFound)
		}
		if info.Perm() == want {
			return false, nil
		}

		if _, err := c.run(ctx, system.Command{Name: "chmod", Args: []string{want, p}, Sudo: c.escalate(p)}); err != nil {
			return false, err
		}
		return true, nil
	})
}

// Chown sets the owner of p. owner is "user" or "user:group".
func (c *Converger) Chown(ctx context.Context, p, owner string) (bool, error) {
	user, group, hasGroup := strings.Cut(owner, ":")
	if user == "" {
		return false, fmt.Errorf("invalid owner %q", owner)
	}

	p, err := c.expand(p)
	if err != nil {
		return false, err
	}

	return c.observe(ctx, PrimitiveChown, p, func(ctx context.Context) (bool, error) {
		info, err := c.sys.Stat(ctx, p)
		if err != nil {
			return false, err
		}
		if !info.Exists {
			return false, fmt.Errorf("chown %s: %w", p, ErrNotFound)
		}
		if info.Owner == user && (!hasGroup || info.Group == group) {
			return false, nil
		}

		if _, err := c.run(ctx, system.Command{Name: "chown", Args: []string{owner, p}, Sudo: true}); err != nil {
			return false, err
		}
		return true, nil
	})
}

// WriteText makes text the whole content of p. The text is staged locally
// and copied into place, through sudo when p is not writable.
func (c *Converger) WriteText(ctx context.Context, p, text string) (bool, error) {
	p, err := c.expand(p)
	if err != nil {
		return false, err
	}

	return c.observe(ctx, PrimitiveWriteText, p, func(ctx context.Context) (bool, error) {
		info, err := c.sys.Stat(ctx, p)
		if err != nil {
			return false, err
		}
		if info.Exists {
			current, err := c.sys.ReadFile(ctx, p)
			if err != nil {
				return false, err
			}
			if current == text {
				return false, nil
			}
		}

		if err := c.sys.WriteFile(ctx, c.stagingPath, text); err != nil {
			return false, fmt.Errorf("failed to stage %s: %w", p, err)
		}
		if err := c.sys.Copy(ctx, c.stagingPath, p, c.escalate(p)); err != nil {
			return false, fmt.Errorf("failed to write %s: %w", p, err)
		}
		return true, nil
	})
}

func (c *Converger) sameContent(ctx context.Context, a, b string) (bool, error) {
	ha, err := c.digest(ctx, a)
	if err != nil {
		return false, err
	}
	hb, err := c.digest(ctx, b)
	if err != nil {
		return false, err
	}
	return ha == hb, nil
}

func (c *Converger) digest(ctx context.Context, p string) ([sha256.Size]byte, error) {
	content, err := c.sys.ReadFile(ctx, p)
	if err != nil {
		return [sha256.Size]byte{}, fmt.Errorf("failed to read %s: %w", p, err)
	}
	return sha256.Sum256([]byte(content)), nil
}
