// Package target resolves patch target descriptors into either a single local
// path or an ordered list of remote host:path destinations.
package target

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Kind distinguishes local and remote targets.
type Kind int

const (
	// KindLocal addresses one file on this host.
	KindLocal Kind = iota

	// KindRemote addresses one or more host:path destinations.
	KindRemote
)

func (k Kind) String() string {
	if k == KindRemote {
		return "remote"
	}
	return "local"
}

// Destination is one remote host:path pair.
type Destination struct {
	Host string `json:"host"`
	Path string `json:"path"`
}

func (d Destination) String() string {
	return d.Host + ":" + d.Path
}

// ParseDestination splits s on its first colon. A numeric segment followed by
// another colon is a port and stays with the host, so [user@]host[:port]:path
// is accepted.
func ParseDestination(s string) (Destination, error) {
	host, path, ok := strings.Cut(s, ":")
	if port, rest, found := strings.Cut(path, ":"); found && isPort(port) {
		host, path = host+":"+port, rest
	}
	if !ok || host == "" || path == "" {
		return Destination{}, fmt.Errorf("invalid remote destination %q: want [user@]host[:port]:path", s)
	}
	return Destination{Host: host, Path: path}, nil
}

func isPort(s string) bool {
	if s == "" || len(s) > 5 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Descriptor is the unresolved form of a target as given by a caller: either
// a path string (which may itself be host:path) or an explicit list of
// host:path destinations.
type Descriptor struct {
	Path         string
	Destinations []string
}

// Path returns a descriptor for a path string.
func Path(p string) Descriptor {
	return Descriptor{Path: p}
}

// Hosts returns a descriptor for an explicit destination list.
func Hosts(destinations ...string) Descriptor {
	return Descriptor{Destinations: destinations}
}

func (d Descriptor) String() string {
	if len(d.Destinations) > 0 {
		return strings.Join(d.Destinations, ",")
	}
	return d.Path
}

// Target is a resolved descriptor. It is immutable once built.
type Target struct {
	kind         Kind
	path         string
	destinations []Destination
}

// Local builds a local target for an already canonical path.
func Local(path string) Target {
	return Target{kind: KindLocal, path: path}
}

// Remote builds a remote target from destinations, preserving their order.
func Remote(destinations ...Destination) Target {
	ds := make([]Destination, len(destinations))
	copy(ds, destinations)
	return Target{kind: KindRemote, destinations: ds}
}

// Kind reports whether the target is local or remote.
func (t Target) Kind() Kind { return t.kind }

// IsRemote is shorthand for Kind() == KindRemote.
func (t Target) IsRemote() bool { return t.kind == KindRemote }

// Path is the canonical local path. Empty for remote targets.
func (t Target) Path() string { return t.path }

// Destinations returns a copy of the remote destination list.
func (t Target) Destinations() []Destination {
	ds := make([]Destination, len(t.destinations))
	copy(ds, t.destinations)
	return ds
}

// Primary is the destination whose content is authoritative for matching.
func (t Target) Primary() (Destination, bool) {
	if len(t.destinations) == 0 {
		return Destination{}, false
	}
	return t.destinations[0], true
}

// String is the target identity used in log lines and errors.
func (t Target) String() string {
	if t.kind == KindLocal {
		return t.path
	}
	parts := make([]string, len(t.destinations))
	for i, d := range t.destinations {
		parts[i] = d.String()
	}
	return strings.Join(parts, ",")
}

// Expander turns a local path into its absolute canonical form.
type Expander interface {
	ExpandPath(path string) (string, error)
}

// Resolve maps a descriptor to a target.
//
// A string containing a colon is always treated as host:path, so a local path
// that legitimately contains a colon cannot be addressed through a string
// descriptor.
func Resolve(d Descriptor, x Expander) (Target, error) {
	if len(d.Destinations) > 0 {
		ds := make([]Destination, 0, len(d.Destinations))
		for _, s := range d.Destinations {
			dest, err := ParseDestination(s)
			if err != nil {
				return Target{}, err
			}
			ds = append(ds, dest)
		}
		return Remote(ds...), nil
	}

	if d.Path == "" {
		return Target{}, fmt.Errorf("target is required")
	}

	if strings.Contains(d.Path, ":") {
		dest, err := ParseDestination(d.Path)
		if err != nil {
			return Target{}, err
		}
		return Remote(dest), nil
	}

	var (
		path string
		err  error
	)
	if x != nil {
		path, err = x.ExpandPath(d.Path)
	} else {
		path, err = Canonicalize(d.Path)
	}
	if err != nil {
		return Target{}, fmt.Errorf("failed to expand %s: %w", d.Path, err)
	}
	return Local(path), nil
}

// Canonicalize expands a leading ~, makes the path absolute and resolves
// symlinks. For a path that does not exist yet, the deepest existing ancestor
// is resolved and the remaining components are appended unchanged.
func Canonicalize(p string) (string, error) {
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		p = filepath.Join(home, strings.TrimPrefix(p, "~"))
	}

	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	return resolveExisting(abs), nil
}

func resolveExisting(abs string) string {
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}
	parent := filepath.Dir(abs)
	if parent == abs {
		return abs
	}
	return filepath.Join(resolveExisting(parent), filepath.Base(abs))
}
