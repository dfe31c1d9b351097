package engine

import (
	"context"
	"fmt"

	"github.com/openfroyo/insta/pkg/system"
	"github.com/openfroyo/insta/pkg/target"
)

// document is the current text of a target as loaded at operation start.
type document struct {
	content string
	created bool
}

// documentStore loads documents from local paths or remote destinations.
type documentStore struct {
	sys    system.System
	remote system.RemoteCopier
}

// load returns the current document for t. An absent document is empty and
// marked created, which is legal only when no hunk removes lines.
func (s *documentStore) load(ctx context.Context, t target.Target, hunks []Hunk) (document, error) {
	content, exists, err := s.fetch(ctx, t)
	if err != nil {
		return document{}, err
	}
	if exists {
		return document{content: content}, nil
	}

	for i, h := range hunks {
		if h.Removes() {
			return document{}, NewPreconditionError("hunk removes lines from a document that does not exist").
				WithTarget(t.String()).
				WithHunk(i, h.Raw)
		}
	}
	return document{created: true}, nil
}

func (s *documentStore) fetch(ctx context.Context, t target.Target) (string, bool, error) {
	if t.IsRemote() {
		primary, ok := t.Primary()
		if !ok {
			return "", false, NewTargetError(fmt.Errorf("remote target has no destinations"))
		}
		if s.remote == nil {
			return "", false, NewTargetError(fmt.Errorf("no remote copier configured for %s", primary))
		}
		content, exists, err := s.remote.Fetch(ctx, primary)
		if err != nil {
			return "", false, fmt.Errorf("failed to fetch %s: %w", primary, err)
		}
		return content, exists, nil
	}

	info, err := s.sys.Stat(ctx, t.Path())
	if err != nil {
		return "", false, fmt.Errorf("failed to stat %s: %w", t.Path(), err)
	}
	if !info.Exists {
		return "", false, nil
	}
	if info.IsDir {
		return "", false, NewTargetError(fmt.Errorf("%s is a directory", t.Path())).WithTarget(t.String())
	}

	content, err := s.sys.ReadFile(ctx, t.Path())
	if err != nil {
		return "", false, fmt.Errorf("failed to read %s: %w", t.Path(), err)
	}
	return content, true, nil
}
