package dimension

import (
	"context"
	"fmt"

	"github.com/etlmr-go/etlmr/internal/row"
)

// Reference declares that parent has a foreign key (named the same as
// child's key attribute) into child, which must be ensured first.
type Reference struct {
	Parent   Dimension
	Children []Dimension
}

// SnowflakedDimension composes a root dimension with the chain of
// dimensions it references, ensuring/looking up the whole tree bottom-up:
// every child is ensured first and its surrogate key written into the
// row under its own key attribute name, so the parent's own ensure sees
// a fully populated foreign key.
type SnowflakedDimension struct {
	root     Dimension
	children map[Dimension][]Dimension
}

// NewSnowflakedDimension builds a SnowflakedDimension from root down
// through refs. refs need not include every dimension in topological
// order; NewSnowflakedDimension resolves the recursion at Ensure/Lookup
// time.
func NewSnowflakedDimension(root Dimension, refs []Reference) *SnowflakedDimension {
	children := make(map[Dimension][]Dimension, len(refs))
	for _, ref := range refs {
		children[ref.Parent] = ref.Children
	}
	return &SnowflakedDimension{root: root, children: children}
}

// Name returns the root dimension's name.
func (s *SnowflakedDimension) Name() string { return s.root.Name() }

// Key returns the root dimension's key attribute name.
func (s *SnowflakedDimension) Key() string { return s.root.Key() }

// defaultIDer is implemented by dimensions that expose the default key
// value Lookup falls back to when nothing matches.
type defaultIDer interface {
	DefaultID() row.Value
}

func (s *SnowflakedDimension) defaultID() row.Value {
	if d, ok := s.root.(defaultIDer); ok {
		return d.DefaultID()
	}
	return row.Null
}

// Lookup resolves every referenced dimension bottom-up to populate r's
// foreign keys, then looks up the root without inserting anything. As
// soon as any intermediate lookup misses, Lookup stops descending and
// returns the root's default id immediately rather than looking up the
// root against a row carrying a null foreign key.
func (s *SnowflakedDimension) Lookup(ctx context.Context, r row.Row, mapping row.Mapping) (row.Value, error) {
	r = r.Clone()
	missed, err := s.resolveChildren(ctx, s.root, r, mapping, false)
	if err != nil {
		return row.Null, err
	}
	if missed {
		return s.defaultID(), nil
	}
	return s.root.Lookup(ctx, r, mapping)
}

// Ensure resolves every referenced dimension bottom-up, ensuring each one
// (inserting if absent) and writing its surrogate key into r, then
// ensures the root.
func (s *SnowflakedDimension) Ensure(ctx context.Context, r row.Row, mapping row.Mapping) (row.Value, error) {
	r = r.Clone()
	if _, err := s.resolveChildren(ctx, s.root, r, mapping, true); err != nil {
		return row.Null, err
	}
	return s.root.Ensure(ctx, r, mapping)
}

// resolveChildren walks dim's children bottom-up, writing each one's
// surrogate key into r. In lookup mode (ensure false) it reports missed
// as soon as any child's own Lookup falls back to that child's default
// id, aborting the rest of the walk: a missing intermediate level makes
// every ancestor's foreign key unreliable, so there is no point
// resolving siblings or looking up the root.
func (s *SnowflakedDimension) resolveChildren(ctx context.Context, dim Dimension, r row.Row, mapping row.Mapping, ensure bool) (missed bool, err error) {
	for _, child := range s.children[dim] {
		childMissed, err := s.resolveChildren(ctx, child, r, mapping, ensure)
		if err != nil {
			return false, err
		}
		if childMissed {
			return true, nil
		}
		var id row.Value
		if ensure {
			id, err = child.Ensure(ctx, r, mapping)
		} else {
			id, err = child.Lookup(ctx, r, mapping)
		}
		if err != nil {
			return false, fmt.Errorf("snowflaked dimension %s: resolving child %s: %w", s.Name(), child.Name(), err)
		}
		if !ensure {
			if d, ok := child.(defaultIDer); ok && id.Equal(d.DefaultID()) {
				return true, nil
			}
		}
		r[mapping.Get(child.Key())] = id
	}
	return false, nil
}
