package category

import (
	"context"
	"strings"
	"time"
	"unicode"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
)

// Service maintains the category forest and its denormalized ancestor paths.
type Service struct {
	repo  Repository
	cache TreeCache
}

// NewService creates a category Service. cache may be nil.
func NewService(repo Repository, cache TreeCache) *Service {
	return &Service{repo: repo, cache: cache}
}

// Slugify derives a URL-safe slug from a category name: lowercase, spaces
// and runs of non-alphanumerics collapsed to single hyphens.
func Slugify(name string) string {
	var b strings.Builder
	lastHyphen := true // suppress a leading hyphen
	for _, r := range strings.ToLower(name) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// Create adds a category under the optional parent, deriving its slug from
// the name and its ancestor path from the parent's.
func (s *Service) Create(ctx context.Context, name, parentID string) (*Category, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errors.New("category name required")
	}

	now := time.Now()
	c := &Category{
		ID:        uuid.New().String(),
		Name:      name,
		Slug:      Slugify(name),
		ParentID:  parentID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if parentID != "" {
		parent, err := s.repo.GetByID(ctx, parentID)
		if err != nil {
			return nil, errors.Wrap(err, "load parent")
		}
		c.Ancestors = append(append([]AncestorRef{}, parent.Ancestors...), parent.Ref())
	}
	c.Level = len(c.Ancestors)

	if err := s.repo.Create(ctx, c); err != nil {
		return nil, err
	}
	s.invalidate(ctx)
	return c, nil
}

// UpdateRequest carries a category mutation; nil fields are left unchanged.
type UpdateRequest struct {
	Name     *string
	ParentID *string // empty string moves the node to the root
}

// Update renames and/or re-parents a category. A re-parent is rejected when
// the new parent is the node itself or one of its descendants. On success
// the node's ancestor path is recomputed and every descendant's path is
// rewritten by splicing the old prefix for the new one, all persisted as a
// single unit of work.
func (s *Service) Update(ctx context.Context, id string, req UpdateRequest) (*Category, error) {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil && *req.Name != c.Name {
		c.Name = *req.Name
		c.Slug = Slugify(*req.Name)
	}

	if req.ParentID != nil && *req.ParentID != c.ParentID {
		newAncestors, err := s.resolveAncestors(ctx, c, *req.ParentID)
		if err != nil {
			return nil, err
		}
		c.ParentID = *req.ParentID
		c.Ancestors = newAncestors
		c.Level = len(newAncestors)
	}
	c.UpdatedAt = time.Now()

	descendants, err := s.repo.Descendants(ctx, c.ID)
	if err != nil {
		return nil, errors.Wrap(err, "load descendants")
	}
	rewritten := RewriteDescendants(c, descendants)

	if err := s.repo.UpdateSubtree(ctx, c, rewritten); err != nil {
		return nil, errors.Wrap(err, "persist subtree")
	}
	s.invalidate(ctx)
	return c, nil
}

// resolveAncestors computes the node's new ancestor path under newParentID,
// guarding against self-parenting and cycles.
func (s *Service) resolveAncestors(ctx context.Context, c *Category, newParentID string) ([]AncestorRef, error) {
	if newParentID == "" {
		return nil, nil
	}
	if newParentID == c.ID {
		return nil, ErrSelfParent
	}

	parent, err := s.repo.GetByID(ctx, newParentID)
	if err != nil {
		return nil, errors.Wrap(err, "load parent")
	}
	for _, ref := range parent.Ancestors {
		if ref.ID == c.ID {
			return nil, ErrCyclicParent
		}
	}

	return append(append([]AncestorRef{}, parent.Ancestors...), parent.Ref()), nil
}

// RewriteDescendants recomputes each descendant's ancestor path after node's
// path (or name/slug) changed. The descendant's entries up to and including
// node are replaced by node's new path plus node's own ref; the tail below
// node is kept. Levels follow the new path lengths.
func RewriteDescendants(node *Category, descendants []Category) []Category {
	prefix := append(append([]AncestorRef{}, node.Ancestors...), node.Ref())

	out := make([]Category, 0, len(descendants))
	for _, d := range descendants {
		idx := -1
		for i, ref := range d.Ancestors {
			if ref.ID == node.ID {
				idx = i
				break
			}
		}
		if idx < 0 {
			// Not actually below node; leave untouched.
			continue
		}
		tail := d.Ancestors[idx+1:]
		d.Ancestors = append(append([]AncestorRef{}, prefix...), tail...)
		d.Level = len(d.Ancestors)
		if len(tail) == 0 {
			d.ParentID = node.ID
		}
		d.UpdatedAt = node.UpdatedAt
		out = append(out, d)
	}
	return out
}

// Get returns the category with the given id.
func (s *Service) Get(ctx context.Context, id string) (*Category, error) {
	return s.repo.GetByID(ctx, id)
}

// GetBySlug returns the category with the given slug.
func (s *Service) GetBySlug(ctx context.Context, slug string) (*Category, error) {
	return s.repo.GetBySlug(ctx, slug)
}

// Tree returns all root categories with nested children, assembled from the
// flat (level, name)-sorted listing via an in-memory id lookup. Results are
// served read-through from the cache when one is configured.
func (s *Service) Tree(ctx context.Context) ([]*Node, error) {
	if s.cache != nil {
		if roots, ok := s.cache.Get(ctx); ok {
			return roots, nil
		}
	}

	all, err := s.repo.List(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list categories")
	}

	nodes := make(map[string]*Node, len(all))
	for i := range all {
		nodes[all[i].ID] = &Node{Category: all[i]}
	}

	var roots []*Node
	for i := range all {
		n := nodes[all[i].ID]
		if n.ParentID == "" {
			roots = append(roots, n)
			continue
		}
		if parent, ok := nodes[n.ParentID]; ok {
			parent.Children = append(parent.Children, n)
		} else {
			// Orphaned parent reference; surface the node at the root
			// rather than dropping it.
			roots = append(roots, n)
		}
	}

	if s.cache != nil {
		s.cache.Set(ctx, roots)
	}
	return roots, nil
}

// Delete removes a leaf category. Categories with children are rejected.
func (s *Service) Delete(ctx context.Context, id string) error {
	hasChildren, err := s.repo.HasChildren(ctx, id)
	if err != nil {
		return errors.Wrap(err, "check children")
	}
	if hasChildren {
		return ErrHasChildren
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

func (s *Service) invalidate(ctx context.Context) {
	if s.cache != nil {
		s.cache.Invalidate(ctx)
	}
}
