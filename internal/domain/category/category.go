package category

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

var (
	// ErrNotFound is returned when a requested category does not exist.
	ErrNotFound = errors.New("category not found")
	// ErrSlugExists is returned when a category's slug is already taken.
	ErrSlugExists = errors.New("category slug already exists")
	// ErrSelfParent rejects re-parenting a category under itself.
	ErrSelfParent = errors.New("category cannot be its own parent")
	// ErrCyclicParent rejects re-parenting a category under its own descendant.
	ErrCyclicParent = errors.New("category cannot be moved under its own descendant")
	// ErrHasChildren rejects deleting a category that still has children.
	ErrHasChildren = errors.New("category has children and cannot be deleted")
)

// AncestorRef is one entry of a category's denormalized ancestor path.
type AncestorRef struct {
	ID   string
	Name string
	Slug string
}

// Category is a node of the catalog tree. Ancestors caches the full lineage
// from root to direct parent; the parent reference is the source of truth
// and the cache is kept consistent by the mutation path, not by readers.
type Category struct {
	ID        string
	Name      string
	Slug      string
	ParentID  string // empty for roots
	Ancestors []AncestorRef
	Level     int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Ref returns the category's ancestor-path entry.
func (c *Category) Ref() AncestorRef {
	return AncestorRef{ID: c.ID, Name: c.Name, Slug: c.Slug}
}

// Node is a category with its resolved children, as served by tree reads.
type Node struct {
	Category
	Children []*Node
}

// Repository defines persistence operations for categories. List returns
// categories sorted by (level, name). UpdateSubtree must apply all writes in
// one transaction where the store supports it.
type Repository interface {
	Create(ctx context.Context, c *Category) error
	GetByID(ctx context.Context, id string) (*Category, error)
	GetBySlug(ctx context.Context, slug string) (*Category, error)
	List(ctx context.Context) ([]Category, error)
	// Descendants returns every category whose ancestor path contains id.
	Descendants(ctx context.Context, id string) ([]Category, error)
	HasChildren(ctx context.Context, id string) (bool, error)
	// UpdateSubtree persists the node together with its rewritten
	// descendants as a single unit of work.
	UpdateSubtree(ctx context.Context, node *Category, descendants []Category) error
	Delete(ctx context.Context, id string) error
}

// TreeCache caches the assembled category tree. Implementations are
// best-effort; a miss or failure falls back to the repository.
type TreeCache interface {
	Get(ctx context.Context) ([]*Node, bool)
	Set(ctx context.Context, roots []*Node)
	Invalidate(ctx context.Context)
}
