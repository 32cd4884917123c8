package category

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockCategoryRepo is an in-memory Repository good enough to exercise the
// hierarchy maintenance logic.
type mockCategoryRepo struct {
	byID map[string]*Category
}

func newMockCategoryRepo() *mockCategoryRepo {
	return &mockCategoryRepo{byID: make(map[string]*Category)}
}

func (m *mockCategoryRepo) Create(_ context.Context, c *Category) error {
	for _, existing := range m.byID {
		if existing.Slug == c.Slug {
			return ErrSlugExists
		}
	}
	cp := *c
	m.byID[c.ID] = &cp
	return nil
}

func (m *mockCategoryRepo) GetByID(_ context.Context, id string) (*Category, error) {
	c, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *mockCategoryRepo) GetBySlug(_ context.Context, slug string) (*Category, error) {
	for _, c := range m.byID {
		if c.Slug == slug {
			cp := *c
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockCategoryRepo) List(_ context.Context) ([]Category, error) {
	out := make([]Category, 0, len(m.byID))
	for _, c := range m.byID {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Level != out[j].Level {
			return out[i].Level < out[j].Level
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (m *mockCategoryRepo) Descendants(_ context.Context, id string) ([]Category, error) {
	var out []Category
	for _, c := range m.byID {
		for _, ref := range c.Ancestors {
			if ref.ID == id {
				out = append(out, *c)
				break
			}
		}
	}
	return out, nil
}

func (m *mockCategoryRepo) HasChildren(_ context.Context, id string) (bool, error) {
	for _, c := range m.byID {
		if c.ParentID == id {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockCategoryRepo) UpdateSubtree(_ context.Context, node *Category, descendants []Category) error {
	cp := *node
	m.byID[node.ID] = &cp
	for i := range descendants {
		d := descendants[i]
		m.byID[d.ID] = &d
	}
	return nil
}

func (m *mockCategoryRepo) Delete(_ context.Context, id string) error {
	if _, ok := m.byID[id]; !ok {
		return ErrNotFound
	}
	delete(m.byID, id)
	return nil
}

func newTestService() (*Service, *mockCategoryRepo) {
	repo := newMockCategoryRepo()
	return NewService(repo, nil), repo
}

func mustCreate(t *testing.T, svc *Service, name, parentID string) *Category {
	t.Helper()
	c, err := svc.Create(context.Background(), name, parentID)
	require.NoError(t, err)
	return c
}

func TestSlugify(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Phones", "phones"},
		{"Smart Phones", "smart-phones"},
		{"Tablets & eReaders", "tablets-ereaders"},
		{"  spaced   out  ", "spaced-out"},
		{"USB-C Cables (2m)", "usb-c-cables-2m"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Slugify(tt.in), "Slugify(%q)", tt.in)
	}
}

func TestCreate_AncestorInvariant(t *testing.T) {
	svc, _ := newTestService()

	root := mustCreate(t, svc, "Electronics", "")
	assert.Empty(t, root.Ancestors)
	assert.Equal(t, 0, root.Level)

	child := mustCreate(t, svc, "Phones", root.ID)
	require.Len(t, child.Ancestors, 1)
	assert.Equal(t, root.ID, child.Ancestors[0].ID)
	assert.Equal(t, "electronics", child.Ancestors[0].Slug)
	assert.Equal(t, 1, child.Level)

	grand := mustCreate(t, svc, "Flagships", child.ID)
	require.Len(t, grand.Ancestors, 2)
	assert.Equal(t, root.ID, grand.Ancestors[0].ID)
	assert.Equal(t, child.ID, grand.Ancestors[1].ID)
	assert.Equal(t, 2, grand.Level)
}

func TestCreate_DuplicateSlug(t *testing.T) {
	svc, _ := newTestService()
	mustCreate(t, svc, "Phones", "")

	_, err := svc.Create(context.Background(), "Phones", "")
	require.ErrorIs(t, err, ErrSlugExists)
}

func TestUpdate_SelfParent(t *testing.T) {
	svc, _ := newTestService()
	c := mustCreate(t, svc, "Phones", "")

	id := c.ID
	_, err := svc.Update(context.Background(), c.ID, UpdateRequest{ParentID: &id})
	require.ErrorIs(t, err, ErrSelfParent)
}

func TestUpdate_CycleGuard(t *testing.T) {
	svc, _ := newTestService()
	a := mustCreate(t, svc, "A", "")
	b := mustCreate(t, svc, "B", a.ID)
	c := mustCreate(t, svc, "C", b.ID)

	// Moving A under its grandchild C must be rejected.
	_, err := svc.Update(context.Background(), a.ID, UpdateRequest{ParentID: &c.ID})
	require.ErrorIs(t, err, ErrCyclicParent)
}

func TestUpdate_ReparentRewritesDescendants(t *testing.T) {
	svc, repo := newTestService()
	a := mustCreate(t, svc, "A", "")
	b := mustCreate(t, svc, "B", a.ID)
	c := mustCreate(t, svc, "C", b.ID)
	d := mustCreate(t, svc, "D", "")

	// Move B (with grandchild C) under the root D.
	moved, err := svc.Update(context.Background(), b.ID, UpdateRequest{ParentID: &d.ID})
	require.NoError(t, err)

	require.Len(t, moved.Ancestors, 1)
	assert.Equal(t, d.ID, moved.Ancestors[0].ID)
	assert.Equal(t, 1, moved.Level)

	storedC, err := repo.GetByID(context.Background(), c.ID)
	require.NoError(t, err)
	require.Len(t, storedC.Ancestors, 2)
	assert.Equal(t, d.ID, storedC.Ancestors[0].ID)
	assert.Equal(t, b.ID, storedC.Ancestors[1].ID)
	assert.Equal(t, 2, storedC.Level)
}

func TestUpdate_ReparentDeeper(t *testing.T) {
	svc, repo := newTestService()
	a := mustCreate(t, svc, "A", "")
	b := mustCreate(t, svc, "B", a.ID)
	c := mustCreate(t, svc, "C", b.ID)
	x := mustCreate(t, svc, "X", "")
	y := mustCreate(t, svc, "Y", x.ID)

	// Move B from depth 1 to depth 2 (under Y): C's path grows by one.
	_, err := svc.Update(context.Background(), b.ID, UpdateRequest{ParentID: &y.ID})
	require.NoError(t, err)

	storedC, err := repo.GetByID(context.Background(), c.ID)
	require.NoError(t, err)
	require.Equal(t, 3, storedC.Level)
	assert.Equal(t, []string{x.ID, y.ID, b.ID}, ancestorIDs(storedC.Ancestors))
}

func TestUpdate_RenamePropagatesToDescendantPaths(t *testing.T) {
	svc, repo := newTestService()
	a := mustCreate(t, svc, "Accessories", "")
	b := mustCreate(t, svc, "Cables", a.ID)

	name := "Audio"
	_, err := svc.Update(context.Background(), a.ID, UpdateRequest{Name: &name})
	require.NoError(t, err)

	storedB, err := repo.GetByID(context.Background(), b.ID)
	require.NoError(t, err)
	require.Len(t, storedB.Ancestors, 1)
	assert.Equal(t, "Audio", storedB.Ancestors[0].Name)
	assert.Equal(t, "audio", storedB.Ancestors[0].Slug)
}

func TestUpdate_MoveToRoot(t *testing.T) {
	svc, repo := newTestService()
	a := mustCreate(t, svc, "A", "")
	b := mustCreate(t, svc, "B", a.ID)
	c := mustCreate(t, svc, "C", b.ID)

	empty := ""
	moved, err := svc.Update(context.Background(), b.ID, UpdateRequest{ParentID: &empty})
	require.NoError(t, err)
	assert.Empty(t, moved.Ancestors)
	assert.Equal(t, 0, moved.Level)

	storedC, err := repo.GetByID(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{b.ID}, ancestorIDs(storedC.Ancestors))
	assert.Equal(t, 1, storedC.Level)
}

func TestTree(t *testing.T) {
	svc, _ := newTestService()
	a := mustCreate(t, svc, "A", "")
	b := mustCreate(t, svc, "B", a.ID)
	mustCreate(t, svc, "C", b.ID)
	mustCreate(t, svc, "Z", "")

	roots, err := svc.Tree(context.Background())
	require.NoError(t, err)
	require.Len(t, roots, 2)

	assert.Equal(t, "A", roots[0].Name)
	assert.Equal(t, "Z", roots[1].Name)
	require.Len(t, roots[0].Children, 1)
	assert.Equal(t, "B", roots[0].Children[0].Name)
	require.Len(t, roots[0].Children[0].Children, 1)
	assert.Equal(t, "C", roots[0].Children[0].Children[0].Name)
}

func TestDelete_WithChildren(t *testing.T) {
	svc, _ := newTestService()
	a := mustCreate(t, svc, "A", "")
	b := mustCreate(t, svc, "B", a.ID)

	err := svc.Delete(context.Background(), a.ID)
	require.ErrorIs(t, err, ErrHasChildren)

	// Deleting the leaf first unblocks the parent.
	require.NoError(t, svc.Delete(context.Background(), b.ID))
	require.NoError(t, svc.Delete(context.Background(), a.ID))
}

func ancestorIDs(refs []AncestorRef) []string {
	ids := make([]string, len(refs))
	for i, r := range refs {
		ids[i] = r.ID
	}
	return ids
}
