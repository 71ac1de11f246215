package inmemorytopology

import (
	"context"
	"strings"
	"testing"

	"github.com/specialistvlad/connectogrid/internal/node"
	"github.com/specialistvlad/connectogrid/internal/nodeid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addNodes(t *testing.T, s interface {
	AddNode(context.Context, *node.Node) error
}, ids ...string) []*node.Node {
	t.Helper()
	var nodes []*node.Node
	for _, id := range ids {
		n := node.New(nodeid.New(strings.Split(id, ".")...), "mrconvert")
		require.NoError(t, s.AddNode(context.Background(), n))
		nodes = append(nodes, n)
	}
	return nodes
}

func TestAddAndGetNode(t *testing.T) {
	s := New()
	ctx := context.Background()
	nodes := addNodes(t, s, "segmentation.recon_all")

	retrieved, ok := s.GetNode(ctx, nodes[0].ID)
	require.True(t, ok)
	assert.Same(t, nodes[0], retrieved)

	_, ok = s.GetNode(ctx, *nodeid.New("segmentation", "missing"))
	assert.False(t, ok)
}

func TestAddNode_Idempotent(t *testing.T) {
	s := New()
	addNodes(t, s, "segmentation.recon_all", "segmentation.recon_all")
	assert.Len(t, s.AllNodes(context.Background()), 1)
}

func TestAllNodes_InsertionOrder(t *testing.T) {
	s := New()
	addNodes(t, s, "b.second", "a.first", "c.third")

	var ids []string
	for _, n := range s.AllNodes(context.Background()) {
		ids = append(ids, n.ID.String())
	}
	assert.Equal(t, []string{"b.second", "a.first", "c.third"}, ids)
}

func TestDependencies(t *testing.T) {
	s := New()
	ctx := context.Background()
	nodes := addNodes(t, s, "segmentation.mgz_convert", "segmentation.recon_all", "parcellation.parcellate")
	convert, recon, parc := nodes[0].ID, nodes[1].ID, nodes[2].ID

	require.NoError(t, s.AddDependency(ctx, convert, recon))
	require.NoError(t, s.AddDependency(ctx, recon, parc))
	require.NoError(t, s.AddDependency(ctx, recon, parc), "repeated edge is a no-op")

	deps, err := s.DependenciesOf(ctx, parc)
	require.NoError(t, err)
	require.Len(t, deps, 1)
	assert.True(t, recon.Equal(&deps[0]))

	dependents, err := s.DependentsOf(ctx, convert)
	require.NoError(t, err)
	require.Len(t, dependents, 1)
	assert.True(t, recon.Equal(&dependents[0]))

	roots, err := s.DependenciesOf(ctx, convert)
	require.NoError(t, err)
	assert.Empty(t, roots)
}

func TestDependencies_UnknownNodes(t *testing.T) {
	s := New()
	ctx := context.Background()
	nodes := addNodes(t, s, "segmentation.recon_all")
	ghost := *nodeid.New("segmentation", "ghost")

	assert.Error(t, s.AddDependency(ctx, ghost, nodes[0].ID))
	assert.Error(t, s.AddDependency(ctx, nodes[0].ID, ghost))

	_, err := s.DependenciesOf(ctx, ghost)
	assert.Error(t, err)
	_, err = s.DependentsOf(ctx, ghost)
	assert.Error(t, err)
}
