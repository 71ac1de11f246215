package scheduler

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/specialistvlad/connectogrid/internal/graph"
	"github.com/specialistvlad/connectogrid/internal/inmemorystore"
	"github.com/specialistvlad/connectogrid/internal/inmemorytopology"
	"github.com/specialistvlad/connectogrid/internal/node"
	"github.com/specialistvlad/connectogrid/internal/nodeid"
	"github.com/specialistvlad/connectogrid/internal/stage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newGraph builds a graph from "from->to" pairs over the named nodes.
func newGraph(t *testing.T, ids []string, edges ...[2]string) graph.Graph {
	t.Helper()
	ctx := context.Background()
	byID := make(map[string]*node.Node)
	var nodes []*node.Node
	for _, id := range ids {
		n := node.New(nodeid.New(strings.Split(id, ".")...), "tool")
		byID[id] = n
		nodes = append(nodes, n)
	}
	var es []stage.Edge
	for _, e := range edges {
		es = append(es, stage.Edge{From: byID[e[0]].ID, To: byID[e[1]].ID})
	}
	ts := inmemorytopology.New()
	require.NoError(t, graph.Populate(ctx, ts, nodes, es))
	return graph.New(ts, inmemorystore.New())
}

// drain plays the executor: it runs every ready node sequentially, failing
// the ones listed in fail, and returns the order nodes were emitted in.
func drain(t *testing.T, g graph.Graph, s Scheduler, fail ...string) []string {
	t.Helper()
	ctx := context.Background()
	var order []string
	for n := range s.ReadyNodes() {
		id := n.ID.String()
		order = append(order, id)
		require.NoError(t, g.MarkRunning(ctx, n.ID))
		if contains(fail, id) {
			require.NoError(t, g.MarkFailed(ctx, n.ID, node.Result{ExitCode: 1}, errors.New("boom")))
		} else {
			require.NoError(t, g.MarkCompleted(ctx, n.ID, node.Result{}))
		}
		require.NoError(t, s.Settle(ctx, n.ID))
	}
	return order
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func status(t *testing.T, g graph.Graph, id string) node.Status {
	t.Helper()
	st, ok := g.NodeStatus(context.Background(), *nodeid.New(strings.Split(id, ".")...))
	require.True(t, ok)
	return st
}

func TestScheduler_Chain(t *testing.T) {
	g := newGraph(t,
		[]string{"seg.convert", "seg.recon_all", "parc.parcellate"},
		[2]string{"seg.convert", "seg.recon_all"},
		[2]string{"seg.recon_all", "parc.parcellate"},
	)
	s, err := New(context.Background(), g)
	require.NoError(t, err)

	assert.Equal(t, []string{"seg.convert", "seg.recon_all", "parc.parcellate"}, drain(t, g, s))
}

func TestScheduler_DiamondWaitsForAllDependencies(t *testing.T) {
	g := newGraph(t,
		[]string{"dwi.denoise", "dwi.mask", "dwi.bias", "dwi.eddy"},
		[2]string{"dwi.denoise", "dwi.mask"},
		[2]string{"dwi.denoise", "dwi.bias"},
		[2]string{"dwi.mask", "dwi.eddy"},
		[2]string{"dwi.bias", "dwi.eddy"},
	)
	s, err := New(context.Background(), g)
	require.NoError(t, err)

	order := drain(t, g, s)
	require.Len(t, order, 4)
	assert.Equal(t, "dwi.denoise", order[0])
	assert.Equal(t, "dwi.eddy", order[3])
	assert.ElementsMatch(t, []string{"dwi.mask", "dwi.bias"}, order[1:3])
}

func TestScheduler_FailureSkipsOnlyDownstream(t *testing.T) {
	g := newGraph(t,
		[]string{"dwi.denoise", "dwi.eddy", "tract.tckgen", "tract.sift", "func.despike", "func.volreg"},
		[2]string{"dwi.denoise", "dwi.eddy"},
		[2]string{"dwi.eddy", "tract.tckgen"},
		[2]string{"tract.tckgen", "tract.sift"},
		[2]string{"func.despike", "func.volreg"},
	)
	s, err := New(context.Background(), g)
	require.NoError(t, err)

	order := drain(t, g, s, "dwi.eddy")
	assert.ElementsMatch(t, []string{"dwi.denoise", "dwi.eddy", "func.despike", "func.volreg"}, order)

	assert.Equal(t, node.StatusFailed, status(t, g, "dwi.eddy"))
	assert.Equal(t, node.StatusSkipped, status(t, g, "tract.tckgen"))
	assert.Equal(t, node.StatusSkipped, status(t, g, "tract.sift"))
	assert.Equal(t, node.StatusCompleted, status(t, g, "func.volreg"), "independent branch still completes")

	reason := g.NodeError(context.Background(), *nodeid.New("tract", "sift"))
	assert.ErrorIs(t, reason, ErrUpstreamFailed)
	assert.Contains(t, reason.Error(), "dwi.eddy")
}

func TestScheduler_SharedDescendantSkippedOnce(t *testing.T) {
	g := newGraph(t,
		[]string{"a.left", "a.right", "b.join"},
		[2]string{"a.left", "b.join"},
		[2]string{"a.right", "b.join"},
	)
	s, err := New(context.Background(), g)
	require.NoError(t, err)

	order := drain(t, g, s, "a.left", "a.right")
	assert.ElementsMatch(t, []string{"a.left", "a.right"}, order)
	assert.Equal(t, node.StatusSkipped, status(t, g, "b.join"))
}

func TestScheduler_EmptyGraph(t *testing.T) {
	s, err := New(context.Background(), newGraph(t, nil))
	require.NoError(t, err)

	_, open := <-s.ReadyNodes()
	assert.False(t, open)
}

func TestScheduler_SettleRequiresTerminalStatus(t *testing.T) {
	ctx := context.Background()
	g := newGraph(t, []string{"seg.convert"})
	s, err := New(ctx, g)
	require.NoError(t, err)

	n := <-s.ReadyNodes()
	assert.Error(t, s.Settle(ctx, n.ID), "pending node")
	require.NoError(t, g.MarkRunning(ctx, n.ID))
	assert.Error(t, s.Settle(ctx, n.ID), "running node")
	assert.Error(t, s.Settle(ctx, *nodeid.New("seg", "ghost")))

	require.NoError(t, g.MarkCompleted(ctx, n.ID, node.Result{}))
	require.NoError(t, s.Settle(ctx, n.ID))
	assert.Error(t, s.Settle(ctx, n.ID), "settled twice")

	_, open := <-s.ReadyNodes()
	assert.False(t, open)
}
