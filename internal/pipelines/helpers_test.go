package pipelines_test

import (
	"github.com/specialistvlad/connectogrid/internal/node"
	"github.com/specialistvlad/connectogrid/internal/pipeline"
)

func findNode(d *pipeline.DAG, id string) (*node.Node, bool) {
	for _, n := range d.Nodes {
		if n.ID.String() == id {
			return n, true
		}
	}
	return nil, false
}
