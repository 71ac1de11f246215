package pipelines

import (
	"github.com/specialistvlad/connectogrid/internal/pipeline"
	"github.com/specialistvlad/connectogrid/internal/stage"
)

// wiring records the first error of a sequence of pipeline calls so that
// the constructors below read as a plain list of connections.
type wiring struct {
	p   *pipeline.Pipeline
	err error
}

func (w *wiring) add(stages ...stage.Stage) {
	for _, s := range stages {
		if w.err == nil {
			w.err = w.p.AddStage(s)
		}
	}
}

func (w *wiring) connect(src, srcPort, dst, dstPort string) {
	if w.err == nil {
		w.err = w.p.Connect(src, srcPort, dst, dstPort)
	}
}

// same connects ports that carry the same name on both ends.
func (w *wiring) same(src, dst string, ports ...string) {
	for _, p := range ports {
		w.connect(src, p, dst, p)
	}
}

func (w *wiring) input(in, dst, dstPort string) {
	if w.err == nil {
		w.err = w.p.ConnectInput(in, dst, dstPort)
	}
}

func (w *wiring) output(src, srcPort, out string) {
	if w.err == nil {
		w.err = w.p.ConnectOutput(src, srcPort, out)
	}
}

func (w *wiring) done() (*pipeline.Pipeline, error) {
	if w.err != nil {
		return nil, w.err
	}
	return w.p, nil
}
