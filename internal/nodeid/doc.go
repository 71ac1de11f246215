// internal/nodeid/doc.go

/*
Package nodeid provides the structured identifier of every node in a
subject's DAG.

An identifier is a dot-separated path naming the enclosing pipelines, the
stage, and finally the node, e.g. `subject.diffusion.tractography.tckgen`.

Stage expansion builds addresses with Child; the executor, stores, and
logs use the canonical String form.
*/
package nodeid
