// Package pipeline composes stages into an ordered, connected whole and
// builds the per-subject DAG from it.
//
// A Pipeline is itself a stage.Stage: it exposes its own ports and an
// aggregate configuration, so domain pipelines (anatomical, diffusion,
// functional) nest inside the subject-level pipeline. Only declared ports
// cross a pipeline boundary; the addresses of nested nodes never appear in
// the outer port namespace.
//
// Build walks stages in declaration order. For each stage it either splices
// in the artifacts of a previous run (when the stage's reuse option is on
// and the ledger reports it complete) or calls Expand, then merges the
// result and resolves the stage's outputs for downstream connections.
package pipeline
