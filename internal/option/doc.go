// Package option implements the per-stage configuration object: a typed
// bag of options whose values are cty values, each constrained to a
// declared domain (enum set, numeric range, existing path), plus derived
// options that are recomputed synchronously inside Set.
//
// Set is atomic. The new value and every derived value it triggers are
// computed on a copy of the current values; the copy replaces the live
// values only if every step succeeds. A failed Set leaves the object
// exactly as it was.
//
// Objects are mutable until Freeze is called. Pipeline.Build freezes every
// stage configuration before expansion starts.
package option
