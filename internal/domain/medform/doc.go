// Package medform defines the medical consultation form: its data model,
// the dotted-path setter used by the live form store, the static field
// rules and the cross-field coherence refinements.
package medform
