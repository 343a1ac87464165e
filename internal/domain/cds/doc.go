// Package cds implements the clinical decision support checks run over a
// medical form: vital signs against age-bracketed reference ranges,
// diagnosis coherence against a CIE-10 knowledge base, and documentation
// protocol compliance scoring. The checkers are pure functions of a form
// snapshot and a set of rule Tables.
package cds
