// Package validation orchestrates the form checkers over a live form.
//
// A Session owns one form through a formstate.Store. Every field change is
// validated synchronously against the field rules; changes to critical
// top-level keys also schedule a debounced heavy pass (coherence, protocol
// compliance, clinical alerts). ValidateCompletely runs the whole chain at
// once and is the gate for submission. The Service exposes sessions and
// stateless checks over HTTP.
package validation
