// Package chain defines the transformation units folded over a configuration
// document and the registry that orders them.
//
// A unit is one of three kinds:
//
//   - merge: a declarative patch applied with document.MergeMapping. The patch is
//     parsed when the unit is created, so Apply cannot fail.
//   - script: a Go program evaluated by an embedded interpreter. It receives the
//     document as map[string]interface{} and returns the rewritten one. Execution
//     is time-bounded and restricted to an allow-list of standard packages.
//   - builtin: the structural defaults unit that always runs first and the tun
//     toggle that always runs last.
//
// Units record diagnostics on a Recorder; the engine turns each recorder into a Log.
package chain
