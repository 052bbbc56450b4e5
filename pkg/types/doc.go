// Package types defines the entities, status tokens, identifier model,
// validation report, storage interfaces, and standard errors for quire.
//
// The structures here carry no I/O. Specs are mutated by the delta engine,
// graphs are checked by the graph validator, and tag occurrences are matched
// by the traceability verifier; all of them exchange the types declared in
// this package.
package types
