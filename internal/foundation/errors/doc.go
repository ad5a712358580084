// Package errors provides the classified error primitives used across clashchain.
//
// Errors carry a category (document, chain, script, config, ...), a severity and a
// retry hint, plus a small context map that names the offending profile, unit or path.
// The enhancement engine uses the category to tell a fatal run-level failure (the base
// document could not be parsed) apart from load-time chain problems, and the CLI adapter
// turns categories into exit codes.
//
// Example usage:
//
//	err := errors.DocumentError("base config is not a mapping").
//		WithContext("path", basePath).
//		WithCause(parseErr).
//		Build()
package errors
