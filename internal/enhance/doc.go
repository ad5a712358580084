// Package enhance folds a chain of units over a base configuration.
//
// A run always executes [defaults] + user units + [tun] in order, feeding each
// unit's output into the next. A unit that fails is logged and skipped: the
// next unit receives the document the failing unit was given. The only fatal
// conditions are an unloadable base document and a context cancelled between
// units, in which case no result is produced at all.
package enhance
