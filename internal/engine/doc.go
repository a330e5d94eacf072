// Package engine defines the speech synthesis engine boundary.
// It owns the process-wide lazily loaded engine (Provider), the invocation of
// that engine with fixed tuning and normalized text (Invoker), and the catalog
// of known models and the languages they accept.
package engine
