// Package log is the structured logging facade for researchd components.
// It wraps zerolog behind a small field-based Logger interface so callers
// never depend on the backend directly.
package log
