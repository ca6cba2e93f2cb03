// Package errs centralizes error classification. Every cross-stage error path
// goes through Classify so retry policy sees one shape, not ad-hoc errors.
package errs
