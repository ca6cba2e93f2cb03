// Package log provides structured logging for all custos workers.
//
// It wraps zerolog with a process-global logger plus helpers for the
// child-logger fields used across the codebase (component, worker_id,
// chain, job_id).
package log
