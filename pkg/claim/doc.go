// Package claim implements the optimistic job claim protocol shared by the
// three execution queues. Candidates are fetched in bulk, ordered in process,
// and claimed one at a time with a conditional status update, so concurrent
// workers on the same queue never double-process a job.
package claim
