// Package enqueue turns approved withdrawal requests into executable queue
// jobs: it resolves the asset deployment, scales the human amount to raw
// units, assigns a hot wallet round-robin, and marks the request queued.
package enqueue
