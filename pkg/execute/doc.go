// Package execute runs the broadcast half of the two-phase queue lifecycle.
// Each stage claims pending jobs, gates on idempotency and retry budget,
// takes the wallet lock, runs the fee pre-flight, asks the signer to build
// and broadcast the transaction, and records the hash in the same write that
// moves the job to confirming. The wallet lock stays held; the matching
// confirm stage releases it.
package execute
