// Package confirm runs the settlement half of the two-phase lifecycle. The
// queue stages watch broadcast transactions until they are buried under the
// chain's confirmation threshold, then finalize the job, apply its side
// effects, and release the wallet lock the execute stage left held. The
// deposit stage confirms inbound transfers and credits the user ledger
// exactly once.
package confirm
