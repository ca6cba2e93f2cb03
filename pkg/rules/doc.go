// Package rules is the planner: it reads the needs_gas and
// needs_consolidation flags the balance pipeline sets on wallet balances and
// projects them into gas top-up and consolidation jobs. Enqueue is idempotent
// per wallet balance, so re-planning an already queued wallet is a no-op.
package rules
