// Package worker is the shared chassis every stage runs inside: a stable
// worker identity, control-plane registration, a heartbeat that outlives
// pauses, maintenance-window and incident-mode gating, and an append-only
// execution log of every cycle.
package worker
