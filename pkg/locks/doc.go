// Package locks manages the pessimistic per-(wallet, asset) locks that keep
// consolidation, gas top-up, and withdrawal from touching the same funds
// concurrently. Locks live in wallet_balances columns and expire by TTL so a
// crashed worker never wedges a wallet.
package locks
