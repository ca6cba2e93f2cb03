// Package types defines the shared domain model: chains, wallets, balances,
// deposits, withdrawal intents, queue jobs, and the worker control plane rows.
package types
