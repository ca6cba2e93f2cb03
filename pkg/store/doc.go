// Package store implements Postgres persistence for the whole system:
// chain and wallet config, deposits, withdrawal intents, the three job
// queues, wallet locks, the ledger credit call, and the worker control
// plane. The database doubles as queue and coordination medium, so every
// state transition is a conditional single-row update.
package store
