// Package chainrpc abstracts the node reads the confirmation stages need:
// the chain head and transaction receipts. EVM chains speak JSON-RPC through
// go-ethereum's client; account-model chains speak the TRON-style REST API.
package chainrpc
