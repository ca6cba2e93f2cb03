// Package signer is the HTTP client for the external transaction signing
// service. Workers hand it an unsigned intent and get back a broadcast
// transaction hash; private keys never enter this process. Request bodies
// and responses are treated as sensitive and are never written to logs.
package signer
