// Package rpc implements the gRPC and REST front ends of the ledger.
// Callers are identified by the identity the fronting authentication layer
// attaches to each request; the front end trusts it as is.
package rpc
