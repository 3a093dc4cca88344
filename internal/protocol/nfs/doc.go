// Package nfs routes NFS version 3 calls (RFC 1813) from the rpc layer to
// the procedures in the v3/handlers package.
//
// The Dispatcher applies the per-call policy shared by every procedure:
// credential flavor, export access of the client address, and replay of
// non-idempotent calls from the call cache. WRITE and COMMIT complete
// asynchronously and reply through an rpc.Deferred.
package nfs
