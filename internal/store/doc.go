// Package store persists work items and implements the claim protocol that
// lets several worker instances drain one queue safely. Items live in a
// Pebble keyspace: the item row itself, an unclaimed index ordered by sentAt
// for oldest-first claiming, append-only retrieval-log rows, and session
// checkpoints for crash-survivable deferred tasks.
package store
