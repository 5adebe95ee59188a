// Package id generates 128-bit, lexicographically sortable identifiers used
// as keys for append-only rows (retrieval logs). Byte layout is big-endian
// [8 bytes unix-ms][8 bytes per-process sequence], so keys written later
// always sort after keys written earlier within one process.
package id
