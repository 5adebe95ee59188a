// Package ingest pulls recent channel history into the item store. Each
// pass covers a trailing window, filters bot traffic, skips already-stored
// messages, and records an audit row with its counts.
package ingest
