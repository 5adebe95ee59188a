// Package pebblestore wraps a Pebble database with the durability policy and
// the small helper surface the item store needs: point reads, batched
// read-modify-write commits, and bounded prefix iteration.
package pebblestore
