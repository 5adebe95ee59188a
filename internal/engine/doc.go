// Package engine drives the research workflow: claim one item, launch the
// external research job, schedule deferred result fetches with bounded
// retries, and deliver the finished report back to the requesting thread.
// Per-item failures are contained to that item's pass; the engine itself
// only fails on store connectivity problems at startup.
package engine
