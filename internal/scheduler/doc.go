// Package scheduler arms deferred tasks on per-task timers. The engine owns
// a Registry instance; there is no process-global state, so independent
// engines in one process cannot see or cancel each other's tasks.
package scheduler
