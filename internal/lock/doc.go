// Package lock provides the bounded-wait advisory lock guarding the
// claim-next critical section across independent worker processes.
package lock
