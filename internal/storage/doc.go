// Package storage persists the reminder collection.
//
// Both drivers implement the same contract: Save atomically replaces the
// whole persisted collection with the current one, and Load reproduces it
// losslessly (ids, due instants, task text, priorities, order). Full-document
// rewrite on every mutation is a deliberate simplicity/durability trade-off:
// the collection is small and the rewrite keeps disk state equal to memory
// state after every committed mutation.
package storage
