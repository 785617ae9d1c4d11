// Package memory provides in-memory implementations of the state stores.
// They suit tests and single-process runs where progress need not survive
// a restart.
package memory
