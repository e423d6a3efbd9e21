// Package store holds the runtime state of WebAssembly instances.
//
// A Store owns every function, table, memory and global created in it.
// Addresses are indices into the store's slices; a funcref value is the
// function's address plus one, so the zero value is null.
//
// # Instantiation
//
// Store.Instantiate binds a validated module into the store:
//
//  1. Every import is resolved through a Resolver and checked against the
//     declared kind and type. All failures are collected into a single
//     *errors.LinkError and nothing is allocated.
//  2. Functions, tables, memories and globals are allocated; global
//     initializers are evaluated.
//  3. Active element and data segments are applied in module order. A
//     segment that does not fit traps; writes made by earlier segments
//     stay in place.
//
// The start function is not run here. Callers hand Instance.Start to an
// executor once instantiation succeeds.
//
// # Concurrency
//
// A store is not safe for concurrent use. Store.Enter serialises callers
// and marks the returned context, so a host function that calls back into
// the same store with that context does not deadlock. Independent stores
// share nothing and can run on separate goroutines.
package store
