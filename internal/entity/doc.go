// Package entity defines the identity model shared by everything persisted
// through the data store.
//
// An entity carries at most one ID for its lifetime. IDs are either UUIDs
// (generated by this package, time-ordered for index locality) or detached
// string values supplied by callers. This package imports nothing internal.
package entity
