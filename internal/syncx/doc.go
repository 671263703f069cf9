// Package syncx holds the small concurrency-safe containers shared by the
// transport registry and the broker: a set, a key to members index, and a
// bounded unique object pool.
package syncx
