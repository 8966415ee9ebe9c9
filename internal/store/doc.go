// Package store persists node configuration, leader info, and the joiner list.
//
// Ownership boundary:
// - Store contract shared by all backends
// - memory, file, and etcd backends
// - circuit breaker wrapper that reports StorageUnavailable
package store
