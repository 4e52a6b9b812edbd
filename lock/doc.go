// Package lock provides a multi-key distributed lock manager backed by a
// shared key-value store. An operation acquires leases on a sorted,
// deduplicated set of resource keys so that overlapping operations always
// contend in the same global order and circular wait cannot form. Leases
// carry a TTL and self-expire, which is the sole recovery path for crashed
// holders. Re-acquiring with the same operation token is idempotent.
package lock
