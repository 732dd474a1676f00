// Package redis provides a Redis-backed StateStore and DistributedLocker, for
// running several Loom replicas over the same sessions.
package redis
