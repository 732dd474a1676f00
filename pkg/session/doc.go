/*
Package session implements session management and persistence orchestration.

A session is a named, persisted run State. The Manager serializes access to each
session inside the process and, when a DistributedLocker is configured, across
replicas, so that a paused run is resumed by exactly one caller at a time.
*/
package session
