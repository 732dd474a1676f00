// Package memory provides in-memory implementations of the ports, for tests and
// single-process embedding.
package memory
