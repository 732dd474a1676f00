// Package cli holds the pieces shared by the loom commands: building an Engine
// from configuration, parsing --input pairs and printing results.
package cli
