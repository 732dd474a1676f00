// Package graph defines workflows: nodes, their ports and merge triggers, and the
// Descriptor expressions that nodes use to read values from a run's State.
package graph
