/*
Package domain contains the core domain models of the Loom engine.

It defines the identifiers, merge behaviors, state deltas and execution events
shared by the scheduler, the runner and the persistence adapters. This package is
kept pure and free of I/O or persistence concerns, following Hexagonal Architecture
principles.

# Key Entities

  - NodeID / OutputID / WorkflowID: stable identifiers derived from qualified names.
  - ExecutionID: the opaque identifier of one firing of a node or one workflow run.
  - MergeBehavior: AWAIT_ATTRIBUTES, AWAIT_ANY or AWAIT_ALL.
  - StateDelta: a Set or Append recorded at a dotted path of a State.
  - Event: an immutable lifecycle record, correlated by trace id and parent context.
  - Lifecycle: validates the per-span initiated/streaming/fulfilled/rejected/paused/resumed machine.
*/
package domain
