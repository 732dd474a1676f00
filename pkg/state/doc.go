/*
Package state holds the per-run State of a workflow and its ExecutionCache.

Every mutation of a State (user values, node outputs, inputs, run bookkeeping
and scheduler bookkeeping) is recorded as a domain.StateDelta and delivered to a
single SnapshotFunc. Quiet scopes silence the callback; Atomic scopes deliver the
deltas they collected as one batch.

The ExecutionCache decides which execution of a node an invocation belongs to
under the AWAIT_ATTRIBUTES, AWAIT_ANY and AWAIT_ALL merge behaviors, telling
fork merges (fire once) apart from loops (fire each iteration).
*/
package state
