/*
Package ports defines the driven ports (interfaces) for the Loom engine.

These interfaces decouple the runner and the session manager from external
implementations, allowing runs to be persisted, locked and observed through
various backends.

# Key Interfaces

  - WorkflowLoader: Responsible for loading raw workflow definitions (e.g., from files or Memory).
  - StateStore: Responsible for persisting and loading the State of a run.
  - DistributedLocker: Provides distributed locking for handling concurrent session access.
  - EventSink: Receives every lifecycle event emitted by a run.
*/
package ports
