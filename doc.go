/*
Package loom is a declarative workflow engine.

A workflow is a directed graph of nodes connected through output ports. Each node
fires according to its merge policy over its upstream dependencies (AWAIT_ANY,
AWAIT_ALL or AWAIT_ATTRIBUTES). Every node output and state mutation is recorded
so that a run can be snapshotted, paused waiting for external input and resumed
later, possibly in another process.

# Concept

The Engine ties together three pieces:

  - a compiler turning YAML definitions (or dsl builders) into graph.Workflow values,
  - a runner.Runner scheduling node executions and emitting lifecycle events,
  - a session.Manager persisting each run as a session in a ports.StateStore.

Stores live in pkg/adapters (memory, file, redis) and can be wrapped with the
encryption and PII middlewares of pkg/persistence/middleware.

# Usage

	eng := loom.New(
		loom.WithLoader(file.NewLoader("./workflows")),
		loom.WithStore(file.New(".loom/sessions")),
		loom.WithEventSink(observability.NewLogSink(logger)),
	)

	res, err := eng.Run(ctx, "signup", "session-123", map[string]any{"email": "a@b.c"})
	if err != nil {
		log.Fatal(err)
	}
	if res.Status == state.RunPaused {
		res, err = eng.Resume(ctx, "session-123", map[string]any{"code": "1234"})
	}
*/
package loom
