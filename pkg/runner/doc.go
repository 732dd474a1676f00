/*
Package runner implements the execution loop of the Loom engine.

The Runner traverses a graph.Workflow against a state.State: it asks each node's
Trigger whether an execution may start, runs ready executions on a bounded worker
pool, records their outputs, follows the selected port and queues every successor.
Every transition is published as a domain.Event to the configured sinks.

A run ends in one of three ways:

  - fulfilled: nothing is left to run; workflow outputs are resolved and emitted.
  - rejected: a node failed, the context was canceled or the step budget ran out.
  - paused: some executions returned a *domain.AwaitingInputError. The State (which
    records them in its RunInfo) can be persisted and handed to Resume later.

# Usage

	r := runner.New(
		runner.WithConcurrency(4),
		runner.WithEventSink(observability.NewLogSink(logger)),
	)

	res, err := r.Run(ctx, wf, state.New(), map[string]any{"query": "hello"})
	if err != nil {
		log.Fatal(err)
	}
	if res.Status == state.RunPaused {
		// persist res.State.Snapshot() and call r.Resume once the input arrives
	}
*/
package runner
