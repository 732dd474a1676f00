/*
Package dsl provides a fluent Go API for building Loom workflows.

It is the programmatic counterpart of YAML workflow definitions, handy for tests,
generated workflows and IDE type-checking.

Example usage:

	b := dsl.New("billing", "retry-charge")

	b.Add("Charge").
		Await(domain.AwaitAny).
		Do(charge).
		Branch("retry", graph.Lt(b.Count("Charge"), graph.Const(3)), "Charge").
		Go("Report")

	b.Add("Report").
		Attr("result", b.Out("Charge", "status")).
		Do(report)

	wf, err := b.Build()
*/
package dsl
