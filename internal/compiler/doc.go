/*
Package compiler builds workflows from YAML definitions.

	name: retry-charge
	inputs:
	  amount: float
	nodes:
	  - name: Charge
	    kind: passthrough
	    await: any
	    attributes:
	      amount: {input: amount}
	    outputs: [amount]
	    ports:
	      - name: retry
	        when: {op: "<", left: {count: Charge}, right: 3}
	        to: [Charge]
	    next: [Report]
	  - name: Report
	    kind: noop
	outputs:
	  charged: {output: Charge.amount}

Node kinds come from a registry.Registry; a node with a "workflow" key runs
another definition fetched through a ports.WorkflowLoader.
*/
package compiler
