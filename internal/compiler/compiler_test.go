package compiler_test

import (
	"context"
	"testing"

	"github.com/aretw0/loom/internal/compiler"
	"github.com/aretw0/loom/pkg/adapters/memory"
	"github.com/aretw0/loom/pkg/domain"
	"github.com/aretw0/loom/pkg/graph"
	"github.com/aretw0/loom/pkg/registry"
	"github.com/aretw0/loom/pkg/runner"
	"github.com/aretw0/loom/pkg/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fanIn = `
name: fan-in
module: tests
inputs:
  seed: int
nodes:
  - name: Start
    kind: noop
    next: [A, B]
  - name: A
    kind: passthrough
    await: any
    attributes:
      x: {input: seed}
    outputs: [x]
    next: [Merge]
  - name: B
    kind: passthrough
    await: any
    attributes:
      x: 2
    outputs: [x]
    next: [Merge]
  - name: Merge
    kind: passthrough
    await: all
    attributes:
      a: {output: A.x}
      b: {output: B.x}
    outputs:
      - a
      - name: sum
        value: {op: "+", left: {output: Merge.a}, right: {output: Merge.b}}
outputs:
  total: {output: Merge.sum}
`

func TestCompile_FanIn(t *testing.T) {
	wf, err := compiler.New(nil).Compile([]byte(fanIn))
	require.NoError(t, err)

	assert.Equal(t, "fan-in", wf.Name)
	assert.Equal(t, "tests", wf.Module)
	merge, ok := wf.Node("Merge")
	require.True(t, ok)
	assert.Equal(t, domain.AwaitAll, merge.MergeBehavior())
	assert.Equal(t, domain.NewNodeID("tests", "Merge"), merge.ID())

	res, err := runner.New().Run(context.Background(), wf, nil, map[string]any{"seed": 5})
	require.NoError(t, err)
	assert.Equal(t, state.RunFulfilled, res.Status)
	assert.Equal(t, 7, res.Outputs["total"])
	assert.Equal(t, 1, res.State.ExecutionCount(merge.ID()))
}

const loop = `
name: retry
nodes:
  - name: Try
    kind: noop
    await: any
    ports:
      - name: again
        when: {op: "<", left: {count: Try}, right: 3}
        to: [Try]
    next: [Done]
  - name: Done
    kind: noop
    await: any
`

func TestCompile_LoopPorts(t *testing.T) {
	wf, err := compiler.New(nil).Compile([]byte(loop))
	require.NoError(t, err)
	assert.Equal(t, "retry", wf.Module, "module defaults to the workflow name")

	try, _ := wf.Node("Try")
	require.Len(t, try.Ports, 2)
	assert.Equal(t, graph.DefaultPortName, try.Ports[0].Name)
	assert.Equal(t, "again", try.Ports[1].Name)

	res, err := runner.New().Run(context.Background(), wf, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, res.State.ExecutionCount(try.ID()))
	done, _ := wf.Node("Done")
	assert.Equal(t, 1, res.State.ExecutionCount(done.ID()))
}

func TestCompile_ConditionalPortsGetDefault(t *testing.T) {
	wf, err := compiler.New(nil).Compile([]byte(`
name: branch
nodes:
  - name: Check
    ports:
      - when: {state: flag}
        to: [Yes]
  - name: "Yes"
    await: any
`))
	require.NoError(t, err)
	check, _ := wf.Node("Check")
	require.Len(t, check.Ports, 2)
	assert.Equal(t, "port_0", check.Ports[0].Name)
	assert.True(t, check.Ports[1].IsDefault())
	assert.Empty(t, check.Ports[1].Targets)
}

func TestCompile_Errors(t *testing.T) {
	c := compiler.New(nil)
	tests := []struct {
		name string
		doc  string
	}{
		{"not yaml", "name: [unclosed"},
		{"empty", ""},
		{"missing name", "nodes: [{name: A}]"},
		{"no nodes", "name: x"},
		{"unknown key", "name: x\nnodez: []\nnodes: [{name: A}]"},
		{"dotted node", "name: x\nnodes: [{name: A.b}]"},
		{"unknown kind", "name: x\nnodes: [{name: A, kind: teleport}]"},
		{"bad await", "name: x\nnodes: [{name: A, await: sometimes}]"},
		{"bad expression", "name: x\nnodes: [{name: A, attributes: {v: {stat: x}}}]"},
		{"bad operator", "name: x\nnodes: [{name: A, attributes: {v: {op: '^', left: 1, right: 2}}}]"},
		{"bad output ref", "name: x\nnodes: [{name: A, attributes: {v: {output: A}}}]"},
		{"bad input type", "name: x\ninputs: {a: complex}\nnodes: [{name: A}]"},
		{"port without targets", "name: x\nnodes: [{name: A, ports: [{when: true}]}]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Compile([]byte(tt.doc))
			assert.ErrorIs(t, err, compiler.ErrInvalidDefinition)
		})
	}

	_, err := c.Compile([]byte("name: x\nnodes: [{name: A, next: [Ghost]}]"))
	assert.ErrorIs(t, err, graph.ErrInvalidWorkflow)
}

func TestParseExpression(t *testing.T) {
	st := state.New()
	require.NoError(t, st.Set("user.age", 20))
	st.SetWorkflowInput("limit", 18)
	st.SetExternalInput("ok", true)

	tests := []struct {
		raw  any
		want any
	}{
		{3, 3},
		{"plain", "plain"},
		{map[string]any{"const": map[string]any{"state": "literal"}}, map[string]any{"state": "literal"}},
		{map[string]any{"state": "user.age"}, 20},
		{map[string]any{"input": "limit"}, 18},
		{map[string]any{"external": "ok"}, true},
		{map[string]any{"not": map[string]any{"external": "ok"}}, false},
		{map[string]any{"neg": 4}, -4},
		{map[string]any{"op": ">=", "left": map[string]any{"state": "user.age"}, "right": map[string]any{"input": "limit"}}, true},
	}
	for _, tt := range tests {
		d, err := compiler.ParseExpression("m", tt.raw)
		require.NoError(t, err, "%v", tt.raw)
		got, err := d.Resolve(st)
		require.NoError(t, err, "%v", tt.raw)
		assert.Equal(t, tt.want, got, "%v", tt.raw)
	}

	d, err := compiler.ParseExpression("m", map[string]any{"count": "A"})
	require.NoError(t, err)
	assert.Equal(t, graph.ExecutionCountRef{Node: domain.NewNodeID("m", "A"), NodeName: "A"}, d)

	_, err = compiler.ParseExpression("m", map[string]any{"state": "a", "input": "b"})
	assert.Error(t, err)
}

func TestLoad_Subworkflows(t *testing.T) {
	loader := memory.NewLoader(map[string]string{
		"parent": `
name: parent
nodes:
  - name: Call
    workflow: child
    attributes:
      greeting: hello
`,
		"child": `
name: child
inputs:
  greeting: string
nodes:
  - name: Echo
    kind: passthrough
    attributes:
      text: {input: greeting}
outputs:
  text: {output: Echo.text}
`,
		"ouroboros": `
name: ouroboros
nodes:
  - name: Self
    workflow: ouroboros
`,
	})
	c := compiler.New(registry.NewBuiltins(), compiler.WithLoader(loader))

	wf, err := c.Load("parent")
	require.NoError(t, err)
	call, _ := wf.Node("Call")
	require.NotNil(t, call.Workflow)
	assert.Equal(t, "child", call.Workflow.Name)

	res, err := runner.New().Run(context.Background(), wf, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "hello", res.State.NodeOutputs(call.ID())["text"])

	_, err = c.Load("ouroboros")
	assert.ErrorIs(t, err, compiler.ErrInvalidDefinition)

	_, err = c.Load("missing")
	assert.ErrorIs(t, err, domain.ErrWorkflowNotFound)

	_, err = compiler.New(nil).Load("parent")
	assert.ErrorIs(t, err, domain.ErrWorkflowNotFound)
}
