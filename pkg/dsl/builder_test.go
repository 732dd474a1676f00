package dsl_test

import (
	"context"
	"testing"

	"github.com/aretw0/loom/pkg/domain"
	"github.com/aretw0/loom/pkg/dsl"
	"github.com/aretw0/loom/pkg/graph"
	"github.com/aretw0/loom/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilder_Flow(t *testing.T) {
	b := dsl.New("test", "flow")
	b.Input("query", schema.Required(schema.String()))

	b.Add("Start").
		Attr("q", graph.Input("query")).
		Emit(map[string]any{"ok": true}).
		Go("Left", "Right")
	b.Add("Left").Go("Join")
	b.Add("Right").Go("Join")
	b.Add("Join").Await(domain.AwaitAll).Output("count", b.Count("Join"))
	b.Output("joined", b.Out("Join", "count"))

	wf, err := b.Build()
	require.NoError(t, err)

	assert.Equal(t, "flow", wf.Name)
	assert.Len(t, wf.Nodes, 4)
	assert.Equal(t, []string{"Start", "Left", "Right", "Join"}, names(wf.Nodes))

	start, _ := wf.Node("Start")
	port, ok := start.DefaultPort()
	require.True(t, ok)
	assert.Equal(t, []string{"Left", "Right"}, port.Targets)

	join, _ := wf.Node("Join")
	assert.Len(t, wf.Dependencies(join), 2)
	assert.Equal(t, join.ID(), b.Out("Join", "count").(graph.OutputRef).Node)

	out, err := start.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, true, out["ok"])
}

func TestBuilder_GoAppendsToDefaultPort(t *testing.T) {
	b := dsl.New("test", "fan")
	b.Add("A").Go("B").Go("C")
	b.Add("B")
	b.Add("C")

	wf := b.MustBuild()
	a, _ := wf.Node("A")
	require.Len(t, a.Ports, 1)
	assert.Equal(t, []string{"B", "C"}, a.Ports[0].Targets)
}

func TestBuilder_InvalidWorkflow(t *testing.T) {
	b := dsl.New("test", "broken")
	b.Add("A").Go("Missing")

	_, err := b.Build()
	assert.ErrorIs(t, err, graph.ErrInvalidWorkflow)
	assert.Panics(t, func() { b.MustBuild() })
}

func TestBuilder_Subworkflow(t *testing.T) {
	inner := dsl.New("test", "inner")
	inner.Add("Echo").Emit(map[string]any{"v": 1})
	innerWF := inner.MustBuild()

	outer := dsl.New("test", "outer")
	outer.Add("Call").Attr("x", graph.Const(1)).Workflow(innerWF)
	wf := outer.MustBuild()

	call, _ := wf.Node("Call")
	assert.Equal(t, "workflow", call.Kind)
	assert.Same(t, innerWF, call.Workflow)
	assert.Contains(t, call.Attributes, "x")
}

func names(nodes []*graph.Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.Name
	}
	return out
}
