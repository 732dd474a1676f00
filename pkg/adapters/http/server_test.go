package http_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aretw0/loom"
	httpadapter "github.com/aretw0/loom/pkg/adapters/http"
	"github.com/aretw0/loom/pkg/adapters/memory"
	"github.com/aretw0/loom/pkg/domain"
	"github.com/aretw0/loom/pkg/observability"
	"github.com/aretw0/loom/pkg/state"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const approval = `
name: approval
inputs:
  amount: int
nodes:
  - name: Draft
    kind: passthrough
    attributes:
      amount: {input: amount}
    next: [Approve]
  - name: Approve
    kind: await_input
    await: any
    with:
      key: decision
outputs:
  amount: {output: Draft.amount}
  decision: {output: Approve.value}
`

type fixture struct {
	handler http.Handler
	stream  *httpadapter.Stream
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := prometheus.NewRegistry()
	metrics, err := observability.NewMetricsSink(reg)
	require.NoError(t, err)
	stream := httpadapter.NewStream(nil)

	eng := loom.New(
		loom.WithLoader(memory.NewLoader(map[string]string{"approval": approval})),
		loom.WithEventSink(metrics, stream),
	)
	return &fixture{
		handler: httpadapter.NewHandler(eng, httpadapter.WithStream(stream), httpadapter.WithMetrics(reg)),
		stream:  stream,
	}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

func decodeRun(t *testing.T, w *httptest.ResponseRecorder) httpadapter.RunResponse {
	t.Helper()
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res httpadapter.RunResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	return res
}

func TestServer_RunAndResume(t *testing.T) {
	f := newFixture(t)

	paused := decodeRun(t, f.do(t, http.MethodPost, "/workflows/approval/runs", `{"session_id":"s1","inputs":{"amount":10}}`))
	assert.Equal(t, "s1", paused.SessionID)
	assert.Equal(t, state.RunPaused, paused.Status)
	require.Len(t, paused.Paused, 1)
	assert.Equal(t, "decision", paused.Paused[0].Key)

	w := f.do(t, http.MethodGet, "/sessions", "")
	require.Equal(t, http.StatusOK, w.Code)
	var sessions []httpadapter.SessionSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sessions))
	require.Len(t, sessions, 1)
	assert.Equal(t, "s1", sessions[0].ID)
	assert.Equal(t, "approval", sessions[0].Workflow)
	assert.Equal(t, state.RunPaused, sessions[0].Status)

	w = f.do(t, http.MethodGet, "/sessions/s1", "")
	require.Equal(t, http.StatusOK, w.Code)
	p, err := state.UnmarshalPersisted(w.Body.Bytes())
	require.NoError(t, err)
	assert.Equal(t, state.RunPaused, p.Run.Status)
	assert.Equal(t, paused.TraceID, p.Run.TraceID)

	done := decodeRun(t, f.do(t, http.MethodPost, "/sessions/s1/resume", `{"inputs":{"decision":"yes"}}`))
	assert.Equal(t, state.RunFulfilled, done.Status)
	assert.Equal(t, "yes", done.Outputs["decision"])
	assert.Equal(t, float64(10), done.Outputs["amount"])
	assert.Equal(t, paused.TraceID, done.TraceID)

	w = f.do(t, http.MethodPost, "/sessions/s1/resume", `{"inputs":{"decision":"again"}}`)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestServer_SessionInUse(t *testing.T) {
	f := newFixture(t)
	decodeRun(t, f.do(t, http.MethodPost, "/workflows/approval/runs", `{"session_id":"s1","inputs":{"amount":1}}`))

	w := f.do(t, http.MethodPost, "/workflows/approval/runs", `{"session_id":"s1","inputs":{"amount":1}}`)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestServer_GeneratedSessionID(t *testing.T) {
	f := newFixture(t)
	res := decodeRun(t, f.do(t, http.MethodPost, "/workflows/approval/runs", `{"inputs":{"amount":1}}`))
	assert.NotEmpty(t, res.SessionID)

	w := f.do(t, http.MethodGet, "/sessions/"+res.SessionID, "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServer_RejectedRunAnswers200(t *testing.T) {
	f := newFixture(t)
	res := decodeRun(t, f.do(t, http.MethodPost, "/workflows/approval/runs", `{"inputs":{"amount":"ten"}}`))
	assert.Equal(t, state.RunRejected, res.Status)
	assert.NotEmpty(t, res.Error)
}

func TestServer_Errors(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"unknown session", http.MethodGet, "/sessions/nope", "", http.StatusNotFound},
		{"unknown workflow", http.MethodPost, "/workflows/nope/runs", `{}`, http.StatusNotFound},
		{"resume unknown session", http.MethodPost, "/sessions/nope/resume", `{}`, http.StatusNotFound},
		{"bad body", http.MethodPost, "/workflows/approval/runs", `{`, http.StatusBadRequest},
		{"bad trace id", http.MethodGet, "/events?trace_id=nope", "", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
			assert.Contains(t, w.Body.String(), `"error"`)
		})
	}
}

func TestServer_HealthAndWorkflows(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	w = f.do(t, http.MethodGet, "/workflows", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `["approval"]`, w.Body.String())
}

func TestServer_Graphs(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/workflows/approval/graph", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "graph TD")
	assert.Contains(t, w.Body.String(), "Draft --> Approve")

	decodeRun(t, f.do(t, http.MethodPost, "/workflows/approval/runs", `{"session_id":"s1","inputs":{"amount":1}}`))
	w = f.do(t, http.MethodGet, "/sessions/s1/graph", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "class Draft visited")
	assert.Contains(t, w.Body.String(), "class Approve paused")
}

func TestServer_DeleteSession(t *testing.T) {
	f := newFixture(t)
	decodeRun(t, f.do(t, http.MethodPost, "/workflows/approval/runs", `{"session_id":"s1","inputs":{"amount":1}}`))

	w := f.do(t, http.MethodDelete, "/sessions/s1", "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = f.do(t, http.MethodGet, "/sessions/s1", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_Metrics(t *testing.T) {
	f := newFixture(t)
	decodeRun(t, f.do(t, http.MethodPost, "/workflows/approval/runs", `{"inputs":{"amount":1}}`))

	w := f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "loom_workflow_events_total")
	assert.Contains(t, w.Body.String(), `phase="paused"`)
}

func TestServer_Events(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events", nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, ": subscribed\n", line)
	assert.Equal(t, 1, f.stream.Subscribers())

	post, err := srv.Client().Post(srv.URL+"/workflows/approval/runs", "application/json",
		bytes.NewBufferString(`{"inputs":{"amount":1}}`))
	require.NoError(t, err)
	post.Body.Close()

	var names []string
	for !containsString(names, "workflow.execution.paused") {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if name, ok := strings.CutPrefix(strings.TrimSpace(line), "event: "); ok {
			names = append(names, name)
		}
	}
	assert.Equal(t, "workflow.execution.initiated", names[0])
	assert.Contains(t, names, "node.execution.fulfilled")
	assert.Contains(t, names, "node.execution.paused")
}

func TestStream_FiltersByTrace(t *testing.T) {
	s := httpadapter.NewStream(nil)
	traceA, traceB := uuid.New(), uuid.New()

	all, cancelAll := s.Subscribe(uuid.Nil)
	onlyA, cancelA := s.Subscribe(traceA)
	defer cancelA()
	assert.Equal(t, 2, s.Subscribers())

	ctx := context.Background()
	s.Emit(ctx, domain.NewEvent(domain.WorkflowExecutionInitiated, traceA, domain.NewExecutionID(), nil, domain.EventBody{}))
	s.Emit(ctx, domain.NewEvent(domain.WorkflowExecutionInitiated, traceB, domain.NewExecutionID(), nil, domain.EventBody{}))

	require.Len(t, onlyA, 1)
	assert.Equal(t, traceA, (<-onlyA).TraceID)

	cancelAll()
	cancelAll()
	assert.Equal(t, 1, s.Subscribers())
	var drained int
	for range all {
		drained++
	}
	assert.Equal(t, 2, drained)
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
