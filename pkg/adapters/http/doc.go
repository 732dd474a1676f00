/*
Package http exposes an Engine over a JSON API built on chi.

Routes:

	GET    /healthz
	GET    /workflows
	GET    /workflows/{name}/graph        Mermaid diagram (text/plain)
	POST   /workflows/{name}/runs         {"session_id": "...", "inputs": {...}}
	GET    /sessions
	GET    /sessions/{id}
	GET    /sessions/{id}/graph           Mermaid diagram with the run overlay
	POST   /sessions/{id}/resume          {"inputs": {...}}
	DELETE /sessions/{id}
	GET    /events?trace_id=...           lifecycle events as server-sent events
	GET    /metrics                       prometheus exposition, when configured

Runs that end rejected still answer 200; the body carries the status and error.
*/
package http
