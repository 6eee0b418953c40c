// Package toolhost manages connections to external tool servers: child processes
// (or SSE endpoints) that expose named, invocable operations over a line-delimited
// JSON-RPC 2.0 protocol. It handles process lifecycle, the initialize handshake and
// capability negotiation, request/response correlation with per-call timeouts, and
// routing of tool listing and invocation across many concurrently connected servers.
//
// The Registry is the main entry point: it spawns and tracks named ServerSessions
// and delegates ListTools, CallTool, and Ping to the right one.
package toolhost
