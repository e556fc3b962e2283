// Package hooks translates the five hook verbs into calls on the engine.
//
// The verbs are pre-task, post-task, pre-command, session-start and
// session-end. Each has a typed request and response; Dispatch decodes a JSON
// payload for transports that only carry bytes (argv/stdin, MCP).
//
// Read verbs degrade when the store is unavailable: pre-task and
// session-start return empty results flagged Degraded, and pre-command
// still blocks dangerous commands but drops its failure advisory. A corrupt
// store aborts the verb. Observers registered with RegisterHandler run after
// every invocation.
package hooks
