// Package mcp serves the hook verbs as MCP tools over stdio.
//
// Tools: pre_task, post_task, pre_command, session_start and session_end.
// Each returns the rendered text as content and the typed response as
// structured content.
package mcp
