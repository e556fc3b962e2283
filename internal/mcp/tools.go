package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/fyrsmithlabs/ctxlearn/internal/hooks"
)

// Tool names.
const (
	ToolPreTask      = "pre_task"
	ToolPostTask     = "post_task"
	ToolPreCommand   = "pre_command"
	ToolSessionStart = "session_start"
	ToolSessionEnd   = "session_end"
)

type preTaskInput struct {
	Task    string `json:"task" jsonschema:"Task description or pattern key to look up"`
	Context string `json:"context,omitempty" jsonschema:"Only return patterns whose context contains this text"`
	Limit   int    `json:"limit,omitempty" jsonschema:"Maximum number of patterns to return (default 5)"`
}

type postTaskInput struct {
	Task         string `json:"task" jsonschema:"Pattern key of the task that finished"`
	Outcome      string `json:"outcome" jsonschema:"success or failure"`
	ErrorMessage string `json:"error_message,omitempty" jsonschema:"Error output when the task failed"`
	Context      string `json:"context,omitempty" jsonschema:"Free-text scope such as a directory or category"`
}

type preCommandInput struct {
	Command string `json:"command" jsonschema:"Shell command about to run"`
}

type sessionStartInput struct{}

type sessionEndInput struct {
	Summary string `json:"summary,omitempty" jsonschema:"Optional session summary; generated when empty"`
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        ToolPreTask,
		Description: "Retrieve the highest-confidence learned patterns for a task before starting it",
	}, s.preTask)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        ToolPostTask,
		Description: "Record the outcome of a task and update the pattern's confidence",
	}, s.postTask)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        ToolPreCommand,
		Description: "Check a shell command against the safety rules before running it",
	}, s.preCommand)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        ToolSessionStart,
		Description: "Start a session and get the last summary plus proven and weak patterns",
	}, s.sessionStart)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        ToolSessionEnd,
		Description: "End the session, persist its summary and prune unreliable patterns",
	}, s.sessionEnd)
}

func (s *Server) track(ctx context.Context, tool string) func(error) {
	return s.metrics.begin(ctx, tool)
}

func textResult(r hooks.Response) *mcp.CallToolResult {
	text := r.Render()
	if text == "" {
		text = "ok"
	}
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}
}

func (s *Server) preTask(ctx context.Context, _ *mcp.CallToolRequest, args preTaskInput) (_ *mcp.CallToolResult, _ any, err error) {
	done := s.track(ctx, ToolPreTask)
	defer func() { done(err) }()

	resp, err := s.hooks.PreTask(ctx, hooks.PreTaskRequest{Task: args.Task, Context: args.Context, Limit: args.Limit})
	if err != nil {
		return nil, nil, err
	}
	return textResult(resp), resp, nil
}

func (s *Server) postTask(ctx context.Context, _ *mcp.CallToolRequest, args postTaskInput) (_ *mcp.CallToolResult, _ any, err error) {
	done := s.track(ctx, ToolPostTask)
	defer func() { done(err) }()

	resp, err := s.hooks.PostTask(ctx, hooks.PostTaskRequest{
		Task:         args.Task,
		Outcome:      args.Outcome,
		ErrorMessage: args.ErrorMessage,
		Context:      args.Context,
	})
	if err != nil {
		return nil, nil, err
	}
	return textResult(resp), resp, nil
}

// preCommand reports a block as a tool error so clients that only look at
// IsError still stop.
func (s *Server) preCommand(ctx context.Context, _ *mcp.CallToolRequest, args preCommandInput) (_ *mcp.CallToolResult, _ any, err error) {
	done := s.track(ctx, ToolPreCommand)
	defer func() { done(err) }()

	resp, err := s.hooks.PreCommand(ctx, hooks.PreCommandRequest{Command: args.Command})
	if err != nil {
		return nil, nil, err
	}
	res := textResult(resp)
	res.IsError = !resp.Allowed
	return res, resp, nil
}

func (s *Server) sessionStart(ctx context.Context, _ *mcp.CallToolRequest, _ sessionStartInput) (_ *mcp.CallToolResult, _ any, err error) {
	done := s.track(ctx, ToolSessionStart)
	defer func() { done(err) }()

	resp, err := s.hooks.SessionStart(ctx, hooks.SessionStartRequest{})
	if err != nil {
		return nil, nil, err
	}
	return textResult(resp), resp, nil
}

func (s *Server) sessionEnd(ctx context.Context, _ *mcp.CallToolRequest, args sessionEndInput) (_ *mcp.CallToolResult, _ any, err error) {
	done := s.track(ctx, ToolSessionEnd)
	defer func() { done(err) }()

	resp, err := s.hooks.SessionEnd(ctx, hooks.SessionEndRequest{Summary: args.Summary})
	if err != nil {
		return nil, nil, err
	}
	return textResult(resp), resp, nil
}
