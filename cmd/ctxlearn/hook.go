package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ctxlearn/internal/hooks"
	"github.com/fyrsmithlabs/ctxlearn/internal/logging"
)

type hookFlags struct {
	context string
	format  string
	stdin   bool
	outcome string
	errMsg  string
	summary string
	limit   int
}

func newHookCmd(a *app) *cobra.Command {
	var f hookFlags
	cmd := &cobra.Command{
		Use:   "hook <verb> [text]",
		Short: "Run a hook verb",
		Long: `Run one of the five hook verbs and print the text to inject into the
agent's context.

Verbs:
  pre-task <task>                          patterns relevant to a task
  post-task <task> --outcome success|failure [--error msg]
  pre-command -- <command>                 exit 2 when the command is blocked
  session-start                            last session and pattern briefing
  session-end [--summary text]             persist the session summary

Text after -- is taken verbatim, so commands with their own flags are
not parsed as ctxlearn flags. Flags for ctxlearn go before the --.

With --stdin the request is read as JSON from stdin instead, for example
{"task":"add-auth","outcome":"failure","error_message":"401"}.

Examples:
  ctxlearn hook pre-task "add auth" --context api
  ctxlearn hook post-task add-auth --outcome failure --error "token expired"
  ctxlearn hook pre-command --format json -- rm -rf /
  echo '{"command":"rm -rf /"}' | ctxlearn hook pre-command --stdin --format json`,
		Args:      cobra.MinimumNArgs(1),
		ValidArgs: verbNames(),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runHook(cmd, args, f)
		},
	}
	cmd.SetFlagErrorFunc(hookFlagError)
	cmd.Flags().StringVar(&f.context, "context", "", "context scope (working directory, category tag)")
	cmd.Flags().StringVar(&f.format, "format", "text", "output format: text or json")
	cmd.Flags().BoolVar(&f.stdin, "stdin", false, "read the JSON request from stdin")
	cmd.Flags().StringVar(&f.outcome, "outcome", "", "post-task outcome: success or failure")
	cmd.Flags().StringVar(&f.errMsg, "error", "", "post-task error message")
	cmd.Flags().StringVar(&f.summary, "summary", "", "session-end summary (generated when empty)")
	cmd.Flags().IntVar(&f.limit, "limit", 0, "pre-task result count (0 uses hooks.top_n)")
	return cmd
}

func verbNames() []string {
	names := make([]string, len(hooks.Verbs))
	for i, v := range hooks.Verbs {
		names[i] = string(v)
	}
	return names
}

func (a *app) runHook(cmd *cobra.Command, args []string, f hookFlags) error {
	if err := validFormat(f.format); err != nil {
		return err
	}
	verb, err := hooks.ParseVerb(args[0])
	if err != nil {
		return err
	}
	text, err := hookText(args, cmd.ArgsLenAtDash())
	if err != nil {
		return err
	}

	var payload json.RawMessage
	if f.stdin {
		if payload, err = io.ReadAll(a.stdin); err != nil {
			return fmt.Errorf("reading stdin: %w", err)
		}
	} else if payload, err = requestFromArgs(verb, text, f); err != nil {
		return err
	}

	ctx := cmd.Context()
	var resp hooks.Response
	eng, err := a.openEngine(ctx)
	if err != nil {
		// Safety checks and degraded reads do not need the store.
		a.logger.Warn(ctx, "store unavailable for hook", zap.String("verb", string(verb)), zap.Error(err))
		resp, err = hooks.Fallback(a.cfg.Engine(), verb, payload, err)
	} else {
		defer eng.Close()
		resp, err = eng.dispatcher.Dispatch(ctx, verb, payload)
	}
	if err != nil {
		a.logger.Error(ctx, "hook failed", zap.String("verb", string(verb)), zap.Error(err))
		return err
	}
	if start, ok := resp.(hooks.SessionStartResponse); ok && start.SessionID != "" {
		ctx = logging.WithSessionID(ctx, start.SessionID)
	}
	a.logger.Debug(ctx, "hook completed", zap.String("verb", string(verb)))

	if f.format == "json" {
		err = writeJSON(a.stdout, resp)
	} else {
		_, err = io.WriteString(a.stdout, resp.Render())
	}
	if err != nil {
		return fmt.Errorf("writing response: %w", err)
	}

	if pc, ok := resp.(hooks.PreCommandResponse); ok && !pc.Allowed {
		return errBlocked
	}
	return nil
}

// hookText returns the words after the verb. With "--" the text is what
// follows it, so "hook pre-command -- rm -rf /" reads "rm -rf /".
func hookText(args []string, dash int) ([]string, error) {
	if dash > 1 {
		return nil, fmt.Errorf("put the text either before or after --, not both")
	}
	return args[1:], nil
}

// hookFlagError points at "--" when command text was taken for flags.
func hookFlagError(_ *cobra.Command, err error) error {
	return fmt.Errorf("%w (put command text after --, e.g. ctxlearn hook pre-command -- rm -rf /tmp/x)", err)
}

// requestFromArgs builds the JSON request for verb from positional
// arguments and flags. Remaining arguments are joined with spaces.
func requestFromArgs(verb hooks.Verb, words []string, f hookFlags) (json.RawMessage, error) {
	text := strings.TrimSpace(strings.Join(words, " "))

	var req any
	switch verb {
	case hooks.VerbPreTask:
		req = hooks.PreTaskRequest{Task: text, Context: f.context, Limit: f.limit}
	case hooks.VerbPostTask:
		if f.outcome == "" {
			return nil, fmt.Errorf("post-task requires --outcome")
		}
		req = hooks.PostTaskRequest{Task: text, Outcome: f.outcome, ErrorMessage: f.errMsg, Context: f.context}
	case hooks.VerbPreCommand:
		req = hooks.PreCommandRequest{Command: text}
	case hooks.VerbSessionStart:
		req = hooks.SessionStartRequest{}
	case hooks.VerbSessionEnd:
		req = hooks.SessionEndRequest{Summary: f.summary}
	default:
		return nil, fmt.Errorf("unknown hook verb %q", verb)
	}
	return json.Marshal(req)
}
