package mcp

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sort"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/ctxlearn/internal/hooks"
	"github.com/fyrsmithlabs/ctxlearn/internal/store"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "memory.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	d, err := hooks.Build(st, hooks.DefaultEngineConfig(), nil)
	require.NoError(t, err)

	s, err := NewServer(nil, d)
	require.NoError(t, err)
	return s
}

func connect(t *testing.T, s *Server) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()
	serverT, clientT := mcp.NewInMemoryTransports()

	ss, err := s.Connect(ctx, serverT)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ss.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "0.0.1"}, nil)
	cs, err := client.Connect(ctx, clientT, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cs.Close() })
	return cs
}

func call(t *testing.T, cs *mcp.ClientSession, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	return res
}

func text(res *mcp.CallToolResult) string {
	if len(res.Content) == 0 {
		return ""
	}
	if tc, ok := res.Content[0].(*mcp.TextContent); ok {
		return tc.Text
	}
	return ""
}

func TestNewServer_RequiresService(t *testing.T) {
	_, err := NewServer(nil, nil)
	assert.Error(t, err)
}

func TestServer_ListsFiveTools(t *testing.T) {
	cs := connect(t, newTestServer(t))

	res, err := cs.ListTools(context.Background(), nil)
	require.NoError(t, err)
	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	sort.Strings(names)
	assert.Equal(t, []string{ToolPostTask, ToolPreCommand, ToolPreTask, ToolSessionEnd, ToolSessionStart}, names)
}

func TestServer_ToolRoundTrip(t *testing.T) {
	cs := connect(t, newTestServer(t))

	res := call(t, cs, ToolPostTask, map[string]any{"task": "add-auth", "outcome": "success"})
	require.False(t, res.IsError, text(res))
	assert.Contains(t, text(res), `Learned pattern "add-auth"`)

	var post hooks.PostTaskResponse
	raw, err := json.Marshal(res.StructuredContent)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &post))
	assert.InDelta(t, 0.6, post.Confidence, 1e-9)

	res = call(t, cs, ToolPreTask, map[string]any{"task": "add"})
	require.False(t, res.IsError)
	assert.Contains(t, text(res), "add-auth")

	res = call(t, cs, ToolPreTask, map[string]any{"task": "add", "context": "web"})
	require.False(t, res.IsError)
	assert.NotContains(t, text(res), "add-auth")

	res = call(t, cs, ToolPreCommand, map[string]any{"command": "rm -rf /"})
	assert.True(t, res.IsError)
	assert.Contains(t, text(res), "BLOCKED (rm-root)")

	res = call(t, cs, ToolPreCommand, map[string]any{"command": "go test ./..."})
	assert.False(t, res.IsError)
	assert.Equal(t, "ok", text(res))

	res = call(t, cs, ToolSessionEnd, map[string]any{})
	require.False(t, res.IsError, text(res))
	assert.Contains(t, text(res), "1 succeeded")

	res = call(t, cs, ToolSessionStart, nil)
	require.False(t, res.IsError, text(res))
	assert.Contains(t, text(res), "Last session")
}

func TestServer_ErrorsBecomeToolErrors(t *testing.T) {
	cs := connect(t, newTestServer(t))

	res := call(t, cs, ToolPostTask, map[string]any{"task": "x", "outcome": "maybe"})
	assert.True(t, res.IsError)
	assert.Contains(t, text(res), "outcome")
}
