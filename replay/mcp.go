package replay

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/domreplay/kit"
	"github.com/hazyhaar/domreplay/tree"
)

// RegisterMCP registers the replay tools on an MCP server.
func (s *Service) RegisterMCP(srv *mcp.Server) {
	s.registerOpenTool(srv)
	s.registerAdvanceTool(srv)
	s.registerDiffTool(srv)
	s.registerFindPathsTool(srv)
	s.registerNodeTool(srv)
	s.registerCloseTool(srv)
	s.registerReplayTool(srv)
}

// inputSchema builds a JSON Schema object with type "object".
func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

var sessionIDProp = map[string]any{"type": "string", "description": "Session ID returned by domreplay_open"}

func (s *Service) register(srv *mcp.Server, tool *mcp.Tool, endpoint kit.Endpoint, decode func(*mcp.CallToolRequest) (*kit.MCPDecodeResult, error)) {
	kit.RegisterMCPTool(srv, tool, kit.Logging(s.logger, tool.Name)(endpoint), decode)
}

type sessionRequest struct {
	SessionID string `json:"session_id"`
}

func sessionOf(r *sessionRequest) string { return r.SessionID }

// --- open ---

func openSchema() map[string]any {
	return inputSchema(map[string]any{
		"url":           map[string]any{"type": "string", "description": "Page URL. With html set, only used to resolve script sources"},
		"html":          map[string]any{"type": "string", "description": "Inline HTML document, parsed without a browser"},
		"page_id":       map[string]any{"type": "string", "description": "Caller-chosen page identifier"},
		"stealth_level": map[string]any{"type": "string", "enum": []any{"0", "1", "2", "auto"}, "description": "0 static, 1 headless, 2 headful, auto (default)"},
		"max_steps":     map[string]any{"type": "integer", "description": "Step cap for replays (default 500)"},
	}, nil)
}

func (s *Service) registerOpenTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "domreplay_open",
		Description: "Open a page as an interactive replay session. Every script is marked and queued, and the first snapshot is taken.",
		InputSchema: openSchema(),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		return s.Open(ctx, *req.(*OpenRequest))
	}
	s.register(srv, tool, endpoint, kit.DecodeJSON[OpenRequest](nil))
}

// --- advance ---

func (s *Service) registerAdvanceTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "domreplay_advance",
		Description: "Activate the next queued script of a session. has_more=false means every queue is exhausted.",
		InputSchema: inputSchema(map[string]any{"session_id": sessionIDProp}, []string{"session_id"}),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		return s.Advance(ctx, req.(*sessionRequest).SessionID)
	}
	s.register(srv, tool, endpoint, kit.DecodeJSON(sessionOf))
}

// --- diff ---

func (s *Service) registerDiffTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "domreplay_diff",
		Description: "Diff the live document against the last snapshot. Returns deletes, then creates, then attribute changes.",
		InputSchema: inputSchema(map[string]any{"session_id": sessionIDProp}, []string{"session_id"}),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		return s.Diff(ctx, req.(*sessionRequest).SessionID)
	}
	s.register(srv, tool, endpoint, kit.DecodeJSON(sessionOf))
}

// --- find paths ---

type findPathsRequest struct {
	SessionID string `json:"session_id"`
	Selector  string `json:"selector,omitempty"`
	XPath     string `json:"xpath,omitempty"`
}

func (s *Service) registerFindPathsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "domreplay_find_paths",
		Description: "Snapshot paths of the nodes matching a CSS selector or an XPath expression. A malformed query yields an empty list.",
		InputSchema: inputSchema(map[string]any{
			"session_id": sessionIDProp,
			"selector":   map[string]any{"type": "string", "description": "CSS selector"},
			"xpath":      map[string]any{"type": "string", "description": "XPath expression, instead of selector"},
		}, []string{"session_id"}),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*findPathsRequest)
		return s.FindPaths(ctx, r.SessionID, r.Selector, r.XPath)
	}
	s.register(srv, tool, endpoint, kit.DecodeJSON(func(r *findPathsRequest) string { return r.SessionID }))
}

// --- node ---

type nodeRequest struct {
	SessionID string `json:"session_id"`
	Path      string `json:"path"`
}

func (s *Service) registerNodeTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "domreplay_node",
		Description: "Kind and recorded attributes of the node at a snapshot path such as 0>1>0.",
		InputSchema: inputSchema(map[string]any{
			"session_id": sessionIDProp,
			"path":       map[string]any{"type": "string", "description": "Structural path"},
		}, []string{"session_id", "path"}),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*nodeRequest)
		return s.Node(ctx, r.SessionID, tree.Path(r.Path))
	}
	s.register(srv, tool, endpoint, kit.DecodeJSON(func(r *nodeRequest) string { return r.SessionID }))
}

// --- close ---

func (s *Service) registerCloseTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "domreplay_close",
		Description: "Close a session and release its page.",
		InputSchema: inputSchema(map[string]any{"session_id": sessionIDProp}, []string{"session_id"}),
	}
	endpoint := func(_ context.Context, req any) (any, error) {
		id := req.(*sessionRequest).SessionID
		if err := s.Close(id); err != nil {
			return nil, err
		}
		return map[string]string{"status": "closed", "session_id": id}, nil
	}
	s.register(srv, tool, endpoint, kit.DecodeJSON(sessionOf))
}

// --- replay ---

func (s *Service) registerReplayTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "domreplay_replay",
		Description: "Replay every script of a page one at a time and return the run summary. Steps go to the configured sinks.",
		InputSchema: openSchema(),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		return s.Replay(ctx, *req.(*OpenRequest))
	}
	s.register(srv, tool, endpoint, kit.DecodeJSON[OpenRequest](nil))
}
