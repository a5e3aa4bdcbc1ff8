package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// MCP tool names.
const (
	ToolAskDatabase    = "ask_database"
	ToolDescribeSchema = "describe_schema"
)

// AskParams are the arguments of the ask_database tool.
type AskParams struct {
	Question string `json:"question" jsonschema:"the question to answer, in natural language"`
	ShowSQL  bool   `json:"show_sql,omitempty" jsonschema:"include the executed SQL in the reply"`
}

// SchemaParams are the arguments of the describe_schema tool.
type SchemaParams struct {
	Refresh bool `json:"refresh,omitempty" jsonschema:"reload the schema from the database catalog"`
}

type mcpTools struct {
	svc    Service
	logger *slog.Logger
}

// NewMCPServer returns an MCP server exposing svc as tools. Serve it
// with Run and a transport, typically &mcp.StdioTransport{}.
func NewMCPServer(svc Service, version string, logger *slog.Logger) *mcp.Server {
	if logger == nil {
		logger = slog.Default()
	}
	t := mcpTools{svc: svc, logger: logger}

	server := mcp.NewServer(&mcp.Implementation{Name: "askdata", Version: version}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        ToolAskDatabase,
		Description: "Answer a question about the connected database. The question is turned into a read-only SQL query, executed, and the result summarized.",
	}, t.ask)

	mcp.AddTool(server, &mcp.Tool{
		Name:        ToolDescribeSchema,
		Description: "Describe the tables and columns of the connected database as CREATE TABLE statements with sample rows.",
	}, t.describeSchema)

	return server
}

func (t mcpTools) ask(ctx context.Context, _ *mcp.CallToolRequest, params AskParams) (*mcp.CallToolResult, any, error) {
	t.logger.Info("mcp tool call", slog.String("tool", ToolAskDatabase))

	answer, err := t.svc.Ask(ctx, params.Question)
	if err != nil {
		return errorResult(err), nil, nil
	}

	var b strings.Builder
	b.WriteString(answer.Text)
	if params.ShowSQL && answer.SQL != "" {
		fmt.Fprintf(&b, "\n\nSQL:\n%s", answer.SQL)
	}

	data, err := json.Marshal(answer)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal answer: %w", err)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: b.String()},
			&mcp.TextContent{Text: string(data)},
		},
	}, nil, nil
}

func (t mcpTools) describeSchema(ctx context.Context, _ *mcp.CallToolRequest, params SchemaParams) (*mcp.CallToolResult, any, error) {
	t.logger.Info("mcp tool call", slog.String("tool", ToolDescribeSchema))

	load := t.svc.Schema
	if params.Refresh {
		load = t.svc.RefreshSchema
	}
	text, err := load(ctx)
	if err != nil {
		return errorResult(err), nil, nil
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}, nil, nil
}

// errorResult reports a failure to the calling model instead of failing
// the protocol request.
func errorResult(err error) *mcp.CallToolResult {
	msg := err.Error()
	if errors.Is(err, context.Canceled) {
		msg = "request canceled"
	}
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: msg}},
	}
}
