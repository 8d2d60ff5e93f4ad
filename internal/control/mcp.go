package control

import (
	"context"
	"encoding/json"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// noArgs is the input of tools that take no arguments.
type noArgs struct{}

// newMCPServer exposes the call lifecycle as MCP tools, so an assistant can
// start and stop calls and read the live status.
func newMCPServer(sess Session, version string) *mcpsdk.Server {
	srv := mcpsdk.NewServer(&mcpsdk.Implementation{Name: "callpilot", Version: version}, nil)

	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        "start_call",
		Description: "Start capturing and analysing a new sales call. Fails if a call is already running.",
	}, func(ctx context.Context, _ *mcpsdk.CallToolRequest, _ noArgs) (*mcpsdk.CallToolResult, any, error) {
		id, err := sess.StartCall(ctx)
		if err != nil {
			return nil, nil, err
		}
		return jsonResult(startResponse{CallID: id})
	})

	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        "stop_call",
		Description: "Stop the running call, wait for the final summary and return the resulting status. Does nothing when idle.",
	}, func(ctx context.Context, _ *mcpsdk.CallToolRequest, _ noArgs) (*mcpsdk.CallToolResult, any, error) {
		if err := sess.StopCall(context.WithoutCancel(ctx)); err != nil {
			return nil, nil, err
		}
		return jsonResult(sess.Status())
	})

	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        "call_status",
		Description: "Return the session state, counters and the most recent analysis record.",
	}, func(_ context.Context, _ *mcpsdk.CallToolRequest, _ noArgs) (*mcpsdk.CallToolResult, any, error) {
		return jsonResult(sess.Status())
	})

	return srv
}

func jsonResult(v any) (*mcpsdk.CallToolResult, any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, nil, fmt.Errorf("control: encode tool result: %w", err)
	}
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: string(data)}},
	}, nil, nil
}
