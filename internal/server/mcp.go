package server

import (
	"context"
	"fmt"
	"log/slog"
)

// handleMCP answers the device-side MCP envelope. Devices in the field send
// both the flat shape and the payload-wrapped shape, and name the operation
// under either "op" or "method", so all four spots are checked.
func (s *Server) handleMCP(ctx context.Context, c *conn, msg map[string]any) {
	payload, _ := msg["payload"].(map[string]any)

	op := firstString(msg["op"], mapValue(payload, "op"), msg["method"], mapValue(payload, "method"))

	switch op {
	case "tools/list", "list_tools", "mcp.tools.list":
		c.SendJSON(map[string]any{
			"type":  "mcp",
			"op":    "tools/list",
			"ok":    true,
			"tools": s.tools.List(),
		})
	case "tools/call", "call_tool", "mcp.tools.call":
		params, _ := msg["params"].(map[string]any)
		payloadParams, _ := mapValue(payload, "params").(map[string]any)

		name := firstString(msg["name"], mapValue(payload, "name"),
			mapValue(params, "name"), mapValue(payloadParams, "name"))
		args := firstMap(msg["arguments"], mapValue(payload, "arguments"),
			mapValue(params, "arguments"), mapValue(payloadParams, "arguments"))

		slog.Info("mcp tool call", "tool", name)
		result := s.tools.Call(ctx, name, args)
		c.SendJSON(map[string]any{
			"type":    "mcp",
			"op":      "tools/call",
			"name":    name,
			"ok":      result.OK,
			"content": result.Content,
		})
	default:
		c.SendJSON(map[string]any{
			"type":  "mcp",
			"op":    op,
			"ok":    false,
			"error": fmt.Sprintf("Unsupported MCP operation: %v", op),
		})
	}
}

func mapValue(m map[string]any, key string) any {
	if m == nil {
		return nil
	}
	return m[key]
}

func firstString(candidates ...any) string {
	for _, v := range candidates {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func firstMap(candidates ...any) map[string]any {
	for _, v := range candidates {
		if m, ok := v.(map[string]any); ok {
			return m
		}
	}
	return map[string]any{}
}
