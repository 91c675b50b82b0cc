package probe

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Haniehz1/mcp-server-test-script/internal/registry"
)

func collectText(result *registry.ToolResult) string {
	if result == nil {
		return ""
	}
	parts := make([]string, 0, len(result.Content))
	for _, block := range result.Content {
		if block.Type == "text" && strings.TrimSpace(block.Text) != "" {
			parts = append(parts, strings.TrimSpace(block.Text))
		}
	}
	return strings.Join(parts, "\n")
}

func firstN(s string, max int) string {
	if max <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}

// normalizeJSON round-trips a value through encoding/json so that it only
// contains the types the schema validator expects (float64, map[string]any).
func normalizeJSON(value any) (any, error) {
	if value == nil {
		value = map[string]any{}
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func summarizeError(err error) string {
	if err == nil {
		return ""
	}
	if gwErr, ok := registry.IsGatewayError(err); ok {
		return fmt.Sprintf("status=%d type=%s message=%s", gwErr.StatusCode, gwErr.Envelope.Error.Type, gwErr.Envelope.Error.Message)
	}
	return err.Error()
}
