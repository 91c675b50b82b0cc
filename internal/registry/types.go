package registry

import "encoding/json"

type ContentBlock struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

type ToolResult struct {
	Content           []ContentBlock `json:"content"`
	StructuredContent map[string]any `json:"structuredContent,omitempty"`
	IsError           bool           `json:"isError,omitempty"`
}

type ServerInfo struct {
	Name       string   `json:"name"`
	Transport  string   `json:"transport"`
	Configured bool     `json:"configured"`
	AuthScheme string   `json:"auth_scheme,omitempty"`
	Tools      []string `json:"tools,omitempty"`
}

type ServersResponse struct {
	Data []ServerInfo `json:"data"`
}

type GatewayErrorEnvelope struct {
	Type      string             `json:"type"`
	Error     GatewayErrorDetail `json:"error"`
	RequestID string             `json:"request_id,omitempty"`
}

type GatewayErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type GatewayError struct {
	StatusCode int
	Envelope   GatewayErrorEnvelope
	Body       []byte
}

func (e *GatewayError) Error() string {
	if e == nil {
		return ""
	}
	if e.Envelope.Error.Message != "" {
		return e.Envelope.Error.Type + ": " + e.Envelope.Error.Message
	}
	return string(e.Body)
}

func ParseGatewayErrorEnvelope(body []byte) (GatewayErrorEnvelope, bool) {
	var envelope GatewayErrorEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return GatewayErrorEnvelope{}, false
	}
	if envelope.Error.Type == "" && envelope.Error.Message == "" {
		return GatewayErrorEnvelope{}, false
	}
	return envelope, true
}
