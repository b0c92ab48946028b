package openaicompat

import (
	"encoding/json"
	"testing"

	"github.com/quietloop/memoria"
)

func TestBuildBody_SystemMessages(t *testing.T) {
	messages := []memoria.ChatMessage{
		memoria.SystemMessage("You are a helpful assistant."),
		memoria.UserMessage("Hello"),
	}

	req := BuildBody(messages, "gpt-4o", nil)

	if req.Model != "gpt-4o" {
		t.Errorf("expected model 'gpt-4o', got %q", req.Model)
	}
	if len(req.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(req.Messages))
	}
	if req.Messages[0].Role != "system" {
		t.Errorf("expected role 'system', got %q", req.Messages[0].Role)
	}
	if req.Messages[0].Content != "You are a helpful assistant." {
		t.Errorf("unexpected system content: %v", req.Messages[0].Content)
	}
	if req.Messages[1].Role != "user" {
		t.Errorf("expected role 'user', got %q", req.Messages[1].Role)
	}
}

func TestBuildBody_ResponseSchema(t *testing.T) {
	messages := []memoria.ChatMessage{memoria.UserMessage("classify this")}
	schema := &memoria.ResponseSchema{
		Name:   "fingerprint",
		Schema: json.RawMessage(`{"type":"object","properties":{"key":{"type":"string"}}}`),
	}

	req := BuildBody(messages, "gpt-4o-mini", schema)

	if req.ResponseFormat == nil {
		t.Fatal("expected response_format to be set")
	}
	if req.ResponseFormat.Type != "json_schema" {
		t.Errorf("expected type 'json_schema', got %q", req.ResponseFormat.Type)
	}
	if req.ResponseFormat.JSONSchema.Name != "fingerprint" {
		t.Errorf("expected schema name 'fingerprint', got %q", req.ResponseFormat.JSONSchema.Name)
	}
	if !req.ResponseFormat.JSONSchema.Strict {
		t.Error("expected strict schema enforcement")
	}
}

func TestBuildBody_NoSchema(t *testing.T) {
	messages := []memoria.ChatMessage{memoria.UserMessage("Hello")}
	req := BuildBody(messages, "gpt-4o", nil)
	if req.ResponseFormat != nil {
		t.Errorf("expected no response_format, got %+v", req.ResponseFormat)
	}
}

func TestBuildBody_Options(t *testing.T) {
	messages := []memoria.ChatMessage{memoria.UserMessage("Hi")}
	req := BuildBody(messages, "gpt-4o", nil, WithTemperature(0.2), WithMaxTokens(256))

	if req.Temperature == nil || *req.Temperature != 0.2 {
		t.Errorf("expected temperature 0.2, got %v", req.Temperature)
	}
	if req.MaxTokens != 256 {
		t.Errorf("expected max_tokens 256, got %d", req.MaxTokens)
	}
}

func TestBuildBody_JSONRoundTrip(t *testing.T) {
	messages := []memoria.ChatMessage{
		memoria.SystemMessage("Be helpful."),
		memoria.UserMessage("Hello"),
	}

	req := BuildBody(messages, "gpt-4o", nil)

	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("failed to marshal request: %v", err)
	}

	var parsed map[string]any
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("failed to parse round-tripped JSON: %v", err)
	}
	if parsed["model"] != "gpt-4o" {
		t.Errorf("expected model 'gpt-4o' in JSON, got %v", parsed["model"])
	}

	msgs, ok := parsed["messages"].([]any)
	if !ok {
		t.Fatal("expected messages array in JSON")
	}
	if len(msgs) != 2 {
		t.Errorf("expected 2 messages in JSON, got %d", len(msgs))
	}
}
