package llm

import (
	"testing"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{
			name:  "plain object",
			input: `{"type": "chat", "agent_response": "hi"}`,
			want:  `{"type": "chat", "agent_response": "hi"}`,
		},
		{
			name:  "think tags are stripped",
			input: "<think>\nThe user wants a login feature.\n</think>\n{\"type\": \"revise\"}",
			want:  `{"type": "revise"}`,
		},
		{
			name:  "markdown fence",
			input: "Here you go:\n```json\n{\"delta\": {\"introduction\": \"x\"}}\n```",
			want:  `{"delta": {"introduction": "x"}}`,
		},
		{
			name:  "braces inside strings",
			input: `{"agent_response": "use {curly} braces \"quoted\""}`,
			want:  `{"agent_response": "use {curly} braces \"quoted\""}`,
		},
		{
			name:  "stray brace in prose before the object",
			input: `Sections use the {name} form. {"type": "chat"}`,
			want:  `{"type": "chat"}`,
		},
		{
			name:    "no object",
			input:   "I could not decide.",
			wantErr: true,
		},
		{
			name:    "truncated object",
			input:   `{"type": "revise", "delta": {`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSON(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestParseJSONResponse(t *testing.T) {
	type result struct {
		Type string `json:"type"`
	}

	got, err := ParseJSONResponse[result]("```json\n{\"type\": \"chat\"}\n```")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Type != "chat" {
		t.Errorf("expected chat, got %q", got.Type)
	}

	if _, err := ParseJSONResponse[result](`{"type": 5}`); err == nil {
		t.Error("expected unmarshal error for wrong field type")
	}
}
