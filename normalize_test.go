package llmstream

import (
	"errors"
	"strings"
	"testing"

	"github.com/tidwall/gjson"
)

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		name string
		json string
		want string
		ok   bool
	}{
		{name: "string", json: `"hello"`, want: "hello", ok: true},
		{name: "number", json: `42`, want: "42", ok: true},
		{name: "array of strings", json: `["a","b"]`, want: "ab", ok: true},
		{name: "array skips empties", json: `["a","","b"]`, want: "ab", ok: true},
		{name: "text field", json: `{"text":"hi"}`, want: "hi", ok: true},
		{name: "output_text field", json: `{"output_text":"hi"}`, want: "hi", ok: true},
		{name: "content recursed", json: `{"content":{"text":"hi"}}`, want: "hi", ok: true},
		{name: "value recursed", json: `{"value":["a","b"]}`, want: "ab", ok: true},
		{name: "content part array", json: `[{"type":"text","text":"a"},{"type":"text","text":"b"}]`, want: "ab", ok: true},
		{name: "text wins over content", json: `{"text":"a","content":"b"}`, want: "a", ok: true},
		{name: "empty object", json: `{}`, ok: false},
		{name: "array of empties", json: `[{},{}]`, ok: false},
		{name: "null", json: `null`, ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := normalizeText(gjson.Parse(tt.json))
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if got != tt.want {
				t.Errorf("text = %q, want %q", got, tt.want)
			}
		})
	}
}

// pushPayload runs a single payload through processPayload on a fresh-ish
// pipeline, the way a data frame would arrive.
func pushPayload(t *testing.T, p *Pipeline, payload string) ([]StreamEvent, bool) {
	t.Helper()
	events, done, err := p.processPayload(payload, false)
	if err != nil {
		t.Fatalf("processPayload(%q) error: %v", payload, err)
	}
	return events, done
}

func TestProcessPayload_LegacyShapes(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    []StreamEvent
	}{
		{
			name:    "delta content",
			payload: `{"choices":[{"delta":{"content":"Hello"}}]}`,
			want:    []StreamEvent{{Type: EventContent, Text: "Hello"}},
		},
		{
			name:    "delta reasoning",
			payload: `{"choices":[{"delta":{"reasoning":"hmm"}}]}`,
			want:    []StreamEvent{{Type: EventReasoning, Text: "hmm"}},
		},
		{
			name:    "reasoning_content alias",
			payload: `{"choices":[{"delta":{"reasoning_content":"hmm"}}]}`,
			want:    []StreamEvent{{Type: EventReasoning, Text: "hmm"}},
		},
		{
			name:    "thinking alias",
			payload: `{"choices":[{"delta":{"thinking":"hmm"}}]}`,
			want:    []StreamEvent{{Type: EventReasoning, Text: "hmm"}},
		},
		{
			name:    "reasoning and content together",
			payload: `{"choices":[{"delta":{"reasoning":"r","content":"c"}}]}`,
			want: []StreamEvent{
				{Type: EventReasoning, Text: "r"},
				{Type: EventContent, Text: "c"},
			},
		},
		{
			name:    "message final form",
			payload: `{"choices":[{"message":{"content":"done text"}}]}`,
			want:    []StreamEvent{{Type: EventContent, Text: "done text"}},
		},
		{
			name:    "content part array",
			payload: `{"choices":[{"delta":{"content":[{"type":"text","text":"a"},{"type":"text","text":"b"}]}}]}`,
			want:    []StreamEvent{{Type: EventContent, Text: "ab"}},
		},
		{
			name:    "non-choices message content",
			payload: `{"message":{"content":"plain"}}`,
			want:    []StreamEvent{{Type: EventContent, Text: "plain"}},
		},
		{
			name:    "bare text field",
			payload: `{"text":"plain"}`,
			want:    []StreamEvent{{Type: EventContent, Text: "plain"}},
		},
		{
			name:    "bare json string",
			payload: `"hello"`,
			want:    []StreamEvent{{Type: EventContent, Text: "hello"}},
		},
		{
			name:    "generic object fallback",
			payload: `{"output_text":"tail"}`,
			want:    []StreamEvent{{Type: EventContent, Text: "tail"}},
		},
		{
			name:    "null payload",
			payload: `null`,
			want:    nil,
		},
		{
			name:    "empty delta",
			payload: `{"choices":[{"delta":{}}]}`,
			want:    nil,
		},
		{
			name:    "inline think tags",
			payload: `{"choices":[{"delta":{"content":"a<think>b</think>c"}}]}`,
			want: []StreamEvent{
				{Type: EventContent, Text: "a"},
				{Type: EventReasoning, Text: "b"},
				{Type: EventContent, Text: "c"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPipeline()
			events, done := pushPayload(t, p, tt.payload)
			if done {
				t.Errorf("done = true for non-terminal payload")
			}
			assertTextEvents(t, events, tt.want)
		})
	}
}

func TestProcessPayload_WebSearchMeta(t *testing.T) {
	p := NewPipeline()

	events, _ := pushPayload(t, p, `{"webSearchEnabled":false,"choices":[{"delta":{"content":"x"}}]}`)
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Type != EventMeta || events[0].Key != MetaKeyWebSearchEnabled {
		t.Fatalf("first event = %+v, want web-search meta", events[0])
	}
	// Explicit false is still surfaced.
	if v, ok := events[0].Value.(bool); !ok || v {
		t.Errorf("meta value = %v, want false", events[0].Value)
	}
}

func TestProcessPayload_ReasoningDetails(t *testing.T) {
	p := NewPipeline()

	events, _ := pushPayload(t, p, `{"choices":[{"delta":{"reasoning_details":[{"type":"reasoning.text","text":"t"}]}}]}`)
	if len(events) != 1 || events[0].Type != EventReasoningDetails {
		t.Fatalf("events = %+v, want one reasoning-details event", events)
	}
	if len(events[0].Details) != 1 {
		t.Fatalf("details length = %d, want 1", len(events[0].Details))
	}
	if got := gjson.GetBytes(events[0].Details[0], "text").String(); got != "t" {
		t.Errorf("detail passthrough lost text: %s", events[0].Details[0])
	}
}

func TestProcessPayload_Annotations(t *testing.T) {
	p := NewPipeline()

	payload := `{"choices":[{"delta":{"annotations":[{"type":"url_citation","url_citation":{"url":"https://example.com","title":"Example"}}]}}]}`
	events, _ := pushPayload(t, p, payload)

	if len(events) != 2 {
		t.Fatalf("got %d events, want annotations + footnote", len(events))
	}
	if events[0].Type != EventAnnotations || len(events[0].Annotations) != 1 {
		t.Fatalf("first event = %+v, want annotations", events[0])
	}
	if events[1].Type != EventFootnote {
		t.Fatalf("second event = %+v, want footnote", events[1])
	}
	if !strings.Contains(events[1].Text, "https://example.com") {
		t.Errorf("footnote text %q missing url", events[1].Text)
	}
}

func TestProcessPayload_DoneConditions(t *testing.T) {
	tests := []struct {
		name       string
		payload    string
		finalFlush bool
		wantDone   bool
	}{
		{name: "done sentinel", payload: `[DONE]`, wantDone: true},
		{name: "done field", payload: `{"done": true}`, wantDone: true},
		{name: "done false", payload: `{"done": false}`, wantDone: false},
		{name: "mid-stream stop", payload: `{"choices":[{"delta":{},"finish_reason":"stop"}]}`, wantDone: false},
		{name: "stop during final flush", payload: `{"choices":[{"delta":{},"finish_reason":"stop"}]}`, finalFlush: true, wantDone: true},
		{name: "tool_calls finish reason", payload: `{"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`, finalFlush: true, wantDone: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPipeline()
			events, done, err := p.processPayload(tt.payload, tt.finalFlush)
			if err != nil {
				t.Fatalf("error: %v", err)
			}
			if done != tt.wantDone {
				t.Errorf("done = %v, want %v", done, tt.wantDone)
			}
			if len(events) != 0 {
				t.Errorf("got %d events, want 0", len(events))
			}
		})
	}
}

func TestProcessPayload_ProviderError(t *testing.T) {
	p := NewPipeline(WithModel("gpt-4o"), WithProvider("openrouter"))

	_, _, err := p.processPayload(`{"error":{"code":"rate_limited","message":"slow down","status":429},"choices":[{"finish_reason":"error"}]}`, false)
	if err == nil {
		t.Fatal("expected fatal stream error")
	}

	var se *StreamError
	if !errors.As(err, &se) {
		t.Fatalf("error type = %T, want *StreamError", err)
	}
	if se.Code != "rate_limited" {
		t.Errorf("code = %q", se.Code)
	}
	if se.Message != "slow down" {
		t.Errorf("message = %q", se.Message)
	}
	if se.Status != 429 {
		t.Errorf("status = %d", se.Status)
	}
	if se.Model != "gpt-4o" {
		t.Errorf("model = %q", se.Model)
	}
	if se.FinishReason != "error" {
		t.Errorf("finish reason = %q", se.FinishReason)
	}
	if !IsStreamError(err) {
		t.Errorf("IsStreamError = false")
	}
}

func TestProcessPayload_ErrorDefaults(t *testing.T) {
	p := NewPipeline(WithModel("gpt-4o"))

	_, _, err := p.processPayload(`{"error":{}}`, false)
	var se *StreamError
	if !errors.As(err, &se) {
		t.Fatalf("error type = %T, want *StreamError", err)
	}
	if se.Code != defaultErrorCode {
		t.Errorf("default code = %q, want %q", se.Code, defaultErrorCode)
	}
	if se.Status != 500 {
		t.Errorf("default status = %d, want 500", se.Status)
	}
	if !strings.Contains(se.Message, "gpt-4o") {
		t.Errorf("default message %q does not reference the model", se.Message)
	}
}

func TestProcessPayload_StatusLineSilentlyDropped(t *testing.T) {
	p := NewPipeline()

	events, done := pushPayload(t, p, "OPENROUTER PROCESSING")
	if len(events) != 0 || done {
		t.Fatalf("status line produced events=%v done=%v", events, done)
	}
	if diag := p.Diagnostics(); diag.DiscardedPayloadCount != 0 {
		t.Errorf("status line counted as discard: %+v", diag)
	}
}

func TestProcessPayload_MalformedCounted(t *testing.T) {
	p := NewPipeline()

	pushPayload(t, p, `{"this is": not json`)
	diag := p.Diagnostics()
	if diag.DiscardedPayloadCount != 1 {
		t.Fatalf("discard count = %d, want 1", diag.DiscardedPayloadCount)
	}
	if len(diag.DiscardedPayloadSamples) != 1 {
		t.Fatalf("samples = %d, want 1", len(diag.DiscardedPayloadSamples))
	}
}

func TestProcessPayload_LegacyToolCalls(t *testing.T) {
	p := NewPipeline()

	events, _ := pushPayload(t, p, `{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_abc1","type":"function","function":{"name":"default_api:read","arguments":"{\"p\":"}}]}}]}`)
	if len(events) != 1 || events[0].Type != EventToolCall {
		t.Fatalf("events = %+v, want one tool-call", events)
	}
	if events[0].Phase != PhaseDelta {
		t.Errorf("phase = %s, want delta", events[0].Phase)
	}
	call := events[0].ToolCall
	if call.ID != "call_abc1" {
		t.Errorf("id = %q", call.ID)
	}
	if call.Function.Name != "read" {
		t.Errorf("sanitized name = %q, want read", call.Function.Name)
	}

	// Finalized form via message.tool_calls closes the call.
	events, _ = pushPayload(t, p, `{"choices":[{"message":{"tool_calls":[{"index":0,"function":{"arguments":"{\"p\":1}"}}]}}]}`)
	if len(events) != 1 || events[0].Phase != PhaseFinal {
		t.Fatalf("events = %+v, want one final tool-call", events)
	}
	if got := events[0].ToolCall.Function.Arguments; got != `{"p":1}` {
		t.Errorf("final arguments = %q", got)
	}
	if p.calls.open() != 0 {
		t.Errorf("accumulator not empty after final")
	}
}
