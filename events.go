// Package llmstream normalizes streaming LLM responses into a uniform event
// stream. It ingests raw byte chunks from a Server-Sent-Events style HTTP
// response body - in any of several mutually incompatible provider wire
// formats - and emits typed events for text content, reasoning, tool calls,
// annotations, and out-of-band metadata.
//
// A Pipeline instance owns all state for one stream. Feed it chunks with
// Push as they arrive, then call Flush once when the transport closes:
//
//	p := llmstream.NewPipeline(llmstream.WithModel("gpt-4o"))
//	for chunk := range chunks {
//		res, err := p.Push(chunk)
//		if err != nil { return err } // fatal provider error
//		for _, ev := range res.Events { render(ev) }
//		if res.Done { break }
//	}
//	tail, err := p.Flush()
package llmstream

import "encoding/json"

// EventType discriminates the StreamEvent union.
type EventType string

const (
	// EventContent is an assistant-visible text chunk.
	EventContent EventType = "content"

	// EventReasoning is chain-of-thought text, kept separate from content.
	EventReasoning EventType = "reasoning"

	// EventReasoningDetails carries opaque structured reasoning metadata
	// blocks, passed through verbatim.
	EventReasoningDetails EventType = "reasoning-details"

	// EventToolCall is a partial or finalized tool invocation request.
	EventToolCall EventType = "tool-call"

	// EventMeta is an out-of-band signal (e.g. the web-search-enabled flag).
	EventMeta EventType = "meta"

	// EventFootnote is citation text derived from an annotation.
	EventFootnote EventType = "footnote"

	// EventAnnotations carries raw citation/reference metadata attached to
	// content.
	EventAnnotations EventType = "annotations"
)

// ToolCallPhase distinguishes incremental tool-call fragments from terminal
// ones.
type ToolCallPhase string

const (
	// PhaseDelta marks a partial tool call; more fragments may follow for
	// the same index.
	PhaseDelta ToolCallPhase = "delta"

	// PhaseFinal marks a closed tool call; no further fragments for its
	// index are expected.
	PhaseFinal ToolCallPhase = "final"
)

// MetaKeyWebSearchEnabled is the meta-event key signalling that the provider
// toggled web search for this response.
const MetaKeyWebSearchEnabled = "web-search-enabled"

// StreamEvent is one normalized event from the pipeline. Type selects which
// payload fields are meaningful; the rest are zero values. Event order within
// a single Push result is significant and must be preserved by consumers.
type StreamEvent struct {
	// Type discriminates the union.
	Type EventType

	// Text carries the payload for content, reasoning, and footnote events.
	Text string

	// Details carries raw reasoning-detail blocks for reasoning-details
	// events.
	Details []json.RawMessage

	// Annotations carries raw annotation objects for annotations events.
	Annotations []json.RawMessage

	// Phase and ToolCall are set for tool-call events.
	Phase    ToolCallPhase
	ToolCall *ToolCall

	// Key and Value are set for meta events.
	Key   string
	Value any
}

func contentEvent(text string) StreamEvent {
	return StreamEvent{Type: EventContent, Text: text}
}

func reasoningEvent(text string) StreamEvent {
	return StreamEvent{Type: EventReasoning, Text: text}
}

func reasoningDetailsEvent(details []json.RawMessage) StreamEvent {
	return StreamEvent{Type: EventReasoningDetails, Details: details}
}

func toolCallEvent(phase ToolCallPhase, call *ToolCall) StreamEvent {
	return StreamEvent{Type: EventToolCall, Phase: phase, ToolCall: call}
}

func metaEvent(key string, value any) StreamEvent {
	return StreamEvent{Type: EventMeta, Key: key, Value: value}
}

func footnoteEvent(text string) StreamEvent {
	return StreamEvent{Type: EventFootnote, Text: text}
}

func annotationsEvent(annotations []json.RawMessage) StreamEvent {
	return StreamEvent{Type: EventAnnotations, Annotations: annotations}
}

// Result is the outcome of one Push call.
type Result struct {
	// Events are the normalized events extracted from this chunk, in wire
	// order.
	Events []StreamEvent

	// Done reports that a terminal condition was observed: the [DONE]
	// sentinel, a payload with done:true, or a native "done" event.
	Done bool
}
