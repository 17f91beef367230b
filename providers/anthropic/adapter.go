// Package anthropic adapts Anthropic SDK streaming to llmstream events.
// SDK events are re-framed as native-format SSE frames and fed through a
// Pipeline, so Anthropic streams yield the same normalized event stream as
// raw SSE sources.
package anthropic

import (
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/vaultnotes/llmstream"
)

// Adapter converts one Anthropic message stream into normalized events.
// Like a Pipeline, an Adapter is single-stream and not safe for concurrent
// use.
type Adapter struct {
	pipe *llmstream.Pipeline

	// toolBlocks tracks which content block indexes are tool_use blocks,
	// so block stops can close the right accumulated call.
	toolBlocks map[int64]bool
}

// NewAdapter creates an adapter with a fresh pipeline. Options are passed
// through to NewPipeline.
func NewAdapter(opts ...llmstream.Option) *Adapter {
	return &Adapter{
		pipe:       llmstream.NewPipeline(opts...),
		toolBlocks: make(map[int64]bool),
	}
}

// HandleEvent ingests one SDK stream event and returns the normalized
// events it produced.
func (a *Adapter) HandleEvent(event anthropic.MessageStreamEventUnion) ([]llmstream.StreamEvent, error) {
	frame, err := a.frame(event)
	if err != nil {
		return nil, err
	}
	if frame == nil {
		return nil, nil
	}

	res, err := a.pipe.Push(append(append([]byte("data: "), frame...), '\n', '\n'))
	if err != nil {
		return nil, err
	}
	return res.Events, nil
}

// Finish flushes the underlying pipeline, force-finalizing any tool call
// the provider never closed.
func (a *Adapter) Finish() ([]llmstream.StreamEvent, error) {
	return a.pipe.Flush()
}

// Diagnostics exposes the underlying pipeline's discard counters.
func (a *Adapter) Diagnostics() llmstream.Diagnostics {
	return a.pipe.Diagnostics()
}

// frame translates an SDK event into a native-format frame, or nil for
// events with no streaming payload.
func (a *Adapter) frame(event anthropic.MessageStreamEventUnion) (json.RawMessage, error) {
	switch e := event.AsAny().(type) {
	case anthropic.ContentBlockStartEvent:
		if e.ContentBlock.Type != "tool_use" {
			return nil, nil
		}
		// Tool name and id arrive only on the block start; deliver them as
		// the first tool-call fragment.
		a.toolBlocks[e.Index] = true
		return marshalFrame(map[string]any{
			"type":         "toolcall_delta",
			"contentIndex": e.Index,
			"toolCall": map[string]any{
				"id":        e.ContentBlock.ID,
				"name":      e.ContentBlock.Name,
				"arguments": "",
			},
		})

	case anthropic.ContentBlockDeltaEvent:
		switch e.Delta.Type {
		case "text_delta":
			return marshalFrame(map[string]any{"type": "text_delta", "delta": e.Delta.Text})
		case "thinking_delta":
			return marshalFrame(map[string]any{"type": "thinking_delta", "delta": e.Delta.Thinking})
		case "input_json_delta":
			return marshalFrame(map[string]any{
				"type":         "toolcall_delta",
				"contentIndex": e.Index,
				"toolCall":     map[string]any{"arguments": e.Delta.PartialJSON},
			})
		}
		// signature_delta carries thinking-block signatures, which the
		// normalized vocabulary does not model.
		return nil, nil

	case anthropic.ContentBlockStopEvent:
		if !a.toolBlocks[e.Index] {
			return nil, nil
		}
		delete(a.toolBlocks, e.Index)
		return marshalFrame(map[string]any{"type": "toolcall_end", "contentIndex": e.Index})

	case anthropic.MessageStopEvent:
		return marshalFrame(map[string]any{"type": "done"})
	}

	// MessageStart and MessageDelta carry metadata only.
	return nil, nil
}

func marshalFrame(frame map[string]any) (json.RawMessage, error) {
	data, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("failed to encode stream frame: %w", err)
	}
	return data, nil
}
