package llmstream

import "github.com/tidwall/gjson"

// Native discriminated-event vocabulary. Payloads whose "type" field is one
// of these values use the native wire format, which is mutually exclusive
// with the legacy chat.completion shapes; any other "type" value falls
// through to legacy handling.
const (
	nativeStart         = "start"
	nativeTextStart     = "text_start"
	nativeTextDelta     = "text_delta"
	nativeTextEnd       = "text_end"
	nativeThinkingStart = "thinking_start"
	nativeThinkingDelta = "thinking_delta"
	nativeThinkingEnd   = "thinking_end"
	nativeToolCallStart = "toolcall_start"
	nativeToolCallDelta = "toolcall_delta"
	nativeToolCallEnd   = "toolcall_end"
	nativeDone          = "done"
	nativeError         = "error"
)

var nativeEventTypes = map[string]struct{}{
	nativeStart:         {},
	nativeTextStart:     {},
	nativeTextDelta:     {},
	nativeTextEnd:       {},
	nativeThinkingStart: {},
	nativeThinkingDelta: {},
	nativeThinkingEnd:   {},
	nativeToolCallStart: {},
	nativeToolCallDelta: {},
	nativeToolCallEnd:   {},
	nativeDone:          {},
	nativeError:         {},
}

func isNativeEventType(t string) bool {
	_, ok := nativeEventTypes[t]
	return ok
}

// processNative dispatches a native discriminated event on its exact type.
func (p *Pipeline) processNative(v gjson.Result) ([]StreamEvent, bool, error) {
	switch v.Get("type").String() {
	case nativeTextDelta:
		p.sawNativeDelta = true
		if delta := v.Get("delta"); delta.Type == gjson.String && delta.String() != "" {
			return p.think.split(nil, delta.String()), false, nil
		}
		return nil, false, nil

	case nativeThinkingDelta:
		p.sawNativeDelta = true
		if delta := v.Get("delta"); delta.Type == gjson.String && delta.String() != "" {
			return []StreamEvent{reasoningEvent(delta.String())}, false, nil
		}
		return nil, false, nil

	case nativeToolCallDelta:
		p.sawNativeDelta = true
		if call := v.Get("toolCall"); call.IsObject() {
			return []StreamEvent{p.calls.handleDelta(call, contentIndex(v))}, false, nil
		}
		return nil, false, nil

	case nativeToolCallEnd:
		p.sawNativeDelta = true
		idx := contentIndex(v)
		if call := v.Get("toolCall"); call.IsObject() {
			return []StreamEvent{p.calls.handleFinal(call, idx)}, false, nil
		}
		// Bare end marker: close the call accumulated at this index, if
		// one is open.
		if p.calls.has(idx) {
			return []StreamEvent{p.calls.handleFinal(gjson.Parse("{}"), idx)}, false, nil
		}
		return nil, false, nil

	case nativeDone:
		return p.parseDoneMessage(v), true, nil

	case nativeError:
		return nil, false, p.streamError(v, v.Get("error"))
	}

	// start, text_start, text_end, thinking_start, thinking_end,
	// toolcall_start: markers and aggregates whose payloads would duplicate
	// already-streamed deltas.
	return nil, false, nil
}

// parseDoneMessage extracts the assistant message content blocks from a
// native done event - but only when the stream never emitted a native delta,
// so content that already streamed incrementally is not emitted twice.
// Tool-call blocks are finalized keyed by their position in the content
// array.
func (p *Pipeline) parseDoneMessage(v gjson.Result) []StreamEvent {
	if p.sawNativeDelta {
		return nil
	}

	blocks := v.Get("message.content")
	if !blocks.IsArray() {
		return nil
	}

	var events []StreamEvent
	for i, block := range blocks.Array() {
		switch block.Get("type").String() {
		case "text":
			if text := block.Get("text"); text.Type == gjson.String && text.String() != "" {
				events = p.think.split(events, text.String())
			}
		case "thinking":
			if text := firstField(block, "thinking", "text"); text.Type == gjson.String && text.String() != "" {
				events = append(events, reasoningEvent(text.String()))
			}
		case "toolCall":
			if call := block.Get("toolCall"); call.IsObject() {
				events = append(events, p.calls.handleFinal(call, i))
			}
		}
	}
	return events
}

func contentIndex(v gjson.Result) int {
	if idx := v.Get("contentIndex"); idx.Type == gjson.Number {
		return int(idx.Int())
	}
	return 0
}
