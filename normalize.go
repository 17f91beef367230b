package llmstream

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

// doneSentinel is the literal SSE payload some providers use to terminate a
// stream.
const doneSentinel = "[DONE]"

// statusLine matches all-caps provider status lines such as
// "OPENROUTER PROCESSING". These are not payloads and not worth a
// diagnostic.
var statusLine = regexp.MustCompile(`^[A-Z0-9 _:-]+$`)

// processPayload normalizes one assembled payload into zero or more events.
// The wire shape is re-detected per payload; a single stream may in
// principle mix shapes. finalFlush is true only for the trailing-buffer
// handling inside Flush.
func (p *Pipeline) processPayload(payload string, finalFlush bool) ([]StreamEvent, bool, error) {
	trimmed := strings.TrimSpace(payload)
	if trimmed == "" {
		return nil, false, nil
	}
	if trimmed == doneSentinel {
		return nil, true, nil
	}

	if !gjson.Valid(trimmed) {
		if statusLine.MatchString(trimmed) {
			return nil, false, nil
		}
		p.recordDiscard(payload)
		return nil, false, nil
	}

	v := gjson.Parse(trimmed)
	switch v.Type {
	case gjson.Null:
		return nil, false, nil
	case gjson.String, gjson.Number, gjson.True, gjson.False:
		// Bare scalar payloads are plain text content.
		return p.think.split(nil, v.String()), false, nil
	}

	if v.IsArray() {
		if text, ok := normalizeText(v); ok && text != "" {
			return p.think.split(nil, text), false, nil
		}
		p.recordDiscard(payload)
		return nil, false, nil
	}

	if t := v.Get("type"); t.Type == gjson.String && isNativeEventType(t.String()) {
		return p.processNative(v)
	}

	return p.processLegacy(v, payload, finalFlush)
}

// processLegacy handles the OpenAI-style chat.completion shapes and their
// relatives: choices[].delta, choices[].message, bare message.content, bare
// text, and a generic best-effort extraction as the last resort.
func (p *Pipeline) processLegacy(v gjson.Result, payload string, finalFlush bool) ([]StreamEvent, bool, error) {
	if errField := v.Get("error"); errField.Exists() && errField.Type != gjson.Null {
		return nil, false, p.streamError(v, errField)
	}

	var events []StreamEvent
	done := false
	extracted := false

	if d := v.Get("done"); d.Type == gjson.True {
		done = true
		extracted = true
	}

	if ws := v.Get("webSearchEnabled"); ws.Exists() {
		// Explicit false is still a signal.
		events = append(events, metaEvent(MetaKeyWebSearchEnabled, ws.Bool()))
		extracted = true
	}

	choices := v.Get("choices")
	switch {
	case choices.IsArray() && len(choices.Array()) > 0:
		choice := choices.Get("0")
		var choiceDone bool
		events, choiceDone = p.extractChoice(choice, events, finalFlush)
		done = done || choiceDone
		extracted = true

	case v.Get("message.content").Exists():
		msg := v.Get("message")
		if text, ok := normalizeText(msg.Get("content")); ok && text != "" {
			events = p.think.split(events, text)
		}
		events = appendAnnotations(events, msg.Get("annotations"))
		extracted = true

	case v.Get("text").Exists():
		if text, ok := normalizeText(v.Get("text")); ok && text != "" {
			events = p.think.split(events, text)
		}
		extracted = true

	default:
		if text, ok := normalizeText(v); ok && text != "" {
			events = p.think.split(events, text)
		} else if !extracted {
			p.recordDiscard(payload)
		}
	}

	return events, done, nil
}

// extractChoice pulls every known field group out of choices[0]. For each
// group the first present alias wins; reasoning and content are extracted
// independently since a payload may carry both.
func (p *Pipeline) extractChoice(choice gjson.Result, events []StreamEvent, finalFlush bool) ([]StreamEvent, bool) {
	if details := firstField(choice, "delta.reasoning_details", "message.reasoning_details"); details.IsArray() {
		if raw := rawArray(details); len(raw) > 0 {
			events = append(events, reasoningDetailsEvent(raw))
		}
	}

	if reasoning := firstField(choice,
		"delta.reasoning", "delta.reasoning_content", "delta.thinking",
		"message.reasoning", "message.reasoning_content", "message.thinking",
	); reasoning.Type == gjson.String && reasoning.String() != "" {
		events = append(events, reasoningEvent(reasoning.String()))
	}

	if content := firstField(choice, "delta.content", "delta.text", "message.content", "message.text"); content.Exists() {
		if text, ok := normalizeText(content); ok && text != "" {
			events = p.think.split(events, text)
		}
	}

	events = appendAnnotations(events, firstField(choice, "delta.annotations", "message.annotations"))

	// tool_calls from a delta are fragments; from a message they are the
	// finalized form.
	if toolCalls := choice.Get("delta.tool_calls"); toolCalls.IsArray() {
		for _, tc := range toolCalls.Array() {
			events = append(events, p.calls.handleDelta(tc, 0))
		}
	} else if toolCalls := choice.Get("message.tool_calls"); toolCalls.IsArray() {
		for _, tc := range toolCalls.Array() {
			events = append(events, p.calls.handleFinal(tc, 0))
		}
	}

	if fc := choice.Get("delta.function_call"); fc.IsObject() {
		events = append(events, p.calls.handleFunctionCallDelta(fc))
	} else if fc := choice.Get("message.function_call"); fc.IsObject() {
		events = append(events, p.calls.handleFunctionCallFinal(fc))
	}

	// Mid-stream "stop" chunks are common and not terminal; the field is
	// honored only during the final flush.
	done := finalFlush && choice.Get("finish_reason").String() == "stop"
	return events, done
}

// firstField returns the first existing field among the given paths.
func firstField(v gjson.Result, paths ...string) gjson.Result {
	for _, path := range paths {
		if f := v.Get(path); f.Exists() {
			return f
		}
	}
	return gjson.Result{}
}

// appendAnnotations emits the raw annotation array plus a footnote event per
// url citation.
func appendAnnotations(events []StreamEvent, annotations gjson.Result) []StreamEvent {
	if !annotations.IsArray() {
		return events
	}
	entries := annotations.Array()
	if len(entries) == 0 {
		return events
	}

	events = append(events, annotationsEvent(rawArray(annotations)))

	for _, entry := range entries {
		if entry.Get("type").String() != "url_citation" {
			continue
		}
		citation := entry.Get("url_citation")
		url := citation.Get("url").String()
		if url == "" {
			continue
		}
		if title := citation.Get("title").String(); title != "" {
			events = append(events, footnoteEvent(fmt.Sprintf("%s (%s)", title, url)))
		} else {
			events = append(events, footnoteEvent(url))
		}
	}
	return events
}

func rawArray(v gjson.Result) []json.RawMessage {
	entries := v.Array()
	raw := make([]json.RawMessage, 0, len(entries))
	for _, entry := range entries {
		raw = append(raw, json.RawMessage(entry.Raw))
	}
	return raw
}

// normalizeText resolves a string/array/object value to a single string.
// Arrays are joined after dropping elements that normalize to empty; objects
// are probed in priority order. Reports false when nothing resolves, in
// which case no event must be emitted.
func normalizeText(v gjson.Result) (string, bool) {
	switch v.Type {
	case gjson.String:
		return v.String(), true
	case gjson.Number, gjson.True, gjson.False:
		return v.String(), true
	}

	if v.IsArray() {
		var b strings.Builder
		found := false
		for _, el := range v.Array() {
			if s, ok := normalizeText(el); ok && s != "" {
				b.WriteString(s)
				found = true
			}
		}
		if found {
			return b.String(), true
		}
		return "", false
	}

	if v.IsObject() {
		for _, key := range []string{"text", "output_text", "content", "value"} {
			if f := v.Get(key); f.Exists() {
				if s, ok := normalizeText(f); ok && s != "" {
					return s, true
				}
			}
		}
	}

	return "", false
}

// streamError builds the fatal error for an explicit provider error payload.
func (p *Pipeline) streamError(v, errField gjson.Result) error {
	se := &StreamError{
		Code:     defaultErrorCode,
		Status:   500,
		Provider: p.provider,
		Model:    p.model,
		Raw:      json.RawMessage(v.Raw),
	}

	if errField.Type == gjson.String {
		se.Message = errField.String()
	}
	if code := errField.Get("code"); code.Exists() && code.String() != "" {
		se.Code = code.String()
	}
	if msg := errField.Get("message"); msg.Type == gjson.String && msg.String() != "" {
		se.Message = msg.String()
	}
	if status := errField.Get("status"); status.Type == gjson.Number {
		se.Status = int(status.Int())
	}
	if provider := errField.Get("metadata.provider_name"); provider.Type == gjson.String {
		se.Provider = provider.String()
	} else if provider := v.Get("provider"); provider.Type == gjson.String {
		se.Provider = provider.String()
	}
	if fr := v.Get("choices.0.finish_reason"); fr.Type == gjson.String {
		se.FinishReason = fr.String()
	}

	if se.Message == "" {
		if p.model != "" {
			se.Message = fmt.Sprintf("the provider returned an error while streaming from model '%s'", p.model)
		} else {
			se.Message = "the provider returned an error while streaming"
		}
	}
	return se
}
