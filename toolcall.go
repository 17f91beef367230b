package llmstream

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ToolCallTypeFunction is the only tool call type currently emitted.
const ToolCallTypeFunction = "function"

// ToolCall is a normalized tool invocation request. While a call is still
// streaming (phase delta), Function.Arguments may be a prefix of valid JSON;
// by the time the final event for its index is emitted the string is
// syntactically complete, unless the provider itself sent truncated data.
type ToolCall struct {
	// ID is the stable, collision-free identifier assigned by the pipeline.
	ID string `json:"id"`

	// Index is the numeric stream index this call was accumulated under.
	Index int `json:"index"`

	// Type is always "function".
	Type string `json:"type"`

	// Function holds the tool name and raw argument text.
	Function ToolCallFunction `json:"function"`

	// Extra preserves provider-specific top-level fields verbatim
	// (anything other than id/index/type/function).
	Extra map[string]json.RawMessage `json:"-"`
}

// ToolCallFunction is the function portion of a tool call.
type ToolCallFunction struct {
	// Name is the canonical (sanitized) tool name.
	Name string `json:"name"`

	// Arguments is the raw argument text, always a string.
	Arguments string `json:"arguments"`

	// Extra preserves provider-specific function-level fields verbatim
	// (anything other than name/arguments), e.g. signature fields.
	Extra map[string]json.RawMessage `json:"-"`
}

// MarshalJSON re-inlines preserved extra fields so the wire form of a tool
// call round-trips losslessly through the pipeline.
func (c ToolCall) MarshalJSON() ([]byte, error) {
	type plain ToolCall
	out, err := json.Marshal(plain(c))
	if err != nil {
		return nil, err
	}
	return mergeExtraFields(out, "", c.Extra, "function", c.Function.Extra)
}

// mergeExtraFields sets opaque passthrough fields back onto serialized JSON.
// Known fields always win over extras of the same name.
func mergeExtraFields(doc []byte, prefix string, extra map[string]json.RawMessage, fnPrefix string, fnExtra map[string]json.RawMessage) ([]byte, error) {
	var err error
	for _, key := range sortedKeys(extra) {
		doc, err = sjson.SetRawBytes(doc, joinPath(prefix, key), extra[key])
		if err != nil {
			return nil, err
		}
	}
	for _, key := range sortedKeys(fnExtra) {
		doc, err = sjson.SetRawBytes(doc, joinPath(fnPrefix, key), fnExtra[key])
		if err != nil {
			return nil, err
		}
	}
	return doc, nil
}

func joinPath(prefix, key string) string {
	// Escape path metacharacters so provider field names map 1:1.
	escaped := strings.NewReplacer(".", `\.`, "*", `\*`, "?", `\?`, "|", `\|`).Replace(key)
	if prefix == "" {
		return escaped
	}
	return prefix + "." + escaped
}

func sortedKeys(m map[string]json.RawMessage) []string {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// rawToolCall is a provider tool-call fragment decoded permissively: known
// fields are extracted, everything else is kept as opaque passthrough.
type rawToolCall struct {
	index     *int
	id        string
	callType  string
	name      string
	arguments *string // nil when the fragment carries no arguments field
	extra     map[string]json.RawMessage
	fnExtra   map[string]json.RawMessage
}

// decodeRawToolCall splits a tool-call payload into known fields and opaque
// extras. Arguments are accepted as either a string or an object; objects
// are serialized back to JSON text.
func decodeRawToolCall(v gjson.Result) rawToolCall {
	var raw rawToolCall

	var top map[string]json.RawMessage
	if err := json.Unmarshal([]byte(v.Raw), &top); err != nil {
		return raw
	}

	for key, val := range top {
		switch key {
		case "index":
			var idx int
			if err := json.Unmarshal(val, &idx); err == nil {
				raw.index = &idx
			}
		case "id":
			var id string
			if err := json.Unmarshal(val, &id); err == nil {
				raw.id = id
			}
		case "type":
			var t string
			if err := json.Unmarshal(val, &t); err == nil {
				raw.callType = t
			}
		case "function":
			raw.decodeFunction(val)
		default:
			if raw.extra == nil {
				raw.extra = make(map[string]json.RawMessage)
			}
			raw.extra[key] = val
		}
	}

	// Some providers flatten name/arguments to the top level (no function
	// wrapper); tolerate both.
	if raw.name == "" {
		if name := v.Get("name"); name.Type == gjson.String {
			raw.name = name.String()
			delete(raw.extra, "name")
		}
	}
	if raw.arguments == nil {
		if args := v.Get("arguments"); args.Exists() {
			text := argumentText(args)
			raw.arguments = &text
			delete(raw.extra, "arguments")
		}
	}

	return raw
}

func (raw *rawToolCall) decodeFunction(data json.RawMessage) {
	var fn map[string]json.RawMessage
	if err := json.Unmarshal(data, &fn); err != nil {
		return
	}
	for key, val := range fn {
		switch key {
		case "name":
			var name string
			if err := json.Unmarshal(val, &name); err == nil {
				raw.name = name
			}
		case "arguments":
			text := argumentText(gjson.ParseBytes(val))
			raw.arguments = &text
		default:
			if raw.fnExtra == nil {
				raw.fnExtra = make(map[string]json.RawMessage)
			}
			raw.fnExtra[key] = val
		}
	}
}

// argumentText returns streamed argument content as text: strings verbatim,
// anything else as its raw JSON form.
func argumentText(v gjson.Result) string {
	if v.Type == gjson.String {
		return v.String()
	}
	return v.Raw
}

// toolCallState accumulates one in-flight tool call, keyed by stream index.
// Ids may arrive late or change mid-stream, so the index is the identity.
type toolCallState struct {
	index    int
	rawID    string
	name     string
	args     strings.Builder
	callType string
	extra    map[string]json.RawMessage
	fnExtra  map[string]json.RawMessage
}

// rawKey is the memoization key for id assignment: the raw provider id when
// one was seen, otherwise the stream index.
func (s *toolCallState) rawKey() string {
	if s.rawID != "" {
		return s.rawID
	}
	return "index:" + strconv.Itoa(s.index)
}

// toolCallAccumulator tracks per-index tool call state for one stream.
type toolCallAccumulator struct {
	states  map[int]*toolCallState
	ids     *idTable
	profile *SanitizerProfile
	log     logrus.FieldLogger
}

func newToolCallAccumulator(profile *SanitizerProfile, log logrus.FieldLogger) *toolCallAccumulator {
	return &toolCallAccumulator{
		states:  make(map[int]*toolCallState),
		ids:     newIDTable(),
		profile: profile,
		log:     log,
	}
}

// handleDelta merges an incremental tool-call fragment and returns a
// tool-call event with phase delta. Argument fragments are appended, never
// replaced: streamed JSON arguments arrive as successive substrings.
func (a *toolCallAccumulator) handleDelta(v gjson.Result, defaultIndex int) StreamEvent {
	raw := decodeRawToolCall(v)
	state := a.lookup(raw, defaultIndex)
	a.merge(state, raw)
	if raw.arguments != nil {
		state.args.WriteString(*raw.arguments)
	}
	return toolCallEvent(PhaseDelta, a.snapshot(state))
}

// handleFinal merges a terminal tool-call message, emits the final event,
// and closes the accumulator entry for its index. A final that carries a
// non-empty arguments string replaces the accumulated text, since some
// providers repeat the full argument string instead of the remainder.
func (a *toolCallAccumulator) handleFinal(v gjson.Result, defaultIndex int) StreamEvent {
	raw := decodeRawToolCall(v)
	state := a.lookup(raw, defaultIndex)
	a.merge(state, raw)
	if raw.arguments != nil && *raw.arguments != "" {
		state.args.Reset()
		state.args.WriteString(*raw.arguments)
	}
	event := toolCallEvent(PhaseFinal, a.snapshot(state))
	delete(a.states, state.index)
	return event
}

// handleFunctionCallDelta adapts a legacy single function_call object into
// the index-0 tool call shape.
func (a *toolCallAccumulator) handleFunctionCallDelta(v gjson.Result) StreamEvent {
	return a.handleDelta(wrapFunctionCall(v), 0)
}

// handleFunctionCallFinal is the terminal counterpart of
// handleFunctionCallDelta.
func (a *toolCallAccumulator) handleFunctionCallFinal(v gjson.Result) StreamEvent {
	return a.handleFinal(wrapFunctionCall(v), 0)
}

// wrapFunctionCall lifts {"name":..,"arguments":..} into the tool_calls
// entry shape. Legacy providers never send an index.
func wrapFunctionCall(v gjson.Result) gjson.Result {
	wrapped, err := sjson.SetRaw(`{"type":"function"}`, "function", v.Raw)
	if err != nil {
		return gjson.Parse(`{"type":"function"}`)
	}
	return gjson.Parse(wrapped)
}

// flush force-finalizes every still-open tool call in index order and clears
// the accumulator. Providers may close the connection without ever sending
// an explicit final message for some calls.
func (a *toolCallAccumulator) flush() []StreamEvent {
	if len(a.states) == 0 {
		return nil
	}

	indexes := make([]int, 0, len(a.states))
	for idx := range a.states {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	events := make([]StreamEvent, 0, len(indexes))
	for _, idx := range indexes {
		state := a.states[idx]
		a.log.WithFields(logrus.Fields{
			"index": idx,
			"name":  state.name,
		}).Debug("llmstream: force-finalizing tool call open at end of stream")
		events = append(events, toolCallEvent(PhaseFinal, a.snapshot(state)))
		delete(a.states, idx)
	}
	return events
}

// open reports how many tool calls are still accumulating.
func (a *toolCallAccumulator) open() int {
	return len(a.states)
}

// has reports whether a call is still accumulating at the given index.
func (a *toolCallAccumulator) has(index int) bool {
	_, ok := a.states[index]
	return ok
}

func (a *toolCallAccumulator) lookup(raw rawToolCall, defaultIndex int) *toolCallState {
	index := defaultIndex
	if raw.index != nil {
		index = *raw.index
	}
	state, ok := a.states[index]
	if !ok {
		state = &toolCallState{index: index, callType: ToolCallTypeFunction}
		a.states[index] = state
	}
	return state
}

func (a *toolCallAccumulator) merge(state *toolCallState, raw rawToolCall) {
	if raw.id != "" {
		state.rawID = raw.id // last write wins; providers may correct ids
	}
	if raw.name != "" {
		state.name = a.profile.SanitizeToolName(raw.name)
	}
	if raw.callType != "" {
		state.callType = raw.callType
	}
	for key, val := range raw.extra {
		if state.extra == nil {
			state.extra = make(map[string]json.RawMessage)
		}
		state.extra[key] = val
	}
	for key, val := range raw.fnExtra {
		if state.fnExtra == nil {
			state.fnExtra = make(map[string]json.RawMessage)
		}
		state.fnExtra[key] = val
	}
}

// snapshot builds the outward ToolCall for the current state, resolving the
// stable output id through the shared id table.
func (a *toolCallAccumulator) snapshot(state *toolCallState) *ToolCall {
	call := &ToolCall{
		ID:    a.ids.sanitize(state.rawKey(), state.rawID, state.index),
		Index: state.index,
		Type:  state.callType,
		Function: ToolCallFunction{
			Name:      state.name,
			Arguments: state.args.String(),
		},
	}
	if len(state.extra) > 0 {
		call.Extra = make(map[string]json.RawMessage, len(state.extra))
		for k, v := range state.extra {
			call.Extra[k] = v
		}
	}
	if len(state.fnExtra) > 0 {
		call.Function.Extra = make(map[string]json.RawMessage, len(state.fnExtra))
		for k, v := range state.fnExtra {
			call.Function.Extra[k] = v
		}
	}
	return call
}
