// Package lorem generates synthetic provider streams for development and
// testing without real API keys. The generator produces raw SSE bytes in
// either the legacy chat.completion.chunk format or the native
// discriminated-event format, chunked at deliberately hostile boundaries
// (including mid-rune and mid-tag) to exercise incremental parsing.
package lorem

import (
	"bytes"
	"encoding/json"
	"io"
	"math/rand"
	"strings"

	loremgen "github.com/bozaro/golorem"
	"github.com/google/uuid"
	"github.com/tidwall/sjson"
)

// Format selects the wire format of the generated stream.
type Format string

const (
	// FormatLegacy produces OpenAI-style chat.completion.chunk frames.
	FormatLegacy Format = "legacy"

	// FormatNative produces discriminated-event frames (text_delta,
	// thinking_delta, toolcall_delta, done).
	FormatNative Format = "native"
)

// ToolScript describes one scripted tool call to stream.
type ToolScript struct {
	// Name is the raw tool name to send (may carry provider prefixes).
	Name string

	// Args is marshaled to JSON and streamed as argument fragments.
	Args map[string]any
}

// Options configure a Generator.
type Options struct {
	// Format selects the wire format. Defaults to FormatLegacy.
	Format Format

	// Sentences is how many lorem sentences to stream. Defaults to 3.
	Sentences int

	// ThinkBlock wraps one sentence of reasoning in <think> tags (legacy
	// format) or streams it as thinking deltas (native format).
	ThinkBlock bool

	// ToolCalls are streamed after the text, arguments split into
	// fragments.
	ToolCalls []ToolScript

	// MaxChunk is the largest chunk Chunks will return. Chunk sizes are
	// drawn uniformly from [1, MaxChunk], so multi-byte characters and SSE
	// lines routinely split across chunks. Defaults to 17.
	MaxChunk int

	// Seed drives chunk boundaries and argument fragmenting. Text and call
	// ids still vary run to run. Defaults to 1.
	Seed int64
}

// Generator produces a synthetic SSE stream.
type Generator struct {
	opts  Options
	words *loremgen.Lorem
	rng   *rand.Rand
}

// NewGenerator creates a generator with the given options.
func NewGenerator(opts Options) *Generator {
	if opts.Format == "" {
		opts.Format = FormatLegacy
	}
	if opts.Sentences <= 0 {
		opts.Sentences = 3
	}
	if opts.MaxChunk <= 0 {
		opts.MaxChunk = 17
	}
	if opts.Seed == 0 {
		opts.Seed = 1
	}
	return &Generator{
		opts:  opts,
		words: loremgen.New(),
		rng:   rand.New(rand.NewSource(opts.Seed)),
	}
}

// Chunks returns the full stream split into hostile chunk boundaries.
func (g *Generator) Chunks() [][]byte {
	raw := g.bytes()
	var chunks [][]byte
	for len(raw) > 0 {
		n := 1 + g.rng.Intn(g.opts.MaxChunk)
		if n > len(raw) {
			n = len(raw)
		}
		chunks = append(chunks, raw[:n])
		raw = raw[n:]
	}
	return chunks
}

// Stream returns the stream as a reader, the way an HTTP response body
// would deliver it.
func (g *Generator) Stream() io.Reader {
	return bytes.NewReader(g.bytes())
}

func (g *Generator) bytes() []byte {
	var frames []string
	switch g.opts.Format {
	case FormatNative:
		frames = g.nativeFrames()
	default:
		frames = g.legacyFrames()
	}

	var b bytes.Buffer
	for _, frame := range frames {
		b.WriteString("data: ")
		b.WriteString(frame)
		b.WriteString("\n\n")
	}
	return b.Bytes()
}

func (g *Generator) legacyFrames() []string {
	id := "chatcmpl-" + uuid.NewString()
	var frames []string

	chunk := func(set func(string) string) {
		frame := `{"object":"chat.completion.chunk","choices":[{"index":0,"delta":{}}]}`
		frame, _ = sjson.Set(frame, "id", id)
		frames = append(frames, set(frame))
	}
	content := func(text string) {
		chunk(func(frame string) string {
			frame, _ = sjson.Set(frame, "choices.0.delta.content", text)
			return frame
		})
	}

	if g.opts.ThinkBlock {
		content("<think>")
		for _, word := range strings.Fields(g.words.Sentence(4, 9)) {
			content(word + " ")
		}
		content("</think>")
	}

	for i := 0; i < g.opts.Sentences; i++ {
		for _, word := range strings.Fields(g.words.Sentence(4, 12)) {
			content(word + " ")
		}
	}

	for i, script := range g.opts.ToolCalls {
		callID := "call_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
		args, err := json.Marshal(script.Args)
		if err != nil {
			args = []byte("{}")
		}

		first := true
		for _, fragment := range g.splitArguments(string(args)) {
			index, name, frag := i, script.Name, fragment
			sendName := first
			first = false
			chunk(func(frame string) string {
				frame, _ = sjson.Set(frame, "choices.0.delta.tool_calls.0.index", index)
				if sendName {
					frame, _ = sjson.Set(frame, "choices.0.delta.tool_calls.0.id", callID)
					frame, _ = sjson.Set(frame, "choices.0.delta.tool_calls.0.type", "function")
					frame, _ = sjson.Set(frame, "choices.0.delta.tool_calls.0.function.name", name)
				}
				frame, _ = sjson.Set(frame, "choices.0.delta.tool_calls.0.function.arguments", frag)
				return frame
			})
		}
	}

	finish := "stop"
	if len(g.opts.ToolCalls) > 0 {
		finish = "tool_calls"
	}
	chunk(func(frame string) string {
		frame, _ = sjson.Set(frame, "choices.0.finish_reason", finish)
		return frame
	})

	frames = append(frames, doneSentinel)
	return frames
}

func (g *Generator) nativeFrames() []string {
	frames := []string{`{"type":"start"}`}

	event := func(typ string, set func(string) string) {
		frame, _ := sjson.Set("{}", "type", typ)
		if set != nil {
			frame = set(frame)
		}
		frames = append(frames, frame)
	}
	delta := func(typ, text string) {
		event(typ, func(frame string) string {
			frame, _ = sjson.Set(frame, "delta", text)
			return frame
		})
	}

	if g.opts.ThinkBlock {
		event("thinking_start", nil)
		for _, word := range strings.Fields(g.words.Sentence(4, 9)) {
			delta("thinking_delta", word+" ")
		}
		event("thinking_end", nil)
	}

	event("text_start", nil)
	for i := 0; i < g.opts.Sentences; i++ {
		for _, word := range strings.Fields(g.words.Sentence(4, 12)) {
			delta("text_delta", word+" ")
		}
	}
	event("text_end", nil)

	for i, script := range g.opts.ToolCalls {
		callID := "call_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
		args, err := json.Marshal(script.Args)
		if err != nil {
			args = []byte("{}")
		}

		event("toolcall_start", nil)
		for _, fragment := range g.splitArguments(string(args)) {
			index, name, frag := i, script.Name, fragment
			event("toolcall_delta", func(frame string) string {
				frame, _ = sjson.Set(frame, "contentIndex", index)
				frame, _ = sjson.Set(frame, "toolCall.id", callID)
				frame, _ = sjson.Set(frame, "toolCall.name", name)
				frame, _ = sjson.Set(frame, "toolCall.arguments", frag)
				return frame
			})
		}
		index := i
		event("toolcall_end", func(frame string) string {
			frame, _ = sjson.Set(frame, "contentIndex", index)
			frame, _ = sjson.Set(frame, "toolCall.id", callID)
			frame, _ = sjson.Set(frame, "toolCall.name", script.Name)
			return frame
		})
	}

	event("done", nil)
	return frames
}

// splitArguments breaks an argument JSON string into streaming fragments.
func (g *Generator) splitArguments(args string) []string {
	if args == "" {
		return nil
	}
	var fragments []string
	for len(args) > 0 {
		n := 1 + g.rng.Intn(7)
		if n > len(args) {
			n = len(args)
		}
		fragments = append(fragments, args[:n])
		args = args[n:]
	}
	return fragments
}

const doneSentinel = "[DONE]"
