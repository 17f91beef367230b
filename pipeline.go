package llmstream

import (
	"strings"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
)

// Pipeline is an incremental parser for one provider response stream. It is
// purely synchronous: Push is a function of the buffered state plus the new
// chunk and must be called sequentially by the owning transport loop. A
// Pipeline holds no external resources and must not be shared across
// streams; create a fresh instance per stream.
type Pipeline struct {
	model    string
	provider string
	log      logrus.FieldLogger

	// pendingBytes holds trailing bytes that do not yet form a complete
	// UTF-8 sequence; multi-byte characters may be split across chunks.
	pendingBytes []byte

	// buffer holds decoded text awaiting a newline.
	buffer string

	// pendingData buffers a multi-line SSE data frame until the blank line
	// that terminates it.
	pendingData []string

	think thinkSplitter
	calls *toolCallAccumulator

	// sawNativeDelta records whether any native delta event streamed, so a
	// native done event does not re-emit content that already streamed.
	sawNativeDelta bool

	flushed bool

	discardedCount   int
	discardedSamples []string
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithModel sets the model id used in generated error messages and
// metadata.
func WithModel(model string) Option {
	return func(p *Pipeline) { p.model = model }
}

// WithProvider sets the provider name attached to fatal stream errors.
func WithProvider(provider string) Option {
	return func(p *Pipeline) { p.provider = provider }
}

// WithLogger sets the logger used for debug-level diagnostics. Defaults to
// logrus.StandardLogger().
func WithLogger(log logrus.FieldLogger) Option {
	return func(p *Pipeline) { p.log = log }
}

// WithSanitizerProfile overrides the embedded tool-name sanitizer profile.
func WithSanitizerProfile(profile *SanitizerProfile) Option {
	return func(p *Pipeline) {
		if profile != nil {
			p.calls.profile = profile
		}
	}
}

// NewPipeline creates a pipeline for a single stream.
func NewPipeline(opts ...Option) *Pipeline {
	p := &Pipeline{
		log: logrus.StandardLogger(),
	}
	p.calls = newToolCallAccumulator(DefaultSanitizerProfile(), p.log)
	for _, opt := range opts {
		opt(p)
	}
	p.calls.log = p.log
	return p
}

// Push ingests one raw chunk and returns the events extracted from every
// complete line it closed. A returned error is a fatal provider stream
// error; the pipeline must not be resumed after one.
func (p *Pipeline) Push(chunk []byte) (*Result, error) {
	p.buffer += p.decode(chunk)

	res := &Result{}
	for {
		idx := strings.IndexByte(p.buffer, '\n')
		if idx < 0 {
			break
		}
		line := p.buffer[:idx]
		p.buffer = p.buffer[idx+1:]

		events, done, err := p.processLine(line, false)
		res.Events = append(res.Events, events...)
		res.Done = res.Done || done
		if err != nil {
			return res, err
		}
	}
	return res, nil
}

// Flush finalizes the stream after the transport signals end-of-stream: the
// trailing partial line is processed with final-flush semantics, any pending
// multi-line frame is drained, and every still-open tool call is
// force-finalized. Safe to call on a pipeline that never saw a chunk, and
// idempotent on repeat calls.
func (p *Pipeline) Flush() ([]StreamEvent, error) {
	if p.flushed {
		return nil, nil
	}
	p.flushed = true

	// Whatever bytes remain are emitted as-is; a truncated multi-byte
	// sequence at the very end of the stream cannot be completed anymore.
	if len(p.pendingBytes) > 0 {
		p.buffer += string(p.pendingBytes)
		p.pendingBytes = nil
	}

	var events []StreamEvent
	if p.buffer != "" {
		lines := strings.Split(p.buffer, "\n")
		p.buffer = ""
		for _, line := range lines {
			lineEvents, _, err := p.processLine(line, true)
			events = append(events, lineEvents...)
			if err != nil {
				return events, err
			}
		}
	}

	frameEvents, _, err := p.drainPendingData(true)
	events = append(events, frameEvents...)
	if err != nil {
		return events, err
	}

	events = append(events, p.calls.flush()...)
	return events, nil
}

// decode appends the chunk to the undecoded remainder and returns the
// longest prefix that forms complete UTF-8 sequences. Trailing bytes that
// may be the start of a multi-byte character stay buffered for the next
// chunk.
func (p *Pipeline) decode(chunk []byte) string {
	p.pendingBytes = append(p.pendingBytes, chunk...)

	validLen := 0
	for i := 0; i < len(p.pendingBytes); {
		r, size := utf8.DecodeRune(p.pendingBytes[i:])
		if r == utf8.RuneError && size == 1 {
			if len(p.pendingBytes)-i < utf8.UTFMax {
				// Possibly an incomplete trailing sequence.
				break
			}
			// Definitely invalid; pass the byte through.
			i++
			validLen = i
		} else {
			i += size
			validLen = i
		}
	}

	if validLen == 0 {
		return ""
	}
	text := string(p.pendingBytes[:validLen])
	p.pendingBytes = append(p.pendingBytes[:0], p.pendingBytes[validLen:]...)
	return text
}

// processLine applies the SSE framing rules to one logical line.
func (p *Pipeline) processLine(line string, finalFlush bool) ([]StreamEvent, bool, error) {
	line = strings.TrimSuffix(line, "\r")

	switch {
	case line == "":
		// Blank line terminates the current data frame.
		return p.drainPendingData(finalFlush)

	case strings.HasPrefix(line, ":"):
		// SSE comment.
		return nil, false, nil

	case strings.HasPrefix(line, "event:"),
		strings.HasPrefix(line, "id:"),
		strings.HasPrefix(line, "retry:"):
		// SSE metadata. Event dispatch is inferred from the payload's own
		// type field, not the event: line.
		return nil, false, nil

	case strings.HasPrefix(line, "data:"):
		data := strings.TrimPrefix(line, "data:")
		data = strings.TrimPrefix(data, " ")
		p.pendingData = append(p.pendingData, data)
		return nil, false, nil

	case len(p.pendingData) > 0:
		// Some providers wrap JSON across raw lines without repeating the
		// data: prefix; treat the line as a continuation.
		p.pendingData = append(p.pendingData, line)
		return nil, false, nil

	default:
		return p.processPayload(line, finalFlush)
	}
}

// drainPendingData flushes the buffered multi-line data frame, if any, as
// one payload.
func (p *Pipeline) drainPendingData(finalFlush bool) ([]StreamEvent, bool, error) {
	if len(p.pendingData) == 0 {
		return nil, false, nil
	}
	payload := strings.Join(p.pendingData, "\n")
	p.pendingData = nil
	return p.processPayload(payload, finalFlush)
}
