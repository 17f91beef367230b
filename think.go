package llmstream

import "strings"

// Think-block delimiters. Freeform content from some providers carries
// inline reasoning wrapped in these tags; the delimiters may span chunk
// boundaries (opening tag in one chunk, closing tag in a later one).
const (
	thinkOpenTag  = "<think>"
	thinkCloseTag = "</think>"
)

// thinkSplitter routes freeform text into content vs reasoning events based
// on inline <think>...</think> delimiters. It is a single-pass scanner with
// one bit of cross-call state; calls must happen in chunk-arrival order.
// There is no look-ahead: a trailing unterminated segment is emitted as
// whichever type the current state indicates and the next call continues
// the scan.
type thinkSplitter struct {
	inside bool
}

// split scans text and appends the resulting content/reasoning events to
// dst, returning the extended slice.
func (s *thinkSplitter) split(dst []StreamEvent, text string) []StreamEvent {
	for text != "" {
		if !s.inside {
			idx := strings.Index(text, thinkOpenTag)
			if idx < 0 {
				return appendTextEvent(dst, EventContent, text)
			}
			dst = appendTextEvent(dst, EventContent, text[:idx])
			text = text[idx+len(thinkOpenTag):]
			s.inside = true
			continue
		}

		idx := strings.Index(text, thinkCloseTag)
		if idx < 0 {
			return appendTextEvent(dst, EventReasoning, text)
		}
		dst = appendTextEvent(dst, EventReasoning, text[:idx])
		text = text[idx+len(thinkCloseTag):]
		s.inside = false
	}
	return dst
}

func appendTextEvent(dst []StreamEvent, typ EventType, text string) []StreamEvent {
	if text == "" {
		return dst
	}
	return append(dst, StreamEvent{Type: typ, Text: text})
}
