package anthropic

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/vaultnotes/llmstream"
)

// StreamResult is one element of the channel returned by StreamEvents:
// either a normalized event or a terminal error.
type StreamResult struct {
	Event llmstream.StreamEvent
	Err   error
}

// StreamEvents drains an Anthropic SDK message stream into a channel of
// normalized events. The channel is closed when the stream completes or an
// error is emitted; an error is always the last element.
//
// Usage:
//
//	stream := client.Messages.NewStreaming(ctx, params)
//	for res := range anthropic.StreamEvents(ctx, stream) {
//		if res.Err != nil { return res.Err }
//		render(res.Event)
//	}
func StreamEvents(ctx context.Context, stream *ssestream.Stream[anthropic.MessageStreamEventUnion], opts ...llmstream.Option) <-chan StreamResult {
	out := make(chan StreamResult, 10) // buffered to prevent blocking

	go func() {
		defer close(out)

		adapter := NewAdapter(opts...)

		emit := func(events []llmstream.StreamEvent) bool {
			for _, event := range events {
				select {
				case <-ctx.Done():
					out <- StreamResult{Err: ctx.Err()}
					return false
				case out <- StreamResult{Event: event}:
				}
			}
			return true
		}

		for stream.Next() {
			events, err := adapter.HandleEvent(stream.Current())
			if err != nil {
				out <- StreamResult{Err: err}
				return
			}
			if !emit(events) {
				return
			}
		}

		if err := stream.Err(); err != nil {
			out <- StreamResult{Err: fmt.Errorf("anthropic streaming error: %w", err)}
			return
		}

		events, err := adapter.Finish()
		if err != nil {
			out <- StreamResult{Err: err}
			return
		}
		emit(events)
	}()

	return out
}
