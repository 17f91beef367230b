package llmstream

const (
	// maxDiscardSamples bounds sample retention so a stream of garbage
	// cannot grow memory without limit.
	maxDiscardSamples = 5

	// maxDiscardSampleLen is the retained prefix length, in characters.
	maxDiscardSampleLen = 240
)

// Diagnostics reports payloads the pipeline could not interpret. This is
// operator-facing debugging data, not part of the functional contract.
type Diagnostics struct {
	// DiscardedPayloadCount is the true number of discarded payloads.
	DiscardedPayloadCount int

	// DiscardedPayloadSamples holds at most five prefixes of discarded
	// payloads, each at most 240 characters.
	DiscardedPayloadSamples []string
}

// Diagnostics returns a snapshot of the discard counters.
func (p *Pipeline) Diagnostics() Diagnostics {
	samples := make([]string, len(p.discardedSamples))
	copy(samples, p.discardedSamples)
	return Diagnostics{
		DiscardedPayloadCount:   p.discardedCount,
		DiscardedPayloadSamples: samples,
	}
}

// recordDiscard counts an unparseable or unrecognized payload. Malformed
// payloads are never fatal: providers send heartbeats and partial frames
// that must not crash the consumer.
func (p *Pipeline) recordDiscard(payload string) {
	p.discardedCount++
	if len(p.discardedSamples) < maxDiscardSamples {
		p.discardedSamples = append(p.discardedSamples, truncateRunes(payload, maxDiscardSampleLen))
	}
	p.log.WithField("payload", truncateRunes(payload, maxDiscardSampleLen)).
		Debug("llmstream: discarding unparseable stream payload")
}

func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
