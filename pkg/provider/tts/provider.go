// Package tts defines the Provider interface for Text-to-Speech backends used
// as the synthesis stage of a modular pipeline.
//
// A TTS provider wraps a speech synthesis service (e.g., ElevenLabs or a local
// Piper instance) and presents a uniform streaming interface. The primary
// entry point is SynthesizeStream, which accepts a channel of text fragments
// and returns a channel of raw PCM audio bytes as they become available,
// letting LLM output pipe straight into synthesis without waiting for the
// full reply.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Voice identifies a synthesis voice and its tuning parameters.
type Voice struct {
	// ID is the provider-assigned voice identifier.
	ID string

	// Name is the human-readable voice name, for logs and config.
	Name string

	// Stability and SimilarityBoost tune synthesis on providers that support
	// them. Zero values request the provider defaults.
	Stability       float64
	SimilarityBoost float64
}

// StreamConfig describes the requested output format for a synthesis stream.
type StreamConfig struct {
	// Voice selects the synthesis voice. Voice.ID must be non-empty for
	// providers with voice catalogues.
	Voice Voice

	// SampleRate is the requested PCM16 output rate in Hz. Zero means the
	// provider default.
	SampleRate int
}

// Provider is the abstraction over any TTS backend.
//
// Implementations must be safe for concurrent use. One synthesis stream runs
// per agent response; cancelling the context aborts the stream on barge-in.
type Provider interface {
	// SynthesizeStream consumes text fragments from the text channel and
	// returns a channel that emits raw PCM16 audio byte slices as they are
	// synthesised.
	//
	// The returned audio channel is closed by the implementation when all
	// text has been synthesised or when ctx is cancelled. The caller must
	// drain the audio channel to avoid blocking the provider's internal
	// goroutines. Closing the text channel flushes any buffered synthesis.
	//
	// Returns a non-nil error only if the stream cannot be started. Errors
	// during synthesis are signalled by closing the audio channel early;
	// callers should check ctx.Err() to distinguish cancellation from
	// provider failure.
	SynthesizeStream(ctx context.Context, text <-chan string, cfg StreamConfig) (<-chan []byte, error)
}
