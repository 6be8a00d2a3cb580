// Package mock provides test doubles for the tts package interfaces.
//
// Use Provider to script the PCM chunks a synthesis stream emits. The mock
// echoes one scripted audio chunk per consumed text fragment, which lets
// tests assert on pipelining behaviour.
package mock

import (
	"context"
	"sync"

	"github.com/voxgate/voxgate/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Provider.SynthesizeStream.
type SynthesizeCall struct {
	// Cfg is the StreamConfig passed to SynthesizeStream.
	Cfg tts.StreamConfig
	// Fragments collects the text fragments consumed from the text channel.
	// Populated as the stream runs; read it only after the audio channel has
	// closed.
	Fragments []string
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// AudioPerFragment is the PCM chunk emitted for each consumed text
	// fragment. If nil, a 320-byte zero chunk is used.
	AudioPerFragment []byte

	// SynthesizeErr, if non-nil, is returned as the error from
	// SynthesizeStream.
	SynthesizeErr error

	// Calls records every call to SynthesizeStream.
	Calls []*SynthesizeCall
}

// SynthesizeStream records the call and emits AudioPerFragment for each text
// fragment until the text channel closes.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, cfg tts.StreamConfig) (<-chan []byte, error) {
	p.mu.Lock()
	if p.SynthesizeErr != nil {
		err := p.SynthesizeErr
		p.mu.Unlock()
		return nil, err
	}
	call := &SynthesizeCall{Cfg: cfg}
	p.Calls = append(p.Calls, call)
	chunk := p.AudioPerFragment
	p.mu.Unlock()

	if chunk == nil {
		chunk = make([]byte, 320)
	}

	audio := make(chan []byte, 64)
	go func() {
		defer close(audio)
		for {
			select {
			case fragment, ok := <-text:
				if !ok {
					return
				}
				p.mu.Lock()
				call.Fragments = append(call.Fragments, fragment)
				p.mu.Unlock()
				out := make([]byte, len(chunk))
				copy(out, chunk)
				select {
				case audio <- out:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return audio, nil
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)
