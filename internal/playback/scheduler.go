// Package playback turns bursty agent-audio chunks into a steady 20 ms frame
// cadence on the wire. The scheduler owns the start gate, watermark pausing,
// response generations and the stall watchdogs; AGC and the ARI file
// fallback live beside it.
package playback

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/voxgate/voxgate/pkg/audio"
)

// EndReason records why a response stream stopped emitting.
type EndReason string

const (
	EndCompleted EndReason = "completed"
	EndCancelled EndReason = "cancelled"
	EndFallback  EndReason = "fallback"
	EndTimeout   EndReason = "timeout"
	EndHangup    EndReason = "hangup"
)

// Sink receives paced PCM16 frames. The transports implement it.
type Sink interface {
	WriteAudio(pcm []byte) error
}

// Config tunes a Scheduler. Millisecond fields come straight from the
// streaming config group.
type Config struct {
	SampleRate int
	Sink       Sink

	JitterBufferMs       int
	MinStartMs           int
	GreetingMinStartMs   int
	LowWatermarkMs       int
	EmptyBackoffTicksMax int

	// ConnectionTimeoutMs ends a response when no chunk arrives for this
	// long mid-stream. FallbackTimeoutMs gives up on streaming before the
	// first chunk, letting the engine fall back to file playback.
	ConnectionTimeoutMs int
	FallbackTimeoutMs   int

	// AGC is optional loudness normalization applied at enqueue.
	AGC *AGC

	// OnStreamEnd is called once per response when it stops emitting, with
	// the generation and the reason. Called from the pacing goroutine.
	OnStreamEnd func(gen uint64, reason EndReason)
}

type schedState int

const (
	stateIdle schedState = iota
	stateGating
	statePlaying
	statePaused
)

type frame struct {
	gen  uint64
	pcm  []byte
	last bool
}

// Scheduler paces one call's downstream audio. A response begins with
// BeginResponse, receives chunks via Enqueue, and finishes via
// FinishResponse or CancelResponse. Frames whose generation is stale are
// discarded at dequeue, never played.
type Scheduler struct {
	cfg        Config
	frameBytes int
	frameMs    int

	mu           sync.Mutex
	state        schedState
	gen          uint64
	greeting     bool
	queue        []frame
	sawLast      bool
	silenceTicks int
	idleTicks    int // ticks since the last enqueue for the active response

	partial []byte // carry for chunks that are not frame aligned

	silence []byte

	stopOnce sync.Once
	done     chan struct{}
}

// NewScheduler creates a paced scheduler. Run must be called to start
// emitting.
func NewScheduler(cfg Config) *Scheduler {
	fb := audio.FrameBytesPCM16(cfg.SampleRate)
	return &Scheduler{
		cfg:        cfg,
		frameBytes: fb,
		frameMs:    int(audio.FrameDuration / time.Millisecond),
		silence:    make([]byte, fb),
		done:       make(chan struct{}),
	}
}

// Run emits one frame per 20 ms tick until ctx is cancelled or Stop is
// called. The ticker is monotonic, so wall-clock jumps do not skew pacing.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(audio.FrameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		case <-ticker.C:
			s.Tick()
		}
	}
}

// Stop halts the pacing loop. Safe to call multiple times.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

// BeginResponse starts a new response stream and returns its generation.
// greeting selects the lower greeting start gate.
func (s *Scheduler) BeginResponse(greeting bool) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.gen++
	s.greeting = greeting
	s.state = stateGating
	s.sawLast = false
	s.silenceTicks = 0
	s.idleTicks = 0
	s.queue = s.queue[:0]
	s.partial = s.partial[:0]
	return s.gen
}

// Enqueue appends one PCM16 chunk to the response with generation gen.
// Chunks for a stale generation are dropped. Chunks are split into 20 ms
// frames; a trailing partial frame is carried until the next chunk or
// FinishResponse pads it.
func (s *Scheduler) Enqueue(gen uint64, pcm []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen || s.state == stateIdle {
		return
	}
	s.idleTicks = 0

	data := pcm
	if len(s.partial) > 0 {
		data = append(s.partial, pcm...)
		s.partial = nil
	}
	for len(data) >= s.frameBytes {
		f := make([]byte, s.frameBytes)
		copy(f, data[:s.frameBytes])
		if s.cfg.AGC != nil {
			s.cfg.AGC.Process(f)
		}
		s.queue = append(s.queue, frame{gen: gen, pcm: f})
		data = data[s.frameBytes:]
	}
	if len(data) > 0 {
		s.partial = append(s.partial[:0], data...)
	}
}

// FinishResponse marks the response complete. Remaining buffered frames
// still play out; OnStreamEnd fires when the queue drains.
func (s *Scheduler) FinishResponse(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen || s.state == stateIdle {
		return
	}
	if len(s.partial) > 0 {
		f := make([]byte, s.frameBytes)
		copy(f, s.partial)
		if s.cfg.AGC != nil {
			s.cfg.AGC.Process(f)
		}
		s.queue = append(s.queue, frame{gen: gen, pcm: f})
		s.partial = s.partial[:0]
	}
	s.sawLast = true
}

// CancelResponse bumps the generation and discards everything buffered for
// the active response. Returns the new generation. Late chunks tagged with
// the old generation are dropped on arrival.
func (s *Scheduler) CancelResponse() uint64 {
	s.mu.Lock()
	active := s.state != stateIdle
	gen := s.gen
	s.gen++
	newGen := s.gen
	s.state = stateIdle
	s.queue = s.queue[:0]
	s.partial = s.partial[:0]
	s.sawLast = false
	s.mu.Unlock()

	if active {
		s.emitEnd(gen, EndCancelled)
	}
	return newGen
}

// Abort ends any active response with the given reason without playing
// buffered audio. Used on hangup and teardown.
func (s *Scheduler) Abort(reason EndReason) {
	s.mu.Lock()
	active := s.state != stateIdle
	gen := s.gen
	s.state = stateIdle
	s.queue = s.queue[:0]
	s.partial = s.partial[:0]
	s.sawLast = false
	s.mu.Unlock()

	if active {
		s.emitEnd(gen, reason)
	}
}

// BufferedMs returns the playable audio currently queued, in milliseconds.
func (s *Scheduler) BufferedMs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bufferedMsLocked()
}

// Generation returns the active response generation.
func (s *Scheduler) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// Tick advances the scheduler by one 20 ms step. Run calls it on the
// ticker; tests call it directly.
func (s *Scheduler) Tick() {
	s.mu.Lock()

	var (
		out     []byte
		endGen  uint64
		endWith EndReason
	)

	switch s.state {
	case stateIdle:
		s.mu.Unlock()
		return

	case stateGating:
		s.idleTicks++
		if s.bufferedMsLocked() >= s.startGateMsLocked() || (s.sawLast && len(s.queue) > 0) {
			s.state = statePlaying
			out = s.popLocked()
			break
		}
		if len(s.queue) == 0 && !s.sawLast &&
			s.cfg.FallbackTimeoutMs > 0 && s.idleTicks*s.frameMs >= s.cfg.FallbackTimeoutMs {
			endGen, endWith = s.gen, EndFallback
			s.resetLocked()
		}

	case statePlaying:
		s.idleTicks++
		if s.sawLast {
			if len(s.queue) == 0 {
				endGen, endWith = s.gen, EndCompleted
				s.resetLocked()
				break
			}
			// Tail of a finished response drains regardless of watermark.
			out = s.popLocked()
			break
		}

		low := len(s.queue) == 0 || s.bufferedMsLocked() < s.cfg.LowWatermarkMs
		if low {
			if s.cfg.ConnectionTimeoutMs > 0 && s.idleTicks*s.frameMs >= s.cfg.ConnectionTimeoutMs {
				endGen, endWith = s.gen, EndTimeout
				s.resetLocked()
				break
			}
			if s.silenceTicks < s.cfg.EmptyBackoffTicksMax {
				s.silenceTicks++
				out = s.silence
				break
			}
			// Watermark pause: wait for refill.
			s.state = statePaused
			break
		}
		s.silenceTicks = 0
		out = s.popLocked()

	case statePaused:
		s.idleTicks++
		if s.sawLast && len(s.queue) == 0 {
			endGen, endWith = s.gen, EndCompleted
			s.resetLocked()
			break
		}
		refilled := len(s.queue) > 0 &&
			(s.sawLast || s.bufferedMsLocked() >= s.refillMsLocked())
		if refilled {
			s.state = statePlaying
			s.silenceTicks = 0
			out = s.popLocked()
			break
		}
		if s.cfg.ConnectionTimeoutMs > 0 && s.idleTicks*s.frameMs >= s.cfg.ConnectionTimeoutMs {
			endGen, endWith = s.gen, EndTimeout
			s.resetLocked()
		}
	}

	sink := s.cfg.Sink
	s.mu.Unlock()

	if out != nil && sink != nil {
		if err := sink.WriteAudio(out); err != nil {
			slog.Debug("playback: sink write failed", "error", err)
		}
	}
	if endWith != "" {
		s.emitEnd(endGen, endWith)
	}
}

// popLocked removes and returns the next playable frame, discarding stale
// generations.
func (s *Scheduler) popLocked() []byte {
	for len(s.queue) > 0 {
		f := s.queue[0]
		s.queue = s.queue[1:]
		if f.gen != s.gen {
			continue
		}
		return f.pcm
	}
	return nil
}

func (s *Scheduler) bufferedMsLocked() int {
	n := 0
	for _, f := range s.queue {
		if f.gen == s.gen {
			n++
		}
	}
	return n * s.frameMs
}

// startGateMsLocked returns the effective start threshold: the configured
// gate clamped to the jitter-buffer capacity so an undersized buffer cannot
// stall the gate forever.
func (s *Scheduler) startGateMsLocked() int {
	gate := s.cfg.MinStartMs
	if s.greeting && s.cfg.GreetingMinStartMs > 0 {
		gate = s.cfg.GreetingMinStartMs
	}
	if s.cfg.JitterBufferMs > 0 && gate > s.cfg.JitterBufferMs {
		gate = s.cfg.JitterBufferMs
	}
	if gate < s.frameMs {
		gate = s.frameMs
	}
	return gate
}

// refillMsLocked is the buffered level required to resume after a watermark
// pause, clamped to the jitter-buffer capacity like the start gate.
func (s *Scheduler) refillMsLocked() int {
	refill := s.cfg.LowWatermarkMs
	if s.cfg.JitterBufferMs > 0 && refill > s.cfg.JitterBufferMs {
		refill = s.cfg.JitterBufferMs
	}
	if refill < s.frameMs {
		refill = s.frameMs
	}
	return refill
}

func (s *Scheduler) resetLocked() {
	s.state = stateIdle
	s.queue = s.queue[:0]
	s.partial = s.partial[:0]
	s.sawLast = false
	s.silenceTicks = 0
}

func (s *Scheduler) emitEnd(gen uint64, reason EndReason) {
	if s.cfg.OnStreamEnd != nil {
		s.cfg.OnStreamEnd(gen, reason)
	}
}
