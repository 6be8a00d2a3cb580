// Package pipeline provides an [engine.Engine] composed of three independent
// providers: STT for caller transcripts, an LLM for reasoning, and TTS for
// synthesis. The engine wires final transcripts into LLM turns and streams
// LLM text into TTS sentence by sentence, so the first audio chunk leaves
// before the model has finished its reply.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/voxgate/voxgate/internal/engine"
	"github.com/voxgate/voxgate/internal/observe"
	"github.com/voxgate/voxgate/pkg/provider/llm"
	"github.com/voxgate/voxgate/pkg/provider/stt"
	"github.com/voxgate/voxgate/pkg/provider/tts"
)

// Compile-time assertion that Engine satisfies engine.Engine.
var _ engine.Engine = (*Engine)(nil)

const (
	defaultEventBuf    = 64
	defaultTextBuf     = 16
	defaultHistoryMsgs = 20
)

// ErrSessionClosed is returned by session methods after Close.
var ErrSessionClosed = errors.New("pipeline: session closed")

// Option is a functional option for configuring an [Engine].
type Option func(*Engine)

// WithSTTModel selects the recognition model passed to the STT provider.
func WithSTTModel(model string) Option {
	return func(e *Engine) { e.sttModel = model }
}

// WithLanguage sets the BCP-47 recognition language.
func WithLanguage(lang string) Option {
	return func(e *Engine) { e.language = lang }
}

// WithKeywords supplies recognition vocabulary hints, e.g. destination names
// from the transfer table.
func WithKeywords(keywords []string) Option {
	return func(e *Engine) { e.keywords = keywords }
}

// WithVoice selects the synthesis voice.
func WithVoice(v tts.Voice) Option {
	return func(e *Engine) { e.voice = v }
}

// WithMetrics sets the metrics instance and the configured provider names
// recorded as the per-stage "provider" attribute.
func WithMetrics(met *observe.Metrics, sttName, llmName, ttsName string) Option {
	return func(e *Engine) {
		e.met = met
		e.sttName, e.llmName, e.ttsName = sttName, llmName, ttsName
	}
}

// Engine opens one STT session per call and runs LLM and TTS turns on demand.
type Engine struct {
	stt stt.Provider
	llm llm.Provider
	tts tts.Provider

	sttModel string
	language string
	keywords []string
	voice    tts.Voice

	met     *observe.Metrics
	sttName string
	llmName string
	ttsName string
}

// New creates an Engine from the three pipeline stages. Options are applied
// in order.
func New(sttP stt.Provider, llmP llm.Provider, ttsP tts.Provider, opts ...Option) *Engine {
	e := &Engine{stt: sttP, llm: llmP, tts: ttsP}
	for _, opt := range opts {
		opt(e)
	}
	if e.met == nil {
		e.met = observe.DefaultMetrics()
	}
	if e.sttName == "" {
		e.sttName = "stt"
	}
	if e.llmName == "" {
		e.llmName = "llm"
	}
	if e.ttsName == "" {
		e.ttsName = "tts"
	}
	return e
}

// Start opens the STT stream and returns a session ready for caller audio.
func (e *Engine) Start(ctx context.Context, cfg engine.SessionConfig) (engine.Session, error) {
	sttSess, err := e.stt.StartStream(ctx, stt.StreamConfig{
		SampleRate:     cfg.InputSampleRate,
		Language:       e.language,
		Model:          e.sttModel,
		InterimResults: true,
		Keywords:       e.keywords,
	})
	if err != nil {
		e.met.RecordProviderRequest(ctx, e.sttName, "stt", "error")
		e.met.RecordProviderError(ctx, e.sttName, "stt")
		return nil, fmt.Errorf("pipeline: start stt: %w", err)
	}
	e.met.RecordProviderRequest(ctx, e.sttName, "stt", "ok")

	sessCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &Session{
		cfg:     cfg,
		llm:     e.llm,
		tts:     e.tts,
		voice:   e.voice,
		met:     e.met,
		sttName: e.sttName,
		llmName: e.llmName,
		ttsName: e.ttsName,
		sttSess: sttSess,
		events:  make(chan engine.Event, defaultEventBuf),
		ctx:     sessCtx,
		cancel:  cancel,
	}
	s.wg.Add(1)
	go s.forwardTranscripts()
	s.emit(engine.Event{Type: engine.EventReady})
	return s, nil
}

// Compile-time assertion that Session satisfies engine.Session.
var _ engine.Session = (*Session)(nil)

// Session is one call's STT/LLM/TTS composition. At most one agent turn runs
// at a time; starting a new one cancels its predecessor.
type Session struct {
	cfg   engine.SessionConfig
	llm   llm.Provider
	tts   tts.Provider
	voice tts.Voice

	met     *observe.Metrics
	sttName string
	llmName string
	ttsName string

	sttSess stt.SessionHandle
	events  chan engine.Event

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// turns tracks in-flight turn goroutines separately from the
	// transcript forwarder so Wait can synchronize on turn completion
	// while the session is still live.
	turns sync.WaitGroup

	mu           sync.Mutex
	history      []llm.Message
	pendingText  strings.Builder
	awaitingTurn bool
	committedAt  time.Time
	turnCancel   context.CancelFunc
	turnSeq      int
	closed       bool
}

// forwardTranscripts fans STT output into the event stream. A final
// transcript either feeds a waiting turn (EndUtterance arrived first) or is
// buffered until the coordinator commits the utterance.
func (s *Session) forwardTranscripts() {
	defer s.wg.Done()

	partials := s.sttSess.Partials()
	finals := s.sttSess.Finals()
	for partials != nil || finals != nil {
		select {
		case <-s.ctx.Done():
			return
		case t, ok := <-partials:
			if !ok {
				partials = nil
				continue
			}
			s.emit(engine.Event{Type: engine.EventPartialTranscript, Text: t.Text})
		case t, ok := <-finals:
			if !ok {
				finals = nil
				continue
			}
			// Buffer before emitting so an EndUtterance issued in
			// response to this event always finds the text.
			s.acceptFinal(t.Text)
			s.emit(engine.Event{Type: engine.EventFinalTranscript, Text: t.Text})
		}
	}

	if err := s.sttSess.Err(); err != nil {
		s.met.RecordProviderError(context.Background(), s.sttName, "stt")
		s.emit(engine.Event{Type: engine.EventError, Err: fmt.Errorf("pipeline: stt: %w", err)})
	}
}

// acceptFinal buffers final transcript text and starts the turn if the
// coordinator has already committed the utterance.
func (s *Session) acceptFinal(text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	s.mu.Lock()
	if s.pendingText.Len() > 0 {
		s.pendingText.WriteByte(' ')
	}
	s.pendingText.WriteString(strings.TrimSpace(text))
	start := s.awaitingTurn
	var utterance string
	var committedAt time.Time
	if start {
		s.awaitingTurn = false
		utterance = s.pendingText.String()
		s.pendingText.Reset()
		committedAt = s.committedAt
		s.committedAt = time.Time{}
	}
	s.mu.Unlock()

	if start {
		// The coordinator committed the utterance before this final landed;
		// the gap is the STT finalization latency the caller waited out.
		if !committedAt.IsZero() {
			s.met.STTDuration.Record(context.Background(), time.Since(committedAt).Seconds(),
				metric.WithAttributes(observe.Attr("provider", s.sttName)))
		}
		s.startTurn(utterance)
	}
}

// PushAudio forwards one caller frame to the STT session.
func (s *Session) PushAudio(pcm []byte) error {
	return s.sttSess.SendAudio(pcm)
}

// EndUtterance commits the caller's turn. If the final transcript has
// already landed the turn starts immediately; otherwise it starts when the
// next final arrives.
func (s *Session) EndUtterance() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	var utterance string
	if s.pendingText.Len() > 0 {
		utterance = s.pendingText.String()
		s.pendingText.Reset()
	} else {
		s.awaitingTurn = true
		s.committedAt = time.Now()
	}
	s.mu.Unlock()

	if utterance != "" {
		s.startTurn(utterance)
	}
	return nil
}

// Say synthesizes the given text directly, bypassing the LLM. The text is
// recorded as an assistant message so the model knows it was spoken.
func (s *Session) Say(_ context.Context, text string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.turnSeq++
	responseID := fmt.Sprintf("say-%d", s.turnSeq)
	turnCtx, cancel := context.WithCancel(s.ctx)
	s.replaceTurnLocked(cancel)
	s.history = append(s.history, llm.Message{Role: "assistant", Content: text})
	s.trimHistoryLocked()
	s.mu.Unlock()

	s.turns.Add(1)
	go func() {
		defer s.turns.Done()
		defer cancel()
		s.emit(engine.Event{Type: engine.EventResponseStarted, ResponseID: responseID})
		s.emit(engine.Event{Type: engine.EventAgentText, Text: text, ResponseID: responseID})
		if err := s.synthesize(turnCtx, responseID, text); err != nil && turnCtx.Err() == nil {
			s.emit(engine.Event{Type: engine.EventError, Err: err})
		}
		s.emit(engine.Event{Type: engine.EventResponseEnded, ResponseID: responseID})
	}()
	return nil
}

// synthesize runs one complete TTS stream for fixed text.
func (s *Session) synthesize(ctx context.Context, responseID, text string) error {
	textCh := make(chan string, 1)
	textCh <- text
	close(textCh)

	audioCh, err := s.tts.SynthesizeStream(ctx, textCh, tts.StreamConfig{
		Voice:      s.voice,
		SampleRate: s.cfg.OutputSampleRate,
	})
	if err != nil {
		s.met.RecordProviderRequest(ctx, s.ttsName, "tts", "error")
		s.met.RecordProviderError(ctx, s.ttsName, "tts")
		return fmt.Errorf("pipeline: tts: %w", err)
	}
	s.met.RecordProviderRequest(ctx, s.ttsName, "tts", "ok")
	ttsStart := time.Now()
	first := true
	for chunk := range audioCh {
		if first {
			first = false
			s.met.TTSDuration.Record(ctx, time.Since(ttsStart).Seconds(),
				metric.WithAttributes(observe.Attr("provider", s.ttsName)))
		}
		s.emit(engine.Event{Type: engine.EventAudio, Audio: chunk, ResponseID: responseID})
	}
	return nil
}

// CancelResponse aborts the in-flight turn, if any. Late TTS chunks stop at
// the turn context.
func (s *Session) CancelResponse() error {
	s.mu.Lock()
	cancel := s.turnCancel
	s.turnCancel = nil
	s.awaitingTurn = false
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

// SubmitToolResult records the tool outcome and runs a continuation turn so
// the model can verbalize it.
func (s *Session) SubmitToolResult(_ context.Context, callID, _, result string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.history = append(s.history, llm.Message{Role: "tool", Content: result, ToolCallID: callID})
	s.mu.Unlock()

	s.startTurn("")
	return nil
}

// startTurn launches one agent turn. utterance, when non-empty, is appended
// as the user message; an empty utterance continues from the current history
// (tool-result continuation).
func (s *Session) startTurn(utterance string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if utterance != "" {
		s.history = append(s.history, llm.Message{Role: "user", Content: utterance})
	}
	s.trimHistoryLocked()
	messages := make([]llm.Message, len(s.history))
	copy(messages, s.history)

	s.turnSeq++
	responseID := fmt.Sprintf("turn-%d", s.turnSeq)
	turnCtx, cancel := context.WithCancel(s.ctx)
	s.replaceTurnLocked(cancel)
	s.mu.Unlock()

	s.turns.Add(1)
	go func() {
		defer s.turns.Done()
		defer cancel()
		s.runTurn(turnCtx, responseID, messages)
	}()
}

// runTurn streams one LLM completion, forwarding sentences to TTS as they
// complete and surfacing tool calls to the coordinator.
func (s *Session) runTurn(ctx context.Context, responseID string, messages []llm.Message) {
	req := llm.CompletionRequest{
		Messages:     messages,
		Tools:        s.cfg.Tools,
		Temperature:  s.cfg.Temperature,
		MaxTokens:    s.cfg.MaxTokens,
		SystemPrompt: s.cfg.SystemPrompt,
	}
	llmStart := time.Now()
	chunks, err := s.llm.StreamCompletion(ctx, req)
	if err != nil {
		s.met.RecordProviderRequest(ctx, s.llmName, "llm", "error")
		s.met.RecordProviderError(ctx, s.llmName, "llm")
		s.emit(engine.Event{Type: engine.EventError, Err: fmt.Errorf("pipeline: llm: %w", err)})
		return
	}
	s.met.RecordProviderRequest(ctx, s.llmName, "llm", "ok")

	textCh := make(chan string, defaultTextBuf)
	audioCh, err := s.tts.SynthesizeStream(ctx, textCh, tts.StreamConfig{
		Voice:      s.voice,
		SampleRate: s.cfg.OutputSampleRate,
	})
	if err != nil {
		close(textCh)
		drainChunks(chunks)
		s.met.RecordProviderRequest(ctx, s.ttsName, "tts", "error")
		s.met.RecordProviderError(ctx, s.ttsName, "tts")
		s.emit(engine.Event{Type: engine.EventError, Err: fmt.Errorf("pipeline: tts: %w", err)})
		return
	}
	s.met.RecordProviderRequest(ctx, s.ttsName, "tts", "ok")
	ttsStart := time.Now()

	// Forward synthesized audio concurrently with LLM consumption so the
	// first sentence plays while later ones are still generating.
	audioDone := make(chan struct{})
	go func() {
		defer close(audioDone)
		firstAudio := true
		for chunk := range audioCh {
			if firstAudio {
				firstAudio = false
				s.met.TTSDuration.Record(ctx, time.Since(ttsStart).Seconds(),
					metric.WithAttributes(observe.Attr("provider", s.ttsName)))
			}
			s.emit(engine.Event{Type: engine.EventAudio, Audio: chunk, ResponseID: responseID})
		}
	}()

	var (
		full      strings.Builder
		sentence  strings.Builder
		started   bool
		toolCalls []llm.ToolCall
		streamErr error
	)
	for chunk := range chunks {
		if chunk.Err != nil {
			streamErr = chunk.Err
			break
		}
		if chunk.Text != "" {
			if !started {
				started = true
				s.met.LLMDuration.Record(ctx, time.Since(llmStart).Seconds(),
					metric.WithAttributes(observe.Attr("provider", s.llmName)))
				s.emit(engine.Event{Type: engine.EventResponseStarted, ResponseID: responseID})
			}
			s.emit(engine.Event{Type: engine.EventAgentText, Text: chunk.Text, ResponseID: responseID})
			full.WriteString(chunk.Text)
			forwardSentences(ctx, &sentence, chunk.Text, textCh)
		}
		toolCalls = append(toolCalls, chunk.ToolCalls...)
	}
	if rest := strings.TrimSpace(sentence.String()); rest != "" && streamErr == nil {
		sendText(ctx, textCh, rest)
	}
	close(textCh)
	drainChunks(chunks)
	<-audioDone

	if streamErr != nil && ctx.Err() == nil {
		s.met.RecordProviderError(ctx, s.llmName, "llm")
		s.emit(engine.Event{Type: engine.EventError, Err: fmt.Errorf("pipeline: llm stream: %w", streamErr)})
	}

	s.mu.Lock()
	if full.Len() > 0 || len(toolCalls) > 0 {
		s.history = append(s.history, llm.Message{
			Role:      "assistant",
			Content:   full.String(),
			ToolCalls: toolCalls,
		})
		s.trimHistoryLocked()
	}
	s.mu.Unlock()

	if started {
		s.emit(engine.Event{Type: engine.EventResponseEnded, ResponseID: responseID})
	}
	for i := range toolCalls {
		tc := toolCalls[i]
		s.emit(engine.Event{Type: engine.EventToolCall, ToolCall: &tc, ResponseID: responseID})
	}
}

// replaceTurnLocked cancels the previous turn and records the new one's
// cancel func. Must be called with s.mu held.
func (s *Session) replaceTurnLocked(cancel context.CancelFunc) {
	if s.turnCancel != nil {
		s.turnCancel()
	}
	s.turnCancel = cancel
}

// trimHistoryLocked bounds the rolling history. The window never starts on a
// tool message, which would orphan it from its originating call.
func (s *Session) trimHistoryLocked() {
	limit := s.cfg.HistoryDepth
	if limit <= 0 {
		limit = defaultHistoryMsgs
	}
	if len(s.history) <= limit {
		return
	}
	trimmed := s.history[len(s.history)-limit:]
	for len(trimmed) > 0 && trimmed[0].Role == "tool" {
		trimmed = trimmed[1:]
	}
	s.history = trimmed
}

func (s *Session) emit(evt engine.Event) {
	select {
	case s.events <- evt:
	case <-s.ctx.Done():
	}
}

// Events returns the ordered event stream.
func (s *Session) Events() <-chan engine.Event { return s.events }

// Wait blocks until all background turn goroutines have finished. Intended
// for tests.
func (s *Session) Wait() { s.turns.Wait() }

// Close cancels any in-flight turn, closes the STT session, and ends the
// event stream.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.turnCancel != nil {
		s.turnCancel()
		s.turnCancel = nil
	}
	s.mu.Unlock()

	s.cancel()
	err := s.sttSess.Close()
	s.turns.Wait()
	s.wg.Wait()
	close(s.events)
	if err != nil {
		return fmt.Errorf("pipeline: close stt: %w", err)
	}
	return nil
}

// forwardSentences appends text to the sentence accumulator and flushes every
// completed sentence into out, keeping the unfinished tail buffered.
func forwardSentences(ctx context.Context, acc *strings.Builder, text string, out chan<- string) {
	acc.WriteString(text)
	for {
		buffered := acc.String()
		idx := firstSentenceBoundary(buffered)
		if idx < 0 {
			return
		}
		sentence := strings.TrimSpace(buffered[:idx+1])
		acc.Reset()
		acc.WriteString(buffered[idx+1:])
		if sentence != "" {
			sendText(ctx, out, sentence)
		}
	}
}

// firstSentenceBoundary returns the index of the first sentence-terminating
// punctuation mark that is followed by whitespace or end of string, or -1.
func firstSentenceBoundary(s string) int {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '.', '!', '?':
			if i == len(s)-1 || s[i+1] == ' ' || s[i+1] == '\n' || s[i+1] == '\t' {
				return i
			}
		}
	}
	return -1
}

func sendText(ctx context.Context, out chan<- string, text string) {
	select {
	case out <- text:
	case <-ctx.Done():
	}
}

// drainChunks consumes any remaining chunks so provider goroutines do not
// block on a send after the consumer stops early.
func drainChunks(ch <-chan llm.Chunk) {
	for range ch {
	}
}
