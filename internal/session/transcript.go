package session

import (
	"strings"
	"sync"
	"time"
)

// TranscriptEntry is one finalized line of the conversation.
type TranscriptEntry struct {
	Role string // "caller" or "agent"
	Text string
	At   time.Time
}

// Transcript accumulates the finalized conversation. Caller lines come from
// final transcripts only, never partials; agent lines are the concatenated
// text chunks of one response, flushed when the response ends. Safe for
// concurrent use because the email tools render it from tool goroutines.
type Transcript struct {
	mu      sync.Mutex
	entries []TranscriptEntry
	agent   strings.Builder
}

// NewTranscript creates an empty transcript.
func NewTranscript() *Transcript {
	return &Transcript{}
}

// AddCaller appends one finalized caller utterance. Blank text is ignored.
func (t *Transcript) AddCaller(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, TranscriptEntry{Role: "caller", Text: text, At: time.Now()})
}

// AddAgentChunk buffers a piece of the in-flight agent response.
func (t *Transcript) AddAgentChunk(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.agent.WriteString(text)
}

// FlushAgent finalizes the buffered agent response as one line. Called when
// the response ends or is cancelled; a cancelled response keeps whatever
// text was produced before the barge-in.
func (t *Transcript) FlushAgent() {
	t.mu.Lock()
	defer t.mu.Unlock()
	text := strings.TrimSpace(t.agent.String())
	t.agent.Reset()
	if text == "" {
		return
	}
	t.entries = append(t.entries, TranscriptEntry{Role: "agent", Text: text, At: time.Now()})
}

// Entries returns a copy of the finalized lines.
func (t *Transcript) Entries() []TranscriptEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]TranscriptEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Render formats the transcript as "role: text" lines for the call log and
// the email tools.
func (t *Transcript) Render() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var b strings.Builder
	for i, e := range t.entries {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(e.Role)
		b.WriteString(": ")
		b.WriteString(e.Text)
	}
	return b.String()
}
