package session

import "testing"

func TestTranscriptRender(t *testing.T) {
	t.Parallel()

	tr := NewTranscript()
	tr.AddCaller("What are your hours?")
	tr.AddAgentChunk("We are open ")
	tr.AddAgentChunk("nine to five.")
	tr.FlushAgent()
	tr.AddCaller("Thanks!")

	want := "caller: What are your hours?\nagent: We are open nine to five.\ncaller: Thanks!"
	if got := tr.Render(); got != want {
		t.Errorf("Render() = %q, want %q", got, want)
	}
}

func TestTranscriptIgnoresBlankLines(t *testing.T) {
	t.Parallel()

	tr := NewTranscript()
	tr.AddCaller("   ")
	tr.AddAgentChunk("  ")
	tr.FlushAgent()
	tr.FlushAgent()
	if got := tr.Render(); got != "" {
		t.Errorf("Render() = %q, want empty", got)
	}
	if entries := tr.Entries(); len(entries) != 0 {
		t.Errorf("entries = %d, want 0", len(entries))
	}
}

func TestTranscriptCancelledResponseKeepsPartialText(t *testing.T) {
	t.Parallel()

	tr := NewTranscript()
	tr.AddAgentChunk("Let me check th")
	tr.FlushAgent()

	entries := tr.Entries()
	if len(entries) != 1 || entries[0].Role != "agent" || entries[0].Text != "Let me check th" {
		t.Errorf("entries = %+v", entries)
	}
}
