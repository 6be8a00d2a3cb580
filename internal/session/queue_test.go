package session

import (
	"context"
	"testing"
	"time"

	"github.com/voxgate/voxgate/internal/engine"
)

func TestQueuePriorityOrder(t *testing.T) {
	t.Parallel()

	q := newEventQueue()
	q.push(item{src: srcAudio, pcm: []byte{1}})
	q.push(item{src: srcProviderEvent, provider: engine.Event{Type: engine.EventAudio}})
	q.push(item{src: srcHangup, reason: "hangup"})
	q.push(item{src: srcToolResult})
	q.push(item{src: srcProviderError})
	q.push(item{src: srcTransportError})

	want := []itemSource{srcHangup, srcTransportError, srcProviderError,
		srcToolResult, srcProviderEvent, srcAudio}
	for i, w := range want {
		it, ok := q.pop(context.Background())
		if !ok {
			t.Fatalf("pop #%d returned not ok", i)
		}
		if it.src != w {
			t.Errorf("pop #%d source = %d, want %d", i, it.src, w)
		}
	}
}

func TestQueueFIFOWithinSource(t *testing.T) {
	t.Parallel()

	q := newEventQueue()
	for _, r := range []string{"first", "second", "third"} {
		q.push(item{src: srcHangup, reason: r})
	}
	for _, want := range []string{"first", "second", "third"} {
		it, _ := q.pop(context.Background())
		if it.reason != want {
			t.Errorf("reason = %q, want %q", it.reason, want)
		}
	}
}

func TestQueueAudioLaneDropsOldest(t *testing.T) {
	t.Parallel()

	q := newEventQueue()
	q.audioLaneMax = 3
	for i := range 5 {
		q.push(item{src: srcAudio, pcm: []byte{byte(i)}})
	}
	if got := q.droppedAudio(); got != 2 {
		t.Errorf("droppedAudio = %d, want 2", got)
	}
	// Oldest two frames were shed; the survivors start at frame 2.
	it, _ := q.pop(context.Background())
	if it.pcm[0] != 2 {
		t.Errorf("first surviving frame = %d, want 2", it.pcm[0])
	}
}

func TestQueuePopBlocksUntilPush(t *testing.T) {
	t.Parallel()

	q := newEventQueue()
	got := make(chan item, 1)
	go func() {
		it, _ := q.pop(context.Background())
		got <- it
	}()

	time.Sleep(20 * time.Millisecond)
	q.push(item{src: srcHangup, reason: "hangup"})

	select {
	case it := <-got:
		if it.reason != "hangup" {
			t.Errorf("reason = %q", it.reason)
		}
	case <-time.After(time.Second):
		t.Fatal("pop never woke up")
	}
}

func TestQueuePopCancelled(t *testing.T) {
	t.Parallel()

	q := newEventQueue()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, ok := q.pop(ctx); ok {
		t.Error("pop on cancelled context returned ok")
	}
}

func TestQueueCloseDropsPushes(t *testing.T) {
	t.Parallel()

	q := newEventQueue()
	q.push(item{src: srcHangup})
	q.close()
	q.push(item{src: srcHangup})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, ok := q.pop(ctx); ok {
		t.Error("pop after close returned an item")
	}
}
