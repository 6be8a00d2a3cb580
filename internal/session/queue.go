package session

import (
	"context"
	"sync"

	"github.com/voxgate/voxgate/internal/engine"
	"github.com/voxgate/voxgate/internal/tools"
)

// itemSource identifies where a coordinator event came from. Sources are
// ordered by dispatch priority: when events from different sources are
// queued at the same time, the higher source is delivered first, so a
// caller hangup can never lose a race against a late provider response.
type itemSource int

const (
	srcAudio itemSource = iota
	srcProviderEvent
	srcToolResult
	srcProviderError
	srcTransportError
	srcHangup

	numSources
)

// item is one queued coordinator event. Exactly the fields for its source
// are set.
type item struct {
	src itemSource

	pcm      []byte       // srcAudio
	provider engine.Event // srcProviderEvent
	tool     tools.Result // srcToolResult
	err      error        // srcProviderError, srcTransportError
	reason   string       // srcHangup
}

// defaultAudioLane bounds the audio lane. At one frame per 20 ms a full
// lane represents 640 ms of ingress backlog; beyond that the coordinator
// is stalled and older frames are worthless anyway.
const defaultAudioLane = 32

// eventQueue merges the coordinator's event sources. Producers push from
// their own goroutines; the single coordinator goroutine pops. Within a
// source delivery is FIFO; across sources the highest-priority non-empty
// lane wins. The audio lane is bounded and drops oldest on overflow so a
// slow consumer sheds load instead of ballooning.
type eventQueue struct {
	mu           sync.Mutex
	lanes        [numSources][]item
	closed       bool
	audioLaneMax int
	audioDropped int

	notify chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		audioLaneMax: defaultAudioLane,
		notify:       make(chan struct{}, 1),
	}
}

// push enqueues one item. Items pushed after close are silently dropped,
// which lets producers keep running during teardown without coordination.
func (q *eventQueue) push(it item) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	if it.src == srcAudio && len(q.lanes[srcAudio]) >= q.audioLaneMax {
		q.lanes[srcAudio] = q.lanes[srcAudio][1:]
		q.audioDropped++
	}
	q.lanes[it.src] = append(q.lanes[it.src], it)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// pop blocks until an item is available or ctx is done. ok is false only
// on context cancellation.
func (q *eventQueue) pop(ctx context.Context) (item, bool) {
	for {
		q.mu.Lock()
		for src := numSources - 1; src >= 0; src-- {
			lane := q.lanes[src]
			if len(lane) == 0 {
				continue
			}
			it := lane[0]
			q.lanes[src] = lane[1:]
			q.mu.Unlock()
			return it, true
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return item{}, false
		case <-q.notify:
		}
	}
}

// close drops all queued items and makes further pushes no-ops.
func (q *eventQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	for i := range q.lanes {
		q.lanes[i] = nil
	}
}

// droppedAudio reports how many ingress frames were shed on overflow.
func (q *eventQueue) droppedAudio() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.audioDropped
}
