package rtpmedia

import "github.com/pion/rtp"

// jitterWindow is the maximum number of out-of-order packets held back
// before the buffer gives up waiting for a gap to fill.
const jitterWindow = 3

// jitterBuffer reorders inbound RTP packets by sequence number within a
// small window. It is not safe for concurrent use; the session's read loop
// is its only caller.
type jitterBuffer struct {
	expected uint16
	primed   bool
	held     []*rtp.Packet
}

// push offers one packet and returns the packets now deliverable in order.
// Duplicates and packets older than the expected sequence are dropped.
func (j *jitterBuffer) push(p *rtp.Packet) []*rtp.Packet {
	if !j.primed {
		j.primed = true
		j.expected = p.SequenceNumber + 1
		return []*rtp.Packet{p}
	}

	switch {
	case p.SequenceNumber == j.expected:
		out := []*rtp.Packet{p}
		j.expected++
		out = append(out, j.drain()...)
		return out

	case seqBefore(p.SequenceNumber, j.expected):
		// Late duplicate or retransmit, already played past it.
		return nil

	default:
		j.hold(p)
		if len(j.held) >= jitterWindow {
			// Gap is not going to fill; skip ahead to the oldest held
			// packet.
			oldest := j.held[0]
			j.expected = oldest.SequenceNumber
			return j.drain()
		}
		return nil
	}
}

// hold inserts p into the held list sorted by sequence, dropping duplicates.
// Held packets outlive the caller's read buffer, which Unmarshal's payload
// still aliases, so the payload is copied here.
func (j *jitterBuffer) hold(p *rtp.Packet) {
	p.Payload = append([]byte(nil), p.Payload...)
	for i, h := range j.held {
		if h.SequenceNumber == p.SequenceNumber {
			return
		}
		if seqBefore(p.SequenceNumber, h.SequenceNumber) {
			j.held = append(j.held[:i], append([]*rtp.Packet{p}, j.held[i:]...)...)
			return
		}
	}
	j.held = append(j.held, p)
}

// drain pops consecutively sequenced packets from the held list.
func (j *jitterBuffer) drain() []*rtp.Packet {
	var out []*rtp.Packet
	for len(j.held) > 0 && j.held[0].SequenceNumber == j.expected {
		out = append(out, j.held[0])
		j.held = j.held[1:]
		j.expected++
	}
	return out
}

// seqBefore reports whether a precedes b in RTP sequence space, accounting
// for uint16 wraparound.
func seqBefore(a, b uint16) bool {
	return int16(a-b) < 0
}
