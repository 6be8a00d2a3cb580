package rtpmedia

import (
	"net"
	"testing"
	"time"

	"github.com/pion/rtp"

	"github.com/voxgate/voxgate/pkg/audio"
)

func TestPortAllocator(t *testing.T) {
	t.Parallel()

	a, err := NewPortAllocator(12000, 12002)
	if err != nil {
		t.Fatalf("NewPortAllocator: %v", err)
	}

	seen := make(map[int]bool)
	for i := 0; i < 3; i++ {
		port, err := a.Allocate()
		if err != nil {
			t.Fatalf("Allocate %d: %v", i, err)
		}
		if port < 12000 || port > 12002 {
			t.Errorf("port %d outside range", port)
		}
		if seen[port] {
			t.Errorf("port %d handed out twice", port)
		}
		seen[port] = true
	}

	if _, err := a.Allocate(); err != ErrNoPorts {
		t.Errorf("err = %v, want ErrNoPorts", err)
	}

	a.Release(12001)
	port, err := a.Allocate()
	if err != nil {
		t.Fatalf("Allocate after release: %v", err)
	}
	if port != 12001 {
		t.Errorf("port = %d, want released 12001", port)
	}
}

func TestPortAllocatorRejectsBadRange(t *testing.T) {
	t.Parallel()

	if _, err := NewPortAllocator(5000, 4000); err == nil {
		t.Fatal("expected error for inverted range")
	}
}

func pktWithSeq(seq uint16) *rtp.Packet {
	return &rtp.Packet{Header: rtp.Header{SequenceNumber: seq}}
}

func seqsOf(pkts []*rtp.Packet) []uint16 {
	out := make([]uint16, len(pkts))
	for i, p := range pkts {
		out[i] = p.SequenceNumber
	}
	return out
}

func TestJitterBufferInOrder(t *testing.T) {
	t.Parallel()

	var jb jitterBuffer
	for seq := uint16(100); seq < 105; seq++ {
		out := jb.push(pktWithSeq(seq))
		if len(out) != 1 || out[0].SequenceNumber != seq {
			t.Fatalf("seq %d: out = %v", seq, seqsOf(out))
		}
	}
}

func TestJitterBufferReorders(t *testing.T) {
	t.Parallel()

	var jb jitterBuffer
	jb.push(pktWithSeq(10))

	if out := jb.push(pktWithSeq(12)); out != nil {
		t.Fatalf("out-of-order packet delivered early: %v", seqsOf(out))
	}
	out := jb.push(pktWithSeq(11))
	got := seqsOf(out)
	if len(got) != 2 || got[0] != 11 || got[1] != 12 {
		t.Errorf("out = %v, want [11 12]", got)
	}
}

func TestJitterBufferHeldPayloadSurvivesBufferReuse(t *testing.T) {
	t.Parallel()

	// The read loop unmarshals every datagram into one reused buffer, so a
	// held packet's payload must not alias it once push returns.
	buf := make([]byte, 1500)
	unmarshal := func(seq uint16, fill byte) *rtp.Packet {
		src := &rtp.Packet{
			Header:  rtp.Header{Version: 2, SequenceNumber: seq},
			Payload: []byte{fill, fill, fill, fill},
		}
		data, err := src.Marshal()
		if err != nil {
			t.Fatalf("marshal seq %d: %v", seq, err)
		}
		n := copy(buf, data)
		pkt := &rtp.Packet{}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			t.Fatalf("unmarshal seq %d: %v", seq, err)
		}
		return pkt
	}

	var jb jitterBuffer
	jb.push(unmarshal(10, 0xaa))

	// Seq 12 goes into the held list while its bytes still sit in buf.
	if out := jb.push(unmarshal(12, 0xcc)); out != nil {
		t.Fatalf("out-of-order packet delivered early: %v", seqsOf(out))
	}

	// Seq 11 lands in the same buffer before the gap fills.
	out := jb.push(unmarshal(11, 0xbb))
	got := seqsOf(out)
	if len(got) != 2 || got[0] != 11 || got[1] != 12 {
		t.Fatalf("out = %v, want [11 12]", got)
	}
	for _, b := range out[1].Payload {
		if b != 0xcc {
			t.Fatalf("held payload corrupted by buffer reuse: % x", out[1].Payload)
		}
	}
}

func TestJitterBufferSkipsUnfillableGap(t *testing.T) {
	t.Parallel()

	var jb jitterBuffer
	jb.push(pktWithSeq(10))

	// Sequence 11 never arrives; after the window fills, delivery resumes
	// from the oldest held packet.
	jb.push(pktWithSeq(12))
	jb.push(pktWithSeq(13))
	out := jb.push(pktWithSeq(14))
	got := seqsOf(out)
	if len(got) != 3 || got[0] != 12 || got[2] != 14 {
		t.Errorf("out = %v, want [12 13 14]", got)
	}

	// Normal delivery continues afterwards.
	if out := jb.push(pktWithSeq(15)); len(out) != 1 {
		t.Errorf("post-skip out = %v, want [15]", seqsOf(out))
	}
}

func TestJitterBufferDropsLateDuplicate(t *testing.T) {
	t.Parallel()

	var jb jitterBuffer
	jb.push(pktWithSeq(20))
	jb.push(pktWithSeq(21))
	if out := jb.push(pktWithSeq(20)); out != nil {
		t.Errorf("late duplicate delivered: %v", seqsOf(out))
	}
}

func TestSeqBeforeWraparound(t *testing.T) {
	t.Parallel()

	if !seqBefore(0xfffe, 0x0001) {
		t.Error("0xfffe should precede 0x0001 across the wrap")
	}
	if seqBefore(0x0001, 0xfffe) {
		t.Error("0x0001 should not precede 0xfffe across the wrap")
	}
}

func TestSessionEchoFilterAndDecode(t *testing.T) {
	t.Parallel()

	got := make(chan []byte, 8)
	sess, err := NewSession(SessionConfig{
		Host:        "127.0.0.1",
		Port:        0,
		Encoding:    audio.EncodingULaw,
		PayloadType: PayloadTypePCMU,
		OnAudio: func(pcm []byte) {
			cp := make([]byte, len(pcm))
			copy(cp, pcm)
			got <- cp
		},
	})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer sess.Close()

	peer, err := net.DialUDP("udp", nil, sess.LocalAddr().(*net.UDPAddr))
	if err != nil {
		t.Fatalf("DialUDP: %v", err)
	}
	defer peer.Close()

	send := func(seq uint16, ssrc uint32) {
		payload := make([]byte, 160)
		for i := range payload {
			payload[i] = 0xff // µ-law zero
		}
		pkt := &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				PayloadType:    PayloadTypePCMU,
				SequenceNumber: seq,
				Timestamp:      uint32(seq) * 160,
				SSRC:           ssrc,
			},
			Payload: payload,
		}
		data, err := pkt.Marshal()
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		if _, err := peer.Write(data); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	callerSSRC := sess.SSRC() + 1
	send(1, callerSSRC)

	select {
	case pcm := <-got:
		if len(pcm) != 320 {
			t.Errorf("decoded frame = %d bytes, want 320", len(pcm))
		}
		// µ-law 0xff decodes to silence.
		for i := 0; i < len(pcm); i += 2 {
			if pcm[i] != 0 || pcm[i+1] != 0 {
				t.Fatalf("sample %d not silence: %02x%02x", i/2, pcm[i+1], pcm[i])
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no decoded audio delivered")
	}

	// A looped-back packet with our own SSRC must be dropped.
	send(2, sess.SSRC())
	send(3, callerSSRC)

	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("follow-up packet not delivered")
	}
	if sess.EchoDropped() != 1 {
		t.Errorf("echo dropped = %d, want 1", sess.EchoDropped())
	}
}

func TestSessionOutboundHeaders(t *testing.T) {
	t.Parallel()

	sess, err := NewSession(SessionConfig{
		Host:        "127.0.0.1",
		Port:        0,
		Encoding:    audio.EncodingULaw,
		PayloadType: PayloadTypePCMU,
	})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer sess.Close()

	peer, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	defer peer.Close()

	// Prime the remote address with one inbound packet.
	prime := &rtp.Packet{
		Header:  rtp.Header{Version: 2, PayloadType: PayloadTypePCMU, SequenceNumber: 1, SSRC: sess.SSRC() + 1},
		Payload: make([]byte, 160),
	}
	data, _ := prime.Marshal()
	if _, err := peer.WriteToUDP(data, sess.LocalAddr().(*net.UDPAddr)); err != nil {
		t.Fatalf("prime write: %v", err)
	}

	pcm := make([]int16, 160)
	deadline := time.Now().Add(2 * time.Second)
	var pkts []*rtp.Packet
	for len(pkts) < 3 && time.Now().Before(deadline) {
		if err := sess.WriteFrame(pcm); err != nil {
			t.Fatalf("WriteFrame: %v", err)
		}
		peer.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		buf := make([]byte, 1500)
		n, _, err := peer.ReadFromUDP(buf)
		if err != nil {
			continue // remote not primed yet
		}
		pkt := &rtp.Packet{}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		pkts = append(pkts, pkt)
	}
	if len(pkts) < 3 {
		t.Fatal("did not capture 3 outbound packets")
	}

	if !pkts[0].Marker {
		t.Error("first packet should carry the marker bit")
	}
	for i := 1; i < len(pkts); i++ {
		if pkts[i].SequenceNumber != pkts[i-1].SequenceNumber+1 {
			t.Errorf("seq %d -> %d not monotonic", pkts[i-1].SequenceNumber, pkts[i].SequenceNumber)
		}
		if pkts[i].Timestamp != pkts[i-1].Timestamp+160 {
			t.Errorf("ts %d -> %d, want +160", pkts[i-1].Timestamp, pkts[i].Timestamp)
		}
		if pkts[i].Marker {
			t.Error("marker set after first packet")
		}
		if pkts[i].SSRC != sess.SSRC() {
			t.Errorf("ssrc = %d, want %d", pkts[i].SSRC, sess.SSRC())
		}
	}
	if len(pkts[0].Payload) != 160 {
		t.Errorf("payload = %d bytes, want 160 µ-law bytes", len(pkts[0].Payload))
	}
}

func TestPayloadTypeFor(t *testing.T) {
	t.Parallel()

	if PayloadTypeFor(audio.EncodingULaw) != 0 {
		t.Error("ulaw payload type should be 0")
	}
	if PayloadTypeFor(audio.EncodingALaw) != 8 {
		t.Error("alaw payload type should be 8")
	}
	if PayloadTypeFor(audio.EncodingSLin16) != 118 {
		t.Error("slin16 payload type should be dynamic 118")
	}
}
