package rtpmedia

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/rtp"

	"github.com/voxgate/voxgate/pkg/audio"
)

// Static payload types for the G.711 encodings; linear PCM uses a dynamic
// type negotiated at call setup.
const (
	PayloadTypePCMU uint8 = 0
	PayloadTypePCMA uint8 = 8
)

// SessionConfig configures one per-call RTP session.
type SessionConfig struct {
	// Host is the local bind address, usually the configured rtp_host.
	Host string

	// Port is the UDP port allocated for this call.
	Port int

	// Encoding is the negotiated wire encoding (ulaw, alaw, slin, slin16).
	Encoding audio.Encoding

	// PayloadType is the negotiated RTP payload type.
	PayloadType uint8

	// OnAudio receives decoded inbound PCM16 frames at the wire sample
	// rate. Called from the session's read goroutine; the slice is reused
	// after the call returns.
	OnAudio func(pcm []byte)
}

// Session is one call's ExternalMedia RTP endpoint. Inbound packets are
// de-jittered, echo-filtered and decoded to PCM16; outbound frames are
// encoded and sent with monotonic sequence numbers and timestamps under a
// fixed random SSRC. The remote address is learned from the first inbound
// packet (symmetric RTP).
type Session struct {
	conn     *net.UDPConn
	encoding audio.Encoding
	pt       uint8
	onAudio  func([]byte)

	ssrc uint32

	remote atomic.Pointer[net.UDPAddr]

	writeMu sync.Mutex
	seq     uint16
	ts      uint32
	started bool
	encBuf  []byte
	pcmOut  []int16

	closeOnce sync.Once
	done      chan struct{}

	echoDropped atomic.Uint64
}

// NewSession binds the UDP socket and starts the inbound read loop.
func NewSession(cfg SessionConfig) (*Session, error) {
	if !cfg.Encoding.IsValid() {
		return nil, fmt.Errorf("rtpmedia: invalid encoding %q", cfg.Encoding)
	}
	addr := &net.UDPAddr{IP: net.ParseIP(cfg.Host), Port: cfg.Port}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("rtpmedia: bind %s:%d: %w", cfg.Host, cfg.Port, err)
	}

	s := &Session{
		conn:     conn,
		encoding: cfg.Encoding,
		pt:       cfg.PayloadType,
		onAudio:  cfg.OnAudio,
		ssrc:     randomSSRC(),
		done:     make(chan struct{}),
	}
	frameSamples := audio.SamplesPerFrame(cfg.Encoding.SampleRate())
	s.encBuf = make([]byte, 0, frameSamples*cfg.Encoding.BytesPerSample())
	s.pcmOut = make([]int16, 0, frameSamples)

	go s.readLoop()
	return s, nil
}

// SSRC returns the fixed outbound synchronization source for this call.
func (s *Session) SSRC() uint32 { return s.ssrc }

// LocalAddr returns the bound UDP address.
func (s *Session) LocalAddr() net.Addr { return s.conn.LocalAddr() }

// WriteFrame encodes and sends one 20 ms PCM16 frame. It is a no-op until
// the remote address is known from inbound traffic.
func (s *Session) WriteFrame(pcm []int16) error {
	remote := s.remote.Load()
	if remote == nil {
		return nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	payload := s.encodePayload(pcm)
	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         !s.started,
			PayloadType:    s.pt,
			SequenceNumber: s.seq,
			Timestamp:      s.ts,
			SSRC:           s.ssrc,
		},
		Payload: payload,
	}
	s.started = true
	s.seq++
	s.ts += uint32(len(pcm))

	data, err := pkt.Marshal()
	if err != nil {
		return fmt.Errorf("rtpmedia: marshal packet: %w", err)
	}
	if _, err := s.conn.WriteToUDP(data, remote); err != nil {
		return fmt.Errorf("rtpmedia: send: %w", err)
	}
	return nil
}

// EchoDropped returns the count of inbound packets dropped because they
// carried our own outbound SSRC.
func (s *Session) EchoDropped() uint64 { return s.echoDropped.Load() }

// Close shuts the socket down and stops the read loop.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.conn.Close()
	})
	return err
}

// Done is closed when the session has shut down.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) readLoop() {
	buf := make([]byte, 1500)
	var jb jitterBuffer
	pcmBuf := make([]int16, 0, 1024)
	byteBuf := make([]byte, 0, 2048)

	for {
		n, from, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				slog.Debug("rtpmedia: read ended", "error", err)
			}
			return
		}

		pkt := &rtp.Packet{}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			slog.Debug("rtpmedia: bad packet", "from", from, "error", err)
			continue
		}

		// Some PBX setups loop our own media back at us.
		if pkt.SSRC == s.ssrc {
			s.echoDropped.Add(1)
			continue
		}

		s.remote.CompareAndSwap(nil, from)

		ready := jb.push(pkt)
		if len(ready) == 0 {
			continue
		}
		if s.onAudio == nil {
			continue
		}
		for _, p := range ready {
			pcmBuf = s.decodePayload(pcmBuf[:0], p.Payload)
			byteBuf = audio.PCM16ToBytes(byteBuf[:0], pcmBuf)
			s.onAudio(byteBuf)
		}
	}
}

// decodePayload converts one wire payload to PCM16 samples in dst.
func (s *Session) decodePayload(dst []int16, payload []byte) []int16 {
	switch s.encoding {
	case audio.EncodingULaw:
		return audio.DecodeULaw(dst, payload)
	case audio.EncodingALaw:
		return audio.DecodeALaw(dst, payload)
	default:
		return audio.BytesToPCM16(dst, payload)
	}
}

// encodePayload converts PCM16 samples to the wire encoding, reusing the
// session's encode buffer.
func (s *Session) encodePayload(pcm []int16) []byte {
	switch s.encoding {
	case audio.EncodingULaw:
		s.encBuf = audio.EncodeULaw(s.encBuf[:0], pcm)
	case audio.EncodingALaw:
		s.encBuf = audio.EncodeALaw(s.encBuf[:0], pcm)
	default:
		s.encBuf = audio.PCM16ToBytes(s.encBuf[:0], pcm)
	}
	return s.encBuf
}

// PayloadTypeFor returns the conventional RTP payload type for an encoding.
// Linear encodings use 118, matching the dynamic type Asterisk offers for
// slin external media.
func PayloadTypeFor(enc audio.Encoding) uint8 {
	switch enc {
	case audio.EncodingULaw:
		return PayloadTypePCMU
	case audio.EncodingALaw:
		return PayloadTypePCMA
	default:
		return 118
	}
}

// randomSSRC derives a random synchronization source.
func randomSSRC() uint32 {
	u := uuid.New()
	ssrc := binary.BigEndian.Uint32(u[:4])
	if ssrc == 0 {
		ssrc = 1
	}
	return ssrc
}
