package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voxgate/voxgate/internal/ari"
	"github.com/voxgate/voxgate/internal/transport/audiosocket"
	"github.com/voxgate/voxgate/internal/transport/rtpmedia"
	"github.com/voxgate/voxgate/pkg/audio"
)

// MediaHandlers are the callbacks a bound media path invokes. OnAudio runs
// on the transport's read goroutine and must not block; OnClosed fires once
// when the transport dies, with nil meaning a clean remote hangup.
type MediaHandlers struct {
	OnAudio  func(pcm []byte)
	OnClosed func(err error)
}

// MediaConn is one call's bound audio path. WriteAudio satisfies the
// playback scheduler's sink. Close unwinds the transport first, then the
// bridge membership, and is idempotent.
type MediaConn interface {
	WriteAudio(pcm []byte) error
	Close(ctx context.Context) error
}

// Media originates and binds the audio path for one call: an ARI media leg
// is dialed toward the engine, bridged with the caller, and the resulting
// transport is handed back as a MediaConn.
type Media interface {
	Attach(ctx context.Context, channelID string, profile audio.Profile, h MediaHandlers) (MediaConn, error)
}

// mediaLegTag marks originated media legs in their Stasis args so the
// manager does not treat them as new calls.
const mediaLegTag = "media"

// bindTimeout bounds how long the PBX may take to dial the advertised
// media address after origination.
const bindTimeout = 10 * time.Second

// ┌──────────────────────────────────────────────────────────────────────────┐
// │ AudioSocket                                                              │
// └──────────────────────────────────────────────────────────────────────────┘

// AudioSocketMedia attaches calls over the framed TCP AudioSocket
// transport. Its Bind method is the server's Binder: each accepted
// connection is matched to the pending attach that originated it by UUID.
type AudioSocketMedia struct {
	client    ari.API
	appName   string
	advertise string // host:port the PBX dials
	log       *slog.Logger

	mu      sync.Mutex
	pending map[uuid.UUID]*pendingBind
}

type pendingBind struct {
	handlers MediaHandlers
	bound    chan *audiosocket.Conn
}

// NewAudioSocketMedia creates the AudioSocket attach path. advertise is the
// host:port the PBX is told to dial, normally the listener address.
func NewAudioSocketMedia(client ari.API, appName, advertise string, log *slog.Logger) *AudioSocketMedia {
	if log == nil {
		log = slog.Default()
	}
	return &AudioSocketMedia{
		client:    client,
		appName:   appName,
		advertise: advertise,
		log:       log,
		pending:   make(map[uuid.UUID]*pendingBind),
	}
}

// Bind resolves an accepted connection to its pending attach. Connections
// with no pending attach are rejected; they are strays from a previous run
// or a misdialed PBX.
func (m *AudioSocketMedia) Bind(id uuid.UUID, conn *audiosocket.Conn) (audiosocket.Session, error) {
	m.mu.Lock()
	p, ok := m.pending[id]
	if ok {
		delete(m.pending, id)
	}
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("session: no pending attach for media id %s", id)
	}
	p.bound <- conn
	return &audioSocketSession{handlers: p.handlers}, nil
}

// audioSocketSession forwards inbound transport traffic to the call.
type audioSocketSession struct {
	handlers MediaHandlers
}

func (s *audioSocketSession) OnAudio(pcm []byte) {
	if s.handlers.OnAudio != nil {
		s.handlers.OnAudio(pcm)
	}
}

func (s *audioSocketSession) OnSilence([]byte) {}

func (s *audioSocketSession) OnHangup() {
	if s.handlers.OnClosed != nil {
		s.handlers.OnClosed(nil)
	}
}

func (s *audioSocketSession) OnError(code byte) {
	if s.handlers.OnClosed != nil {
		s.handlers.OnClosed(fmt.Errorf("session: audiosocket error frame 0x%02x", code))
	}
}

// Attach bridges the caller with a freshly originated AudioSocket leg and
// waits for the PBX to dial in.
func (m *AudioSocketMedia) Attach(ctx context.Context, channelID string, profile audio.Profile, h MediaHandlers) (MediaConn, error) {
	id := uuid.New()
	p := &pendingBind{handlers: h, bound: make(chan *audiosocket.Conn, 1)}
	m.mu.Lock()
	m.pending[id] = p
	m.mu.Unlock()
	abandon := func() {
		m.mu.Lock()
		delete(m.pending, id)
		m.mu.Unlock()
	}

	bridge, err := m.client.CreateBridge(ctx, "mixing")
	if err != nil {
		abandon()
		return nil, fmt.Errorf("session: create bridge: %w", err)
	}
	if err := m.client.AddToBridge(ctx, bridge.ID, channelID); err != nil {
		abandon()
		_ = m.client.DestroyBridge(ctx, bridge.ID)
		return nil, fmt.Errorf("session: bridge caller: %w", err)
	}

	format := "slin"
	if profile.CallerRate == 16000 {
		format = "slin16"
	}
	leg, err := m.client.OriginateChannel(ctx, ari.OriginateParams{
		Endpoint: "AudioSocket/" + m.advertise + "/" + id.String(),
		App:      m.appName,
		AppArgs:  mediaLegTag,
		Formats:  format,
		Timeout:  bindTimeout,
	})
	if err != nil {
		abandon()
		_ = m.client.DestroyBridge(ctx, bridge.ID)
		return nil, fmt.Errorf("session: originate audiosocket leg: %w", err)
	}

	var conn *audiosocket.Conn
	select {
	case conn = <-p.bound:
	case <-time.After(bindTimeout):
		abandon()
		_ = m.client.Hangup(ctx, leg.ID)
		_ = m.client.DestroyBridge(ctx, bridge.ID)
		return nil, errors.New("session: audiosocket leg never dialed in")
	case <-ctx.Done():
		abandon()
		_ = m.client.Hangup(ctx, leg.ID)
		_ = m.client.DestroyBridge(ctx, bridge.ID)
		return nil, ctx.Err()
	}

	if err := m.client.AddToBridge(ctx, bridge.ID, leg.ID); err != nil {
		_ = conn.Close()
		_ = m.client.Hangup(ctx, leg.ID)
		_ = m.client.DestroyBridge(ctx, bridge.ID)
		return nil, fmt.Errorf("session: bridge media leg: %w", err)
	}

	return &audioSocketConn{
		client:   m.client,
		conn:     conn,
		bridgeID: bridge.ID,
		callerID: channelID,
		legID:    leg.ID,
	}, nil
}

// audioSocketConn is the bound AudioSocket media path.
type audioSocketConn struct {
	client   ari.API
	conn     *audiosocket.Conn
	bridgeID string
	callerID string
	legID    string

	closeOnce sync.Once
}

func (c *audioSocketConn) WriteAudio(pcm []byte) error {
	return c.conn.WriteAudio(pcm)
}

// Close hangs up the media leg and tears the bridge down. The caller
// channel itself is left to the coordinator.
func (c *audioSocketConn) Close(ctx context.Context) error {
	var err error
	c.closeOnce.Do(func() {
		hangupErr := c.conn.Hangup()
		_ = c.client.RemoveFromBridge(ctx, c.bridgeID, c.callerID)
		_ = c.client.Hangup(ctx, c.legID)
		destroyErr := c.client.DestroyBridge(ctx, c.bridgeID)
		err = errors.Join(hangupErr, destroyErr)
	})
	return err
}

// ┌──────────────────────────────────────────────────────────────────────────┐
// │ ExternalMedia RTP                                                        │
// └──────────────────────────────────────────────────────────────────────────┘

// RTPMedia attaches calls over ExternalMedia RTP. Each attach allocates one
// UDP port from the pool for the call's lifetime.
type RTPMedia struct {
	client  ari.API
	appName string
	host    string
	ports   *rtpmedia.PortAllocator
	log     *slog.Logger
}

// NewRTPMedia creates the ExternalMedia attach path. host is the local RTP
// bind address the PBX streams to.
func NewRTPMedia(client ari.API, appName, host string, ports *rtpmedia.PortAllocator, log *slog.Logger) *RTPMedia {
	if log == nil {
		log = slog.Default()
	}
	return &RTPMedia{client: client, appName: appName, host: host, ports: ports, log: log}
}

// Attach binds an RTP session on a pooled port, points an ExternalMedia leg
// at it and bridges the leg with the caller.
func (m *RTPMedia) Attach(ctx context.Context, channelID string, profile audio.Profile, h MediaHandlers) (MediaConn, error) {
	port, err := m.ports.Allocate()
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	enc := profile.CallerEncoding
	sess, err := rtpmedia.NewSession(rtpmedia.SessionConfig{
		Host:        m.host,
		Port:        port,
		Encoding:    enc,
		PayloadType: rtpmedia.PayloadTypeFor(enc),
		OnAudio:     h.OnAudio,
	})
	if err != nil {
		m.ports.Release(port)
		return nil, fmt.Errorf("session: bind rtp: %w", err)
	}

	cleanup := func() {
		_ = sess.Close()
		m.ports.Release(port)
	}

	bridge, err := m.client.CreateBridge(ctx, "mixing")
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("session: create bridge: %w", err)
	}
	if err := m.client.AddToBridge(ctx, bridge.ID, channelID); err != nil {
		cleanup()
		_ = m.client.DestroyBridge(ctx, bridge.ID)
		return nil, fmt.Errorf("session: bridge caller: %w", err)
	}

	leg, err := m.client.ExternalMedia(ctx, ari.ExternalMediaParams{
		App:          m.appName,
		ExternalHost: net.JoinHostPort(m.host, strconv.Itoa(port)),
		Format:       string(enc),
	})
	if err != nil {
		cleanup()
		_ = m.client.DestroyBridge(ctx, bridge.ID)
		return nil, fmt.Errorf("session: originate externalmedia leg: %w", err)
	}
	if err := m.client.AddToBridge(ctx, bridge.ID, leg.ID); err != nil {
		cleanup()
		_ = m.client.Hangup(ctx, leg.ID)
		_ = m.client.DestroyBridge(ctx, bridge.ID)
		return nil, fmt.Errorf("session: bridge media leg: %w", err)
	}

	rc := &rtpConn{
		client:   m.client,
		sess:     sess,
		ports:    m.ports,
		port:     port,
		bridgeID: bridge.ID,
		callerID: channelID,
		legID:    leg.ID,
	}
	if h.OnClosed != nil {
		go func() {
			<-sess.Done()
			h.OnClosed(nil)
		}()
	}
	return rc, nil
}

// rtpConn is the bound ExternalMedia path.
type rtpConn struct {
	client   ari.API
	sess     *rtpmedia.Session
	ports    *rtpmedia.PortAllocator
	port     int
	bridgeID string
	callerID string
	legID    string

	mu      sync.Mutex
	scratch []int16

	closeOnce sync.Once
}

func (c *rtpConn) WriteAudio(pcm []byte) error {
	c.mu.Lock()
	c.scratch = audio.BytesToPCM16(c.scratch[:0], pcm)
	frame := c.scratch
	c.mu.Unlock()
	return c.sess.WriteFrame(frame)
}

func (c *rtpConn) Close(ctx context.Context) error {
	var err error
	c.closeOnce.Do(func() {
		err = c.sess.Close()
		_ = c.client.RemoveFromBridge(ctx, c.bridgeID, c.callerID)
		_ = c.client.Hangup(ctx, c.legID)
		_ = c.client.DestroyBridge(ctx, c.bridgeID)
		c.ports.Release(c.port)
	})
	return err
}
