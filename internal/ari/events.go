package ari

import (
	"encoding/json"
	"fmt"
)

// CallerID is the caller presentation attached to a channel.
type CallerID struct {
	Name   string `json:"name"`
	Number string `json:"number"`
}

// DialplanLocation is a position in the Asterisk dialplan.
type DialplanLocation struct {
	Context  string `json:"context"`
	Exten    string `json:"exten"`
	Priority int64  `json:"priority"`
}

// Channel mirrors the ARI channel resource fields the engine uses.
type Channel struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	State    string            `json:"state"`
	Caller   CallerID          `json:"caller"`
	Dialplan DialplanLocation  `json:"dialplan"`
	Vars     map[string]string `json:"channelvars,omitempty"`
}

// Playback mirrors the ARI playback resource.
type Playback struct {
	ID        string `json:"id"`
	MediaURI  string `json:"media_uri"`
	TargetURI string `json:"target_uri"`
	State     string `json:"state"`
}

// Bridge mirrors the ARI bridge resource fields the engine uses.
type Bridge struct {
	ID       string   `json:"id"`
	Type     string   `json:"bridge_type"`
	Channels []string `json:"channels"`
}

// ┌──────────────────────────────────────────────────────────────────────────┐
// │ Event payloads                                                           │
// └──────────────────────────────────────────────────────────────────────────┘

// StasisStart is emitted when a channel enters the Stasis application.
type StasisStart struct {
	Channel Channel  `json:"channel"`
	Args    []string `json:"args"`
}

// StasisEnd is emitted when a channel leaves the Stasis application.
type StasisEnd struct {
	Channel Channel `json:"channel"`
}

// ChannelHangupRequest is emitted when a hangup is requested on a channel.
type ChannelHangupRequest struct {
	Channel Channel `json:"channel"`
	Cause   int     `json:"cause"`
	Soft    bool    `json:"soft"`
}

// ChannelDtmfReceived is emitted for each DTMF digit received on a channel.
type ChannelDtmfReceived struct {
	Channel    Channel `json:"channel"`
	Digit      string  `json:"digit"`
	DurationMs int     `json:"duration_ms"`
}

// ChannelVarset is emitted when a channel variable changes.
type ChannelVarset struct {
	Channel  Channel `json:"channel"`
	Variable string  `json:"variable"`
	Value    string  `json:"value"`
}

// ChannelDestroyed is emitted when a channel is destroyed.
type ChannelDestroyed struct {
	Channel Channel `json:"channel"`
	Cause   int     `json:"cause"`
}

// ChannelStateChange is emitted when a channel's state changes, e.g. the
// originated agent leg of an attended transfer going Up.
type ChannelStateChange struct {
	Channel Channel `json:"channel"`
}

// PlaybackFinished is emitted when an ARI playback completes.
type PlaybackFinished struct {
	Playback Playback `json:"playback"`
}

// ChannelEnteredBridge is emitted when a channel joins a bridge.
type ChannelEnteredBridge struct {
	Channel Channel `json:"channel"`
	Bridge  Bridge  `json:"bridge"`
}

// ChannelLeftBridge is emitted when a channel leaves a bridge.
type ChannelLeftBridge struct {
	Channel Channel `json:"channel"`
	Bridge  Bridge  `json:"bridge"`
}

// Event is one decoded ARI event. Payload holds a pointer to the typed
// struct for known types and is nil for types the engine does not handle.
// ChannelID is extracted for dispatch; it is empty for playback and
// application-level events without a channel.
type Event struct {
	Type      string
	ChannelID string
	Payload   any
}

type eventEnvelope struct {
	Type string `json:"type"`
}

// DecodeEvent parses one raw ARI WebSocket message into a typed Event.
// Unknown event types decode successfully with a nil Payload so the
// subscriber can count them without failing the stream.
func DecodeEvent(data []byte) (Event, error) {
	var env eventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Event{}, fmt.Errorf("ari: decode event envelope: %w", err)
	}

	ev := Event{Type: env.Type}

	var payload any
	switch env.Type {
	case "StasisStart":
		payload = &StasisStart{}
	case "StasisEnd":
		payload = &StasisEnd{}
	case "ChannelHangupRequest":
		payload = &ChannelHangupRequest{}
	case "ChannelDtmfReceived":
		payload = &ChannelDtmfReceived{}
	case "ChannelVarset":
		payload = &ChannelVarset{}
	case "ChannelDestroyed":
		payload = &ChannelDestroyed{}
	case "ChannelStateChange":
		payload = &ChannelStateChange{}
	case "PlaybackFinished":
		payload = &PlaybackFinished{}
	case "ChannelEnteredBridge":
		payload = &ChannelEnteredBridge{}
	case "ChannelLeftBridge":
		payload = &ChannelLeftBridge{}
	default:
		return ev, nil
	}

	if err := json.Unmarshal(data, payload); err != nil {
		return Event{}, fmt.Errorf("ari: decode %s: %w", env.Type, err)
	}
	ev.Payload = payload
	ev.ChannelID = channelIDOf(payload)
	return ev, nil
}

func channelIDOf(payload any) string {
	switch p := payload.(type) {
	case *StasisStart:
		return p.Channel.ID
	case *StasisEnd:
		return p.Channel.ID
	case *ChannelHangupRequest:
		return p.Channel.ID
	case *ChannelDtmfReceived:
		return p.Channel.ID
	case *ChannelVarset:
		return p.Channel.ID
	case *ChannelDestroyed:
		return p.Channel.ID
	case *ChannelStateChange:
		return p.Channel.ID
	case *ChannelEnteredBridge:
		return p.Channel.ID
	case *ChannelLeftBridge:
		return p.Channel.ID
	default:
		return ""
	}
}
