// Package mock provides an in-memory ari.API implementation for tests.
// Every verb records its arguments and returns a configurable result.
package mock

import (
	"context"
	"sync"

	"github.com/voxgate/voxgate/internal/ari"
)

// Compile-time assertion that Client satisfies ari.API.
var _ ari.API = (*Client)(nil)

// VerbCall is one recorded verb invocation.
type VerbCall struct {
	Op        string
	ChannelID string
	BridgeID  string
	Args      map[string]string
}

// Client is a mock ARI command client.
type Client struct {
	mu    sync.Mutex
	calls []VerbCall

	// Errs maps a verb name to the error it should return.
	Errs map[string]error

	// OriginatedChannel is returned by OriginateChannel and ExternalMedia.
	OriginatedChannel ari.Channel

	// CreatedBridge is returned by CreateBridge.
	CreatedBridge ari.Bridge

	// PlaybackID is returned by PlayMedia.
	PlaybackID string

	// Variables backs Get/SetVariable, keyed by channelID+"\x00"+name.
	Variables map[string]string
}

// New creates a mock client.
func New() *Client {
	return &Client{
		Errs:      make(map[string]error),
		Variables: make(map[string]string),
		OriginatedChannel: ari.Channel{
			ID: "mock-originated",
		},
		CreatedBridge: ari.Bridge{ID: "mock-bridge", Type: "mixing"},
		PlaybackID:    "mock-playback",
	}
}

// Calls returns a copy of all recorded invocations.
func (c *Client) Calls() []VerbCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]VerbCall, len(c.calls))
	copy(out, c.calls)
	return out
}

// CallsTo returns the recorded invocations of one verb.
func (c *Client) CallsTo(op string) []VerbCall {
	var out []VerbCall
	for _, call := range c.Calls() {
		if call.Op == op {
			out = append(out, call)
		}
	}
	return out
}

func (c *Client) record(call VerbCall) error {
	c.mu.Lock()
	c.calls = append(c.calls, call)
	err := c.Errs[call.Op]
	c.mu.Unlock()
	return err
}

func (c *Client) Answer(_ context.Context, channelID string) error {
	return c.record(VerbCall{Op: "answer", ChannelID: channelID})
}

func (c *Client) Hangup(_ context.Context, channelID string) error {
	return c.record(VerbCall{Op: "hangup", ChannelID: channelID})
}

func (c *Client) OriginateChannel(_ context.Context, params ari.OriginateParams) (ari.Channel, error) {
	err := c.record(VerbCall{Op: "originate_channel", Args: map[string]string{
		"endpoint":  params.Endpoint,
		"app":       params.App,
		"context":   params.Context,
		"exten":     params.Exten,
		"caller_id": params.CallerID,
	}})
	return c.OriginatedChannel, err
}

func (c *Client) ExternalMedia(_ context.Context, params ari.ExternalMediaParams) (ari.Channel, error) {
	err := c.record(VerbCall{Op: "external_media", Args: map[string]string{
		"external_host": params.ExternalHost,
		"format":        params.Format,
	}})
	return c.OriginatedChannel, err
}

func (c *Client) CreateBridge(_ context.Context, bridgeType string) (ari.Bridge, error) {
	err := c.record(VerbCall{Op: "create_bridge", Args: map[string]string{"type": bridgeType}})
	return c.CreatedBridge, err
}

func (c *Client) DestroyBridge(_ context.Context, bridgeID string) error {
	return c.record(VerbCall{Op: "destroy_bridge", BridgeID: bridgeID})
}

func (c *Client) AddToBridge(_ context.Context, bridgeID, channelID string) error {
	return c.record(VerbCall{Op: "add_to_bridge", BridgeID: bridgeID, ChannelID: channelID})
}

func (c *Client) RemoveFromBridge(_ context.Context, bridgeID, channelID string) error {
	return c.record(VerbCall{Op: "remove_from_bridge", BridgeID: bridgeID, ChannelID: channelID})
}

func (c *Client) PlayMedia(_ context.Context, channelID, mediaURI string) (string, error) {
	err := c.record(VerbCall{Op: "play_media", ChannelID: channelID,
		Args: map[string]string{"media": mediaURI}})
	return c.PlaybackID, err
}

func (c *Client) StopPlayback(_ context.Context, playbackID string) error {
	return c.record(VerbCall{Op: "stop_playback", Args: map[string]string{"playback": playbackID}})
}

func (c *Client) SetVariable(_ context.Context, channelID, name, value string) error {
	err := c.record(VerbCall{Op: "set_variable", ChannelID: channelID,
		Args: map[string]string{"name": name, "value": value}})
	if err == nil {
		c.mu.Lock()
		c.Variables[channelID+"\x00"+name] = value
		c.mu.Unlock()
	}
	return err
}

func (c *Client) GetVariable(_ context.Context, channelID, name string) (string, error) {
	err := c.record(VerbCall{Op: "get_variable", ChannelID: channelID,
		Args: map[string]string{"name": name}})
	c.mu.Lock()
	val := c.Variables[channelID+"\x00"+name]
	c.mu.Unlock()
	return val, err
}

func (c *Client) Redirect(_ context.Context, channelID, dialContext, exten string) error {
	return c.record(VerbCall{Op: "redirect", ChannelID: channelID,
		Args: map[string]string{"context": dialContext, "exten": exten}})
}

func (c *Client) ContinueInDialplan(_ context.Context, channelID, dialContext, exten string, priority int) error {
	return c.record(VerbCall{Op: "continue_in_dialplan", ChannelID: channelID,
		Args: map[string]string{"context": dialContext, "exten": exten}})
}

func (c *Client) StartMOH(_ context.Context, channelID, mohClass string) error {
	return c.record(VerbCall{Op: "start_moh", ChannelID: channelID,
		Args: map[string]string{"class": mohClass}})
}

func (c *Client) StopMOH(_ context.Context, channelID string) error {
	return c.record(VerbCall{Op: "stop_moh", ChannelID: channelID})
}
