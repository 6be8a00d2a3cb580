// Package ari speaks to the Asterisk REST Interface. It is the only package
// that talks to the PBX: Client issues the synchronous command verbs and
// Subscriber maintains the long-lived event WebSocket.
package ari

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// API is the command surface of the ARI client. Session and tool code depend
// on this interface so tests can substitute the mock subpackage.
type API interface {
	Answer(ctx context.Context, channelID string) error
	Hangup(ctx context.Context, channelID string) error
	OriginateChannel(ctx context.Context, params OriginateParams) (Channel, error)
	ExternalMedia(ctx context.Context, params ExternalMediaParams) (Channel, error)
	CreateBridge(ctx context.Context, bridgeType string) (Bridge, error)
	DestroyBridge(ctx context.Context, bridgeID string) error
	AddToBridge(ctx context.Context, bridgeID, channelID string) error
	RemoveFromBridge(ctx context.Context, bridgeID, channelID string) error
	PlayMedia(ctx context.Context, channelID, mediaURI string) (string, error)
	StopPlayback(ctx context.Context, playbackID string) error
	SetVariable(ctx context.Context, channelID, name, value string) error
	GetVariable(ctx context.Context, channelID, name string) (string, error)
	Redirect(ctx context.Context, channelID, context, exten string) error
	ContinueInDialplan(ctx context.Context, channelID, context, exten string, priority int) error
	StartMOH(ctx context.Context, channelID, mohClass string) error
	StopMOH(ctx context.Context, channelID string) error
}

// Compile-time assertion that Client satisfies the API interface.
var _ API = (*Client)(nil)

// OriginateParams describes a channel origination.
type OriginateParams struct {
	// Endpoint is the channel technology address, e.g.
	// "AudioSocket/10.0.0.5:8090/<uuid>" or "PJSIP/6001".
	Endpoint string

	// App is the Stasis application the new channel should enter. Leave
	// empty to originate into the dialplan via Context/Exten/Priority.
	App     string
	AppArgs string

	Context  string
	Exten    string
	Priority int

	// CallerID is the presentation for the new leg, e.g. `"AI" <100>`.
	CallerID string

	// Timeout bounds how long Asterisk dials before giving up. Zero means
	// the Asterisk default.
	Timeout time.Duration

	// Formats restricts the native formats offered, e.g. "slin16".
	Formats string

	// Variables are set on the new channel before dialing.
	Variables map[string]string
}

// ExternalMediaParams describes an external-media channel: Asterisk streams
// the call audio to ExternalHost over RTP in the given format.
type ExternalMediaParams struct {
	App          string
	ExternalHost string // host:port of our RTP socket
	Format       string // ulaw, alaw, slin, slin16
	Variables    map[string]string
}

// Client is the synchronous ARI command client. All verbs return *Error on
// failure so callers can branch on the kind.
type Client struct {
	baseURL  string
	username string
	password string
	http     *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the underlying HTTP client. Primarily used in
// tests.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// NewClient creates an ARI command client. baseURL is the ARI root, e.g.
// "http://127.0.0.1:8088/ari".
func NewClient(baseURL, username, password string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:  baseURL,
		username: username,
		password: password,
		http:     &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Ping verifies connectivity and credentials with a GET /asterisk/info.
// Not part of [API]; startup uses it to fail fast on bad credentials.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, "ping", http.MethodGet, "/asterisk/info", nil, nil, nil)
}

// Answer answers the channel.
func (c *Client) Answer(ctx context.Context, channelID string) error {
	return c.do(ctx, "answer", http.MethodPost,
		"/channels/"+url.PathEscape(channelID)+"/answer", nil, nil, nil)
}

// Hangup hangs up the channel. A NotFound error means the channel is already
// gone, which most callers treat as success.
func (c *Client) Hangup(ctx context.Context, channelID string) error {
	return c.do(ctx, "hangup", http.MethodDelete,
		"/channels/"+url.PathEscape(channelID), nil, nil, nil)
}

// OriginateChannel creates and dials a new channel.
func (c *Client) OriginateChannel(ctx context.Context, params OriginateParams) (Channel, error) {
	q := url.Values{}
	q.Set("endpoint", params.Endpoint)
	if params.App != "" {
		q.Set("app", params.App)
		if params.AppArgs != "" {
			q.Set("appArgs", params.AppArgs)
		}
	} else {
		q.Set("context", params.Context)
		q.Set("extension", params.Exten)
		if params.Priority > 0 {
			q.Set("priority", strconv.Itoa(params.Priority))
		}
	}
	if params.CallerID != "" {
		q.Set("callerId", params.CallerID)
	}
	if params.Timeout > 0 {
		q.Set("timeout", strconv.Itoa(int(params.Timeout.Seconds())))
	}
	if params.Formats != "" {
		q.Set("formats", params.Formats)
	}

	var body any
	if len(params.Variables) > 0 {
		body = map[string]any{"variables": params.Variables}
	}

	var ch Channel
	err := c.do(ctx, "originate_channel", http.MethodPost, "/channels", q, body, &ch)
	return ch, err
}

// ExternalMedia creates an external-media channel that bridges call audio to
// our RTP socket.
func (c *Client) ExternalMedia(ctx context.Context, params ExternalMediaParams) (Channel, error) {
	q := url.Values{}
	q.Set("app", params.App)
	q.Set("external_host", params.ExternalHost)
	q.Set("format", params.Format)

	var body any
	if len(params.Variables) > 0 {
		body = map[string]any{"variables": params.Variables}
	}

	var ch Channel
	err := c.do(ctx, "external_media", http.MethodPost, "/channels/externalMedia", q, body, &ch)
	return ch, err
}

// CreateBridge creates a bridge of the given type, e.g. "mixing".
func (c *Client) CreateBridge(ctx context.Context, bridgeType string) (Bridge, error) {
	q := url.Values{}
	q.Set("type", bridgeType)

	var b Bridge
	err := c.do(ctx, "create_bridge", http.MethodPost, "/bridges", q, nil, &b)
	return b, err
}

// DestroyBridge destroys the bridge.
func (c *Client) DestroyBridge(ctx context.Context, bridgeID string) error {
	return c.do(ctx, "destroy_bridge", http.MethodDelete,
		"/bridges/"+url.PathEscape(bridgeID), nil, nil, nil)
}

// AddToBridge adds the channel to the bridge.
func (c *Client) AddToBridge(ctx context.Context, bridgeID, channelID string) error {
	q := url.Values{}
	q.Set("channel", channelID)
	return c.do(ctx, "add_to_bridge", http.MethodPost,
		"/bridges/"+url.PathEscape(bridgeID)+"/addChannel", q, nil, nil)
}

// RemoveFromBridge removes the channel from the bridge.
func (c *Client) RemoveFromBridge(ctx context.Context, bridgeID, channelID string) error {
	q := url.Values{}
	q.Set("channel", channelID)
	return c.do(ctx, "remove_from_bridge", http.MethodPost,
		"/bridges/"+url.PathEscape(bridgeID)+"/removeChannel", q, nil, nil)
}

// PlayMedia starts playback of mediaURI (e.g. "sound:...") on the channel
// and returns the playback id.
func (c *Client) PlayMedia(ctx context.Context, channelID, mediaURI string) (string, error) {
	q := url.Values{}
	q.Set("media", mediaURI)

	var pb Playback
	err := c.do(ctx, "play_media", http.MethodPost,
		"/channels/"+url.PathEscape(channelID)+"/play", q, nil, &pb)
	if err != nil {
		return "", err
	}
	return pb.ID, nil
}

// StopPlayback stops an in-progress playback.
func (c *Client) StopPlayback(ctx context.Context, playbackID string) error {
	return c.do(ctx, "stop_playback", http.MethodDelete,
		"/playbacks/"+url.PathEscape(playbackID), nil, nil, nil)
}

// SetVariable sets a channel variable.
func (c *Client) SetVariable(ctx context.Context, channelID, name, value string) error {
	q := url.Values{}
	q.Set("variable", name)
	q.Set("value", value)
	return c.do(ctx, "set_variable", http.MethodPost,
		"/channels/"+url.PathEscape(channelID)+"/variable", q, nil, nil)
}

// GetVariable reads a channel variable. A NotFound error is returned both
// for a missing channel and an unset variable.
func (c *Client) GetVariable(ctx context.Context, channelID, name string) (string, error) {
	q := url.Values{}
	q.Set("variable", name)

	var out struct {
		Value string `json:"value"`
	}
	err := c.do(ctx, "get_variable", http.MethodGet,
		"/channels/"+url.PathEscape(channelID)+"/variable", q, nil, &out)
	return out.Value, err
}

// Redirect moves the channel out of Stasis to a dialplan location
// immediately. Used for blind extension transfers.
func (c *Client) Redirect(ctx context.Context, channelID, dialContext, exten string) error {
	q := url.Values{}
	q.Set("endpoint", "Local/"+exten+"@"+dialContext)
	return c.do(ctx, "redirect", http.MethodPost,
		"/channels/"+url.PathEscape(channelID)+"/redirect", q, nil, nil)
}

// ContinueInDialplan resumes dialplan execution at the given location. Used
// for queue and ring-group transfers.
func (c *Client) ContinueInDialplan(ctx context.Context, channelID, dialContext, exten string, priority int) error {
	q := url.Values{}
	q.Set("context", dialContext)
	q.Set("extension", exten)
	if priority > 0 {
		q.Set("priority", strconv.Itoa(priority))
	}
	return c.do(ctx, "continue_in_dialplan", http.MethodPost,
		"/channels/"+url.PathEscape(channelID)+"/continue", q, nil, nil)
}

// StartMOH starts music-on-hold on the channel.
func (c *Client) StartMOH(ctx context.Context, channelID, mohClass string) error {
	q := url.Values{}
	if mohClass != "" {
		q.Set("mohClass", mohClass)
	}
	return c.do(ctx, "start_moh", http.MethodPost,
		"/channels/"+url.PathEscape(channelID)+"/moh", q, nil, nil)
}

// StopMOH stops music-on-hold on the channel.
func (c *Client) StopMOH(ctx context.Context, channelID string) error {
	return c.do(ctx, "stop_moh", http.MethodDelete,
		"/channels/"+url.PathEscape(channelID)+"/moh", nil, nil, nil)
}

// do issues one ARI request and decodes the response into out when non-nil.
func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body, out any) error {
	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return &Error{Kind: KindTransport, Op: op, Msg: "encode body", cause: err}
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reqBody)
	if err != nil {
		return &Error{Kind: KindTransport, Op: op, Msg: "build request", cause: err}
	}
	req.SetBasicAuth(c.username, c.password)
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &Error{Kind: KindTransport, Op: op, Msg: err.Error(), cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &Error{
			Kind:   kindForStatus(resp.StatusCode),
			Op:     op,
			Status: resp.StatusCode,
			Msg:    readErrorMessage(resp.Body),
		}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &Error{Kind: KindTransport, Op: op, Msg: "decode response", cause: err}
		}
	}
	return nil
}

// readErrorMessage extracts the "message" field Asterisk puts in error
// bodies, falling back to the raw body.
func readErrorMessage(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(data) == 0 {
		return ""
	}
	var body struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &body) == nil && body.Message != "" {
		return body.Message
	}
	return string(data)
}
