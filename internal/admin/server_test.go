package admin

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/voxgate/voxgate/internal/config"
	"github.com/voxgate/voxgate/internal/health"
	"github.com/voxgate/voxgate/internal/session"
)

const baseYAML = `
asterisk:
  base_url: http://127.0.0.1:8088/ari
  app_name: voxgate
  username: ari
  password: secret
default_provider: openai
providers:
  openai:
    type: monolithic
    kind: openai_realtime
    api_key: sk-test
default_context: default
contexts:
  default:
    greeting: "Hello!"
    prompt: "You are a receptionist."
`

type fakeManager struct {
	summaries []session.Summary
	hangups   []string
	err       error
}

func (m *fakeManager) Calls() []session.Summary { return m.summaries }

func (m *fakeManager) HangupCall(id string) error {
	m.hangups = append(m.hangups, id)
	return m.err
}

func mustConfig(t *testing.T, yaml string) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	return cfg
}

func writeConfigFile(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "voxgate.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func newTestServer(t *testing.T, mgr CallManager, h *health.Handler, configPath string) *httptest.Server {
	t.Helper()
	store := config.NewStore(mustConfig(t, baseYAML))
	s := NewServer(Config{ConfigPath: configPath}, store, mgr, h,
		nil, slog.New(slog.DiscardHandler))
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func postJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Post(url, "application/json", nil)
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestProbesAndHealth(t *testing.T) {
	t.Parallel()

	h := health.New(
		func() health.Status {
			return health.Status{ARIConnected: true, Transport: "audiosocket", ActiveCalls: 2}
		},
		health.Checker{Name: "ari", Check: func(context.Context) error { return nil }},
		health.Checker{Name: "provider", Check: func(context.Context) error { return errors.New("unreachable") }},
	)
	ts := newTestServer(t, &fakeManager{}, h, "")

	if code := getJSON(t, ts.URL+"/live", nil); code != http.StatusOK {
		t.Errorf("/live = %d, want 200", code)
	}
	if code := getJSON(t, ts.URL+"/ready", nil); code != http.StatusServiceUnavailable {
		t.Errorf("/ready = %d, want 503 with a failing checker", code)
	}

	var status health.Status
	if code := getJSON(t, ts.URL+"/health", &status); code != http.StatusOK {
		t.Fatalf("/health = %d, want 200", code)
	}
	if !status.ARIConnected || status.Transport != "audiosocket" || status.ActiveCalls != 2 {
		t.Errorf("/health = %+v", status)
	}
}

func TestMetricsExposition(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, &fakeManager{}, nil, "")
	if code := getJSON(t, ts.URL+"/metrics", nil); code != http.StatusOK {
		t.Errorf("/metrics = %d, want 200", code)
	}
}

func TestListCalls(t *testing.T) {
	t.Parallel()

	mgr := &fakeManager{summaries: []session.Summary{{
		ChannelID:    "chan-1",
		CallerNumber: "555",
		Context:      "default",
		Provider:     "openai",
		Phase:        "responding",
		StartedAt:    time.Now().Add(-30 * time.Second),
	}}}
	ts := newTestServer(t, mgr, nil, "")

	var body struct {
		Calls []callEntry `json:"calls"`
	}
	if code := getJSON(t, ts.URL+"/calls", &body); code != http.StatusOK {
		t.Fatalf("/calls = %d, want 200", code)
	}
	if len(body.Calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(body.Calls))
	}
	c := body.Calls[0]
	if c.ChannelID != "chan-1" || c.Phase != "responding" || c.DurationSec < 29 {
		t.Errorf("call entry = %+v", c)
	}
}

func TestHangupCall(t *testing.T) {
	t.Parallel()

	mgr := &fakeManager{}
	ts := newTestServer(t, mgr, nil, "")

	if code := postJSON(t, ts.URL+"/calls/chan-1/hangup", nil); code != http.StatusAccepted {
		t.Errorf("hangup = %d, want 202", code)
	}
	if len(mgr.hangups) != 1 || mgr.hangups[0] != "chan-1" {
		t.Errorf("hangups = %v", mgr.hangups)
	}

	mgr.err = session.ErrCallNotFound
	if code := postJSON(t, ts.URL+"/calls/ghost/hangup", nil); code != http.StatusNotFound {
		t.Errorf("hangup unknown = %d, want 404", code)
	}
}

func TestConfigReloadHot(t *testing.T) {
	t.Parallel()

	next := strings.Replace(baseYAML, "Hello!", "Welcome!", 1)
	path := writeConfigFile(t, next)
	ts := newTestServer(t, &fakeManager{}, nil, path)

	var res reloadResult
	if code := postJSON(t, ts.URL+"/config/reload", &res); code != http.StatusOK {
		t.Fatalf("reload = %d, want 200", code)
	}
	if !res.Applied {
		t.Error("Applied = false, want true for a greeting change")
	}
	if len(res.RestartRequired) != 0 {
		t.Errorf("RestartRequired = %v, want none", res.RestartRequired)
	}
}

func TestConfigReloadRestartRequired(t *testing.T) {
	t.Parallel()

	next := strings.Replace(baseYAML, "http://127.0.0.1:8088/ari", "http://10.0.0.9:8088/ari", 1)
	path := writeConfigFile(t, next)
	ts := newTestServer(t, &fakeManager{}, nil, path)

	var res reloadResult
	if code := postJSON(t, ts.URL+"/config/reload", &res); code != http.StatusOK {
		t.Fatalf("reload = %d, want 200", code)
	}
	if res.Applied {
		t.Error("Applied = true, want false when only restart keys changed")
	}
	if len(res.RestartRequired) == 0 || len(res.Warnings) == 0 {
		t.Errorf("RestartRequired = %v, Warnings = %v", res.RestartRequired, res.Warnings)
	}
}

func TestConfigReloadInvalidFile(t *testing.T) {
	t.Parallel()

	path := writeConfigFile(t, "asterisk:\n  base_url: \"\"\n")
	ts := newTestServer(t, &fakeManager{}, nil, path)

	if code := postJSON(t, ts.URL+"/config/reload", nil); code != http.StatusUnprocessableEntity {
		t.Errorf("reload = %d, want 422", code)
	}
}
