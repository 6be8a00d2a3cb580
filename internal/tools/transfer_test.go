package tools

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	arimock "github.com/voxgate/voxgate/internal/ari/mock"
	"github.com/voxgate/voxgate/internal/config"
	"github.com/voxgate/voxgate/internal/observe"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type stubSynth struct {
	err error
}

func (s *stubSynth) Render(_ context.Context, _ string) ([]byte, int, error) {
	if s.err != nil {
		return nil, 0, s.err
	}
	return []byte{0x01, 0x02}, 8000, nil
}

type stubAnnouncer struct {
	mu       sync.Mutex
	channels []string
}

func (a *stubAnnouncer) Play(_ context.Context, channelID string, _ []byte, _ int) (string, error) {
	a.mu.Lock()
	a.channels = append(a.channels, channelID)
	a.mu.Unlock()
	return "pb-1", nil
}

func (a *stubAnnouncer) Wait(_ context.Context, _ string) error { return nil }

func (a *stubAnnouncer) played() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.channels...)
}

type speakRecorder struct {
	mu    sync.Mutex
	texts []string
}

func (s *speakRecorder) speak(_ context.Context, text string) error {
	s.mu.Lock()
	s.texts = append(s.texts, text)
	s.mu.Unlock()
	return nil
}

func (s *speakRecorder) spoken() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.texts...)
}

func testSettings() TransferSettings {
	return TransferSettings{
		ExtensionContext: "from-internal",
		RingGroupContext: "ext-group",
		QueueContext:     "ext-queues",
		AppName:          "voxgate",
		DialTimeout:      500 * time.Millisecond,
		AcceptTimeout:    time.Second,
		TTSTimeout:       time.Second,
		MOHClass:         "default",
	}
}

type transferFixture struct {
	client   *arimock.Client
	synth    *stubSynth
	announce *stubAnnouncer
	speak    *speakRecorder
	mgr      *TransferManager
}

func newTransferFixture(t *testing.T, settings TransferSettings) *transferFixture {
	t.Helper()
	f := &transferFixture{
		client:   arimock.New(),
		synth:    &stubSynth{},
		announce: &stubAnnouncer{},
		speak:    &speakRecorder{},
	}
	f.client.OriginatedChannel.ID = "dest-orig"
	call := CallInfo{ChannelID: "chan-1", CallerName: "Alice", CallerNumber: "555"}
	f.mgr = NewTransferManager(f.client, NewResolver(testDestinations()), f.synth, f.announce,
		f.speak.speak, call, settings, nil)
	return f
}

func waitState(t *testing.T, m *TransferManager, want TransferState) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.State() == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("state = %v, want %v", m.State(), want)
}

type attendedResult struct {
	value any
	err   error
}

func runAttended(f *transferFixture, spoken string) <-chan attendedResult {
	done := make(chan attendedResult, 1)
	go func() {
		v, err := f.mgr.Attended(context.Background(), spoken)
		done <- attendedResult{value: v, err: err}
	}()
	return done
}

func awaitResult(t *testing.T, done <-chan attendedResult) attendedResult {
	t.Helper()
	select {
	case res := <-done:
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("attended transfer did not finish")
		return attendedResult{}
	}
}

func TestBlindTransferRouting(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		spoken      string
		wantOp      string
		wantContext string
		wantExten   string
	}{
		{name: "extension redirect", spoken: "reception", wantOp: "redirect", wantContext: "from-internal", wantExten: "6000"},
		{name: "queue continues dialplan", spoken: "support queue", wantOp: "continue_in_dialplan", wantContext: "ext-queues", wantExten: "700"},
		{name: "ring group continues dialplan", spoken: "sales team", wantOp: "continue_in_dialplan", wantContext: "ext-group", wantExten: "600"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f := newTransferFixture(t, testSettings())
			value, err := f.mgr.Blind(context.Background(), tc.spoken)
			if err != nil {
				t.Fatalf("Blind(%q) = %v", tc.spoken, err)
			}
			calls := f.client.CallsTo(tc.wantOp)
			if len(calls) != 1 {
				t.Fatalf("%s calls = %d, want 1", tc.wantOp, len(calls))
			}
			if calls[0].ChannelID != "chan-1" {
				t.Errorf("channel = %q, want chan-1", calls[0].ChannelID)
			}
			if got := calls[0].Args["context"]; got != tc.wantContext {
				t.Errorf("context = %q, want %q", got, tc.wantContext)
			}
			if got := calls[0].Args["exten"]; got != tc.wantExten {
				t.Errorf("exten = %q, want %q", got, tc.wantExten)
			}
			result, _ := value.(map[string]any)
			if result["target"] != tc.wantExten {
				t.Errorf("result = %v, want target %s", value, tc.wantExten)
			}
		})
	}
}

func TestBlindTransferUnknownDestination(t *testing.T) {
	t.Parallel()

	f := newTransferFixture(t, testSettings())
	_, err := f.mgr.Blind(context.Background(), "the moon base")
	var toolErr *Error
	if !errors.As(err, &toolErr) || toolErr.Kind != KindDestinationNotFound {
		t.Fatalf("err = %v, want KindDestinationNotFound", err)
	}
	if calls := f.client.Calls(); len(calls) != 0 {
		t.Errorf("ARI calls = %v, want none", calls)
	}
}

func TestBlindTransferRoutingFailure(t *testing.T) {
	t.Parallel()

	f := newTransferFixture(t, testSettings())
	f.client.Errs["redirect"] = errors.New("boom")
	_, err := f.mgr.Blind(context.Background(), "reception")
	var toolErr *Error
	if !errors.As(err, &toolErr) || toolErr.Kind != KindDestinationUnreachable {
		t.Fatalf("err = %v, want KindDestinationUnreachable", err)
	}
}

func TestAttendedAccept(t *testing.T) {
	t.Parallel()

	f := newTransferFixture(t, testSettings())
	done := runAttended(f, "john smith")

	waitState(t, f.mgr, StateBriefing)
	f.mgr.DestinationAnswered("dest-1")
	waitState(t, f.mgr, StateAwaitingDTMF)
	f.mgr.DTMF('1')

	res := awaitResult(t, done)
	if res.err != nil {
		t.Fatalf("Attended() = %v", res.err)
	}
	result, _ := res.value.(map[string]any)
	if result["outcome"] != "bridged" || result["destination"] != "john_smith" {
		t.Errorf("result = %v, want bridged john_smith", res.value)
	}
	if f.mgr.State() != StateBridged {
		t.Errorf("state = %v, want StateBridged", f.mgr.State())
	}

	orig := f.client.CallsTo("originate_channel")
	if len(orig) != 1 {
		t.Fatalf("originate calls = %d, want 1", len(orig))
	}
	if got := orig[0].Args["endpoint"]; got != "Local/6001@from-internal" {
		t.Errorf("endpoint = %q", got)
	}
	if got := orig[0].Args["app"]; got != "voxgate" {
		t.Errorf("app = %q, want voxgate", got)
	}
	if got := orig[0].Args["caller_id"]; got != `"AI" <555>` {
		t.Errorf("caller_id = %q", got)
	}
	if moh := f.client.CallsTo("start_moh"); len(moh) != 1 || moh[0].ChannelID != "chan-1" {
		t.Errorf("start_moh calls = %v", moh)
	}
	if got := f.announce.played(); len(got) != 1 || got[0] != "dest-1" {
		t.Errorf("announcement channels = %v, want [dest-1]", got)
	}
	if ans := f.client.CallsTo("answer"); len(ans) != 1 || ans[0].ChannelID != "dest-1" {
		t.Errorf("answer calls = %v", ans)
	}
	if cb := f.client.CallsTo("create_bridge"); len(cb) != 1 || cb[0].Args["type"] != "mixing" {
		t.Errorf("create_bridge calls = %v", cb)
	}
	added := map[string]bool{}
	for _, call := range f.client.CallsTo("add_to_bridge") {
		if call.BridgeID != "mock-bridge" {
			t.Errorf("add_to_bridge bridge = %q", call.BridgeID)
		}
		added[call.ChannelID] = true
	}
	if !added["chan-1"] || !added["dest-1"] {
		t.Errorf("bridged channels = %v, want caller and destination", added)
	}
	if stop := f.client.CallsTo("stop_moh"); len(stop) != 1 {
		t.Errorf("stop_moh calls = %d, want 1", len(stop))
	}
}

func TestAttendedDeclinedByDigit(t *testing.T) {
	t.Parallel()

	f := newTransferFixture(t, testSettings())
	done := runAttended(f, "john smith")

	waitState(t, f.mgr, StateBriefing)
	f.mgr.DestinationAnswered("dest-1")
	waitState(t, f.mgr, StateAwaitingDTMF)
	f.mgr.DTMF('2')

	res := awaitResult(t, done)
	var toolErr *Error
	if !errors.As(res.err, &toolErr) || toolErr.Kind != KindDeclined {
		t.Fatalf("err = %v, want KindDeclined", res.err)
	}
	if f.mgr.State() != StateIdle {
		t.Errorf("state = %v, want StateIdle", f.mgr.State())
	}
	if hang := f.client.CallsTo("hangup"); len(hang) != 1 || hang[0].ChannelID != "dest-1" {
		t.Errorf("hangup calls = %v, want dest-1", hang)
	}
	if stop := f.client.CallsTo("stop_moh"); len(stop) != 1 {
		t.Errorf("stop_moh calls = %d, want 1", len(stop))
	}
	spoken := f.speak.spoken()
	if len(spoken) != 1 || spoken[0] != "I'm sorry, john smith is unavailable right now." {
		t.Errorf("spoken = %v", spoken)
	}
}

func TestAttendedIgnoresUnknownDigit(t *testing.T) {
	t.Parallel()

	settings := testSettings()
	settings.AcceptTimeout = 200 * time.Millisecond
	f := newTransferFixture(t, settings)
	done := runAttended(f, "john smith")

	waitState(t, f.mgr, StateBriefing)
	f.mgr.DestinationAnswered("dest-1")
	waitState(t, f.mgr, StateAwaitingDTMF)
	f.mgr.DTMF('9')

	time.Sleep(50 * time.Millisecond)
	if f.mgr.State() != StateAwaitingDTMF {
		t.Fatalf("state after unknown digit = %v, want StateAwaitingDTMF", f.mgr.State())
	}

	// Nothing else arrives, so the accept timeout declines.
	res := awaitResult(t, done)
	var toolErr *Error
	if !errors.As(res.err, &toolErr) || toolErr.Kind != KindDeclined {
		t.Fatalf("err = %v, want KindDeclined", res.err)
	}
}

func TestAttendedDialTimeout(t *testing.T) {
	t.Parallel()

	settings := testSettings()
	settings.DialTimeout = 50 * time.Millisecond
	f := newTransferFixture(t, settings)
	done := runAttended(f, "john smith")

	res := awaitResult(t, done)
	var toolErr *Error
	if !errors.As(res.err, &toolErr) || toolErr.Kind != KindDestinationUnreachable {
		t.Fatalf("err = %v, want KindDestinationUnreachable", res.err)
	}
	if hang := f.client.CallsTo("hangup"); len(hang) != 1 || hang[0].ChannelID != "dest-orig" {
		t.Errorf("hangup calls = %v, want originated leg", hang)
	}
	if stop := f.client.CallsTo("stop_moh"); len(stop) != 1 {
		t.Errorf("stop_moh calls = %d, want 1", len(stop))
	}
	if f.mgr.State() != StateIdle {
		t.Errorf("state = %v, want StateIdle", f.mgr.State())
	}
}

func TestAttendedCancelWhileRinging(t *testing.T) {
	t.Parallel()

	f := newTransferFixture(t, testSettings())
	done := runAttended(f, "john smith")

	waitState(t, f.mgr, StateBriefing)
	if err := f.mgr.Cancel(); err != nil {
		t.Fatalf("Cancel() = %v", err)
	}

	res := awaitResult(t, done)
	if res.err != nil {
		t.Fatalf("Attended() = %v, want cancelled result", res.err)
	}
	result, _ := res.value.(map[string]any)
	if result["outcome"] != "cancelled" {
		t.Errorf("result = %v, want cancelled", res.value)
	}
	if hang := f.client.CallsTo("hangup"); len(hang) != 1 || hang[0].ChannelID != "dest-orig" {
		t.Errorf("hangup calls = %v, want originated leg", hang)
	}
}

func TestCancelWithoutTransfer(t *testing.T) {
	t.Parallel()

	f := newTransferFixture(t, testSettings())
	err := f.mgr.Cancel()
	var toolErr *Error
	if !errors.As(err, &toolErr) || toolErr.Kind != KindInvalidArgs {
		t.Fatalf("Cancel() = %v, want KindInvalidArgs", err)
	}
}

func TestAttendedNotAllowedDestination(t *testing.T) {
	t.Parallel()

	f := newTransferFixture(t, testSettings())
	_, err := f.mgr.Attended(context.Background(), "reception")
	var toolErr *Error
	if !errors.As(err, &toolErr) || toolErr.Kind != KindInvalidArgs {
		t.Fatalf("err = %v, want KindInvalidArgs", err)
	}
	if calls := f.client.Calls(); len(calls) != 0 {
		t.Errorf("ARI calls = %v, want none", calls)
	}
}

func TestAttendedProceedsWhenAnnouncementFails(t *testing.T) {
	t.Parallel()

	f := newTransferFixture(t, testSettings())
	f.synth.err = errors.New("tts down")
	done := runAttended(f, "john smith")

	waitState(t, f.mgr, StateBriefing)
	f.mgr.DestinationAnswered("dest-1")
	waitState(t, f.mgr, StateAwaitingDTMF)
	f.mgr.DTMF('1')

	res := awaitResult(t, done)
	if res.err != nil {
		t.Fatalf("Attended() = %v, want bridged despite TTS failure", res.err)
	}
	if got := f.announce.played(); len(got) != 0 {
		t.Errorf("announcement channels = %v, want none", got)
	}
}

func TestAttendedLegOwner(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		args   []string
		want   string
		wantOK bool
	}{
		{name: "attended leg", args: []string{"attended", "chan-1"}, want: "chan-1", wantOK: true},
		{name: "ordinary call", args: nil, wantOK: false},
		{name: "wrong prefix", args: []string{"inbound", "chan-1"}, wantOK: false},
		{name: "missing channel", args: []string{"attended"}, wantOK: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, ok := AttendedLegOwner(tc.args)
			if ok != tc.wantOK || got != tc.want {
				t.Errorf("AttendedLegOwner(%v) = %q/%v, want %q/%v", tc.args, got, ok, tc.want, tc.wantOK)
			}
		})
	}
}

// transferCounts collects the transfers counter as a kind/outcome map.
func transferCounts(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	counts := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "voxgate.transfers" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatal("transfers is not a sum")
			}
			for _, dp := range sum.DataPoints {
				var kind, outcome string
				for _, kv := range dp.Attributes.ToSlice() {
					switch string(kv.Key) {
					case "kind":
						kind = kv.Value.AsString()
					case "outcome":
						outcome = kv.Value.AsString()
					}
				}
				counts[kind+"/"+outcome] = dp.Value
			}
		}
	}
	return counts
}

func TestTransferOutcomesCounted(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	met, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	f := newTransferFixture(t, testSettings())
	f.mgr.met = met

	if _, err := f.mgr.Blind(context.Background(), "reception"); err != nil {
		t.Fatalf("Blind() = %v", err)
	}
	if _, err := f.mgr.Blind(context.Background(), "the moon base"); err == nil {
		t.Fatal("Blind() with unknown destination succeeded")
	}

	done := runAttended(f, "john smith")
	waitState(t, f.mgr, StateBriefing)
	f.mgr.DestinationAnswered("dest-1")
	waitState(t, f.mgr, StateAwaitingDTMF)
	f.mgr.DTMF('2')
	awaitResult(t, done)

	counts := transferCounts(t, reader)
	want := map[string]int64{
		"blind/ok":          1,
		"blind/not_found":   1,
		"attended/declined": 1,
	}
	for key, n := range want {
		if counts[key] != n {
			t.Errorf("transfers[%s] = %d, want %d (all: %v)", key, counts[key], n, counts)
		}
	}
}

func TestSettingsFromConfig(t *testing.T) {
	t.Parallel()

	cfg := config.ToolsConfig{
		Transfer: config.TransferConfig{
			ExtensionContext: "from-internal",
			RingGroupContext: "ext-group",
			QueueContext:     "ext-queues",
		},
		Attended: config.AttendedConfig{
			DialTimeoutSeconds:   30,
			AcceptTimeoutSeconds: 15,
			TTSTimeoutSeconds:    10,
			MOHClass:             "default",
		},
	}
	got := SettingsFromConfig(cfg, "voxgate")
	if got.DialTimeout != 30*time.Second || got.AcceptTimeout != 15*time.Second || got.TTSTimeout != 10*time.Second {
		t.Errorf("timers = %+v", got)
	}
	if got.AppName != "voxgate" || got.MOHClass != "default" || got.ExtensionContext != "from-internal" {
		t.Errorf("settings = %+v", got)
	}
}
