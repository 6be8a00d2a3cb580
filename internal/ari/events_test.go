package ari

import (
	"testing"
)

func TestDecodeEvent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		raw         string
		wantType    string
		wantChannel string
	}{
		{
			name: "stasis start",
			raw: `{"type":"StasisStart","args":["incoming"],
				"channel":{"id":"c1","name":"PJSIP/100-0001","state":"Ring",
				"caller":{"name":"Alice","number":"100"},
				"dialplan":{"context":"from-internal","exten":"500","priority":1}}}`,
			wantType:    "StasisStart",
			wantChannel: "c1",
		},
		{
			name:        "stasis end",
			raw:         `{"type":"StasisEnd","channel":{"id":"c2"}}`,
			wantType:    "StasisEnd",
			wantChannel: "c2",
		},
		{
			name:        "hangup request",
			raw:         `{"type":"ChannelHangupRequest","cause":16,"channel":{"id":"c3"}}`,
			wantType:    "ChannelHangupRequest",
			wantChannel: "c3",
		},
		{
			name:        "dtmf",
			raw:         `{"type":"ChannelDtmfReceived","digit":"1","duration_ms":120,"channel":{"id":"c4"}}`,
			wantType:    "ChannelDtmfReceived",
			wantChannel: "c4",
		},
		{
			name:        "varset",
			raw:         `{"type":"ChannelVarset","variable":"AI_CONTEXT","value":"sales","channel":{"id":"c5"}}`,
			wantType:    "ChannelVarset",
			wantChannel: "c5",
		},
		{
			name:        "playback finished",
			raw:         `{"type":"PlaybackFinished","playback":{"id":"pb-1","target_uri":"channel:c6","state":"done"}}`,
			wantType:    "PlaybackFinished",
			wantChannel: "",
		},
		{
			name:        "entered bridge",
			raw:         `{"type":"ChannelEnteredBridge","channel":{"id":"c7"},"bridge":{"id":"b1","bridge_type":"mixing"}}`,
			wantType:    "ChannelEnteredBridge",
			wantChannel: "c7",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ev, err := DecodeEvent([]byte(tt.raw))
			if err != nil {
				t.Fatalf("DecodeEvent: %v", err)
			}
			if ev.Type != tt.wantType {
				t.Errorf("type = %q, want %q", ev.Type, tt.wantType)
			}
			if ev.ChannelID != tt.wantChannel {
				t.Errorf("channel id = %q, want %q", ev.ChannelID, tt.wantChannel)
			}
			if ev.Payload == nil {
				t.Error("payload is nil for a known event type")
			}
		})
	}
}

func TestDecodeEventFields(t *testing.T) {
	t.Parallel()

	raw := `{"type":"ChannelDtmfReceived","digit":"#","duration_ms":80,"channel":{"id":"c1"}}`
	ev, err := DecodeEvent([]byte(raw))
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	dtmf, ok := ev.Payload.(*ChannelDtmfReceived)
	if !ok {
		t.Fatalf("payload %T, want *ChannelDtmfReceived", ev.Payload)
	}
	if dtmf.Digit != "#" || dtmf.DurationMs != 80 {
		t.Errorf("dtmf = %+v", dtmf)
	}
}

func TestDecodeEventUnknownType(t *testing.T) {
	t.Parallel()

	ev, err := DecodeEvent([]byte(`{"type":"DeviceStateChanged","device_state":{}}`))
	if err != nil {
		t.Fatalf("unknown type must not fail: %v", err)
	}
	if ev.Payload != nil {
		t.Errorf("payload = %v, want nil for unhandled type", ev.Payload)
	}
}

func TestDecodeEventMalformed(t *testing.T) {
	t.Parallel()

	if _, err := DecodeEvent([]byte(`{not json`)); err == nil {
		t.Fatal("expected error for malformed JSON")
	}
}
