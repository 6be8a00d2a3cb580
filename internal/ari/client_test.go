package ari

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientVerbPathsAndAuth(t *testing.T) {
	t.Parallel()

	var gotPath, gotQuery string
	var gotUser, gotPass string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotUser, gotPass, _ = r.BasicAuth()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "voxgate", "secret")
	if err := c.Answer(context.Background(), "chan-1"); err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if gotPath != "/channels/chan-1/answer" {
		t.Errorf("path = %q, want /channels/chan-1/answer", gotPath)
	}
	if gotUser != "voxgate" || gotPass != "secret" {
		t.Errorf("auth = %q:%q, want voxgate:secret", gotUser, gotPass)
	}

	if err := c.ContinueInDialplan(context.Background(), "chan-1", "ext-queues", "600", 1); err != nil {
		t.Fatalf("ContinueInDialplan: %v", err)
	}
	if gotPath != "/channels/chan-1/continue" {
		t.Errorf("path = %q, want /channels/chan-1/continue", gotPath)
	}
	if gotQuery != "context=ext-queues&extension=600&priority=1" {
		t.Errorf("query = %q", gotQuery)
	}
}

func TestClientTypedErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		check  func(error) bool
		kind   ErrorKind
	}{
		{"not found", http.StatusNotFound, IsNotFound, KindNotFound},
		{"state conflict", http.StatusConflict, IsStateConflict, KindStateConflict},
		{"unprocessable", http.StatusUnprocessableEntity, IsStateConflict, KindStateConflict},
		{"unauthorized", http.StatusUnauthorized, IsUnauthorized, KindUnauthorized},
		{"server error", http.StatusInternalServerError, nil, KindTransport},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				json.NewEncoder(w).Encode(map[string]string{"message": "nope"})
			}))
			defer srv.Close()

			c := NewClient(srv.URL, "u", "p")
			err := c.Hangup(context.Background(), "chan-9")
			if err == nil {
				t.Fatal("expected an error")
			}
			var ae *Error
			if !errors.As(err, &ae) {
				t.Fatalf("err %T is not *Error", err)
			}
			if ae.Kind != tt.kind {
				t.Errorf("kind = %v, want %v", ae.Kind, tt.kind)
			}
			if ae.Msg != "nope" {
				t.Errorf("msg = %q, want server message", ae.Msg)
			}
			if tt.check != nil && !tt.check(err) {
				t.Errorf("kind predicate rejected %v", err)
			}
		})
	}
}

func TestClientTransportError(t *testing.T) {
	t.Parallel()

	// Point at a closed server so the dial fails.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c := NewClient(srv.URL, "u", "p")
	err := c.Answer(context.Background(), "chan-1")
	var ae *Error
	if !errors.As(err, &ae) || ae.Kind != KindTransport {
		t.Fatalf("err = %v, want transport kind", err)
	}
	if ae.Status != 0 {
		t.Errorf("status = %d, want 0 for network failure", ae.Status)
	}
}

func TestClientPlayMediaReturnsPlaybackID(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("media") != "sound:abc" {
			t.Errorf("media = %q, want sound:abc", r.URL.Query().Get("media"))
		}
		json.NewEncoder(w).Encode(Playback{ID: "pb-42", State: "queued"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "u", "p")
	id, err := c.PlayMedia(context.Background(), "chan-1", "sound:abc")
	if err != nil {
		t.Fatalf("PlayMedia: %v", err)
	}
	if id != "pb-42" {
		t.Errorf("playback id = %q, want pb-42", id)
	}
}

func TestClientOriginateSendsVariables(t *testing.T) {
	t.Parallel()

	var body struct {
		Variables map[string]string `json:"variables"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		json.NewEncoder(w).Encode(Channel{ID: "chan-new"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "u", "p")
	ch, err := c.OriginateChannel(context.Background(), OriginateParams{
		Endpoint:  "PJSIP/6001",
		App:       "voxgate",
		CallerID:  `"AI" <100>`,
		Variables: map[string]string{"VOXGATE_LEG": "agent"},
	})
	if err != nil {
		t.Fatalf("OriginateChannel: %v", err)
	}
	if ch.ID != "chan-new" {
		t.Errorf("channel id = %q, want chan-new", ch.ID)
	}
	if body.Variables["VOXGATE_LEG"] != "agent" {
		t.Errorf("variables = %v, want VOXGATE_LEG=agent", body.Variables)
	}
}
