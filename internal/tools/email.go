package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/voxgate/voxgate/internal/config"
	"github.com/voxgate/voxgate/pkg/provider/llm"
)

// Mailer posts messages to the configured outbound email service.
type Mailer struct {
	endpoint string
	apiKey   string
	hc       *http.Client

	// lookupMX is swapped in tests; nil uses the system resolver.
	lookupMX func(ctx context.Context, domain string) error
}

// NewMailer creates a mailer from the email config. hc may be nil.
func NewMailer(cfg config.EmailConfig, hc *http.Client) *Mailer {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Mailer{endpoint: cfg.Endpoint, apiKey: cfg.APIKey, hc: hc}
}

// Send posts one message. Non-2xx responses are errors.
func (m *Mailer) Send(ctx context.Context, to, subject, body string) error {
	if m.endpoint == "" {
		return fmt.Errorf("tools: mailer: no endpoint configured")
	}
	payload, err := json.Marshal(map[string]string{
		"to":      to,
		"subject": subject,
		"body":    body,
	})
	if err != nil {
		return fmt.Errorf("tools: mailer: encode: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("tools: mailer: request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if m.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+m.apiKey)
	}
	resp, err := m.hc.Do(req)
	if err != nil {
		return fmt.Errorf("tools: mailer: send: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("tools: mailer: send: status %d", resp.StatusCode)
	}
	return nil
}

// validateMX checks the address domain has an MX record.
func (m *Mailer) validateMX(ctx context.Context, domain string) error {
	if m.lookupMX != nil {
		return m.lookupMX(ctx, domain)
	}
	records, err := net.DefaultResolver.LookupMX(ctx, domain)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return fmt.Errorf("no MX records for %s", domain)
	}
	return nil
}

func emailSummarySpec(cfg config.ToolsConfig, deps Deps) Spec {
	return Spec{
		Definition: llm.ToolDefinition{
			Name:        NameSendEmailSummary,
			Description: "Email a summary of this call, with its transcript, to the configured recipient.",
			Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
		},
		Concurrent: true,
		Timeout:    15 * time.Second,
		Run: func(ctx context.Context, _ json.RawMessage) (any, error) {
			recipient := cfg.Email.DefaultRecipient
			if recipient == "" {
				return nil, newError(KindInvalidArgs, NameSendEmailSummary, "no summary recipient configured")
			}
			subject := fmt.Sprintf("Call summary: %s (%s)", callerOrUnknown(deps.Call), deps.Call.ChannelID)
			if err := deps.Mailer.Send(ctx, recipient, subject, summaryBody(deps)); err != nil {
				return nil, wrapError(KindInvalidArgs, NameSendEmailSummary, "sending failed", err)
			}
			return map[string]any{"sent_to": recipient}, nil
		},
	}
}

type transcriptArgs struct {
	Email string `json:"email"`
}

func requestTranscriptSpec(cfg config.ToolsConfig, deps Deps) Spec {
	var (
		mu   sync.Mutex
		sent = map[string]bool{}
	)
	return Spec{
		Definition: llm.ToolDefinition{
			Name:        NameRequestTranscript,
			Description: "Email the call transcript to an address the caller provides. Read the address back to the caller for confirmation before calling this.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"email": map[string]any{
						"type":        "string",
						"description": "The recipient email address as the caller spoke it.",
					},
				},
				"required": []string{"email"},
			},
		},
		Concurrent: true,
		Timeout:    15 * time.Second,
		Run: func(ctx context.Context, raw json.RawMessage) (any, error) {
			var args transcriptArgs
			if err := json.Unmarshal(raw, &args); err != nil {
				return nil, wrapError(KindInvalidArgs, NameRequestTranscript, "arguments are not valid JSON", err)
			}
			addr, err := NormalizeSpokenEmail(args.Email)
			if err != nil {
				return nil, wrapError(KindInvalidArgs, NameRequestTranscript,
					fmt.Sprintf("%q is not a valid email address", args.Email), err)
			}
			if cfg.Email.ValidateMX {
				domain := addr[strings.LastIndexByte(addr, '@')+1:]
				if err := deps.Mailer.validateMX(ctx, domain); err != nil {
					return nil, wrapError(KindInvalidArgs, NameRequestTranscript,
						fmt.Sprintf("the domain %q does not accept mail", domain), err)
				}
			}

			mu.Lock()
			already := sent[addr]
			sent[addr] = true
			mu.Unlock()
			if already {
				return map[string]any{"email": addr, "already_sent": true}, nil
			}

			subject := fmt.Sprintf("Your call transcript (%s)", deps.Call.ChannelID)
			if err := deps.Mailer.Send(ctx, addr, subject, transcriptBody(deps)); err != nil {
				mu.Lock()
				delete(sent, addr)
				mu.Unlock()
				return nil, wrapError(KindInvalidArgs, NameRequestTranscript, "sending failed", err)
			}
			return map[string]any{"email": addr, "sent": true}, nil
		},
	}
}

// NormalizeSpokenEmail turns a spoken address ("john dot doe at example dot
// com") into a syntactically valid one and validates it.
func NormalizeSpokenEmail(spoken string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(spoken))
	replacements := [][2]string{
		{" at ", "@"},
		{"(at)", "@"},
		{" dot ", "."},
		{"(dot)", "."},
		{" underscore ", "_"},
		{" dash ", "-"},
		{" minus ", "-"},
		{" plus ", "+"},
	}
	for _, r := range replacements {
		s = strings.ReplaceAll(s, r[0], r[1])
	}
	s = strings.ReplaceAll(s, " ", "")

	addr, err := mail.ParseAddress(s)
	if err != nil {
		return "", err
	}
	if !strings.Contains(addr.Address, "@") {
		return "", fmt.Errorf("no domain in %q", s)
	}
	return addr.Address, nil
}

func callerOrUnknown(call CallInfo) string {
	switch {
	case call.CallerName != "":
		return call.CallerName
	case call.CallerNumber != "":
		return call.CallerNumber
	default:
		return "unknown caller"
	}
}

func summaryBody(deps Deps) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Call %s\n", deps.Call.ChannelID)
	fmt.Fprintf(&b, "Caller: %s <%s>\n\n", deps.Call.CallerName, deps.Call.CallerNumber)
	b.WriteString(transcriptBody(deps))
	return b.String()
}

func transcriptBody(deps Deps) string {
	if deps.Transcript == nil {
		return "(no transcript available)"
	}
	if t := deps.Transcript(); t != "" {
		return t
	}
	return "(no transcript available)"
}
