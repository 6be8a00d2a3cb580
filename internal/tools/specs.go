package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/voxgate/voxgate/internal/ari"
	"github.com/voxgate/voxgate/internal/config"
	"github.com/voxgate/voxgate/pkg/provider/llm"
)

// Tool names as offered to the model.
const (
	NameTransfer          = "transfer"
	NameAttendedTransfer  = "attended_transfer"
	NameCancelTransfer    = "cancel_transfer"
	NameHangupCall        = "hangup_call"
	NameLeaveVoicemail    = "leave_voicemail"
	NameSendEmailSummary  = "send_email_summary"
	NameRequestTranscript = "request_transcript"
)

// Deps carries the per-call facilities the tool set executes against.
type Deps struct {
	ARI       ari.API
	Call      CallInfo
	Transfers *TransferManager
	Mailer    *Mailer

	// Speak voices a prompt to the caller through the engine.
	Speak func(ctx context.Context, text string) error

	// HangupAfter schedules call teardown once current playback drains
	// plus the given delay.
	HangupAfter func(delay time.Duration)

	// OnTransferActive marks the session as transferred so no further
	// agent audio is emitted.
	OnTransferActive func()

	// Transcript renders the conversation so far for the email tools.
	Transcript func() string

	Log *slog.Logger
}

// BuildDispatcher registers every allowed tool for one call. Unknown names
// in the allowlist are skipped with a warning so a stale context config
// cannot take calls down.
func BuildDispatcher(cfg config.ToolsConfig, allow []string, deps Deps) *Dispatcher {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	d := NewDispatcher(log)

	available := map[string]func() Spec{
		NameTransfer:          func() Spec { return transferSpec(deps) },
		NameAttendedTransfer:  func() Spec { return attendedSpec(cfg, deps) },
		NameCancelTransfer:    func() Spec { return cancelSpec(deps) },
		NameHangupCall:        func() Spec { return hangupSpec(cfg, deps) },
		NameLeaveVoicemail:    func() Spec { return voicemailSpec(cfg, deps) },
		NameSendEmailSummary:  func() Spec { return emailSummarySpec(cfg, deps) },
		NameRequestTranscript: func() Spec { return requestTranscriptSpec(cfg, deps) },
	}
	for _, name := range allow {
		build, ok := available[name]
		if !ok {
			log.Warn("unknown tool in context allowlist", "tool", name)
			continue
		}
		d.Register(build())
	}
	return d
}

func destinationParams(resolver *Resolver) map[string]any {
	var desc string
	if resolver != nil && len(resolver.Names()) > 0 {
		desc = "The destination to route to. One of: "
		for i, n := range resolver.Names() {
			if i > 0 {
				desc += ", "
			}
			desc += n
		}
	} else {
		desc = "The destination to route to."
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"destination": map[string]any{
				"type":        "string",
				"description": desc,
			},
		},
		"required": []string{"destination"},
	}
}

type destinationArgs struct {
	Destination string `json:"destination"`
}

func parseDestination(tool string, raw json.RawMessage) (string, error) {
	var args destinationArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return "", wrapError(KindInvalidArgs, tool, "arguments are not valid JSON", err)
	}
	if args.Destination == "" {
		return "", newError(KindInvalidArgs, tool, "destination is required")
	}
	return args.Destination, nil
}

func transferSpec(deps Deps) Spec {
	return Spec{
		Definition: llm.ToolDefinition{
			Name:        NameTransfer,
			Description: "Transfer the caller to a named destination (extension, queue, or ring group). The caller leaves the conversation immediately.",
			Parameters:  destinationParams(deps.Transfers.resolver),
		},
		Terminal: true,
		Timeout:  10 * time.Second,
		Run: func(ctx context.Context, raw json.RawMessage) (any, error) {
			dest, err := parseDestination(NameTransfer, raw)
			if err != nil {
				return nil, err
			}
			result, err := deps.Transfers.Blind(ctx, dest)
			if err != nil {
				return nil, err
			}
			if deps.OnTransferActive != nil {
				deps.OnTransferActive()
			}
			return result, nil
		},
	}
}

func attendedSpec(cfg config.ToolsConfig, deps Deps) Spec {
	timers := cfg.Attended
	timeout := time.Duration(timers.DialTimeoutSeconds+timers.AcceptTimeoutSeconds+2*timers.TTSTimeoutSeconds)*time.Second + 10*time.Second
	return Spec{
		Definition: llm.ToolDefinition{
			Name:        NameAttendedTransfer,
			Description: "Warm transfer: put the caller on hold, announce them to the destination, and connect only if the destination accepts. Falls back to the conversation on decline.",
			Parameters:  destinationParams(deps.Transfers.resolver),
		},
		Timeout: timeout,
		Run: func(ctx context.Context, raw json.RawMessage) (any, error) {
			dest, err := parseDestination(NameAttendedTransfer, raw)
			if err != nil {
				return nil, err
			}
			result, err := deps.Transfers.Attended(ctx, dest)
			if err != nil {
				return nil, err
			}
			if deps.Transfers.State() == StateBridged && deps.OnTransferActive != nil {
				deps.OnTransferActive()
			}
			return result, nil
		},
	}
}

func cancelSpec(deps Deps) Spec {
	return Spec{
		Definition: llm.ToolDefinition{
			Name:        NameCancelTransfer,
			Description: "Abort a transfer that is still ringing and return to the conversation.",
			Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
		},
		Concurrent: true,
		Timeout:    5 * time.Second,
		Run: func(_ context.Context, _ json.RawMessage) (any, error) {
			if err := deps.Transfers.Cancel(); err != nil {
				return nil, err
			}
			return map[string]any{"cancelled": true}, nil
		},
	}
}

type hangupArgs struct {
	FarewellMessage string `json:"farewell_message"`
}

func hangupSpec(cfg config.ToolsConfig, deps Deps) Spec {
	delay := time.Duration(cfg.Hangup.FarewellHangupDelaySec * float64(time.Second))
	return Spec{
		Definition: llm.ToolDefinition{
			Name:        NameHangupCall,
			Description: "End the call, optionally after speaking a short farewell.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"farewell_message": map[string]any{
						"type":        "string",
						"description": "Optional farewell spoken before hanging up.",
					},
				},
			},
		},
		Terminal: true,
		Timeout:  10 * time.Second,
		Run: func(ctx context.Context, raw json.RawMessage) (any, error) {
			var args hangupArgs
			if len(raw) > 0 {
				if err := json.Unmarshal(raw, &args); err != nil {
					return nil, wrapError(KindInvalidArgs, NameHangupCall, "arguments are not valid JSON", err)
				}
			}
			if args.FarewellMessage != "" && deps.Speak != nil {
				if err := deps.Speak(ctx, args.FarewellMessage); err != nil {
					return nil, wrapError(KindInvalidArgs, NameHangupCall, "farewell playback failed", err)
				}
			}
			deps.HangupAfter(delay)
			return map[string]any{"hangup_scheduled": true}, nil
		},
	}
}

func voicemailSpec(cfg config.ToolsConfig, deps Deps) Spec {
	vm := cfg.Voicemail
	return Spec{
		Definition: llm.ToolDefinition{
			Name:        NameLeaveVoicemail,
			Description: "Send the caller to the voicemail box so they can leave a message.",
			Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
		},
		Terminal: true,
		Timeout:  10 * time.Second,
		Run: func(ctx context.Context, _ json.RawMessage) (any, error) {
			if vm.Extension == "" {
				return nil, newError(KindInvalidArgs, NameLeaveVoicemail, "no voicemail extension configured")
			}
			if err := deps.ARI.Redirect(ctx, deps.Call.ChannelID, vm.Context, vm.Extension); err != nil {
				return nil, wrapError(KindDestinationUnreachable, NameLeaveVoicemail, "voicemail redirect failed", err)
			}
			if deps.OnTransferActive != nil {
				deps.OnTransferActive()
			}
			return map[string]any{"redirected_to": fmt.Sprintf("%s@%s", vm.Extension, vm.Context)}, nil
		},
	}
}
