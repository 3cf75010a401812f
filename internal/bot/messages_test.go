package bot

import (
	"strings"
	"testing"

	"github.com/gotd/td/tg"

	"telegram-downloader/internal/domain/gate"
	"telegram-downloader/internal/domain/login"
	"telegram-downloader/internal/domain/transfer"
	"telegram-downloader/internal/infra/concurrency"
)

func TestResultText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		res  transfer.Result
		err  error
		want string
	}{
		{"busy", transfer.Result{}, concurrency.ErrServerBusy, msgServerBusy},
		{"login", transfer.Result{}, transfer.ErrLoginRequired, msgLoginRequired},
		{"cancelled", transfer.Result{Delivered: 2, Cancelled: true}, nil, "Stopped. Delivered 2 item(s) before cancellation."},
		{"truncated", transfer.Result{Delivered: 3, Truncated: true}, nil, "Delivered 3 item(s); the rest didn't fit into today's quota. /upgrade for unlimited."},
		{"ok", transfer.Result{Delivered: 1}, nil, "Done! Delivered 1 item(s)."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := resultText(tt.res, tt.err); got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRefusalText(t *testing.T) {
	t.Parallel()

	got := refusalText(gate.Decision{Reason: gate.ReasonNotSubscribed, Channel: "news"}, 5)
	if !strings.Contains(got, "@news") {
		t.Fatalf("refusal text lacks channel: %q", got)
	}
	got = refusalText(gate.Decision{Reason: gate.ReasonQuota}, 5)
	if !strings.Contains(got, "5") {
		t.Fatalf("refusal text lacks limit: %q", got)
	}
}

func TestLoginStepText(t *testing.T) {
	t.Parallel()

	if got := loginStepText(login.StepAskCode, nil); got != msgLoginAskCode {
		t.Fatalf("got %q", got)
	}
	got := loginStepText(login.StepAborted, login.ErrTooManyAttempts)
	if !strings.Contains(got, "too many failed attempts") {
		t.Fatalf("abort text: %q", got)
	}
	got = loginStepText(login.StepAborted, login.ErrPhoneInvalid)
	if !strings.Contains(got, "rejected that phone number") {
		t.Fatalf("rejected phone abort text: %q", got)
	}
}

func TestSentMessageID(t *testing.T) {
	t.Parallel()

	if id, ok := sentMessageID(&tg.UpdateShortSentMessage{ID: 42}); !ok || id != 42 {
		t.Fatalf("short: id=%d ok=%v", id, ok)
	}
	upd := &tg.Updates{Updates: []tg.UpdateClass{
		&tg.UpdateNewMessage{},
		&tg.UpdateMessageID{ID: 7},
	}}
	if id, ok := sentMessageID(upd); !ok || id != 7 {
		t.Fatalf("updates: id=%d ok=%v", id, ok)
	}
	if _, ok := sentMessageID(&tg.UpdatesTooLong{}); ok {
		t.Fatal("unexpected id from UpdatesTooLong")
	}
}
