package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	xerrors "NeoGas-Relay/internal/errors"
)

type captureNotifier struct {
	mu      sync.Mutex
	channel Channel
	events  []Event
	err     error
}

func (n *captureNotifier) Channel() Channel { return n.channel }

func (n *captureNotifier) Notify(ctx context.Context, event Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return n.err
}

func sampleEvent() Event {
	return Event{
		Code:        "TRACK_ATTEMPTS_EXHAUSTED",
		Message:     "transaction confirmation window elapsed",
		Severity:    xerrors.SeverityCritical,
		IntentID:    "intent-1",
		TxID:        "0xabc",
		Stage:       "confirm",
		Attempts:    40,
		MaxAttempts: 40,
		OccurredAt:  time.Unix(1756000000, 0).UTC(),
	}
}

func TestFanoutBroadcastsToAllChannels(t *testing.T) {
	first := &captureNotifier{channel: ChannelLog}
	second := &captureNotifier{channel: ChannelWebhook}
	dispatcher := NewFanout(first, second, nil)

	if err := dispatcher.Notify(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(first.events) != 1 || len(second.events) != 1 {
		t.Fatalf("unexpected deliveries: log=%d webhook=%d", len(first.events), len(second.events))
	}
}

func TestFanoutCollectsChannelErrors(t *testing.T) {
	healthy := &captureNotifier{channel: ChannelLog}
	broken := &captureNotifier{channel: ChannelWebhook, err: errors.New("endpoint down")}
	dispatcher := NewFanout(healthy, broken)

	err := dispatcher.Notify(context.Background(), sampleEvent())
	if err == nil {
		t.Fatal("expected aggregated error")
	}
	if len(healthy.events) != 1 {
		t.Fatalf("healthy channel should still receive the event, got %d", len(healthy.events))
	}
}

func TestWebhookNotifierPostsEvent(t *testing.T) {
	var got Event
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode webhook payload: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	notifier := &WebhookNotifier{Endpoint: srv.URL, Token: "hook-token"}
	if err := notifier.Notify(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if got.Code != "TRACK_ATTEMPTS_EXHAUSTED" || got.TxID != "0xabc" {
		t.Fatalf("unexpected payload: %+v", got)
	}
	if gotAuth != "Bearer hook-token" {
		t.Fatalf("unexpected auth header: %s", gotAuth)
	}
}

func TestWebhookNotifierRejectsServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	notifier := &WebhookNotifier{Endpoint: srv.URL}
	if err := notifier.Notify(context.Background(), sampleEvent()); err == nil {
		t.Fatal("expected error on 500 response")
	}
}

type captureEmailSender struct {
	subject string
	content string
	to      []string
}

func (s *captureEmailSender) Send(ctx context.Context, subject, content string, to []string) error {
	s.subject = subject
	s.content = content
	s.to = to
	return nil
}

func TestEmailNotifierFormatsMessage(t *testing.T) {
	sender := &captureEmailSender{}
	notifier := &EmailNotifier{Sender: sender, To: []string{"ops@example.com"}, SubjectPrefix: "[relay] "}

	if err := notifier.Notify(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if sender.subject != "[relay] [critical] TRACK_ATTEMPTS_EXHAUSTED" {
		t.Fatalf("unexpected subject: %s", sender.subject)
	}
	if len(sender.to) != 1 || sender.to[0] != "ops@example.com" {
		t.Fatalf("unexpected recipients: %v", sender.to)
	}
}
