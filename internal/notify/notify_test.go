package notify

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewSenderExpandsBareTopicToNtfyURL(t *testing.T) {
	s := NewSender("my-topic", "", nil)
	if s.url != "https://ntfy.sh/my-topic" {
		t.Fatalf("expected expanded ntfy.sh URL, got %q", s.url)
	}
}

func TestNewSenderKeepsFullURLUnchanged(t *testing.T) {
	s := NewSender("https://ntfy.example.com/team-alerts", "", nil)
	if s.url != "https://ntfy.example.com/team-alerts" {
		t.Fatalf("expected self-hosted URL preserved, got %q", s.url)
	}
}

func TestSenderNotifySetsHeadersAndBody(t *testing.T) {
	var gotTitle, gotPriority, gotAuth, gotTags, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTitle = r.Header.Get("Title")
		gotPriority = r.Header.Get("Priority")
		gotAuth = r.Header.Get("Authorization")
		gotTags = r.Header.Get("Tags")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewSender(srv.URL, "secret-token", nil)
	if err := s.Notify("pane-1", "build failed", "high", "see log for details"); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	if gotTitle != "build failed" {
		t.Fatalf("expected title header %q, got %q", "build failed", gotTitle)
	}
	if gotPriority != "high" {
		t.Fatalf("expected priority header %q, got %q", "high", gotPriority)
	}
	if gotAuth != "Bearer secret-token" {
		t.Fatalf("expected bearer auth header, got %q", gotAuth)
	}
	if gotTags != "pane-pane-1" {
		t.Fatalf("expected tags header to include pane id, got %q", gotTags)
	}
	if gotBody != "see log for details" {
		t.Fatalf("expected request body to be the notify body, got %q", gotBody)
	}
}

func TestSenderNotifyOmitsEmptyPriority(t *testing.T) {
	var sawPriority bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawPriority = r.Header.Get("Priority") != ""
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewSender(srv.URL, "", nil)
	if err := s.Notify("pane-1", "title", "", "body"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if sawPriority {
		t.Fatal("expected no Priority header when priority is empty")
	}
}

func TestSenderNotifyReturnsErrorOnServerFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := NewSender(srv.URL, "", nil)
	if err := s.Notify("pane-1", "title", "", "body"); err == nil {
		t.Fatal("expected error on 5xx response")
	}
}

func TestMailboxDeliverAndDrain(t *testing.T) {
	mb := NewMailbox()

	if err := mb.Deliver("session-1", "pane-1", "high", "tests failed"); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if err := mb.Deliver("session-1", "pane-2", "low", "build finished"); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if err := mb.Deliver("session-2", "pane-3", "", "unrelated"); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	msgs := mb.Drain("session-1")
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages for session-1, got %d", len(msgs))
	}
	if msgs[0].Summary != "tests failed" || msgs[0].Priority != "high" {
		t.Fatalf("unexpected first message: %+v", msgs[0])
	}
	if msgs[1].Summary != "build finished" || msgs[1].PaneID != "pane-2" {
		t.Fatalf("unexpected second message: %+v", msgs[1])
	}

	if again := mb.Drain("session-1"); len(again) != 0 {
		t.Fatalf("expected session-1 queue empty after drain, got %v", again)
	}

	other := mb.Drain("session-2")
	if len(other) != 1 || other[0].Summary != "unrelated" {
		t.Fatalf("expected session-2 queue untouched by session-1 drain, got %+v", other)
	}
}
