package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func newTestNotifier(t *testing.T, h http.HandlerFunc) *Notifier {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	n := NewNotifier("tok", "42", time.Second)
	n.baseURL = srv.URL
	n.retry.Delay = time.Millisecond
	return n
}

func TestAlertSendsMessage(t *testing.T) {
	var got map[string]interface{}
	n := newTestNotifier(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bottok/sendMessage" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.Write([]byte(`{"ok":true}`))
	})

	if err := n.Alert(context.Background(), "<b>batch failed</b>"); err != nil {
		t.Fatalf("Alert: %v", err)
	}
	if got["chat_id"] != "42" || got["text"] != "<b>batch failed</b>" || got["parse_mode"] != "HTML" {
		t.Fatalf("payload = %v", got)
	}
}

func TestAlertRetriesServerErrors(t *testing.T) {
	var calls int32
	n := newTestNotifier(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	})

	if err := n.Alert(context.Background(), "hi"); err != nil {
		t.Fatalf("Alert: %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestAlertDoesNotRetryBadRequest(t *testing.T) {
	var calls int32
	n := newTestNotifier(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, `{"ok":false,"description":"chat not found"}`, http.StatusBadRequest)
	})

	err := n.Alert(context.Background(), "hi")
	if err == nil || !strings.Contains(err.Error(), "chat not found") {
		t.Fatalf("err = %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestAlertTruncatesLongText(t *testing.T) {
	var text string
	n := newTestNotifier(t, func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Text string `json:"text"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		text = body.Text
	})

	if err := n.Alert(context.Background(), strings.Repeat("ø", 5000)); err != nil {
		t.Fatal(err)
	}
	if n := len([]rune(text)); n != maxMessageRunes+1 {
		t.Fatalf("sent %d runes", n)
	}
}

func TestNilNotifier(t *testing.T) {
	n := NewNotifier("", "", 0)
	if n != nil {
		t.Fatal("expected nil notifier without credentials")
	}
	if err := n.Alert(context.Background(), "x"); err != nil {
		t.Fatal(err)
	}
}
