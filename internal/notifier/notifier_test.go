package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"SpikeTrader/internal/model"
)

func TestSendPostsHTMLMessage(t *testing.T) {
	var mu sync.Mutex
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bottoken/sendMessage" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		mu.Lock()
		defer mu.Unlock()
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	tn := NewTelegramNotifier("token", "42", "", zerolog.Nop())
	tn.APIBase = srv.URL
	if err := tn.Send(context.Background(), "<b>hi</b>"); err != nil {
		t.Fatalf("Send returned error: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if got["chat_id"] != "42" || got["parse_mode"] != "HTML" || got["text"] != "<b>hi</b>" {
		t.Fatalf("unexpected payload: %v", got)
	}
}

func TestNotifyDeliversQueuedMessages(t *testing.T) {
	received := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p map[string]string
		_ = json.NewDecoder(r.Body).Decode(&p)
		received <- p["text"]
	}))
	defer srv.Close()

	tn := NewTelegramNotifier("token", "42", "", zerolog.Nop())
	tn.APIBase = srv.URL
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tn.Run(ctx)

	tn.Notify(ctx, "queued")
	select {
	case text := <-received:
		if text != "queued" {
			t.Fatalf("unexpected text %q", text)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("message not delivered")
	}
}

func TestStartPollingAnswersCommands(t *testing.T) {
	replies := make(chan string, 1)
	var polls int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/getUpdates"):
			mu.Lock()
			polls++
			n := polls
			mu.Unlock()
			if n == 1 {
				_, _ = w.Write([]byte(`{"ok":true,"result":[{"update_id":7,"message":{"text":" /status "}}]}`))
				return
			}
			if r.URL.Query().Get("offset") != "8" {
				t.Errorf("expected offset 8, got %s", r.URL.Query().Get("offset"))
			}
			<-r.Context().Done()
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			var p map[string]string
			_ = json.NewDecoder(r.Body).Decode(&p)
			replies <- p["text"]
		}
	}))
	defer srv.Close()

	tn := NewTelegramNotifier("token", "42", "", zerolog.Nop())
	tn.APIBase = srv.URL
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go tn.StartPolling(ctx, func(_ context.Context, cmd string) string {
		return "got " + cmd
	})

	select {
	case r := <-replies:
		if r != "got /status" {
			t.Fatalf("unexpected reply %q", r)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reply sent")
	}
}

func TestFormatters(t *testing.T) {
	entry := FormatEntry("tier1", model.OrderIntent{Symbol: "AAPL", Qty: 7, Price: 175.1, Cost: 1225.7, TrailPercent: 1})
	for _, want := range []string{"tier1", "AAPL", "Qty: 7", "$1225.70", "1.00%"} {
		if !strings.Contains(entry, want) {
			t.Errorf("entry message missing %q: %s", want, entry)
		}
	}

	stop := FormatStopFailed("tier1", "AAPL", errors.New("rejected"))
	if !strings.Contains(stop, "rejected") || !strings.Contains(stop, "AAPL") {
		t.Errorf("unexpected stop message: %s", stop)
	}

	escaped := FormatStopFailed("tier1", "AAPL", errors.New(`qty <1> & "held"`))
	if !strings.Contains(escaped, "qty &lt;1&gt; &amp; &#34;held&#34;") || strings.Contains(escaped, "<1>") {
		t.Errorf("brokerage error not HTML-escaped: %s", escaped)
	}

	pos := FormatPositions([]model.Position{{Symbol: "AAPL", Qty: 7, MarketValue: 1230, UnrealizedPL: 5.5}, {Symbol: "F", Qty: 10, UnrealizedPL: -1.5}})
	if !strings.Contains(pos, "Total P/L: +4.00") {
		t.Errorf("unexpected positions message: %s", pos)
	}
	if FormatPositions(nil) != "No open positions." {
		t.Error("empty positions message")
	}

	status := FormatStatus(model.AccountSnapshot{Cash: 1000}, model.Clock{IsOpen: true}, map[string]int{"b": 2, "a": 1})
	if strings.Index(status, "a: 1") > strings.Index(status, "b: 2") {
		t.Errorf("opportunities not sorted: %s", status)
	}
}
