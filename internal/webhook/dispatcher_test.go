package webhook

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/JovieInc/jovie/internal/event"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// deliverTo spins up a capture server, subscribes one enabled webhook to the
// given types, and fires ev at it. Delivery is asynchronous; callers sleep
// long enough for their scenario, which for retry tests means the full
// backoff window.
func deliverTo(t *testing.T, handler http.HandlerFunc, secret string, types []event.Type, ev event.Event) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	svc := NewService(setupTestDB(t))
	hook := &Webhook{Name: t.Name(), URL: srv.URL, Secret: secret, Events: types, Enabled: true}
	if err := svc.Create(context.Background(), hook); err != nil {
		t.Fatal(err)
	}
	NewDispatcherWithHTTPClient(svc, srv.Client(), quietLogger()).HandleEvent(ev)
}

func TestDispatcher_Delivery(t *testing.T) {
	var mu sync.Mutex
	var received map[string]any
	var gotEvent, gotSig string

	deliverTo(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		gotEvent = r.Header.Get("X-Jovie-Event")
		gotSig = r.Header.Get("X-Jovie-Signature")
		json.NewDecoder(r.Body).Decode(&received) //nolint:errcheck
		w.WriteHeader(http.StatusOK)
	}, "", []event.Type{event.CatalogSynced}, event.Event{
		Type:      event.CatalogSynced,
		Timestamp: time.Now().UTC(),
		Data:      map[string]any{"releases": float64(4)},
	})

	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if received == nil {
		t.Fatal("no payload arrived")
	}
	if received["event"] != "catalog.synced" {
		t.Errorf("event = %v, want catalog.synced", received["event"])
	}
	data, ok := received["data"].(map[string]any)
	if !ok || data["releases"] != float64(4) {
		t.Errorf("data = %v", received["data"])
	}
	if gotEvent != "catalog.synced" {
		t.Errorf("X-Jovie-Event = %q", gotEvent)
	}
	if gotSig != "" {
		t.Errorf("unsecreted webhook carried signature %q", gotSig)
	}
}

func TestDispatcher_SignsWhenSecretSet(t *testing.T) {
	var mu sync.Mutex
	var gotSig string
	var body []byte

	deliverTo(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		gotSig = r.Header.Get("X-Jovie-Signature")
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}, "s3cret", []event.Type{event.LinkClicked}, event.Event{
		Type:      event.LinkClicked,
		Timestamp: time.Now().UTC(),
		Data:      map[string]any{"slug": "rel--prof"},
	})

	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if gotSig == "" {
		t.Fatal("no signature header")
	}
	if want := signature("s3cret", body); gotSig != want {
		t.Errorf("signature = %q, want %q", gotSig, want)
	}
}

func TestDispatcher_RetryOn500(t *testing.T) {
	var attempts atomic.Int32

	deliverTo(t, func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}, "", []event.Type{event.CatalogSynced}, event.Event{
		Type:      event.CatalogSynced,
		Timestamp: time.Now().UTC(),
	})

	// Backoff runs 1s then 2s; 5s covers both waits with slack.
	time.Sleep(5 * time.Second)

	if got := int(attempts.Load()); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
}

func TestDispatcher_MaxRetries(t *testing.T) {
	var attempts atomic.Int32

	deliverTo(t, func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}, "", []event.Type{event.DiscoveryCompleted}, event.Event{
		Type:      event.DiscoveryCompleted,
		Timestamp: time.Now().UTC(),
	})

	// Against a server that never recovers, delivery must stop at three
	// attempts. 6s covers the 1s+2s schedule plus the final request.
	time.Sleep(6 * time.Second)

	if got := int(attempts.Load()); got != 3 {
		t.Errorf("attempts = %d, want 3 (retries exhausted)", got)
	}
}

func TestDispatcher_NoMatchingWebhooks(t *testing.T) {
	svc := NewService(setupTestDB(t))
	hook := &Webhook{
		Name:    "other",
		URL:     "http://localhost:9999",
		Events:  []event.Type{event.DiscoveryCompleted},
		Enabled: true,
	}
	if err := svc.Create(context.Background(), hook); err != nil {
		t.Fatal(err)
	}

	// An event nobody subscribes to must come and go without a delivery
	// goroutine ever touching the dead URL.
	NewDispatcher(svc, quietLogger()).HandleEvent(event.Event{
		Type:      event.CatalogSynced,
		Timestamp: time.Now().UTC(),
	})
	time.Sleep(50 * time.Millisecond)
}

func TestDispatcher_SendTest(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	dispatcher := NewDispatcherWithHTTPClient(NewService(setupTestDB(t)), srv.Client(), quietLogger())
	hook := &Webhook{Name: "probe", URL: srv.URL}

	if err := dispatcher.SendTest(context.Background(), hook); err != nil {
		t.Fatalf("SendTest: %v", err)
	}

	status.Store(http.StatusBadGateway)
	if err := dispatcher.SendTest(context.Background(), hook); err == nil {
		t.Error("SendTest succeeded against a failing endpoint")
	}
}

func TestRegisterSubscribesAllTypes(t *testing.T) {
	var mu sync.Mutex
	var deliveries []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		deliveries = append(deliveries, r.Header.Get("X-Jovie-Event"))
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	svc := NewService(setupTestDB(t))
	hook := &Webhook{Name: "all", URL: srv.URL, Enabled: true}
	if err := svc.Create(context.Background(), hook); err != nil {
		t.Fatal(err)
	}

	logger := quietLogger()
	bus := event.NewBus(logger, 16)
	go bus.Start()
	defer bus.Stop()

	NewDispatcherWithHTTPClient(svc, srv.Client(), logger).Register(bus)

	bus.Publish(event.Event{Type: event.CatalogSynced})
	bus.Publish(event.Event{Type: event.LinkClicked})

	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(deliveries) != 2 {
		t.Fatalf("got %d deliveries, want 2: %v", len(deliveries), deliveries)
	}
}
