package reachability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func TestSetOnlineNotifiesOnTransitionOnly(t *testing.T) {
	m := NewMonitor(func(ctx context.Context) bool { return true }, time.Minute)

	var mu sync.Mutex
	var seen []bool
	m.Subscribe(func(online bool) {
		mu.Lock()
		seen = append(seen, online)
		mu.Unlock()
	})

	m.SetOnline(true) // already online, no event
	m.SetOnline(false)
	m.SetOnline(false) // duplicate, no event
	m.SetOnline(true)

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 || seen[0] != false || seen[1] != true {
		t.Errorf("expected transitions [false true], got %v", seen)
	}
}

func TestIsOnlineReflectsState(t *testing.T) {
	m := NewMonitor(func(ctx context.Context) bool { return true }, time.Minute)

	if !m.IsOnline() {
		t.Error("monitor should start online")
	}
	m.SetOnline(false)
	if m.IsOnline() {
		t.Error("expected offline after SetOnline(false)")
	}
}

func TestHTTPProbe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	probe := HTTPProbe(srv.URL, time.Second)
	if !probe(context.Background()) {
		t.Error("expected probe to succeed against live server")
	}

	srv.Close()
	if probe(context.Background()) {
		t.Error("expected probe to fail against closed server")
	}
}

func TestStopWithoutStart(t *testing.T) {
	m := NewMonitor(func(ctx context.Context) bool { return true }, time.Minute)

	done := make(chan struct{})
	go func() {
		m.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked without a prior Start")
	}
}

func TestStartPollsProber(t *testing.T) {
	var mu sync.Mutex
	reachable := true
	probe := func(ctx context.Context) bool {
		mu.Lock()
		defer mu.Unlock()
		return reachable
	}

	m := NewMonitor(probe, 10*time.Millisecond)

	offline := make(chan struct{})
	m.Subscribe(func(online bool) {
		if !online {
			select {
			case <-offline:
			default:
				close(offline)
			}
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Stop()

	mu.Lock()
	reachable = false
	mu.Unlock()

	select {
	case <-offline:
	case <-time.After(2 * time.Second):
		t.Fatal("monitor never observed the offline transition")
	}
}
