package network

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"tally-go/internal/config"
	"tally-go/internal/tally"
)

// blockingProber holds every probe until release is closed.
type blockingProber struct {
	started chan struct{}
	release chan struct{}
	probes  atomic.Int64
	once    sync.Once
}

func (p *blockingProber) Probe(ctx context.Context) bool {
	p.probes.Add(1)
	p.once.Do(func() { close(p.started) })
	<-p.release
	return true
}

func TestMonitor_StatusStartsUnknown(t *testing.T) {
	m := NewMonitor(NewStaticProber(true), tally.NewNopLogger())
	if got := m.Status(); got != tally.ConnectivityUnknown {
		t.Errorf("Status() = %v, want unknown", got)
	}
}

func TestMonitor_Check(t *testing.T) {
	ctx := context.Background()
	prober := NewStaticProber(true)
	m := NewMonitor(prober, tally.NewNopLogger())

	if got := m.Check(ctx); got != tally.ConnectivityOnline {
		t.Errorf("Check() = %v, want online", got)
	}
	if got := m.Status(); got != tally.ConnectivityOnline {
		t.Errorf("Status() = %v, want online", got)
	}

	prober.Set(false)
	if got := m.Check(ctx); got != tally.ConnectivityOffline {
		t.Errorf("Check() = %v, want offline", got)
	}
}

func TestMonitor_ConcurrentChecksShareProbe(t *testing.T) {
	prober := &blockingProber{started: make(chan struct{}), release: make(chan struct{})}
	m := NewMonitor(prober, tally.NewNopLogger())

	const callers = 5
	results := make(chan tally.Connectivity, callers)

	go func() { results <- m.Check(context.Background()) }()
	<-prober.started

	for i := 1; i < callers; i++ {
		go func() { results <- m.Check(context.Background()) }()
	}
	time.Sleep(50 * time.Millisecond)
	close(prober.release)

	for i := 0; i < callers; i++ {
		if got := <-results; got != tally.ConnectivityOnline {
			t.Errorf("Check() = %v, want online", got)
		}
	}
	if n := prober.probes.Load(); n != 1 {
		t.Errorf("probes = %d, want 1", n)
	}
}

// contextProber reports online while its context is live, once released.
type contextProber struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (p *contextProber) Probe(ctx context.Context) bool {
	p.once.Do(func() { close(p.started) })
	<-p.release
	return ctx.Err() == nil
}

func TestMonitor_CancelledCallerDoesNotFailSharedCheck(t *testing.T) {
	prober := &contextProber{started: make(chan struct{}), release: make(chan struct{})}
	m := NewMonitor(prober, tally.NewNopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan tally.Connectivity, 1)
	go func() { first <- m.Check(ctx) }()
	<-prober.started

	second := make(chan tally.Connectivity, 1)
	go func() { second <- m.Check(context.Background()) }()
	time.Sleep(50 * time.Millisecond)

	cancel()
	close(prober.release)

	if got := <-first; got != tally.ConnectivityOnline {
		t.Errorf("Check() cancelled caller = %v, want online", got)
	}
	if got := <-second; got != tally.ConnectivityOnline {
		t.Errorf("Check() joined caller = %v, want online", got)
	}
	if got := m.Status(); got != tally.ConnectivityOnline {
		t.Errorf("Status() = %v, want online", got)
	}
}

func TestMonitor_Subscribe(t *testing.T) {
	ctx := context.Background()
	prober := NewStaticProber(true)
	m := NewMonitor(prober, tally.NewNopLogger())

	var got []tally.Connectivity
	unsubscribe := m.Subscribe(func(c tally.Connectivity) { got = append(got, c) })

	m.Check(ctx)
	m.Check(ctx) // no change, no notification
	prober.Set(false)
	m.Check(ctx)

	unsubscribe()
	prober.Set(true)
	m.Check(ctx)

	want := []tally.Connectivity{tally.ConnectivityOnline, tally.ConnectivityOffline}
	if len(got) != len(want) {
		t.Fatalf("notifications = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("notification[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestMonitor_AppStateChanged(t *testing.T) {
	ctx := context.Background()
	prober := NewStaticProber(false)
	m := NewMonitor(prober, tally.NewNopLogger())

	m.AppStateChanged(ctx, tally.AppStateActive)
	if n := prober.Probes(); n != 0 {
		t.Errorf("probes after active->active = %d, want 0", n)
	}

	m.AppStateChanged(ctx, tally.AppStateBackground)
	if n := prober.Probes(); n != 0 {
		t.Errorf("probes after going to background = %d, want 0", n)
	}

	prober.Set(true)
	m.AppStateChanged(ctx, tally.AppStateActive)
	if n := prober.Probes(); n != 1 {
		t.Errorf("probes after resume = %d, want 1", n)
	}
	if got := m.Status(); got != tally.ConnectivityOnline {
		t.Errorf("Status() after resume = %v, want online", got)
	}
}

func TestMonitor_Run(t *testing.T) {
	prober := NewStaticProber(true)
	m := NewMonitor(prober, tally.NewNopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx, 10*time.Millisecond)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for prober.Probes() < 3 {
		select {
		case <-deadline:
			t.Fatalf("probes = %d after 2s, want at least 3", prober.Probes())
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	<-done
	if got := m.Status(); got != tally.ConnectivityOnline {
		t.Errorf("Status() = %v, want online", got)
	}
}

func TestHTTPProber(t *testing.T) {
	ctx := context.Background()

	t.Run("any response is online", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodHead {
				t.Errorf("method = %s, want HEAD", r.Method)
			}
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		if !NewHTTPProber(srv.URL, time.Second).Probe(ctx) {
			t.Error("Probe() = false, want true")
		}
	})

	t.Run("unreachable is offline", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
		url := srv.URL
		srv.Close()

		if NewHTTPProber(url, time.Second).Probe(ctx) {
			t.Error("Probe() = true, want false")
		}
	})
}

func TestNewMonitorFromConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.NetworkConfig
		wantErr bool
	}{
		{"http", config.NetworkConfig{Type: "http", ProbeURL: "http://localhost/health"}, false},
		{"http without url", config.NetworkConfig{Type: "http"}, true},
		{"static", config.NetworkConfig{Type: "static", StaticOnline: true}, false},
		{"unknown", config.NetworkConfig{Type: "carrier-pigeon"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewMonitorFromConfig(tt.cfg, tally.NewNopLogger())
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewMonitorFromConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && m.Status() != tally.ConnectivityUnknown {
				t.Errorf("Status() = %v, want unknown", m.Status())
			}
		})
	}
}
