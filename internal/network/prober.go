package network

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"
)

// HTTPProber sends a HEAD request to a URL. Any HTTP response, whatever its
// status, means the host is reachable.
type HTTPProber struct {
	url    string
	client *http.Client
}

// NewHTTPProber creates a prober for url with the given request timeout.
func NewHTTPProber(url string, timeout time.Duration) *HTTPProber {
	return &HTTPProber{url: url, client: &http.Client{Timeout: timeout}}
}

func (p *HTTPProber) Probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}

// StaticProber returns a settable answer.
type StaticProber struct {
	online atomic.Bool
	probes atomic.Int64
}

// NewStaticProber creates a prober with the given initial answer.
func NewStaticProber(online bool) *StaticProber {
	p := &StaticProber{}
	p.online.Store(online)
	return p
}

// Set changes the answer returned by later probes.
func (p *StaticProber) Set(online bool) {
	p.online.Store(online)
}

// Probes returns how many probes have run.
func (p *StaticProber) Probes() int64 {
	return p.probes.Load()
}

func (p *StaticProber) Probe(context.Context) bool {
	p.probes.Add(1)
	return p.online.Load()
}
