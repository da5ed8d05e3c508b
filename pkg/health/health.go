// Package health exposes liveness and readiness probes for the API server.
//
// Probes run on a shared background ticker. A probe flips to failing only
// after failAfter consecutive errors and back to passing after okAfter
// consecutive successes, so a single slow database round trip does not bounce
// the service out of the load balancer.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Check reports on one dependency. A nil return means healthy.
type Check func(ctx context.Context) error

type kind int

const (
	kindLiveness kind = iota
	kindReadiness
)

const (
	failAfter = 3
	okAfter   = 1
)

type probe struct {
	name    string
	kind    kind
	timeout time.Duration
	check   Check

	mu      sync.Mutex
	passing bool
	lastErr error
	fails   int
	oks     int
}

func (p *probe) observe(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.lastErr = err
	if err != nil {
		p.oks = 0
		p.fails++
		if p.fails >= failAfter {
			p.passing = false
		}
		return
	}
	p.fails = 0
	p.oks++
	if p.oks >= okAfter {
		p.passing = true
	}
}

func (p *probe) status() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.passing, p.lastErr
}

// Service runs registered probes and serves /livez and /readyz.
type Service struct {
	mu     sync.Mutex
	probes []*probe
	ready  bool
	cancel context.CancelFunc
}

// New returns a Service in the not-ready state. Call SetReady(true) once
// startup has finished.
func New() *Service {
	return &Service{}
}

func (s *Service) add(name string, k kind, timeout time.Duration, c Check) {
	p := &probe{name: name, kind: k, timeout: timeout, check: c, passing: true}
	s.mu.Lock()
	s.probes = append(s.probes, p)
	s.mu.Unlock()
}

// AddLivenessCheck registers a probe that decides whether the process should
// be restarted.
func (s *Service) AddLivenessCheck(name string, timeout time.Duration, c Check) {
	s.add(name, kindLiveness, timeout, c)
}

// AddReadinessCheck registers a probe that decides whether the service should
// receive traffic.
func (s *Service) AddReadinessCheck(name string, timeout time.Duration, c Check) {
	s.add(name, kindReadiness, timeout, c)
}

// Start launches the probe loop. Every probe runs once immediately, then on
// each tick of the shared interval until the context is cancelled or Stop is
// called.
func (s *Service) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	s.cancel = cancel
	probes := make([]*probe, len(s.probes))
	copy(probes, s.probes)
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		runAll(ctx, probes)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				runAll(ctx, probes)
			}
		}
	}()
}

func runAll(ctx context.Context, probes []*probe) {
	for _, p := range probes {
		pctx, cancel := context.WithTimeout(ctx, p.timeout)
		p.observe(p.check(pctx))
		cancel()
	}
}

// SetReady flips the manual readiness gate. Graceful shutdown sets it to
// false before the listener closes so the load balancer drains first.
func (s *Service) SetReady(ready bool) {
	s.mu.Lock()
	s.ready = ready
	s.mu.Unlock()
}

// Stop cancels the probe loop. Safe to call more than once.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

func (s *Service) snapshot(k kind) (probes []*probe, ready bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.probes {
		if p.kind == k {
			probes = append(probes, p)
		}
	}
	return probes, s.ready
}

type report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// LiveEndpoint serves /livez: 200 while every liveness probe passes, 503 with
// the failing probe names otherwise.
func (s *Service) LiveEndpoint(w http.ResponseWriter, r *http.Request) {
	probes, _ := s.snapshot(kindLiveness)
	writeReport(w, failures(probes))
}

// ReadyEndpoint serves /readyz: 200 only when the service has been marked
// ready and every readiness probe passes.
func (s *Service) ReadyEndpoint(w http.ResponseWriter, r *http.Request) {
	probes, ready := s.snapshot(kindReadiness)
	f := failures(probes)
	if !ready {
		f["_ready"] = "service is not accepting traffic"
	}
	writeReport(w, f)
}

func failures(probes []*probe) map[string]string {
	f := make(map[string]string)
	for _, p := range probes {
		if passing, err := p.status(); !passing {
			if err != nil {
				f[p.name] = err.Error()
			} else {
				f[p.name] = "failing"
			}
		}
	}
	return f
}

func writeReport(w http.ResponseWriter, f map[string]string) {
	w.Header().Set("Content-Type", "application/json")

	rep := report{Status: "ok"}
	code := http.StatusOK
	if len(f) > 0 {
		rep = report{Status: "unhealthy", Checks: f}
		code = http.StatusServiceUnavailable
	}
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(rep)
}
