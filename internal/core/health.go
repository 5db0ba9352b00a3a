package core

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// Probes share a single deadline; one slow dependency fails the whole check.
const healthCheckTimeout = 2 * time.Second

// HealthProbe is one dependency check reported under GET /health.
type HealthProbe interface {
	// Name identifies the probe in the response, e.g. "database".
	Name() string

	// Check verifies the dependency. It must respect ctx's deadline.
	Check(ctx context.Context) error
}

// ProbeFunc adapts a named function to HealthProbe.
type ProbeFunc struct {
	ProbeName string
	Fn        func(ctx context.Context) error
}

func (p ProbeFunc) Name() string                    { return p.ProbeName }
func (p ProbeFunc) Check(ctx context.Context) error { return p.Fn(ctx) }

type componentStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type healthResponse struct {
	Status     string                     `json:"status"`
	Components map[string]componentStatus `json:"components,omitempty"`
}

// HandleHealth runs every registered probe concurrently and reports 200
// when all pass, 503 when any fails, panics, or misses the shared deadline.
// Mounted publicly at GET /health.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if len(s.HealthProbes) == 0 {
		JSON(w, r, http.StatusOK, healthResponse{Status: "healthy"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	completed := s.runProbes(ctx)

	components := make(map[string]componentStatus, len(s.HealthProbes))
	healthy := true

	for _, probe := range s.HealthProbes {
		name := probe.Name()
		err, finished := completed[name]
		switch {
		case !finished:
			healthy = false
			components[name] = componentStatus{Status: "unhealthy", Message: "health check timed out"}
		case err != nil:
			healthy = false
			components[name] = componentStatus{Status: "unhealthy", Message: err.Error()}
		default:
			components[name] = componentStatus{Status: "healthy"}
		}
	}

	if healthy {
		JSON(w, r, http.StatusOK, healthResponse{Status: "healthy", Components: components})
		return
	}
	JSON(w, r, http.StatusServiceUnavailable, healthResponse{Status: "unhealthy", Components: components})
}

// runProbes checks every probe in its own goroutine and returns the results
// that arrived before ctx expired, keyed by probe name. A panicking probe
// records an error rather than taking the handler down.
func (s *Server) runProbes(ctx context.Context) map[string]error {
	var (
		mu      sync.Mutex
		results = make(map[string]error, len(s.HealthProbes))
		wg      sync.WaitGroup
	)

	for _, probe := range s.HealthProbes {
		wg.Add(1)
		go func(p HealthProbe) {
			defer wg.Done()

			var err error
			func() {
				defer func() {
					if r := recover(); r != nil {
						err = fmt.Errorf("probe panicked: %v", r)
					}
				}()
				err = p.Check(ctx)
			}()

			mu.Lock()
			results[p.Name()] = err
			mu.Unlock()
		}(probe)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}

	mu.Lock()
	defer mu.Unlock()
	snapshot := make(map[string]error, len(results))
	for name, err := range results {
		snapshot[name] = err
	}
	return snapshot
}
