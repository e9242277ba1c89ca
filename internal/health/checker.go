// Package health runs the readiness checks behind GET /readyz.
package health

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Config holds readiness check configuration.
type Config struct {
	CheckTimeout  time.Duration
	FailThreshold int
}

// CheckFunc reports nil when the dependency it checks is usable.
type CheckFunc func(ctx context.Context) error

// MetricsRecordFunc is an optional callback for recording check results.
type MetricsRecordFunc func(name string, success bool)

// Result is the outcome of one check.
type Result struct {
	Name                string `json:"name"`
	OK                  bool   `json:"ok"`
	Error               string `json:"error,omitempty"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	Latency             string `json:"latency"`
}

// Report is the outcome of a full check. Ready is false once any check has
// failed FailThreshold times in a row.
type Report struct {
	Ready  bool     `json:"ready"`
	Checks []Result `json:"checks"`
}

// Checker runs named checks on demand.
type Checker struct {
	checks     map[string]CheckFunc
	failCounts map[string]int
	mu         sync.Mutex
	cfg        Config
	onMetrics  MetricsRecordFunc
	logger     *zap.Logger
}

// New creates a Checker with no checks.
func New(cfg Config, logger *zap.Logger) *Checker {
	if cfg.CheckTimeout == 0 {
		cfg.CheckTimeout = 5 * time.Second
	}
	if cfg.FailThreshold == 0 {
		cfg.FailThreshold = 1
	}
	return &Checker{
		checks:     make(map[string]CheckFunc),
		failCounts: make(map[string]int),
		cfg:        cfg,
		logger:     logger,
	}
}

// Add registers a check under name, replacing any previous one.
func (h *Checker) Add(name string, check CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

// SetMetricsRecord configures the metrics recording callback.
func (h *Checker) SetMetricsRecord(fn MetricsRecordFunc) {
	h.onMetrics = fn
}

// CheckAll runs every check concurrently and returns the results sorted by name.
func (h *Checker) CheckAll(ctx context.Context) Report {
	h.mu.Lock()
	checks := make(map[string]CheckFunc, len(h.checks))
	for name, c := range h.checks {
		checks[name] = c
	}
	h.mu.Unlock()

	results := make([]Result, 0, len(checks))
	var (
		wg    sync.WaitGroup
		resMu sync.Mutex
	)
	for name, check := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := h.run(ctx, name, check)
			resMu.Lock()
			results = append(results, r)
			resMu.Unlock()
		}()
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Name < results[j].Name })
	report := Report{Ready: true, Checks: results}
	for _, r := range results {
		if r.ConsecutiveFailures >= h.cfg.FailThreshold {
			report.Ready = false
		}
	}
	return report
}

func (h *Checker) run(ctx context.Context, name string, check CheckFunc) Result {
	ctx, cancel := context.WithTimeout(ctx, h.cfg.CheckTimeout)
	defer cancel()

	start := time.Now()
	err := check(ctx)
	r := Result{Name: name, OK: err == nil, Latency: time.Since(start).Round(time.Millisecond).String()}

	if h.onMetrics != nil {
		h.onMetrics(name, err == nil)
	}

	h.mu.Lock()
	prevCount := h.failCounts[name]
	if err == nil {
		h.failCounts[name] = 0
	} else {
		h.failCounts[name]++
		r.Error = err.Error()
	}
	r.ConsecutiveFailures = h.failCounts[name]
	h.mu.Unlock()

	switch {
	case err == nil && prevCount >= h.cfg.FailThreshold:
		h.logger.Info("health: recovered", zap.String("check", name))
	case err != nil && r.ConsecutiveFailures == h.cfg.FailThreshold:
		h.logger.Warn("health: degraded",
			zap.String("check", name),
			zap.Int("fail_count", r.ConsecutiveFailures),
			zap.Error(err),
		)
	}
	return r
}

// PingHTTP attempts HEAD then GET against endpoint and succeeds on any
// answer below 500. An authentication challenge still proves the service is
// reachable.
func PingHTTP(ctx context.Context, client *http.Client, endpoint string) error {
	var lastErr error
	for _, method := range []string{http.MethodHead, http.MethodGet} {
		req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		resp.Body.Close()
		if resp.StatusCode < http.StatusInternalServerError {
			return nil
		}
		lastErr = &StatusError{Code: resp.StatusCode}
	}
	return lastErr
}

// StatusError is returned by PingHTTP when the endpoint answers 5xx.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return "unhealthy status " + http.StatusText(e.Code)
}
