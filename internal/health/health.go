// Package health runs named checks against the components a credhub
// process depends on and serves the combined report over HTTP.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/hengadev/credhub"
)

// Status represents the health status of a component
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	// StatusDegraded means the component works but needs attention.
	StatusDegraded Status = "degraded"
	StatusUnknown  Status = "unknown"
)

// Check is one named health check. A failing critical check makes the whole
// report unhealthy; a failing non-critical check only degrades it.
type Check struct {
	Name     string
	Critical bool
	Timeout  time.Duration
	Func     func(context.Context) (Status, error)
}

// Result represents the result of a health check
type Result struct {
	Name     string        `json:"name"`
	Status   Status        `json:"status"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
	Critical bool          `json:"critical"`
}

// Report is the outcome of every registered check.
type Report struct {
	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
	Results   []Result  `json:"results"`
}

// Checker manages and executes health checks
type Checker struct {
	mu      sync.RWMutex
	checks  []Check
	version string
	timeout time.Duration
}

func NewChecker(version string) *Checker {
	return &Checker{version: version, timeout: 5 * time.Second}
}

// Register adds a check. Checks run in registration order in the report.
func (c *Checker) Register(check Check) error {
	if check.Name == "" {
		return fmt.Errorf("health check name cannot be empty")
	}
	if check.Func == nil {
		return fmt.Errorf("health check %s has no function", check.Name)
	}
	if check.Timeout <= 0 {
		check.Timeout = c.timeout
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, existing := range c.checks {
		if existing.Name == check.Name {
			return fmt.Errorf("health check %s already registered", check.Name)
		}
	}
	c.checks = append(c.checks, check)
	return nil
}

// Run executes all checks concurrently.
func (c *Checker) Run(ctx context.Context) Report {
	c.mu.RLock()
	checks := append([]Check(nil), c.checks...)
	c.mu.RUnlock()

	results := make([]Result, len(checks))
	var wg sync.WaitGroup
	for i, check := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = execute(ctx, check)
		}()
	}
	wg.Wait()

	return Report{
		Status:    overall(results),
		Timestamp: time.Now().UTC(),
		Version:   c.version,
		Results:   results,
	}
}

func execute(ctx context.Context, check Check) Result {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, check.Timeout)
	defer cancel()

	status, err := check.Func(ctx)
	result := Result{
		Name:     check.Name,
		Status:   status,
		Duration: time.Since(start),
		Critical: check.Critical,
	}
	if err != nil {
		result.Error = err.Error()
		if result.Status == StatusHealthy || result.Status == "" {
			result.Status = StatusUnhealthy
		}
	}
	return result
}

func overall(results []Result) Status {
	if len(results) == 0 {
		return StatusUnknown
	}
	status := StatusHealthy
	for _, r := range results {
		switch {
		case r.Status == StatusHealthy:
		case r.Critical:
			return StatusUnhealthy
		default:
			status = StatusDegraded
		}
	}
	return status
}

// ServeHTTP writes the report as JSON. Unhealthy and unknown reports are
// answered with 503.
func (c *Checker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	report := c.Run(r.Context())

	w.Header().Set("Content-Type", "application/json")
	switch report.Status {
	case StatusHealthy, StatusDegraded:
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(report)
}

// Pinger is implemented by stores that can verify their connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StoreCheck fails when the version store cannot be reached.
func StoreCheck(store Pinger) Check {
	return Check{
		Name:     "store",
		Critical: true,
		Func: func(ctx context.Context) (Status, error) {
			if err := store.Ping(ctx); err != nil {
				return StatusUnhealthy, err
			}
			return StatusHealthy, nil
		},
	}
}

// DirectoryCheck fails unless the key directory is active. A reload in
// progress is reported as degraded.
func DirectoryCheck(directory *credhub.KeyDirectory) Check {
	return Check{
		Name:     "key_directory",
		Critical: true,
		Func: func(context.Context) (Status, error) {
			switch state := directory.State(); state {
			case credhub.DirectoryActive:
				return StatusHealthy, nil
			case credhub.DirectoryReloading:
				return StatusDegraded, nil
			default:
				return StatusUnhealthy, fmt.Errorf("key directory is %s", state)
			}
		},
	}
}

// UsageSource reports key usage.
type UsageSource interface {
	Snapshot(ctx context.Context) (credhub.KeyUsage, error)
}

// UnknownKeysCheck degrades the report while stored versions reference keys
// that are not configured. Those versions cannot be decrypted.
func UnknownKeysCheck(usage UsageSource) Check {
	return Check{
		Name: "unknown_keys",
		Func: func(ctx context.Context) (Status, error) {
			u, err := usage.Snapshot(ctx)
			if err != nil {
				return StatusUnknown, err
			}
			if u.UnknownKeys > 0 {
				return StatusDegraded, fmt.Errorf("%d stored versions reference unknown keys", u.UnknownKeys)
			}
			return StatusHealthy, nil
		},
	}
}
