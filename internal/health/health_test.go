package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hengadev/credhub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func staticCheck(name string, critical bool, status Status, err error) Check {
	return Check{
		Name:     name,
		Critical: critical,
		Func:     func(context.Context) (Status, error) { return status, err },
	}
}

func TestRegister(t *testing.T) {
	c := NewChecker("test")

	require.NoError(t, c.Register(staticCheck("a", true, StatusHealthy, nil)))
	assert.Error(t, c.Register(staticCheck("a", false, StatusHealthy, nil)), "duplicate name")
	assert.Error(t, c.Register(Check{Name: "", Func: func(context.Context) (Status, error) { return StatusHealthy, nil }}))
	assert.Error(t, c.Register(Check{Name: "nofunc"}))
}

func TestRunOverallStatus(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name   string
		checks []Check
		want   Status
	}{
		{name: "no checks", want: StatusUnknown},
		{
			name:   "all healthy",
			checks: []Check{staticCheck("a", true, StatusHealthy, nil), staticCheck("b", false, StatusHealthy, nil)},
			want:   StatusHealthy,
		},
		{
			name:   "non-critical failure degrades",
			checks: []Check{staticCheck("a", true, StatusHealthy, nil), staticCheck("b", false, StatusUnhealthy, boom)},
			want:   StatusDegraded,
		},
		{
			name:   "critical failure",
			checks: []Check{staticCheck("a", true, StatusHealthy, boom), staticCheck("b", false, StatusHealthy, nil)},
			want:   StatusUnhealthy,
		},
		{
			name:   "critical degraded",
			checks: []Check{staticCheck("a", true, StatusDegraded, nil)},
			want:   StatusUnhealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChecker("test")
			for _, check := range tt.checks {
				require.NoError(t, c.Register(check))
			}
			report := c.Run(context.Background())
			assert.Equal(t, tt.want, report.Status)
			assert.Len(t, report.Results, len(tt.checks))
		})
	}
}

func TestRunErrorMarksUnhealthy(t *testing.T) {
	c := NewChecker("test")
	require.NoError(t, c.Register(staticCheck("a", false, StatusHealthy, errors.New("down"))))

	report := c.Run(context.Background())
	require.Len(t, report.Results, 1)
	assert.Equal(t, StatusUnhealthy, report.Results[0].Status)
	assert.Equal(t, "down", report.Results[0].Error)
}

func TestRunTimeout(t *testing.T) {
	c := NewChecker("test")
	require.NoError(t, c.Register(Check{
		Name:     "slow",
		Critical: true,
		Timeout:  20 * time.Millisecond,
		Func: func(ctx context.Context) (Status, error) {
			<-ctx.Done()
			return StatusUnknown, ctx.Err()
		},
	}))

	report := c.Run(context.Background())
	assert.Equal(t, StatusUnhealthy, report.Status)
	assert.Contains(t, report.Results[0].Error, "deadline exceeded")
}

func TestServeHTTP(t *testing.T) {
	tests := []struct {
		name     string
		status   Status
		critical bool
		code     int
	}{
		{name: "healthy", status: StatusHealthy, critical: true, code: http.StatusOK},
		{name: "degraded", status: StatusDegraded, code: http.StatusOK},
		{name: "unhealthy", status: StatusUnhealthy, critical: true, code: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChecker("1.2.3")
			require.NoError(t, c.Register(staticCheck("x", tt.critical, tt.status, nil)))

			rec := httptest.NewRecorder()
			c.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
			assert.Equal(t, tt.code, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			var report Report
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
			assert.Equal(t, "1.2.3", report.Version)
		})
	}

	rec := httptest.NewRecorder()
	NewChecker("x").ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/healthz", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

type stubUsage struct {
	usage credhub.KeyUsage
	err   error
}

func (s stubUsage) Snapshot(context.Context) (credhub.KeyUsage, error) { return s.usage, s.err }

func TestComponentChecks(t *testing.T) {
	ctx := context.Background()

	status, err := StoreCheck(stubPinger{}).Func(ctx)
	assert.NoError(t, err)
	assert.Equal(t, StatusHealthy, status)

	status, err = StoreCheck(stubPinger{err: credhub.ErrStoreUnavailable}).Func(ctx)
	assert.ErrorIs(t, err, credhub.ErrStoreUnavailable)
	assert.Equal(t, StatusUnhealthy, status)

	status, err = UnknownKeysCheck(stubUsage{usage: credhub.KeyUsage{UnknownKeys: 2}}).Func(ctx)
	assert.Error(t, err)
	assert.Equal(t, StatusDegraded, status)

	status, err = UnknownKeysCheck(stubUsage{usage: credhub.KeyUsage{ActiveKey: 5}}).Func(ctx)
	assert.NoError(t, err)
	assert.Equal(t, StatusHealthy, status)

	directory, err := credhub.NewKeyDirectory([]credhub.KeyEntry{credhub.NewTestSoftwareKey(t, true)})
	require.NoError(t, err)
	status, err = DirectoryCheck(directory).Func(ctx)
	assert.NoError(t, err)
	assert.Equal(t, StatusHealthy, status)
}
