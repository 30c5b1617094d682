package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func healthy(context.Context) CheckResult { return CheckResult{Status: StatusHealthy} }

func failing(context.Context) CheckResult { return CheckResult{Status: StatusUnhealthy} }

func TestOverallStatus(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(c *Checker)
		before Status
		after  Status
	}{
		{
			name:   "empty",
			setup:  func(*Checker) {},
			before: StatusHealthy,
			after:  StatusHealthy,
		},
		{
			name:   "critical healthy",
			setup:  func(c *Checker) { c.RegisterFunc("db", true, healthy) },
			before: StatusUnknown,
			after:  StatusHealthy,
		},
		{
			name: "optional failing degrades",
			setup: func(c *Checker) {
				c.RegisterFunc("db", true, healthy)
				c.RegisterFunc("files", false, failing)
			},
			before: StatusUnknown,
			after:  StatusDegraded,
		},
		{
			name: "critical failing",
			setup: func(c *Checker) {
				c.RegisterFunc("db", true, failing)
				c.RegisterFunc("files", false, healthy)
			},
			before: StatusUnknown,
			after:  StatusUnhealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChecker()
			tt.setup(c)
			if got := c.OverallStatus(); got != tt.before {
				t.Errorf("before Check: %s, want %s", got, tt.before)
			}
			c.Check(context.Background())
			if got := c.OverallStatus(); got != tt.after {
				t.Errorf("after Check: %s, want %s", got, tt.after)
			}
		})
	}
}

func TestCheckTimeoutAndPanic(t *testing.T) {
	c := NewChecker()
	c.Register(&Component{
		Name:    "slow",
		Timeout: 20 * time.Millisecond,
		Check: func(ctx context.Context) CheckResult {
			<-ctx.Done()
			time.Sleep(10 * time.Millisecond)
			return CheckResult{Status: StatusHealthy}
		},
	})
	c.RegisterFunc("boom", false, func(context.Context) CheckResult { panic("boom") })

	results := c.Check(context.Background())

	if r := results["slow"]; r.Status != StatusUnhealthy || r.Message != "check timed out" {
		t.Errorf("slow = %+v", r)
	}
	if r := results["boom"]; r.Status != StatusUnhealthy || r.Error != "boom" {
		t.Errorf("boom = %+v", r)
	}
	if results["slow"].LastChecked.IsZero() {
		t.Error("LastChecked not set")
	}
}

func TestCheckRunsComponentsConcurrently(t *testing.T) {
	c := NewChecker()

	// Each check waits for every other check to start, so a serial run
	// would hit the timeout.
	const n = 3
	var started sync.WaitGroup
	started.Add(n)
	for i := range n {
		name := string(rune('a' + i))
		c.RegisterFunc(name, true, func(ctx context.Context) CheckResult {
			started.Done()
			started.Wait()
			return CheckResult{Status: StatusHealthy, Message: name}
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	results := c.Check(ctx)

	if len(results) != n {
		t.Fatalf("expected %d results, got %d", n, len(results))
	}
	for name, r := range results {
		if r.Status != StatusHealthy || r.Message != name {
			t.Errorf("%s: got %+v", name, r)
		}
	}
	if got := c.OverallStatus(); got != StatusHealthy {
		t.Errorf("expected healthy, got %s", got)
	}
}

func TestFilesCheck(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.json")
	b := filepath.Join(dir, "b.json")
	for _, p := range []string{a, b} {
		if err := os.WriteFile(p, []byte("{}"), 0600); err != nil {
			t.Fatal(err)
		}
	}
	check := FilesCheck([]string{a, b})
	ctx := context.Background()

	if r := check(ctx); r.Status != StatusHealthy {
		t.Errorf("all present: %+v", r)
	}
	os.Remove(a)
	if r := check(ctx); r.Status != StatusDegraded {
		t.Errorf("one missing: %+v", r)
	}
	os.Remove(b)
	if r := check(ctx); r.Status != StatusUnhealthy {
		t.Errorf("all missing: %+v", r)
	}
}

func TestHandlers(t *testing.T) {
	c := NewChecker()
	c.RegisterFunc("db", true, healthy)

	get := func(h http.Handler) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		return rec
	}

	if rec := get(c.LivenessHandler()); rec.Code != http.StatusOK {
		t.Errorf("liveness = %d", rec.Code)
	}
	if rec := get(c.ReadinessHandler()); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("readiness before ready = %d", rec.Code)
	}
	c.SetReady(true)
	if rec := get(c.ReadinessHandler()); rec.Code != http.StatusOK {
		t.Errorf("readiness = %d", rec.Code)
	}

	rec := get(c.HealthHandler())
	if rec.Code != http.StatusOK {
		t.Errorf("health = %d", rec.Code)
	}
	var resp Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != StatusHealthy || !resp.Ready || resp.Components["db"].Status != StatusHealthy {
		t.Errorf("response = %+v", resp)
	}

	c.RegisterFunc("db", true, failing)
	if rec := get(c.HealthHandler()); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("unhealthy health = %d", rec.Code)
	}
}
