package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

const defaultHealthTimeout = 3 * time.Second

type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// Pinger is any dependency the health reporter can ping.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

type ComponentHealth struct {
	Status HealthStatus `json:"status"`
	Error  string       `json:"error,omitempty"`
}

type HealthReport struct {
	Status     HealthStatus               `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
	Error      string                     `json:"error,omitempty"`
}

type HealthService struct {
	components map[string]Pinger
	timeout    time.Duration
	logger     *slog.Logger
	checkFn    func(ctx context.Context, p Pinger) ComponentHealth
}

func NewHealthService(components map[string]Pinger, timeout time.Duration, logger *slog.Logger) (*HealthService, error) {
	if len(components) == 0 {
		return nil, errors.New("usecase: health components must not be empty")
	}
	for name, p := range components {
		if p == nil {
			return nil, fmt.Errorf("usecase: health component %q must not be nil", name)
		}
	}
	if timeout <= 0 {
		timeout = defaultHealthTimeout
	}
	s := &HealthService{components: components, timeout: timeout, logger: loggerOrDefault(logger)}
	s.checkFn = s.checkComponent
	return s, nil
}

// Check pings every component concurrently. Any failing component makes the
// report degraded; a failure of the check itself makes it unhealthy.
func (s *HealthService) Check(ctx context.Context) (report HealthReport) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("health check panicked", "panic", r)
			report = HealthReport{
				Status:     HealthUnhealthy,
				Components: map[string]ComponentHealth{},
				Error:      fmt.Sprint(r),
			}
		}
	}()

	names := make([]string, 0, len(s.components))
	for name := range s.components {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make([]ComponentHealth, len(names))
	panics := make([]any, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func(i int, p Pinger) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					panics[i] = r
				}
			}()
			results[i] = s.checkFn(ctx, p)
		}(i, s.components[name])
	}
	wg.Wait()

	for i, r := range panics {
		if r != nil {
			panic(fmt.Sprintf("component %s: %v", names[i], r))
		}
	}

	report = HealthReport{Status: HealthHealthy, Components: make(map[string]ComponentHealth, len(names))}
	for i, name := range names {
		report.Components[name] = results[i]
		if results[i].Status != HealthHealthy {
			report.Status = HealthDegraded
			s.logger.Warn("component unhealthy", "component", name, "err", results[i].Error)
		}
	}
	return report
}

func (s *HealthService) checkComponent(ctx context.Context, p Pinger) ComponentHealth {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic: %v", r)
			}
		}()
		done <- p.Ping(ctx)
	}()

	select {
	case err := <-done:
		if err != nil {
			return ComponentHealth{Status: HealthUnhealthy, Error: err.Error()}
		}
		return ComponentHealth{Status: HealthHealthy}
	case <-ctx.Done():
		return ComponentHealth{Status: HealthUnhealthy, Error: "health check timed out"}
	}
}
