package health

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// Endpoint is one subsystem probed in pull mode.
type Endpoint struct {
	Name string `toml:"name"`
	URL  string `toml:"url"`
}

// Checker probes endpoints and aggregates a Report.
type Checker struct {
	endpoints []Endpoint
	client    *http.Client
	timeout   time.Duration

	// nowFunc allows tests to control time.
	nowFunc func() time.Time
}

// NewChecker returns a Checker. timeout <= 0 selects 5s per probe.
func NewChecker(endpoints []Endpoint, client *http.Client, timeout time.Duration) *Checker {
	if client == nil {
		client = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Checker{endpoints: endpoints, client: client, timeout: timeout, nowFunc: time.Now}
}

// Check probes every endpoint concurrently. The overall status is the worst
// subsystem status.
func (c *Checker) Check(ctx context.Context) Report {
	r := Report{
		CheckedAt:  c.nowFunc().UTC(),
		Overall:    Green,
		Subsystems: make(map[string]Subsystem, len(c.endpoints)),
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, ep := range c.endpoints {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub := c.probe(ctx, ep)
			mu.Lock()
			r.Subsystems[ep.Name] = sub
			mu.Unlock()
		}()
	}
	wg.Wait()

	for _, sub := range r.Subsystems {
		r.Overall = Worse(r.Overall, sub.Status)
	}
	return r
}

// probe maps one endpoint to a subsystem status: a transport failure is RED
// service_unreachable, 5xx is RED service_degraded, any other non-2xx is
// YELLOW service_degraded. A 2xx body of the form {"status": "..."} or
// {"overall": "..."} reports its own level.
func (c *Checker) probe(ctx context.Context, ep Endpoint) Subsystem {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ep.URL, nil)
	if err != nil {
		return Subsystem{Status: Red, Problem: ProblemUnreachable, Detail: err.Error()}
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return Subsystem{Status: Red, Problem: ProblemUnreachable, Detail: err.Error()}
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	switch {
	case resp.StatusCode >= 500:
		return Subsystem{Status: Red, Problem: ProblemDegraded, Detail: fmt.Sprintf("%s returned %d", ep.URL, resp.StatusCode)}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return Subsystem{Status: Yellow, Problem: ProblemDegraded, Detail: fmt.Sprintf("%s returned %d", ep.URL, resp.StatusCode)}
	}

	var self struct {
		Status  string `json:"status"`
		Overall string `json:"overall"`
	}
	if json.Unmarshal(body, &self) == nil {
		level := self.Overall
		if level == "" {
			level = self.Status
		}
		if st, err := ParseStatus(level); err == nil && st != Green {
			return Subsystem{Status: st, Problem: ProblemDegraded, Detail: fmt.Sprintf("%s reports %s", ep.URL, st)}
		}
	}
	return Subsystem{Status: Green}
}
