package health

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Playbook is one automated remediation.
type Playbook interface {
	Name() string
	Run(ctx context.Context, f Finding) error
}

// CommandRunner abstracts command execution for testability.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// expand substitutes {subsystem} and {problem} in argv.
func expand(argv []string, f Finding) []string {
	r := strings.NewReplacer("{subsystem}", f.Subsystem, "{problem}", f.Problem)
	out := make([]string, len(argv))
	for i, a := range argv {
		out[i] = r.Replace(a)
	}
	return out
}

// Command runs a fixed command; exit status 0 means resolved.
type Command struct {
	name   string
	argv   []string
	runner CommandRunner
}

// NewCommand returns a Command playbook.
func NewCommand(name string, argv []string, runner CommandRunner) *Command {
	return &Command{name: name, argv: argv, runner: runner}
}

func (c *Command) Name() string { return c.name }

func (c *Command) Run(ctx context.Context, f Finding) error {
	if len(c.argv) == 0 {
		return errors.New("empty command")
	}
	argv := expand(c.argv, f)
	if _, err := c.runner.Run(ctx, argv[0], argv[1:]...); err != nil {
		return fmt.Errorf("run %s: %w", argv[0], err)
	}
	return nil
}

// RestartAndPoll restarts a service and polls its health endpoint until it
// answers 2xx or the attempts run out.
type RestartAndPoll struct {
	name     string
	restart  []string
	url      string
	attempts int
	interval time.Duration
	runner   CommandRunner
	client   *http.Client
}

// NewRestartAndPoll returns a restart playbook. attempts <= 0 selects 3 and
// interval <= 0 selects 10s.
func NewRestartAndPoll(name string, restart []string, healthURL string, attempts int, interval time.Duration, runner CommandRunner, client *http.Client) *RestartAndPoll {
	if attempts <= 0 {
		attempts = 3
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &RestartAndPoll{
		name:     name,
		restart:  restart,
		url:      healthURL,
		attempts: attempts,
		interval: interval,
		runner:   runner,
		client:   client,
	}
}

func (p *RestartAndPoll) Name() string { return p.name }

func (p *RestartAndPoll) Run(ctx context.Context, f Finding) error {
	if len(p.restart) > 0 {
		argv := expand(p.restart, f)
		if _, err := p.runner.Run(ctx, argv[0], argv[1:]...); err != nil {
			return fmt.Errorf("restart: %w", err)
		}
	}
	if p.url == "" {
		return nil
	}

	var last error
	for i := range p.attempts {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.interval):
			}
		}
		if last = p.probe(ctx); last == nil {
			return nil
		}
	}
	return fmt.Errorf("still unhealthy after %d checks: %w", p.attempts, last)
}

func (p *RestartAndPoll) probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s returned %d", p.url, resp.StatusCode)
	}
	return nil
}

// PlaybookConfig is the configuration form of a playbook.
type PlaybookConfig struct {
	Name      string   `toml:"name"`
	Kind      string   `toml:"kind"` // "restart" or "command"
	Command   []string `toml:"command"`
	HealthURL string   `toml:"health_url"`
	Attempts  int      `toml:"attempts"`
	Interval  string   `toml:"interval"`
}

// BuildPlaybooks constructs playbooks from configuration.
func BuildPlaybooks(cfgs []PlaybookConfig, runner CommandRunner, client *http.Client) ([]Playbook, error) {
	out := make([]Playbook, 0, len(cfgs))
	seen := make(map[string]bool, len(cfgs))
	for _, c := range cfgs {
		if c.Name == "" {
			return nil, errors.New("playbook without a name")
		}
		if seen[c.Name] {
			return nil, fmt.Errorf("playbook %s is defined more than once", c.Name)
		}
		seen[c.Name] = true

		switch c.Kind {
		case "command", "":
			if len(c.Command) == 0 {
				return nil, fmt.Errorf("playbook %s: command is required", c.Name)
			}
			out = append(out, NewCommand(c.Name, c.Command, runner))
		case "restart":
			var interval time.Duration
			if c.Interval != "" {
				d, err := time.ParseDuration(c.Interval)
				if err != nil {
					return nil, fmt.Errorf("playbook %s: interval: %w", c.Name, err)
				}
				interval = d
			}
			out = append(out, NewRestartAndPoll(c.Name, c.Command, c.HealthURL, c.Attempts, interval, runner, client))
		default:
			return nil, fmt.Errorf("playbook %s: unknown kind %q", c.Name, c.Kind)
		}
	}
	return out, nil
}
