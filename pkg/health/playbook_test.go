package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommand_ExpandsPlaceholders(t *testing.T) {
	runner := &mockRunner{}
	pb := NewCommand("notify", []string{"notify-send", "{subsystem}: {problem}"}, runner)

	require.NoError(t, pb.Run(context.Background(), Finding{Subsystem: "db", Problem: ProblemDegraded}))
	require.Len(t, runner.calls, 1)
	assert.Equal(t, "notify-send", runner.calls[0].name)
	assert.Equal(t, []string{"db: service_degraded"}, runner.calls[0].args)

	runner.err = errors.New("exit status 1")
	err := pb.Run(context.Background(), Finding{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run notify-send")

	assert.Error(t, NewCommand("empty", nil, runner).Run(context.Background(), Finding{}))
}

func TestRestartAndPoll_RecoversOnLaterCheck(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	pb := NewRestartAndPoll("restart", nil, srv.URL, 3, time.Millisecond, &mockRunner{}, nil)
	require.NoError(t, pb.Run(context.Background(), Finding{}))
	assert.Equal(t, int32(2), hits.Load())
}

func TestRestartAndPoll_RestartFailureStopsEarly(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	runner := &mockRunner{err: errors.New("unit not found")}
	pb := NewRestartAndPoll("restart", []string{"systemctl", "restart", "api"}, srv.URL, 3, time.Millisecond, runner, nil)

	err := pb.Run(context.Background(), Finding{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "restart: unit not found")
	assert.Zero(t, hits.Load())
}

func TestRestartAndPoll_Cancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	pb := NewRestartAndPoll("restart", nil, srv.URL, 5, time.Hour, &mockRunner{}, nil)
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	assert.ErrorIs(t, pb.Run(ctx, Finding{}), context.Canceled)
}

func TestBuildPlaybooks(t *testing.T) {
	pbs, err := BuildPlaybooks([]PlaybookConfig{
		{Name: "restart-api", Kind: "restart", Command: []string{"systemctl", "restart", "api"}, HealthURL: "http://localhost/healthz", Interval: "2s"},
		{Name: "vacuum", Command: []string{"sqlite3", "state.db", "VACUUM"}},
	}, &mockRunner{}, nil)
	require.NoError(t, err)
	require.Len(t, pbs, 2)
	assert.Equal(t, "restart-api", pbs[0].Name())
	assert.IsType(t, &RestartAndPoll{}, pbs[0])
	assert.Equal(t, 2*time.Second, pbs[0].(*RestartAndPoll).interval)
	assert.Equal(t, 3, pbs[0].(*RestartAndPoll).attempts)
	assert.IsType(t, &Command{}, pbs[1])

	bad := []struct {
		name string
		cfgs []PlaybookConfig
		want string
	}{
		{"unnamed", []PlaybookConfig{{Command: []string{"true"}}}, "without a name"},
		{"duplicate", []PlaybookConfig{{Name: "a", Command: []string{"true"}}, {Name: "a", Command: []string{"true"}}}, "more than once"},
		{"no command", []PlaybookConfig{{Name: "a", Kind: "command"}}, "command is required"},
		{"bad interval", []PlaybookConfig{{Name: "a", Kind: "restart", Interval: "soon"}}, "interval"},
		{"bad kind", []PlaybookConfig{{Name: "a", Kind: "reboot"}}, "unknown kind"},
	}
	for _, tc := range bad {
		t.Run(tc.name, func(t *testing.T) {
			_, err := BuildPlaybooks(tc.cfgs, &mockRunner{}, nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}
