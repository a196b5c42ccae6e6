package runner

import (
	"context"
	"errors"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ship-commander/livesh/internal/events"
	"github.com/ship-commander/livesh/internal/pager"
	"github.com/ship-commander/livesh/internal/shell"
)

type fakeSink struct {
	mu        sync.Mutex
	lines     []string
	closed    bool
	finalized string
}

func (f *fakeSink) AddLine(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.lines = append(f.lines, text)
}

func (f *fakeSink) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeSink) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeSink) Finalize(status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.lines = append(f.lines, status)
	f.finalized = status
	f.closed = true
}

func (f *fakeSink) snapshot() ([]string, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lines...), f.finalized
}

func requirePOSIX(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestRunStreamsHeaderLinesAndStatus(t *testing.T) {
	t.Parallel()
	requirePOSIX(t)

	sink := &fakeSink{}
	status, err := Run(testContext(t), Request{Command: "echo hello", Shell: "/bin/sh", StripANSI: true}, sink)
	require.NoError(t, err)
	assert.True(t, status.Success())

	lines, finalized := sink.snapshot()
	assert.Equal(t, []string{"$ echo hello", "hello", "[status] Return code 0"}, lines)
	assert.Equal(t, "[status] Return code 0", finalized)
}

func TestRunReportsExitCodeAndSignal(t *testing.T) {
	t.Parallel()
	requirePOSIX(t)

	tests := []struct {
		name    string
		command string
		want    string
	}{
		{name: "exit code", command: "exit 4", want: "[status] Return code 4"},
		{name: "signal", command: "kill -TERM $$", want: "[status] Terminated by signal SIGTERM"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			sink := &fakeSink{}
			_, err := Run(testContext(t), Request{Command: tt.command, Shell: "/bin/sh"}, sink)
			require.NoError(t, err)
			_, finalized := sink.snapshot()
			assert.Equal(t, tt.want, finalized)
		})
	}
}

func TestRunArgvModeQuotesHeader(t *testing.T) {
	t.Parallel()
	requirePOSIX(t)

	sink := &fakeSink{}
	_, err := Run(testContext(t), Request{Argv: []string{"sh", "-c", "echo 'a b'"}}, sink)
	require.NoError(t, err)

	lines, _ := sink.snapshot()
	require.GreaterOrEqual(t, len(lines), 2)
	assert.True(t, strings.HasPrefix(lines[0], "$ sh -c '"), "header = %q", lines[0])
	assert.Equal(t, "a b", lines[1])
}

func TestStartSpawnErrorLeavesSinkUntouched(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{}
	_, err := Start(context.Background(), Request{Argv: []string{"livesh-missing-binary"}}, sink)
	var spawnErr *shell.SpawnError
	require.ErrorAs(t, err, &spawnErr)
	assert.ErrorIs(t, err, exec.ErrNotFound)

	lines, _ := sink.snapshot()
	assert.Empty(t, lines)
}

func TestClosingLiveSinkTerminatesProcess(t *testing.T) {
	t.Parallel()
	requirePOSIX(t)

	live, err := pager.NewLive(nil, pager.WithRefreshInterval(0))
	require.NoError(t, err)

	job, err := Start(testContext(t), Request{Command: "echo ready; sleep 30", Shell: "/bin/sh"}, live,
		WithSessionOptions(shell.Options{KillGrace: 200 * time.Millisecond}))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return job.Lines() == 1 }, 5*time.Second, 10*time.Millisecond)
	live.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	status, err := job.Wait(ctx)
	require.NoError(t, err)
	assert.True(t, status.Cancelled)
	assert.False(t, job.Session().Alive())
	assert.Equal(t, pager.StateCancelled, live.State())

	for _, page := range live.Snapshot().Pages {
		for _, line := range page.Lines {
			assert.NotContains(t, line, "[status]")
		}
	}
}

func TestCancelStopsJob(t *testing.T) {
	t.Parallel()
	requirePOSIX(t)

	sink := &fakeSink{}
	job, err := Start(testContext(t), Request{Command: "sleep 30", Shell: "/bin/sh"}, sink,
		WithSessionOptions(shell.Options{KillGrace: 200 * time.Millisecond}))
	require.NoError(t, err)

	job.Cancel()
	status, err := job.Wait(testContext(t))
	require.NoError(t, err)
	assert.True(t, status.Cancelled)
	_, finalized := sink.snapshot()
	assert.Empty(t, finalized)
}

func TestContextCancellationClosesSink(t *testing.T) {
	t.Parallel()
	requirePOSIX(t)

	ctx, cancel := context.WithCancel(context.Background())
	sink := &fakeSink{}
	job, err := Start(ctx, Request{Command: "sleep 30", Shell: "/bin/sh"}, sink,
		WithSessionOptions(shell.Options{KillGrace: 200 * time.Millisecond}))
	require.NoError(t, err)

	cancel()
	status, err := job.Wait(testContext(t))
	require.NoError(t, err)
	assert.True(t, status.Cancelled)
	assert.True(t, sink.Closed())
}

func TestSendPublishesStdinEvents(t *testing.T) {
	t.Parallel()
	requirePOSIX(t)

	bus := events.New()
	defer bus.Close()
	received := make(chan events.Event, 16)
	bus.SubscribeAll(func(event events.Event) { received <- event })

	sink := &fakeSink{}
	job, err := Start(testContext(t), Request{Command: "read reply; echo got $reply", Shell: "/bin/sh"}, sink, WithBus(bus))
	require.NoError(t, err)

	require.NoError(t, job.Send("hi"))
	_, err = job.Wait(testContext(t))
	require.NoError(t, err)

	if err := job.Send("late"); !errors.Is(err, shell.ErrClosedPipe) {
		t.Fatalf("Send after exit = %v, want ErrClosedPipe", err)
	}

	lines, _ := sink.snapshot()
	assert.Contains(t, lines, "got hi")

	seen := map[string]bool{}
	deadline := time.After(2 * time.Second)
	for len(seen) < 4 {
		select {
		case event := <-received:
			seen[event.Type] = true
			assert.Equal(t, job.Session().ID, event.EntityID)
		case <-deadline:
			t.Fatalf("events seen = %v", seen)
		}
	}
	for _, want := range []string{
		events.EventTypeSessionOpened,
		events.EventTypeStdinSent,
		events.EventTypeSessionExited,
		events.EventTypeStdinFailed,
	} {
		assert.True(t, seen[want], "missing %s", want)
	}
}

func TestPageSealedEventsFromLiveSink(t *testing.T) {
	t.Parallel()
	requirePOSIX(t)

	bus := events.New()
	defer bus.Close()
	sealed := make(chan events.Event, 64)
	bus.Subscribe(events.EventTypePageSealed, func(event events.Event) { sealed <- event })

	live, err := pager.NewLive(nil, pager.WithMaxSize(40), pager.WithRefreshInterval(0))
	require.NoError(t, err)
	_, err = Run(testContext(t), Request{Command: "for i in 1 2 3 4 5 6 7 8; do echo line-$i; done", Shell: "/bin/sh"}, live, WithBus(bus))
	require.NoError(t, err)

	select {
	case event := <-sealed:
		payload, ok := event.Payload.(events.PageSealedPayload)
		require.True(t, ok)
		assert.Equal(t, 0, payload.Index)
		assert.Positive(t, payload.Lines)
	case <-time.After(2 * time.Second):
		t.Fatal("no PageSealed event")
	}
	assert.Greater(t, len(live.Snapshot().Pages), 1)
}

func TestPrepare(t *testing.T) {
	t.Parallel()
	requirePOSIX(t)

	tests := []struct {
		name          string
		req           Request
		wantErr       bool
		wantHighlight string
		wantDisplay   string
	}{
		{name: "empty", req: Request{}, wantErr: true},
		{name: "both", req: Request{Command: "ls", Argv: []string{"ls"}}, wantErr: true},
		{name: "blank argv", req: Request{Argv: []string{" "}}, wantErr: true},
		{name: "stripped", req: Request{Command: "ls", Shell: "/bin/sh", StripANSI: true}, wantHighlight: "sh", wantDisplay: "ls"},
		{name: "ansi kept", req: Request{Command: "ls", Shell: "/bin/sh"}, wantHighlight: "ansi", wantDisplay: "ls"},
		{name: "override", req: Request{Command: "ls", Shell: "/bin/sh", StripANSI: true, Highlight: "diff"}, wantHighlight: "diff", wantDisplay: "ls"},
		{name: "argv", req: Request{Argv: []string{"git", "log", "--format=%h %s"}, StripANSI: true}, wantHighlight: "sh", wantDisplay: "git log '--format=%h %s'"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			plan, err := Prepare(tt.req)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantHighlight, plan.Highlight)
			assert.Equal(t, tt.wantDisplay, plan.Display)
		})
	}
}

func TestStatusLine(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "[status] Return code 0", StatusLine(shell.ExitStatus{}))
	assert.Equal(t, "[status] Return code 1", StatusLine(shell.ExitStatus{Code: 1}))
	assert.Equal(t, "[status] Terminated by signal SIGKILL", StatusLine(shell.ExitStatus{Code: -1, Signal: "SIGKILL"}))
}
