package shell

import (
	"context"
	"errors"
	"io"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

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

func openSh(t *testing.T, script string, opts Options) *Session {
	t.Helper()
	session, err := Open(testContext(t), []string{"sh", "-c", script}, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })
	return session
}

func collect(t *testing.T, session *Session) []Line {
	t.Helper()
	ctx := testContext(t)
	var lines []Line
	for {
		line, err := session.Next(ctx)
		if errors.Is(err, io.EOF) {
			return lines
		}
		require.NoError(t, err)
		lines = append(lines, line)
	}
}

func texts(lines []Line) []string {
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		out = append(out, line.Text)
	}
	return out
}

func TestOpenEchoYieldsOneLineAndExitCodeZero(t *testing.T) {
	t.Parallel()
	requirePOSIX(t)

	session := openSh(t, "echo hello", Options{})
	lines := collect(t, session)
	if got := texts(lines); len(got) != 1 || got[0] != "hello" {
		t.Fatalf("lines = %q, want [hello]", got)
	}
	if lines[0].Stream != StreamStdout {
		t.Fatalf("stream = %v, want stdout", lines[0].Stream)
	}

	status, err := session.Wait(testContext(t))
	require.NoError(t, err)
	if status.Code != 0 || status.Abnormal() || status.Cancelled {
		t.Fatalf("status = %+v, want clean exit 0", status)
	}
	if session.Alive() {
		t.Fatal("session still alive after Wait")
	}
}

func TestOpenFlushesTrailingPartialLine(t *testing.T) {
	t.Parallel()
	requirePOSIX(t)

	session := openSh(t, `printf 'a\nb\nc'`, Options{})
	assert.Equal(t, []string{"a", "b", "c"}, texts(collect(t, session)))
}

func TestOpenPreservesEmptyLines(t *testing.T) {
	t.Parallel()
	requirePOSIX(t)

	session := openSh(t, `printf 'a\n\nb\r\n'`, Options{})
	assert.Equal(t, []string{"a", "", "b"}, texts(collect(t, session)))
}

func TestOpenMissingExecutableReturnsSpawnError(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), []string{"livesh-definitely-missing-binary"}, Options{})
	var spawnErr *SpawnError
	if !errors.As(err, &spawnErr) {
		t.Fatalf("err = %v, want *SpawnError", err)
	}
	if !errors.Is(err, exec.ErrNotFound) {
		t.Fatalf("err = %v, want exec.ErrNotFound", err)
	}
	if spawnErr.Argv[0] != "livesh-definitely-missing-binary" {
		t.Fatalf("argv = %q", spawnErr.Argv)
	}
}

func TestOpenRejectsEmptyArgv(t *testing.T) {
	t.Parallel()

	if _, err := Open(context.Background(), nil, Options{}); err == nil {
		t.Fatal("expected error for empty argv")
	}
	if _, err := OpenShell(context.Background(), "  ", Options{}); err == nil {
		t.Fatal("expected error for empty script")
	}
}

func TestOpenMissingDirectoryReturnsSpawnError(t *testing.T) {
	t.Parallel()
	requirePOSIX(t)

	_, err := Open(context.Background(), []string{"sh", "-c", "true"}, Options{
		Dir: filepath.Join(t.TempDir(), "missing"),
	})
	var spawnErr *SpawnError
	if !errors.As(err, &spawnErr) {
		t.Fatalf("err = %v, want *SpawnError", err)
	}
}

func TestCloseBeforeExitEndsReadsAndMarksCancelled(t *testing.T) {
	t.Parallel()
	requirePOSIX(t)

	session := openSh(t, "echo started; sleep 30", Options{KillGrace: 200 * time.Millisecond})
	ctx := testContext(t)

	line, err := session.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, "started", line.Text)

	result := make(chan error, 1)
	go func() {
		_, err := session.Next(ctx)
		result <- err
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, session.Close())
	require.NoError(t, session.Close())

	select {
	case err := <-result:
		if !errors.Is(err, io.EOF) {
			t.Fatalf("Next after Close = %v, want io.EOF", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Next did not return after Close")
	}

	status, err := session.Wait(ctx)
	require.NoError(t, err)
	if !status.Cancelled {
		t.Fatalf("status = %+v, want cancelled", status)
	}
	if status.Success() {
		t.Fatal("cancelled session reported success")
	}
	if _, err := session.Next(ctx); !errors.Is(err, io.EOF) {
		t.Fatalf("Next after drain = %v, want io.EOF", err)
	}
}

func TestCloseAfterExitKeepsNaturalStatus(t *testing.T) {
	t.Parallel()
	requirePOSIX(t)

	session := openSh(t, "exit 3", Options{})
	collect(t, session)
	status, err := session.Wait(testContext(t))
	require.NoError(t, err)
	require.NoError(t, session.Close())

	after, ok := session.ExitStatus()
	require.True(t, ok)
	assert.Equal(t, status, after)
	assert.Equal(t, 3, after.Code)
	assert.False(t, after.Cancelled)
}

func TestContextCancellationClosesSession(t *testing.T) {
	t.Parallel()
	requirePOSIX(t)

	ctx, cancel := context.WithCancel(context.Background())
	session, err := Open(ctx, []string{"sh", "-c", "sleep 30"}, Options{KillGrace: 200 * time.Millisecond})
	require.NoError(t, err)

	cancel()
	select {
	case <-session.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session not released after context cancellation")
	}
	status, _ := session.ExitStatus()
	assert.True(t, status.Cancelled)
	assert.True(t, session.Closed())
}

func TestSendAfterExitReturnsClosedPipe(t *testing.T) {
	t.Parallel()
	requirePOSIX(t)

	session := openSh(t, "true", Options{})
	collect(t, session)
	_, err := session.Wait(testContext(t))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- session.Send("too late") }()
	select {
	case err := <-done:
		if !errors.Is(err, ErrClosedPipe) {
			t.Fatalf("Send after exit = %v, want ErrClosedPipe", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Send hung after exit")
	}
}

func TestSendRelaysLineToChild(t *testing.T) {
	t.Parallel()
	requirePOSIX(t)

	session := openSh(t, "read reply; echo got:$reply", Options{})
	require.NoError(t, session.Send("ping\n"))
	assert.Equal(t, []string{"got:ping"}, texts(collect(t, session)))
}

func TestCloseStdinSendsEOF(t *testing.T) {
	t.Parallel()
	requirePOSIX(t)

	session := openSh(t, "cat; echo eof", Options{})
	require.NoError(t, session.Send("one"))
	require.NoError(t, session.CloseStdin())
	assert.Equal(t, []string{"one", "eof"}, texts(collect(t, session)))

	if err := session.Send("two"); !errors.Is(err, ErrClosedPipe) {
		t.Fatalf("Send after CloseStdin = %v, want ErrClosedPipe", err)
	}
}

func TestStripANSIRemovesEscapeSequences(t *testing.T) {
	t.Parallel()
	requirePOSIX(t)

	script := `printf '\033[31mred\033[0m \033[?25lplain\033]0;title\007\n'`

	stripped := openSh(t, script, Options{StripANSI: true})
	assert.Equal(t, []string{"red plain"}, texts(collect(t, stripped)))

	raw := openSh(t, script, Options{})
	lines := texts(collect(t, raw))
	require.Len(t, lines, 1)
	if !strings.Contains(lines[0], "\x1b[31m") {
		t.Fatalf("raw line = %q, want escape codes preserved", lines[0])
	}
}

func TestStreamsKeepPerStreamOrder(t *testing.T) {
	t.Parallel()
	requirePOSIX(t)

	session := openSh(t, "echo out1; echo err1 >&2; echo out2; echo err2 >&2", Options{})
	var stdout, stderr []string
	var lastSeq uint64
	for _, line := range collect(t, session) {
		if line.Seq < lastSeq {
			t.Fatalf("sequence went backwards: %d after %d", line.Seq, lastSeq)
		}
		lastSeq = line.Seq
		if line.Stream == StreamStderr {
			stderr = append(stderr, line.Text)
		} else {
			stdout = append(stdout, line.Text)
		}
	}
	assert.Equal(t, []string{"out1", "out2"}, stdout)
	assert.Equal(t, []string{"err1", "err2"}, stderr)
}

func TestSignalledExitIsAbnormal(t *testing.T) {
	t.Parallel()
	requirePOSIX(t)

	session := openSh(t, "kill -9 $$", Options{})
	collect(t, session)
	status, err := session.Wait(testContext(t))
	require.NoError(t, err)
	if !status.Abnormal() {
		t.Fatalf("status = %+v, want abnormal", status)
	}
	assert.Equal(t, "SIGKILL", status.Signal)
	assert.NotEqual(t, 0, status.Code)
	assert.Equal(t, "terminated by signal SIGKILL", status.String())
}

func TestInvalidUTF8IsReplaced(t *testing.T) {
	t.Parallel()
	requirePOSIX(t)

	session := openSh(t, `printf '\377abc\n'`, Options{})
	assert.Equal(t, []string{"\ufffdabc"}, texts(collect(t, session)))
}

func TestUTF16LEDecoding(t *testing.T) {
	t.Parallel()
	requirePOSIX(t)

	session := openSh(t, `printf 'h\000i\000\n\000'`, Options{Encoding: EncodingUTF16LE})
	assert.Equal(t, []string{"hi"}, texts(collect(t, session)))
}

func TestEnvAndDirApplyToChild(t *testing.T) {
	t.Parallel()
	requirePOSIX(t)

	dir := t.TempDir()
	resolved, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)

	session := openSh(t, `cd "$(pwd -P)"; pwd; echo "$LIVESH_TEST_VALUE"`, Options{
		Dir: dir,
		Env: map[string]string{"LIVESH_TEST_VALUE": "from-env"},
	})
	assert.Equal(t, []string{resolved, "from-env"}, texts(collect(t, session)))
	assert.Equal(t, dir, session.Dir)
}

func TestSmallBlocksStillAssembleLines(t *testing.T) {
	t.Parallel()
	requirePOSIX(t)

	session := openSh(t, "echo first-long-line; echo second-long-line", Options{BlockSize: 3, QueueSize: 1})
	assert.Equal(t, []string{"first-long-line", "second-long-line"}, texts(collect(t, session)))
}

func TestLinesIteratorStopsEarly(t *testing.T) {
	t.Parallel()
	requirePOSIX(t)

	session := openSh(t, "echo 1; echo 2; echo 3", Options{})
	var got []string
	for line := range session.Lines(testContext(t)) {
		got = append(got, line.Text)
		if len(got) == 2 {
			break
		}
	}
	assert.Equal(t, []string{"1", "2"}, got)
}

func TestNextHonoursContext(t *testing.T) {
	t.Parallel()
	requirePOSIX(t)

	session := openSh(t, "sleep 30", Options{KillGrace: 200 * time.Millisecond})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := session.Next(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Next = %v, want deadline exceeded", err)
	}
	assert.True(t, session.Alive())
}

func TestOpenShellUsesDialect(t *testing.T) {
	t.Parallel()
	requirePOSIX(t)

	session, err := OpenShell(testContext(t), "echo $((1 + 2))", Options{Shell: "/bin/sh"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })

	assert.Equal(t, []string{"3"}, texts(collect(t, session)))
	assert.Equal(t, "$", session.Dialect.PS1)
	assert.Equal(t, []string{"/bin/sh", "-c", "echo $((1 + 2))"}, session.Argv)
	assert.NotEmpty(t, session.ID)
	assert.Positive(t, session.PID())
}

func TestBackgroundProcessDoesNotHoldOutputOpen(t *testing.T) {
	requirePOSIX(t)
	t.Parallel()

	session := openSh(t, "sleep 3 & echo hi", Options{DrainGrace: 100 * time.Millisecond})
	start := time.Now()
	lines := collect(t, session)

	assert.Equal(t, []string{"hi"}, texts(lines))
	assert.Less(t, time.Since(start), 2*time.Second)
	status, exited := session.ExitStatus()
	require.True(t, exited)
	assert.True(t, status.Success())
	assert.False(t, session.Alive())
}

func TestSlowConsumerStillDrainsBufferedOutput(t *testing.T) {
	requirePOSIX(t)
	t.Parallel()

	session := openSh(t, "i=0; while [ $i -lt 2000 ]; do echo line-$i; i=$((i+1)); done", Options{DrainGrace: 20 * time.Millisecond})
	select {
	case <-time.After(5 * time.Second):
		t.Fatal("child did not exit")
	case <-waitExited(session):
	}
	time.Sleep(200 * time.Millisecond)

	lines := collect(t, session)
	require.Len(t, lines, 2000)
	assert.Equal(t, "line-0", lines[0].Text)
	assert.Equal(t, "line-1999", lines[1999].Text)
}

func waitExited(session *Session) <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		defer close(ch)
		for session.Alive() {
			time.Sleep(5 * time.Millisecond)
		}
	}()
	return ch
}
