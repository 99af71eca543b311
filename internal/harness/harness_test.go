package harness

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phobologic/apidrift/internal/logging"
	"github.com/phobologic/apidrift/internal/model"
)

// The test binary doubles as the worker when HARNESS_TEST_MODE is set.
func TestMain(m *testing.M) {
	if mode := os.Getenv("HARNESS_TEST_MODE"); mode != "" {
		os.Exit(worker(mode))
	}
	os.Exit(m.Run())
}

func worker(mode string) int {
	calls := countCall()
	switch mode {
	case "sleep":
		time.Sleep(time.Minute)
		return 0
	case "exit":
		fmt.Fprintln(os.Stderr, "boom")
		return 3
	case "nomarker":
		fmt.Println("no payload here")
		return 0
	case "flood":
		fmt.Print(strings.Repeat("x", 8192))
	case "flaky":
		if calls == 0 {
			return 2
		}
	}
	if err := Serve(context.Background(), os.Stdin, os.Stdout, fakeExtract); err != nil {
		return 1
	}
	return 0
}

// countCall records one worker start in HARNESS_TEST_COUNTER and returns
// the number of earlier starts.
func countCall() int {
	path := os.Getenv("HARNESS_TEST_COUNTER")
	if path == "" {
		return 0
	}
	data, _ := os.ReadFile(path)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err == nil {
		_, _ = f.WriteString("x\n")
		_ = f.Close()
	}
	return bytes.Count(data, []byte("\n"))
}

func fakeExtract(_ context.Context, in Input, logger *slog.Logger) (*model.Collection, error) {
	logger.Info("worker", "gomaxprocs", runtime.GOMAXPROCS(0))
	if in.Root == "fail" {
		return nil, errors.New("cannot read root")
	}
	c := model.NewCollection(in.Release)
	for _, e := range []model.Entry{
		model.NewExternal(),
		&model.ModuleEntry{Base: model.NewBase("pkg"), Members: map[string]string{"f": "pkg.f"}},
		&model.FunctionEntry{Base: model.NewBase("pkg.f"), Parameters: []model.Parameter{}},
	} {
		if err := c.AddEntry(e); err != nil {
			return nil, err
		}
	}
	c.AddTopLevel("pkg")
	c.Seal()
	return c, nil
}

func testInput() Input {
	return Input{Release: model.Release{Project: "pkg", Version: "1.0"}, Root: "/src/pkg"}
}

type recordedSleeps struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordedSleeps) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

func newRunner(t *testing.T, mode string) (*Runner, *recordedSleeps) {
	t.Helper()
	sleeps := &recordedSleeps{}
	counter := filepath.Join(t.TempDir(), "calls")
	return &Runner{
		Command:        []string{os.Args[0]},
		Env:            []string{"HARNESS_TEST_MODE=" + mode, "HARNESS_TEST_COUNTER=" + counter},
		MaxRetries:     2,
		AttemptTimeout: 30 * time.Second,
		BackoffMax:     50 * time.Millisecond,
		Logger:         logging.Discard(),
		sleep:          sleeps.sleep,
	}, sleeps
}

func TestRunIsolatedSuccess(t *testing.T) {
	t.Parallel()

	r, sleeps := newRunner(t, "ok")
	res, err := r.RunIsolated(context.Background(), testInput())
	require.NoError(t, err)

	require.Len(t, res.Attempts, 1)
	assert.NoError(t, res.Attempts[0].Err)
	assert.NotEmpty(t, res.Attempts[0].ID)
	assert.Empty(t, sleeps.delays)

	c := res.Collection
	assert.True(t, c.Sealed())
	assert.Equal(t, model.Release{Project: "pkg", Version: "1.0"}, c.Manifest.Release())
	assert.Equal(t, []string{"pkg"}, c.TopLevel())
	_, ok := c.Lookup("pkg.f")
	assert.True(t, ok)

	assert.Contains(t, res.Log, "gomaxprocs=1")
	assert.Contains(t, res.Log, "attempt="+res.Attempts[0].ID)
	assert.NotContains(t, res.Log, Marker)
}

func TestRunIsolatedTimeout(t *testing.T) {
	t.Parallel()

	r, sleeps := newRunner(t, "sleep")
	r.AttemptTimeout = 300 * time.Millisecond

	res, err := r.RunIsolated(context.Background(), testInput())
	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrTimeout)

	var failure *Failure
	require.ErrorAs(t, err, &failure)
	require.Len(t, failure.Attempts, 2)
	for _, a := range failure.Attempts {
		assert.Equal(t, "timeout", a.Reason())
	}
	assert.Contains(t, err.Error(), "timeout; timeout")

	require.Len(t, sleeps.delays, 1)
	assert.GreaterOrEqual(t, sleeps.delays[0], time.Duration(0))
	assert.Less(t, sleeps.delays[0], r.BackoffMax)
}

func TestRunIsolatedFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		mode   string
		setup  func(r *Runner)
		want   error
		reason string
	}{
		{mode: "exit", want: ErrNonZeroExit, reason: "non-zero exit"},
		{mode: "nomarker", want: ErrInvalidPayload, reason: "invalid payload"},
		{mode: "flood", setup: func(r *Runner) { r.MaxOutput = 1024 }, want: ErrOutputTooLarge, reason: "output too large"},
	}
	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			t.Parallel()
			r, _ := newRunner(t, tt.mode)
			r.MaxRetries = 1
			if tt.setup != nil {
				tt.setup(r)
			}

			_, err := r.RunIsolated(context.Background(), testInput())
			assert.ErrorIs(t, err, tt.want)
			var failure *Failure
			require.ErrorAs(t, err, &failure)
			require.Len(t, failure.Attempts, 1)
			assert.Equal(t, tt.reason, failure.Attempts[0].Reason())
		})
	}
}

func TestRunIsolatedRetrySucceeds(t *testing.T) {
	t.Parallel()

	r, sleeps := newRunner(t, "flaky")
	res, err := r.RunIsolated(context.Background(), testInput())
	require.NoError(t, err)

	require.Len(t, res.Attempts, 2)
	assert.Equal(t, "non-zero exit", res.Attempts[0].Reason())
	assert.NoError(t, res.Attempts[1].Err)
	assert.NotEqual(t, res.Attempts[0].ID, res.Attempts[1].ID)
	assert.Len(t, sleeps.delays, 1)
}

func TestRunIsolatedParentCanceled(t *testing.T) {
	t.Parallel()

	r, _ := newRunner(t, "sleep")
	r.MaxRetries = 5

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := r.RunIsolated(ctx, testInput())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	var failure *Failure
	assert.False(t, errors.As(err, &failure))
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestRunIsolatedNoCommand(t *testing.T) {
	t.Parallel()

	_, err := (&Runner{}).RunIsolated(context.Background(), testInput())
	assert.Error(t, err)
}

func TestSplit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		out         string
		wantLog     string
		wantPayload string
		wantOK      bool
	}{
		{"framed", "line one\nline two\n" + Marker + "\n{}", "line one\nline two", "\n{}", true},
		{"first marker wins", "log\n" + Marker + `{"x":"` + Marker + `"}`, "log", `{"x":"` + Marker + `"}`, true},
		{"no log", Marker + "{}", "", "{}", true},
		{"missing", "just log\n", "just log\n", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			log, payload, ok := Split([]byte(tt.out))
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantLog, string(log))
			assert.Equal(t, tt.wantPayload, string(payload))
		})
	}
}

func TestServe(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	stdin := strings.NewReader(`{"release":{"project":"pkg","version":"2.0"},"root":"/src"}`)
	require.NoError(t, Serve(context.Background(), stdin, &out, fakeExtract))

	log, payload, ok := Split(out.Bytes())
	require.True(t, ok)
	assert.Contains(t, string(log), "msg=extracted")

	var c model.Collection
	require.NoError(t, c.UnmarshalJSON(payload))
	assert.Equal(t, "2.0", c.Manifest.Version)
	assert.Equal(t, 3, c.Len())
}

func TestServeErrors(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	err := Serve(context.Background(), strings.NewReader(`{"root":"fail"}`), &out, fakeExtract)
	require.Error(t, err)
	assert.NotContains(t, out.String(), Marker)
	assert.Contains(t, out.String(), "cannot read root")

	err = Serve(context.Background(), strings.NewReader("not json"), &out, fakeExtract)
	assert.Error(t, err)
}

func TestFingerprint(t *testing.T) {
	t.Parallel()

	a := testInput()
	b := testInput()
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())

	b.Modules = []string{"pkg"}
	assert.NotEqual(t, a.Fingerprint(), b.Fingerprint())
}

func TestCappedBuffer(t *testing.T) {
	t.Parallel()

	b := &cappedBuffer{limit: 4}
	n, err := b.Write([]byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.False(t, b.overflow)

	n, err = b.Write([]byte("def"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.True(t, b.overflow)
	assert.Equal(t, "abcd", b.String())
}

func TestCappedBufferCopy(t *testing.T) {
	t.Parallel()

	// os/exec feeds child output through io.Copy.
	b := &cappedBuffer{limit: 1024}
	n, err := io.Copy(b, bytes.NewReader(bytes.Repeat([]byte("x"), 8192)))
	require.NoError(t, err)
	assert.Equal(t, int64(8192), n)
	assert.True(t, b.overflow)
	assert.Equal(t, 1024, b.Len())
}
