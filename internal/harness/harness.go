// Package harness runs extraction inside disposable worker processes.
//
// The parent sends an Input as JSON on the worker's stdin. The worker writes
// its log text to stdout, then a newline and Marker, then the JSON encoded
// Collection. Every attempt is a fresh process; failed attempts are retried
// with a random backoff until the retry budget is spent.
package harness

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/phobologic/apidrift/internal/model"
)

// Marker separates a worker's log output from its payload.
const Marker = "AEXPY_TRANSFER_BEGIN"

// AttemptEnv carries the attempt id into the worker.
const AttemptEnv = "APIDRIFT_ATTEMPT_ID"

// Defaults applied by Runner when a field is zero.
const (
	DefaultMaxRetries     = 3
	DefaultAttemptTimeout = 10 * time.Minute
	DefaultBackoffMax     = time.Second
	DefaultMaxOutput      = 256 << 20
)

const maxStderr = 64 << 10

var (
	ErrTimeout        = errors.New("timeout")
	ErrNonZeroExit    = errors.New("non-zero exit")
	ErrInvalidPayload = errors.New("invalid payload")
	ErrOutputTooLarge = errors.New("output too large")
)

// Input describes one extraction job.
type Input struct {
	Release model.Release `json:"release" yaml:"release"`
	// Root is the directory the package is importable from.
	Root string `json:"root" yaml:"root" validate:"required"`
	// Modules lists the top-level modules. Empty means auto-detect.
	Modules     []string `json:"modules,omitempty" yaml:"modules"`
	MaxFileSize int64    `json:"maxFileSize,omitempty" yaml:"maxFileSize"`
	Ignore      []string `json:"ignore,omitempty" yaml:"ignore"`
}

// Fingerprint identifies in by content.
func (in Input) Fingerprint() string {
	data, _ := json.Marshal(in)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Attempt records one worker process run.
type Attempt struct {
	ID       string
	Number   int
	Duration time.Duration
	Err      error
	// Log is the text the worker wrote before the marker.
	Log string
}

// Reason names why the attempt failed, or is empty on success.
func (a Attempt) Reason() string {
	for _, sentinel := range []error{ErrTimeout, ErrNonZeroExit, ErrInvalidPayload, ErrOutputTooLarge} {
		if errors.Is(a.Err, sentinel) {
			return sentinel.Error()
		}
	}
	if a.Err != nil {
		return a.Err.Error()
	}
	return ""
}

// Result is a successful extraction.
type Result struct {
	Collection *model.Collection
	Log        string
	Attempts   []Attempt
}

// Failure is returned when every attempt failed.
type Failure struct {
	Input    Input
	Attempts []Attempt
}

func (f *Failure) Error() string {
	reasons := make([]string, len(f.Attempts))
	for i, a := range f.Attempts {
		reasons[i] = a.Reason()
	}
	return fmt.Sprintf("extracting %s failed after %d attempts: %s",
		f.Input.Release, len(f.Attempts), strings.Join(reasons, "; "))
}

// Unwrap exposes every attempt error to errors.Is.
func (f *Failure) Unwrap() []error {
	errs := make([]error, 0, len(f.Attempts))
	for _, a := range f.Attempts {
		errs = append(errs, a.Err)
	}
	return errs
}

// Runner starts worker processes.
type Runner struct {
	// Command is the worker argv.
	Command []string
	// Env is appended to the parent environment.
	Env []string

	MaxRetries     int
	AttemptTimeout time.Duration
	BackoffMax     time.Duration
	// MaxOutput caps captured stdout; larger output fails the attempt.
	MaxOutput int64
	// MemoryLimit is passed as GOMEMLIMIT when set, e.g. "2GiB".
	MemoryLimit string

	Logger *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}

func (r *Runner) maxRetries() int {
	if r.MaxRetries <= 0 {
		return DefaultMaxRetries
	}
	return r.MaxRetries
}

func (r *Runner) attemptTimeout() time.Duration {
	if r.AttemptTimeout <= 0 {
		return DefaultAttemptTimeout
	}
	return r.AttemptTimeout
}

func (r *Runner) maxOutput() int64 {
	if r.MaxOutput <= 0 {
		return DefaultMaxOutput
	}
	return r.MaxOutput
}

func (r *Runner) backoff() time.Duration {
	limit := r.BackoffMax
	if limit < 0 {
		return 0
	}
	if limit == 0 {
		limit = DefaultBackoffMax
	}
	return rand.N(limit)
}

// RunIsolated extracts in inside worker processes. If every attempt fails
// the error is a *Failure. Cancelling ctx stops at once with ctx's error.
func (r *Runner) RunIsolated(ctx context.Context, in Input) (*Result, error) {
	if len(r.Command) == 0 {
		return nil, errors.New("harness: no worker command")
	}
	payload, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("encoding input: %w", err)
	}

	sleep := r.sleep
	if sleep == nil {
		sleep = sleepContext
	}
	logger := r.logger().With("release", in.Release.String())

	var attempts []Attempt
	for n := 1; n <= r.maxRetries(); n++ {
		if n > 1 {
			if err := sleep(ctx, r.backoff()); err != nil {
				return nil, fmt.Errorf("extracting %s: %w", in.Release, err)
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("extracting %s: %w", in.Release, err)
		}

		a, c := r.attempt(ctx, n, payload)
		attempts = append(attempts, a)
		if c != nil {
			logger.Debug("extraction attempt succeeded", "attempt", a.ID, "duration", a.Duration)
			return &Result{Collection: c, Log: a.Log, Attempts: attempts}, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("extracting %s: %w", in.Release, err)
		}
		logger.Warn("extraction attempt failed",
			"attempt", a.ID, "number", n, "reason", a.Reason(), "error", a.Err)
	}
	return nil, &Failure{Input: in, Attempts: attempts}
}

// attempt runs one worker. The collection is nil when the attempt failed.
func (r *Runner) attempt(ctx context.Context, n int, payload []byte) (a Attempt, c *model.Collection) {
	a = Attempt{ID: uuid.NewString(), Number: n}
	start := time.Now()
	defer func() {
		a.Duration = time.Since(start)
		recordAttempt(outcome(ctx, a.Err), a.Duration)
	}()

	attemptCtx, cancel := context.WithTimeout(ctx, r.attemptTimeout())
	defer cancel()

	cmd := exec.CommandContext(attemptCtx, r.Command[0], r.Command[1:]...)
	cmd.Env = append(os.Environ(), r.Env...)
	cmd.Env = append(cmd.Env, "GOMAXPROCS=1", AttemptEnv+"="+a.ID)
	if r.MemoryLimit != "" {
		cmd.Env = append(cmd.Env, "GOMEMLIMIT="+r.MemoryLimit)
	}
	cmd.WaitDelay = time.Second
	cmd.Stdin = bytes.NewReader(payload)

	stdout := &cappedBuffer{limit: r.maxOutput()}
	stderr := &cappedBuffer{limit: maxStderr}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	err := cmd.Run()

	if ctx.Err() != nil {
		a.Err = ctx.Err()
		return a, nil
	}
	if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		a.Err = fmt.Errorf("%w after %s", ErrTimeout, r.attemptTimeout())
		return a, nil
	}
	if err != nil {
		a.Err = fmt.Errorf("%w: %v: %s", ErrNonZeroExit, err, lastLine(stderr.String()))
		a.Log = stdout.String()
		return a, nil
	}
	if stdout.overflow {
		a.Err = fmt.Errorf("%w: more than %d bytes", ErrOutputTooLarge, r.maxOutput())
		return a, nil
	}

	log, body, ok := Split(stdout.Bytes())
	a.Log = string(log)
	if !ok {
		a.Err = fmt.Errorf("%w: marker not found", ErrInvalidPayload)
		return a, nil
	}
	c = &model.Collection{}
	if err := json.Unmarshal(body, c); err != nil {
		a.Err = fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		return a, nil
	}
	return a, c
}

// Split cuts worker output at the first marker. ok is false when there is
// no marker.
func Split(out []byte) (log, payload []byte, ok bool) {
	before, after, found := bytes.Cut(out, []byte(Marker))
	if !found {
		return out, nil, false
	}
	return bytes.TrimSuffix(before, []byte("\n")), after, true
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// cappedBuffer keeps the first limit bytes and drops the rest, so a chatty
// worker never blocks on a full pipe.
type cappedBuffer struct {
	buf      bytes.Buffer
	limit    int64
	overflow bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	room := b.limit - int64(b.buf.Len())
	if int64(len(p)) > room {
		b.overflow = true
		if room > 0 {
			b.buf.Write(p[:room])
		}
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *cappedBuffer) Len() int { return b.buf.Len() }

func (b *cappedBuffer) Bytes() []byte { return b.buf.Bytes() }

func (b *cappedBuffer) String() string { return b.buf.String() }
