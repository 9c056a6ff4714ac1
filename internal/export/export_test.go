package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/forPelevin/vibecut/internal/domain/timecode"
	"github.com/forPelevin/vibecut/internal/ports"
	"github.com/forPelevin/vibecut/internal/transcoder"
	"github.com/forPelevin/vibecut/internal/types"
)

func TestExport_InvalidRangeFailsBeforeEngine(t *testing.T) {
	t.Parallel()

	cases := []types.TimeRange{
		{StartTime: "0:05", EndTime: "0:02"},
		{StartTime: "0:05", EndTime: "0:05"},
		{StartTime: "1:00:00", EndTime: "59:59"},
		{StartTime: "0:xx", EndTime: "0:05"},
	}
	for _, rng := range cases {
		rng := rng
		t.Run(rng.StartTime+"-"+rng.EndTime, func(t *testing.T) {
			t.Parallel()

			eng := newMemEngine()
			sessions := &countingSessions{eng: eng}
			x := New(sessions, Options{Logger: zerolog.Nop()})

			_, err := x.Export(context.Background(), writeSource(t, "abc"), rng, nil)
			if !errors.Is(err, ErrInvalidRange) {
				t.Fatalf("expected ErrInvalidRange, got %v", err)
			}
			if sessions.calls.Load() != 0 {
				t.Fatalf("engine session acquired for invalid range")
			}
			if eng.writes.Load() != 0 || eng.execs.Load() != 0 {
				t.Fatalf("expected zero writes/execs, got %d/%d", eng.writes.Load(), eng.execs.Load())
			}
		})
	}
}

func TestExport_StreamCopyTrim(t *testing.T) {
	t.Parallel()

	eng := newMemEngine()
	eng.progress = []float64{0.1, 0.05, 0.5, 0.5, 0.504, 0.99, 1.3}
	x := New(&countingSessions{eng: eng}, Options{Logger: zerolog.Nop(), NewID: func() string { return "job1" }})

	var got []int
	art, err := x.Export(context.Background(), writeSource(t, "source-bytes"),
		types.TimeRange{StartTime: "0:02", EndTime: "0:05"},
		func(p int) { got = append(got, p) })
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if art.MIMEType != "video/mp4" {
		t.Fatalf("unexpected mime type: %s", art.MIMEType)
	}
	if string(art.Data) != "trimmed:source-bytes" {
		t.Fatalf("unexpected artifact: %q", art.Data)
	}

	want := []int{10, 50, 99, 100}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("progress = %v, want %v", got, want)
	}

	args := eng.lastArgs()
	if valueAfter(args, "-ss") != "2" || valueAfter(args, "-t") != "3" || valueAfter(args, "-c") != "copy" {
		t.Fatalf("unexpected trim args: %v", args)
	}
	if indexOf(args, "-ss") > indexOf(args, "-i") {
		t.Fatalf("expected fast seek before -i: %v", args)
	}
	if valueAfter(args, "-i") != "in-job1.mp4" || indexOf(args, "out-job1.mp4") < 0 {
		t.Fatalf("expected job-scoped names: %v", args)
	}
	if n := eng.fileCount(); n != 0 {
		t.Fatalf("expected sandbox cleaned up, %d files left", n)
	}
}

func TestExport_Failures(t *testing.T) {
	t.Parallel()

	rng := types.TimeRange{StartTime: "0:01", EndTime: "0:04"}

	t.Run("engine unavailable", func(t *testing.T) {
		t.Parallel()
		x := New(&countingSessions{err: errors.New("fetch ffmpeg: status 503")}, Options{Logger: zerolog.Nop()})
		_, err := x.Export(context.Background(), writeSource(t, "x"), rng, nil)
		if !errors.Is(err, ErrEngineUnavailable) {
			t.Fatalf("expected ErrEngineUnavailable, got %v", err)
		}
	})

	t.Run("missing source", func(t *testing.T) {
		t.Parallel()
		eng := newMemEngine()
		x := New(&countingSessions{eng: eng}, Options{Logger: zerolog.Nop()})
		_, err := x.Export(context.Background(), types.MediaAsset{Path: filepath.Join(t.TempDir(), "nope.mp4")}, rng, nil)
		if !errors.Is(err, ErrSource) {
			t.Fatalf("expected ErrSource, got %v", err)
		}
		if eng.execs.Load() != 0 {
			t.Fatalf("engine executed without a source")
		}
	})

	t.Run("execution", func(t *testing.T) {
		t.Parallel()
		eng := newMemEngine()
		eng.execErr = errors.New("ffmpeg exec\nCould not find tag for codec: exit status 1")
		x := New(&countingSessions{eng: eng}, Options{Logger: zerolog.Nop()})
		_, err := x.Export(context.Background(), writeSource(t, "x"), rng, nil)
		if !errors.Is(err, ErrExecution) || !strings.Contains(err.Error(), "Could not find tag") {
			t.Fatalf("expected ErrExecution with engine output, got %v", err)
		}
		if eng.execs.Load() != 1 {
			t.Fatalf("expected no retry, got %d execs", eng.execs.Load())
		}
		if eng.fileCount() != 0 {
			t.Fatalf("expected cleanup after failure")
		}
	})

	t.Run("read back missing", func(t *testing.T) {
		t.Parallel()
		eng := newMemEngine()
		eng.skipOutput = true
		x := New(&countingSessions{eng: eng}, Options{Logger: zerolog.Nop()})
		_, err := x.Export(context.Background(), writeSource(t, "x"), rng, nil)
		if !errors.Is(err, ErrReadBack) {
			t.Fatalf("expected ErrReadBack, got %v", err)
		}
	})

	t.Run("read back empty", func(t *testing.T) {
		t.Parallel()
		eng := newMemEngine()
		eng.emptyOutput = true
		x := New(&countingSessions{eng: eng}, Options{Logger: zerolog.Nop()})
		_, err := x.Export(context.Background(), writeSource(t, "x"), rng, nil)
		if !errors.Is(err, ErrReadBack) {
			t.Fatalf("expected ErrReadBack, got %v", err)
		}
	})
}

func TestExport_ExecutionFailureKeepsSession(t *testing.T) {
	t.Parallel()

	eng := newMemEngine()
	eng.execErr = errors.New("exit status 1")
	loader := &staticLoader{eng: eng}
	m := transcoder.NewManager(loader, transcoder.Options{Logger: zerolog.Nop()})
	x := New(m, Options{Logger: zerolog.Nop()})
	rng := types.TimeRange{StartTime: "0:00", EndTime: "0:03"}

	if _, err := x.Export(context.Background(), writeSource(t, "a"), rng, nil); !errors.Is(err, ErrExecution) {
		t.Fatalf("expected ErrExecution, got %v", err)
	}
	if m.State() != transcoder.StateReady {
		t.Fatalf("expected session to stay ready, got %s", m.State())
	}

	eng.setExecErr(nil)
	if _, err := x.Export(context.Background(), writeSource(t, "b"), rng, nil); err != nil {
		t.Fatalf("second export: %v", err)
	}
	if loader.calls.Load() != 1 {
		t.Fatalf("expected engine to load once, got %d", loader.calls.Load())
	}
}

func TestExport_BestEffortCancellation(t *testing.T) {
	t.Parallel()

	eng := newMemEngine()
	eng.execGate = make(chan struct{})
	eng.execStarted = make(chan struct{}, 1)
	eng.progress = []float64{0.2, 0.9}
	x := New(&countingSessions{eng: eng}, Options{Logger: zerolog.Nop()})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-eng.execStarted
		cancel()
	}()

	var (
		mu       sync.Mutex
		returned bool
		late     bool
	)
	_, err := x.Export(ctx, writeSource(t, "slow"),
		types.TimeRange{StartTime: "0:00", EndTime: "0:10"},
		func(int) {
			mu.Lock()
			if returned {
				late = true
			}
			mu.Unlock()
		})
	mu.Lock()
	returned = true
	mu.Unlock()

	if !errors.Is(err, ErrCanceled) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected ErrCanceled wrapping context.Canceled, got %v", err)
	}

	close(eng.execGate)
	deadline := time.Now().Add(2 * time.Second)
	for eng.fileCount() != 0 || eng.execs.Load() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("engine command did not finish and clean up")
		}
		time.Sleep(time.Millisecond)
	}
	if eng.sawCanceledExec.Load() {
		t.Fatalf("engine command context was canceled")
	}
	mu.Lock()
	defer mu.Unlock()
	if late {
		t.Fatalf("progress reported after Export returned")
	}
}

func TestExport_TimeoutWhileWaitingForSession(t *testing.T) {
	t.Parallel()

	x := New(blockingSessions{}, Options{Logger: zerolog.Nop(), Timeout: 20 * time.Millisecond})
	_, err := x.Export(context.Background(), writeSource(t, "x"),
		types.TimeRange{StartTime: "0:00", EndTime: "0:01"}, nil)
	if !errors.Is(err, ErrCanceled) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected ErrCanceled wrapping the deadline, got %v", err)
	}
}

func TestExport_ConcurrentExportsUseDistinctFiles(t *testing.T) {
	t.Parallel()

	eng := newMemEngine()
	eng.execDelay = 5 * time.Millisecond
	x := New(&countingSessions{eng: eng}, Options{Logger: zerolog.Nop()})

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	arts := make([]types.Artifact, n)
	for i := 0; i < n; i++ {
		src := writeSource(t, fmt.Sprintf("clip-%d", i))
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			arts[i], errs[i] = x.Export(context.Background(), src,
				types.TimeRange{StartTime: "0:00", EndTime: fmt.Sprintf("0:%02d", i+1)}, nil)
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("export %d: %v", i, errs[i])
		}
		if want := fmt.Sprintf("trimmed:clip-%d", i); string(arts[i].Data) != want {
			t.Fatalf("export %d got %q, want %q", i, arts[i].Data, want)
		}
	}
}

func TestTrimArgs(t *testing.T) {
	args := TrimArgs("in.mov", "out.mp4", timecode.Span{Start: 62, Duration: 15})
	if valueAfter(args, "-ss") != "62" || valueAfter(args, "-t") != "15" {
		t.Fatalf("unexpected args: %v", args)
	}
	if valueAfter(args, "-i") != "in.mov" || valueAfter(args, "-c") != "copy" {
		t.Fatalf("unexpected args: %v", args)
	}
	if indexOf(args, "-ss") > indexOf(args, "-i") || indexOf(args, "-t") < indexOf(args, "-i") {
		t.Fatalf("expected input seek and output duration: %v", args)
	}
	if indexOf(args, "-y") < 0 || indexOf(args, "out.mp4") < 0 {
		t.Fatalf("expected overwrite and output: %v", args)
	}
}

func TestPercentReporter(t *testing.T) {
	var got []int
	r := newPercentReporter(func(p int) { got = append(got, p) })
	for _, f := range []float64{-0.5, 0, 0.004, 0.3, 0.29, 0.3, 0.71, 2} {
		r.fraction(f)
	}
	r.stop()
	r.fraction(0.5)
	if fmt.Sprint(got) != fmt.Sprint([]int{0, 30, 71, 100}) {
		t.Fatalf("unexpected percentages: %v", got)
	}
}

// memEngine is an in-memory sandbox whose Exec "trims" by prefixing the input.
type memEngine struct {
	mu    sync.Mutex
	files map[string][]byte
	args  []string

	progress    []float64
	execErr     error
	execGate    chan struct{}
	execDelay   time.Duration
	skipOutput  bool
	emptyOutput bool

	execStarted chan struct{}

	writes          atomic.Int32
	execs           atomic.Int32
	sawCanceledExec atomic.Bool
}

func newMemEngine() *memEngine {
	return &memEngine{files: map[string][]byte{}}
}

func (e *memEngine) WriteFile(_ context.Context, name string, r io.Reader) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	e.writes.Add(1)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.files[name] = b
	return nil
}

func (e *memEngine) ReadFile(_ context.Context, name string) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.files[name]
	if !ok {
		return nil, os.ErrNotExist
	}
	return b, nil
}

func (e *memEngine) DeleteFile(_ context.Context, name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.files, name)
	return nil
}

func (e *memEngine) Exec(ctx context.Context, args []string, onProgress func(float64)) error {
	if e.execStarted != nil {
		e.execStarted <- struct{}{}
	}

	e.mu.Lock()
	e.args = append([]string(nil), args...)
	execErr := e.execErr
	e.mu.Unlock()

	if onProgress != nil && len(e.progress) > 0 {
		onProgress(e.progress[0])
	}
	if e.execGate != nil {
		<-e.execGate
	}
	if e.execDelay > 0 {
		time.Sleep(e.execDelay)
	}
	if ctx.Err() != nil {
		e.sawCanceledExec.Store(true)
	}
	if onProgress != nil && len(e.progress) > 1 {
		for _, f := range e.progress[1:] {
			onProgress(f)
		}
	}
	e.execs.Add(1)
	if execErr != nil {
		return execErr
	}
	if e.skipOutput {
		return nil
	}

	in := valueAfter(args, "-i")
	out := args[len(args)-1]
	if out == "-y" {
		out = args[len(args)-2]
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.emptyOutput {
		e.files[out] = nil
		return nil
	}
	e.files[out] = append([]byte("trimmed:"), e.files[in]...)
	return nil
}

func (e *memEngine) Probe(context.Context, string) (types.VideoMetadata, error) {
	return types.VideoMetadata{}, nil
}

func (e *memEngine) setExecErr(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.execErr = err
}

func (e *memEngine) lastArgs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.args...)
}

func (e *memEngine) fileCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.files)
}

type countingSessions struct {
	eng   ports.Engine
	err   error
	calls atomic.Int32
}

func (s *countingSessions) Session(context.Context) (ports.Engine, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return s.eng, nil
}

type blockingSessions struct{}

func (blockingSessions) Session(ctx context.Context) (ports.Engine, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type staticLoader struct {
	eng   ports.Engine
	calls atomic.Int32
}

func (l *staticLoader) Load(context.Context) (ports.Engine, error) {
	l.calls.Add(1)
	return l.eng, nil
}

func writeSource(t *testing.T, content string) types.MediaAsset {
	t.Helper()
	p := filepath.Join(t.TempDir(), "source.mp4")
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	return types.MediaAsset{Path: p, MIMEType: "video/mp4"}
}

func valueAfter(args []string, flag string) string {
	i := indexOf(args, flag)
	if i < 0 || i+1 >= len(args) {
		return ""
	}
	return args[i+1]
}

func indexOf(args []string, s string) int {
	for i, a := range args {
		if a == s {
			return i
		}
	}
	return -1
}
