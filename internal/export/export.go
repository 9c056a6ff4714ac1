// Package export cuts one segment out of a source video by stream copy.
package export

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	ffmpeggo "github.com/u2takey/ffmpeg-go"

	"github.com/forPelevin/vibecut/internal/domain/timecode"
	"github.com/forPelevin/vibecut/internal/logging"
	"github.com/forPelevin/vibecut/internal/ports"
	"github.com/forPelevin/vibecut/internal/types"
)

// MIMEType of every exported artifact.
const MIMEType = "video/mp4"

type Options struct {
	// Lenient degrades malformed timestamp segments to 0 instead of failing.
	Lenient bool
	// Timeout stops waiting for a single export. Zero means wait forever.
	Timeout time.Duration
	Logger  zerolog.Logger
	// NewID names the per-export sandbox files. Defaults to a random UUID.
	NewID func() string
}

type Exporter struct {
	sessions ports.SessionProvider
	parser   timecode.Parser
	timeout  time.Duration
	newID    func() string
	log      zerolog.Logger
}

func New(sessions ports.SessionProvider, opts Options) *Exporter {
	newID := opts.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	return &Exporter{
		sessions: sessions,
		parser:   timecode.Parser{Lenient: opts.Lenient},
		timeout:  opts.Timeout,
		newID:    newID,
		log:      logging.WithComponent(opts.Logger, "export"),
	}
}

// Export trims rng out of source without re-encoding. Cut points snap to the
// keyframe at or before the start. onProgress may be nil; it receives integer
// percentages that never decrease and is not called after Export returns.
//
// ctx only bounds the wait. Once the trim command has started it runs to
// completion and cleans up its sandbox files even if Export already returned
// ErrCanceled.
func (x *Exporter) Export(
	ctx context.Context,
	source types.MediaAsset,
	rng types.TimeRange,
	onProgress func(int),
) (types.Artifact, error) {
	span, err := x.parser.Span(rng)
	if err != nil {
		if !errors.Is(err, ErrInvalidRange) {
			err = fmt.Errorf("%w: %w", ErrInvalidRange, err)
		}
		return types.Artifact{}, err
	}

	if x.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, x.timeout)
		defer cancel()
	}

	eng, err := x.sessions.Session(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return types.Artifact{}, fmt.Errorf("%w: %w", ErrCanceled, err)
		}
		return types.Artifact{}, fmt.Errorf("%w: %w", ErrEngineUnavailable, err)
	}

	id := x.newID()
	log := logging.WithJobID(x.log, id)
	rep := newPercentReporter(onProgress)
	job := &job{
		eng:    eng,
		source: source,
		span:   span,
		in:     "in-" + id + source.Ext(),
		out:    "out-" + id + ".mp4",
		rep:    rep,
		log:    log,
	}

	log.Info().
		Str("source", source.Name()).
		Str("start", timecode.Format(span.Start)).
		Int("duration_sec", span.Duration).
		Msg("exporting segment")

	started := time.Now()
	done := make(chan result, 1)
	go func() {
		art, err := job.run(ctx, context.WithoutCancel(ctx))
		done <- result{art: art, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			log.Error().Err(r.err).Dur("took", time.Since(started)).Msg("export failed")
			return types.Artifact{}, r.err
		}
		log.Info().Int("bytes", len(r.art.Data)).Dur("took", time.Since(started)).Msg("segment exported")
		return r.art, nil
	case <-ctx.Done():
		rep.stop()
		log.Warn().Err(ctx.Err()).Msg("stopped waiting for export; engine command left to finish")
		return types.Artifact{}, fmt.Errorf("%w: %w", ErrCanceled, ctx.Err())
	}
}

// TrimArgs builds the stream-copy trim: seek before opening the input, copy
// every stream for exactly the span's duration.
func TrimArgs(in, out string, span timecode.Span) []string {
	return ffmpeggo.
		Input(in, ffmpeggo.KwArgs{"ss": strconv.Itoa(span.Start)}).
		Output(out, ffmpeggo.KwArgs{"t": strconv.Itoa(span.Duration), "c": "copy"}).
		OverWriteOutput().
		GetArgs()
}

type result struct {
	art types.Artifact
	err error
}

type job struct {
	eng    ports.Engine
	source types.MediaAsset
	span   timecode.Span
	in     string
	out    string
	rep    *percentReporter
	log    zerolog.Logger
}

// run performs write, exec and read in order. waitCtx is checked between steps
// that have not started yet; engine calls use the detached ctx.
func (j *job) run(waitCtx, ctx context.Context) (types.Artifact, error) {
	defer j.cleanup(ctx)

	if err := waitCtx.Err(); err != nil {
		return types.Artifact{}, fmt.Errorf("%w: %w", ErrCanceled, err)
	}
	f, err := j.source.Open()
	if err != nil {
		return types.Artifact{}, fmt.Errorf("%w: %w", ErrSource, err)
	}
	err = j.eng.WriteFile(ctx, j.in, f)
	_ = f.Close()
	if err != nil {
		return types.Artifact{}, fmt.Errorf("%w: %w", ErrSource, err)
	}

	if err := waitCtx.Err(); err != nil {
		return types.Artifact{}, fmt.Errorf("%w: %w", ErrCanceled, err)
	}
	var onFrac func(float64)
	if j.rep.active() {
		onFrac = j.rep.fraction
	}
	if err := j.eng.Exec(ctx, TrimArgs(j.in, j.out, j.span), onFrac); err != nil {
		return types.Artifact{}, fmt.Errorf("%w: %w", ErrExecution, err)
	}

	data, err := j.eng.ReadFile(ctx, j.out)
	if err != nil {
		return types.Artifact{}, fmt.Errorf("%w: %w", ErrReadBack, err)
	}
	if len(data) == 0 {
		return types.Artifact{}, fmt.Errorf("%w: %s is empty", ErrReadBack, j.out)
	}
	return types.Artifact{Data: data, MIMEType: MIMEType}, nil
}

func (j *job) cleanup(ctx context.Context) {
	for _, name := range []string{j.in, j.out} {
		if err := j.eng.DeleteFile(ctx, name); err != nil {
			j.log.Warn().Err(err).Str("file", name).Msg("sandbox cleanup failed")
		}
	}
}

// percentReporter converts engine fractions into integer percentages that
// never go down, and goes silent once stopped.
type percentReporter struct {
	mu      sync.Mutex
	fn      func(int)
	last    int
	stopped bool
}

func newPercentReporter(fn func(int)) *percentReporter {
	return &percentReporter{fn: fn, last: -1}
}

func (r *percentReporter) active() bool { return r.fn != nil }

func (r *percentReporter) fraction(f float64) {
	if math.IsNaN(f) {
		return
	}
	pct := int(math.Round(f * 100))
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped || pct <= r.last {
		return
	}
	r.last = pct
	r.fn(pct)
}

func (r *percentReporter) stop() {
	r.mu.Lock()
	r.stopped = true
	r.mu.Unlock()
}

var _ ports.SegmentExporter = (*Exporter)(nil)
