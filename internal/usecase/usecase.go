package usecase

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/forPelevin/vibecut/internal/domain/highlights"
	"github.com/forPelevin/vibecut/internal/logging"
	"github.com/forPelevin/vibecut/internal/ports"
	"github.com/forPelevin/vibecut/internal/types"
)

const (
	DefaultProduct = "VibeStream"
	DefaultApp     = "VibeStream AI"

	// DefaultMaxDuration is the longest source accepted for analysis.
	DefaultMaxDuration = 5 * time.Minute
)

var (
	ErrJobInFlight = errors.New("highlight export already in progress")
	ErrOrdinal     = errors.New("highlight ordinal must be >= 1")
	ErrSave        = errors.New("save clip")
	ErrTooLong     = errors.New("source video is too long to analyze")
)

type Deps struct {
	Exporter ports.SegmentExporter
	Analyzer ports.Analyzer
	// Sessions is used to probe source metadata for reports. Optional.
	Sessions ports.SessionProvider
	Logger   zerolog.Logger
	Now      func() time.Time
}

type Config struct {
	// Product prefixes exported file names.
	Product string
	// App is recorded in analysis reports.
	App     string
	OutDir  string
	Lenient bool
	// MaxDuration rejects longer sources before analysis. Zero disables the
	// check.
	MaxDuration time.Duration
}

// Usecase owns the per-highlight export jobs. At most one job per ordinal
// runs at a time; different ordinals may export concurrently.
type Usecase struct {
	d   Deps
	cfg Config
	log zerolog.Logger

	mu   sync.Mutex
	jobs map[int]*Job
}

func New(d Deps, cfg Config) *Usecase {
	if d.Now == nil {
		d.Now = time.Now
	}
	if strings.TrimSpace(cfg.Product) == "" {
		cfg.Product = DefaultProduct
	}
	if strings.TrimSpace(cfg.App) == "" {
		cfg.App = DefaultApp
	}
	if cfg.OutDir == "" {
		cfg.OutDir = "."
	}
	return &Usecase{
		d:    d,
		cfg:  cfg,
		log:  logging.WithComponent(d.Logger, "usecase"),
		jobs: map[int]*Job{},
	}
}

type ExportInput struct {
	Source  types.MediaAsset
	Segment types.ViralSegment
	// Ordinal is the 1-based position of Segment in the analysis.
	Ordinal    int
	OnProgress func(ordinal, percent int)
}

type ExportResult struct {
	Ordinal int
	Path    string
	Bytes   int
	Took    time.Duration
}

// ExportHighlight trims one highlight and saves it as
// <out>/<product>_Highlight_<ordinal>.mp4. It fails with ErrJobInFlight when
// the same ordinal is already exporting. Failures are not retried.
func (u *Usecase) ExportHighlight(ctx context.Context, in ExportInput) (ExportResult, error) {
	if in.Ordinal < 1 {
		return ExportResult{}, fmt.Errorf("%w: got %d", ErrOrdinal, in.Ordinal)
	}
	if err := u.begin(in.Ordinal); err != nil {
		return ExportResult{}, err
	}

	started := u.d.Now()
	log := u.log.With().Int("ordinal", in.Ordinal).Str("title", in.Segment.Title).Logger()
	log.Info().
		Str("start", in.Segment.StartTime).
		Str("end", in.Segment.EndTime).
		Msg("export started")

	art, err := u.d.Exporter.Export(ctx, in.Source, in.Segment.Range(), func(p int) {
		u.progress(in.Ordinal, p)
		if in.OnProgress != nil {
			in.OnProgress(in.Ordinal, p)
		}
	})
	if err == nil {
		path := filepath.Join(u.cfg.OutDir, Filename(u.cfg.Product, in.Ordinal))
		if werr := writeAtomic(path, art.Data); werr != nil {
			err = fmt.Errorf("%w: %w", ErrSave, werr)
		} else {
			res := ExportResult{Ordinal: in.Ordinal, Path: path, Bytes: len(art.Data), Took: u.d.Now().Sub(started)}
			u.finish(in.Ordinal, res.Path, nil)
			log.Info().Str("path", path).Int("bytes", res.Bytes).Dur("took", res.Took).Msg("export finished")
			return res, nil
		}
	}

	u.finish(in.Ordinal, "", err)
	log.Error().Err(err).Msg("export failed")
	return ExportResult{}, err
}

// HighlightError ties an ExportAll failure to its ordinal.
type HighlightError struct {
	Ordinal int
	Err     error
}

func (e *HighlightError) Error() string { return fmt.Sprintf("highlight %d: %v", e.Ordinal, e.Err) }

func (e *HighlightError) Unwrap() error { return e.Err }

// ExportAll exports the given ordinals of clips one after another, all of them
// when ordinals is empty. A failed highlight does not stop the rest.
func (u *Usecase) ExportAll(
	ctx context.Context,
	source types.MediaAsset,
	clips []types.ViralSegment,
	ordinals []int,
	onProgress func(ordinal, percent int),
) ([]ExportResult, error) {
	if len(ordinals) == 0 {
		for i := range clips {
			ordinals = append(ordinals, i+1)
		}
	}

	var (
		out  []ExportResult
		errs []error
	)
	for _, n := range ordinals {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if n < 1 || n > len(clips) {
			errs = append(errs, &HighlightError{Ordinal: n, Err: fmt.Errorf("%w (have %d)", ErrOrdinal, len(clips))})
			continue
		}
		res, err := u.ExportHighlight(ctx, ExportInput{
			Source:     source,
			Segment:    clips[n-1],
			Ordinal:    n,
			OnProgress: onProgress,
		})
		if err != nil {
			errs = append(errs, &HighlightError{Ordinal: n, Err: err})
			continue
		}
		out = append(out, res)
	}
	return out, errors.Join(errs...)
}

// Analyze runs the analyzer over source and returns a cleaned report. The
// source is probed first so an over-long video fails before any upload.
// Metadata is best-effort: a failed probe leaves it empty, skips the length
// check and skips clamping clips to the source length.
func (u *Usecase) Analyze(ctx context.Context, source types.MediaAsset) (types.Report, error) {
	md := u.probe(ctx, source)
	if md != nil && u.cfg.MaxDuration > 0 && md.Duration > u.cfg.MaxDuration {
		return types.Report{}, fmt.Errorf("%w: %s is %s, limit is %s",
			ErrTooLong, source.Name(), md.Duration.Round(time.Second), u.cfg.MaxDuration)
	}

	res, err := u.d.Analyzer.Analyze(ctx, source)
	if err != nil {
		return types.Report{}, fmt.Errorf("analyze: %w", err)
	}

	opts := highlights.Options{Lenient: u.cfg.Lenient}
	if md != nil {
		opts.Duration = md.Duration
	}
	clean := highlights.Normalize(res, opts)
	if dropped := len(res.ViralClips) - len(clean.ViralClips); dropped > 0 {
		u.log.Warn().Int("dropped", dropped).Msg("dropped unusable highlights")
	}

	return types.Report{
		App:            u.cfg.App,
		Timestamp:      u.d.Now().UTC(),
		Video:          types.VideoInfo{Name: source.Name(), Path: source.Path, Metadata: md},
		AnalysisResult: clean,
	}, nil
}

func (u *Usecase) probe(ctx context.Context, source types.MediaAsset) *types.VideoMetadata {
	if u.d.Sessions == nil {
		return nil
	}
	eng, err := u.d.Sessions.Session(ctx)
	if err != nil {
		u.log.Warn().Err(err).Msg("engine unavailable, report has no metadata")
		return nil
	}
	md, err := eng.Probe(ctx, source.Path)
	if err != nil {
		u.log.Warn().Err(err).Msg("probe failed, report has no metadata")
		return nil
	}
	return &md
}

// Jobs returns a snapshot of every job started so far, ordered by ordinal.
func (u *Usecase) Jobs() []Job {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]Job, 0, len(u.jobs))
	for _, j := range u.jobs {
		out = append(out, *j)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ordinal < out[j].Ordinal })
	return out
}

// Job returns the state of one ordinal; JobIdle when it never ran.
func (u *Usecase) Job(ordinal int) Job {
	u.mu.Lock()
	defer u.mu.Unlock()
	if j, ok := u.jobs[ordinal]; ok {
		return *j
	}
	return Job{Ordinal: ordinal, State: JobIdle}
}

func (u *Usecase) begin(ordinal int) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if j, ok := u.jobs[ordinal]; ok && j.State == JobRunning {
		return fmt.Errorf("%w: highlight %d", ErrJobInFlight, ordinal)
	}
	u.jobs[ordinal] = &Job{Ordinal: ordinal, State: JobRunning, Started: u.d.Now()}
	return nil
}

func (u *Usecase) progress(ordinal, pct int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if j, ok := u.jobs[ordinal]; ok && j.State == JobRunning && pct > j.Progress {
		j.Progress = pct
	}
}

func (u *Usecase) finish(ordinal int, path string, err error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	j, ok := u.jobs[ordinal]
	if !ok {
		return
	}
	j.Finished = u.d.Now()
	j.Err = err
	if err != nil {
		j.State = JobFailed
		return
	}
	j.State = JobSucceeded
	j.Progress = 100
	j.Path = path
}

// Filename is the download name of the ordinal-th highlight.
func Filename(product string, ordinal int) string {
	return fmt.Sprintf("%s_Highlight_%d.mp4", product, ordinal)
}

// writeAtomic never leaves a partial file at path.
func writeAtomic(path string, data []byte) error {
	if len(data) == 0 {
		return errors.New("empty artifact")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*.part")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer func() {
		if tmpPath != "" {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}
	tmpPath = ""
	return nil
}
