package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/forPelevin/vibecut/internal/config"
	"github.com/forPelevin/vibecut/internal/export"
	"github.com/forPelevin/vibecut/internal/logging"
	"github.com/forPelevin/vibecut/internal/ports"
	"github.com/forPelevin/vibecut/internal/ports/adapters/assets"
	"github.com/forPelevin/vibecut/internal/ports/adapters/ffmpeg"
	"github.com/forPelevin/vibecut/internal/ports/adapters/openrouter"
	"github.com/forPelevin/vibecut/internal/transcoder"
	"github.com/forPelevin/vibecut/internal/types"
	"github.com/forPelevin/vibecut/internal/usecase"
)

// Pipeline wires the engine session, exporter and analyzer for one CLI
// invocation. The engine is loaded at most once per Pipeline, on first use.
type Pipeline struct {
	cfg      *config.Config
	log      zerolog.Logger
	sessions *transcoder.Manager
	exporter *export.Exporter
	analyzer ports.Analyzer
	now      func() time.Time
}

func New(cfg *config.Config, log zerolog.Logger) *Pipeline {
	return NewWithLoader(cfg, log, NewEngineLoader(cfg, log))
}

// NewWithLoader is New with a custom engine loader.
func NewWithLoader(cfg *config.Config, log zerolog.Logger, loader ports.EngineLoader) *Pipeline {
	sessions := transcoder.NewManager(loader, transcoder.Options{
		LoadTimeout: cfg.Engine.LoadTimeout,
		Logger:      log,
	})
	return &Pipeline{
		cfg:      cfg,
		log:      logging.WithComponent(log, "pipeline"),
		sessions: sessions,
		exporter: export.New(sessions, export.Options{
			Lenient: cfg.Export.LenientTimestamps,
			Timeout: cfg.Export.Timeout,
			Logger:  log,
		}),
		analyzer: openrouter.New(openrouter.Config{
			APIKey:         cfg.OpenRouter.APIKey,
			Model:          cfg.OpenRouter.Model,
			BaseURL:        cfg.OpenRouter.BaseURL,
			Referer:        cfg.OpenRouter.Referer,
			Title:          cfg.OpenRouter.Title,
			MaxInlineBytes: cfg.OpenRouter.MaxInlineBytes,
			Timeout:        cfg.OpenRouter.Timeout,
			MaxRetries:     2,
			Logger:         log,
		}),
		now: time.Now,
	}
}

// NewEngineLoader resolves ffmpeg through the asset cache and ffprobe on first
// probe. A configured path is used as-is for either binary.
func NewEngineLoader(cfg *config.Config, log zerolog.Logger) ports.EngineLoader {
	overrides := map[string]string{}
	if cfg.Engine.FFmpegPath != "" {
		overrides[ffmpeg.AssetFFmpeg] = cfg.Engine.FFmpegPath
	}
	if cfg.Engine.FFprobePath != "" {
		overrides[ffmpeg.AssetFFprobe] = cfg.Engine.FFprobePath
	}
	store := assets.New(assets.Config{
		BaseURL:   cfg.Engine.BaseURL,
		Version:   cfg.Engine.Version,
		Dir:       cfg.Engine.CacheDir,
		Overrides: overrides,
		Logger:    log,
	})
	return &ffmpeg.Loader{Assets: store, WorkDir: cfg.Engine.WorkDir, Logger: log}
}

func (p *Pipeline) Close() error {
	return p.sessions.Close()
}

type AnalyzeInput struct {
	Input string
	// ReportPath overrides <run dir>/report.json.
	ReportPath string
}

type AnalyzeResult struct {
	ReportPath string
	Report     types.Report
}

func (p *Pipeline) Analyze(ctx context.Context, in AnalyzeInput) (AnalyzeResult, error) {
	src, err := sourceAsset(in.Input)
	if err != nil {
		return AnalyzeResult{}, err
	}

	uc := p.usecase(p.cfg.OutDir)
	rep, err := uc.Analyze(ctx, src)
	if err != nil {
		return AnalyzeResult{}, err
	}

	path := in.ReportPath
	if path == "" {
		runDir := buildRunOutDir(p.cfg.OutDir, src.Path, p.now().UTC())
		path = filepath.Join(runDir, "report.json")
	}
	if err := WriteReport(path, rep); err != nil {
		return AnalyzeResult{}, err
	}
	p.log.Info().
		Int("clips", len(rep.ViralClips)).
		Str("report", logging.SanitizePath(path)).
		Msg("report written")
	return AnalyzeResult{ReportPath: path, Report: rep}, nil
}

type ExportInput struct {
	ReportPath string
	// Input overrides the source video; defaults to the path recorded in the
	// report, then to the video's name next to the report.
	Input string
	// Clips are 1-based ordinals; empty exports every clip.
	Clips []int
	// OutDir defaults to the report's directory.
	OutDir     string
	OnProgress func(ordinal, percent int)
}

func (p *Pipeline) Export(ctx context.Context, in ExportInput) ([]usecase.ExportResult, error) {
	rep, err := ReadReport(in.ReportPath)
	if err != nil {
		return nil, err
	}
	input := in.Input
	if input == "" {
		input = reportSource(in.ReportPath, rep.Video)
	}
	src, err := sourceAsset(input)
	if err != nil {
		return nil, err
	}
	outDir := in.OutDir
	if outDir == "" {
		outDir = filepath.Dir(in.ReportPath)
	}
	if len(rep.ViralClips) == 0 {
		return nil, errors.New("report has no clips to export")
	}

	p.log.Info().
		Str("source", logging.SanitizePath(src.Path)).
		Int("clips", len(rep.ViralClips)).
		Str("out", logging.SanitizePath(outDir)).
		Msg("exporting highlights")
	return p.usecase(outDir).ExportAll(ctx, src, rep.ViralClips, in.Clips, in.OnProgress)
}

type TrimInput struct {
	Input   string
	Start   string
	End     string
	Ordinal int
	OutDir  string

	OnProgress func(ordinal, percent int)
}

// Trim exports one ad-hoc range without an analysis report.
func (p *Pipeline) Trim(ctx context.Context, in TrimInput) (usecase.ExportResult, error) {
	src, err := sourceAsset(in.Input)
	if err != nil {
		return usecase.ExportResult{}, err
	}
	outDir := in.OutDir
	if outDir == "" {
		outDir = p.cfg.OutDir
	}
	ordinal := in.Ordinal
	if ordinal == 0 {
		ordinal = 1
	}
	return p.usecase(outDir).ExportHighlight(ctx, usecase.ExportInput{
		Source:     src,
		Segment:    types.ViralSegment{StartTime: in.Start, EndTime: in.End, Title: "trim"},
		Ordinal:    ordinal,
		OnProgress: in.OnProgress,
	})
}

func (p *Pipeline) usecase(outDir string) *usecase.Usecase {
	return usecase.New(usecase.Deps{
		Exporter: p.exporter,
		Analyzer: p.analyzer,
		Sessions: p.sessions,
		Logger:   p.log,
		Now:      p.now,
	}, usecase.Config{
		Product: p.cfg.Product,
		App:     p.cfg.App,
		OutDir:  outDir,
		Lenient: p.cfg.Export.LenientTimestamps,

		MaxDuration: p.cfg.Analyze.MaxDuration,
	})
}

// reportSource locates the video a report was made from: the recorded path
// while it exists, else a file of the same name next to the report.
func reportSource(reportPath string, v types.VideoInfo) string {
	if v.Path != "" {
		if st, err := os.Stat(v.Path); err == nil && !st.IsDir() {
			return v.Path
		}
	}
	local := filepath.Join(filepath.Dir(reportPath), v.Name)
	if _, err := os.Stat(local); err != nil && v.Path != "" {
		return v.Path
	}
	return local
}

func sourceAsset(input string) (types.MediaAsset, error) {
	if strings.TrimSpace(input) == "" {
		return types.MediaAsset{}, errors.New("input is empty")
	}
	abs, err := filepath.Abs(input)
	if err != nil {
		return types.MediaAsset{}, err
	}
	st, err := os.Stat(abs)
	if err != nil {
		return types.MediaAsset{}, fmt.Errorf("stat input: %w", err)
	}
	if st.IsDir() {
		return types.MediaAsset{}, fmt.Errorf("input %s is a directory", input)
	}
	return types.MediaAsset{Path: abs, MIMEType: mimeType(abs)}, nil
}

func mimeType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mov":
		return "video/quicktime"
	case ".webm":
		return "video/webm"
	case ".mkv":
		return "video/x-matroska"
	default:
		return "video/mp4"
	}
}

func buildRunOutDir(outRoot, input string, now time.Time) string {
	name := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	name = normalizePathSegment(name)
	if name == "" {
		name = "input"
	}
	ts := now.UTC().Format("20060102-150405Z")
	runSeed := fmt.Sprintf("%s|%d", input, now.UTC().UnixNano())
	suffix := hash(runSeed)[:6]
	return filepath.Join(outRoot, fmt.Sprintf("%s-%s-%s", name, ts, suffix))
}

func normalizePathSegment(s string) string {
	var b strings.Builder
	prevDash := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
			prevDash = false
		default:
			if !prevDash {
				b.WriteByte('-')
				prevDash = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}

func hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:12]
}
