package ports

import (
	"context"
	"io"

	"github.com/forPelevin/vibecut/internal/types"
)

// Engine is a loaded transcoder with a private flat file namespace. File names
// passed to WriteFile, ReadFile, DeleteFile and Exec args are relative to it.
type Engine interface {
	WriteFile(ctx context.Context, name string, r io.Reader) error
	ReadFile(ctx context.Context, name string) ([]byte, error)
	DeleteFile(ctx context.Context, name string) error
	// Exec runs one command. onProgress, when non-nil, receives fractions in [0,1]
	// for this command only.
	Exec(ctx context.Context, args []string, onProgress func(float64)) error
	// Probe reads container metadata of a host file.
	Probe(ctx context.Context, path string) (types.VideoMetadata, error)
}

type EngineLoader interface {
	Load(ctx context.Context) (Engine, error)
}

type SessionProvider interface {
	Session(ctx context.Context) (Engine, error)
}

type SegmentExporter interface {
	Export(
		ctx context.Context,
		source types.MediaAsset,
		rng types.TimeRange,
		onProgress func(int),
	) (types.Artifact, error)
}

type Analyzer interface {
	Analyze(ctx context.Context, source types.MediaAsset) (types.AnalysisResult, error)
}
