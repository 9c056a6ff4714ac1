package ffmpeg

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/forPelevin/vibecut/internal/ports"
)

const (
	AssetFFmpeg  = "ffmpeg"
	AssetFFprobe = "ffprobe"
)

// AssetResolver returns a local, runnable path for a named engine asset.
type AssetResolver interface {
	Resolve(ctx context.Context, name string) (string, error)
}

// Loader materializes the core binary, checks it runs and gives the engine a
// fresh sandbox under WorkDir. ffprobe is resolved on the engine's first Probe,
// so exports never depend on it.
type Loader struct {
	Assets  AssetResolver
	WorkDir string
	Logger  zerolog.Logger
}

func (l *Loader) Load(ctx context.Context) (ports.Engine, error) {
	ffmpegBin, err := l.Assets.Resolve(ctx, AssetFFmpeg)
	if err != nil {
		return nil, errors.Wrap(err, "resolve ffmpeg")
	}

	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, ffmpegBin, "-hide_banner", "-version")
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return nil, errors.Wrapf(err, "ffmpeg -version\n%s", out.String())
	}

	if l.WorkDir != "" {
		if err := os.MkdirAll(l.WorkDir, 0o755); err != nil {
			return nil, errors.Wrap(err, "create work dir")
		}
	}
	sandbox, err := os.MkdirTemp(l.WorkDir, "vfs-")
	if err != nil {
		return nil, errors.Wrap(err, "create sandbox")
	}

	version, _, _ := strings.Cut(out.String(), "\n")
	l.Logger.Info().Str("version", strings.TrimSpace(version)).Str("sandbox", sandbox).Msg("engine loaded")
	eng := New(ffmpegBin, "", sandbox, l.Logger)
	eng.resolveProbe = func(ctx context.Context) (string, error) {
		return l.Assets.Resolve(ctx, AssetFFprobe)
	}
	return eng, nil
}

var _ ports.EngineLoader = (*Loader)(nil)
var _ ports.Engine = (*Engine)(nil)
