// Package assets fetches the pinned engine binaries from a fixed origin and keeps
// them in a local, versioned cache.
package assets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/forPelevin/vibecut/internal/logging"
)

const (
	DefaultBaseURL = "https://github.com/eugeneware/ffmpeg-static/releases/download"
	DefaultVersion = "b6.0"

	requestTimeout = 10 * time.Minute
)

// ErrUnavailable is returned for an asset the origin does not publish and that
// is neither overridden nor on PATH.
var ErrUnavailable = errors.New("engine asset unavailable")

// DefaultPublished are the assets the default origin serves. It ships no
// ffprobe build.
func DefaultPublished() []string { return []string{"ffmpeg"} }

type Config struct {
	BaseURL string
	Version string
	// Dir is the cache root; binaries land in Dir/<version>/.
	Dir string
	// Overrides maps an asset name to a local binary that is used as-is.
	Overrides map[string]string
	// Published lists the assets downloadable from BaseURL; anything else is
	// looked up on PATH. Defaults to DefaultPublished.
	Published []string
	GOOS      string
	GOARCH    string
	Client    *http.Client
	// LookPath defaults to exec.LookPath.
	LookPath func(file string) (string, error)
	Logger   zerolog.Logger
}

type Store struct {
	baseURL   string
	version   string
	dir       string
	overrides map[string]string
	published map[string]bool
	goos      string
	goarch    string
	client    *http.Client
	lookPath  func(string) (string, error)
	log       zerolog.Logger
}

func New(cfg Config) *Store {
	s := &Store{
		baseURL:   strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		version:   strings.TrimSpace(cfg.Version),
		dir:       cfg.Dir,
		overrides: cfg.Overrides,
		published: map[string]bool{},
		goos:      cfg.GOOS,
		goarch:    cfg.GOARCH,
		client:    cfg.Client,
		lookPath:  cfg.LookPath,
		log:       logging.WithComponent(cfg.Logger, "assets"),
	}
	published := cfg.Published
	if len(published) == 0 {
		published = DefaultPublished()
	}
	for _, name := range published {
		s.published[name] = true
	}
	if s.lookPath == nil {
		s.lookPath = exec.LookPath
	}
	if s.baseURL == "" {
		s.baseURL = DefaultBaseURL
	}
	if s.version == "" {
		s.version = DefaultVersion
	}
	if s.dir == "" {
		s.dir = filepath.Join(".cache", "engine")
	}
	if s.goos == "" {
		s.goos = runtime.GOOS
	}
	if s.goarch == "" {
		s.goarch = runtime.GOARCH
	}
	if s.client == nil {
		s.client = &http.Client{Timeout: requestTimeout}
	}
	return s
}

// URL returns the remote location of an asset.
func (s *Store) URL(name string) string {
	return s.baseURL + "/" + url.PathEscape(s.version) + "/" + url.PathEscape(s.remoteName(name))
}

// remoteName follows the origin's naming, which uses Node's platform and arch
// identifiers rather than Go's.
func (s *Store) remoteName(name string) string {
	return fmt.Sprintf("%s-%s-%s", name, nodePlatform(s.goos), nodeArch(s.goarch))
}

func nodePlatform(goos string) string {
	if goos == "windows" {
		return "win32"
	}
	return goos
}

func nodeArch(goarch string) string {
	switch goarch {
	case "amd64":
		return "x64"
	case "386":
		return "ia32"
	default:
		return goarch
	}
}

// Path is where a fetched asset is kept.
func (s *Store) Path(name string) string {
	bin := name
	if s.goos == "windows" {
		bin += ".exe"
	}
	return filepath.Join(s.dir, s.version, bin)
}

// Resolve returns a runnable local path for the asset, downloading it when it is
// neither overridden nor cached. Unpublished assets come from PATH.
func (s *Store) Resolve(ctx context.Context, name string) (string, error) {
	if p := strings.TrimSpace(s.overrides[name]); p != "" {
		return p, nil
	}
	if !s.published[name] {
		p, err := s.lookPath(name)
		if err != nil {
			return "", fmt.Errorf("%w: %s is not published at %s and not on PATH: %v", ErrUnavailable, name, s.baseURL, err)
		}
		s.log.Debug().Str("asset", name).Str("path", p).Msg("using asset from PATH")
		return p, nil
	}
	dst := s.Path(name)
	if st, err := os.Stat(dst); err == nil && st.Mode().IsRegular() && st.Size() > 0 {
		return dst, nil
	}
	if err := s.fetch(ctx, name, dst); err != nil {
		return "", err
	}
	return dst, nil
}

func (s *Store) fetch(ctx context.Context, name, dst string) error {
	src := s.URL(name)
	started := time.Now()
	s.log.Info().Str("asset", name).Str("url", src).Msg("fetching engine asset")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", name, err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("fetch %s: status %d from %s", name, resp.StatusCode, src)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("fetch %s: %w", name, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+name+"-*")
	if err != nil {
		return fmt.Errorf("fetch %s: %w", name, err)
	}
	tmpPath := tmp.Name()
	ok := false
	defer func() {
		if !ok {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	n, err := io.Copy(tmp, resp.Body)
	if err != nil {
		return fmt.Errorf("fetch %s: read body: %w", name, err)
	}
	if n == 0 {
		return fmt.Errorf("fetch %s: empty body from %s", name, src)
	}
	if err := tmp.Chmod(0o755); err != nil {
		return fmt.Errorf("fetch %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("fetch %s: %w", name, err)
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		return fmt.Errorf("fetch %s: %w", name, err)
	}
	ok = true

	s.log.Info().Str("asset", name).Int64("bytes", n).Dur("took", time.Since(started)).Msg("engine asset cached")
	return nil
}
